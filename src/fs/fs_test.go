package fs

import (
	"bytes"
	"testing"

	"disk"
	"spinlock"
)

// fakeHart is a minimal spinlock.Hartstate_i: Icache_t's Ilock/Iunlock go
// through a sleeplock.Lock_t, which wraps a spinlock.Spinlock_t, so any
// test driving them directly needs a hart hook installed same as a real
// kernel boot would via proc.InstallHartHook.
type fakeHart struct{ depth int }

func (h *fakeHart) Id() spinlock.Hartid_t { return 0 }
func (h *fakeHart) IntrOn()               {}
func (h *fakeHart) IntrOff()              {}
func (h *fakeHart) IntrEnabled() bool     { return true }
func (h *fakeHart) Pushcli()              { h.depth++ }
func (h *fakeHart) Popcli()               { h.depth-- }

func init() {
	spinlock.SetHart(func() spinlock.Hartstate_i { return &fakeHart{} })
}

func mkfs(t *testing.T) (*Bufcache_t, *Log_t, *Icache_t, *Superblock_t) {
	t.Helper()
	d := disk.MkMemDisk(BSIZE)
	sb := Mkfs(d, 0, 2000, 200)
	bc := MkBufcache(128, d)
	log := MkLog(bc, 0, sb)
	log.Recover()
	ic := MkIcache(128, bc, log, sb, 0)
	return bc, log, ic, sb
}

func TestBufcacheReadWrite(t *testing.T) {
	d := disk.MkMemDisk(BSIZE)
	bc := MkBufcache(4, d)
	b := bc.Bread(0, 5)
	b.Data[0] = 0x42
	bc.Bwrite(b)
	bc.Brelse(b)

	b2 := bc.Bread(0, 5)
	if b2.Data[0] != 0x42 {
		t.Fatalf("expected persisted write, got %#x", b2.Data[0])
	}
	bc.Brelse(b2)
}

func TestInodeAllocWriteRead(t *testing.T) {
	_, log, ic, _ := mkfs(t)

	log.Begin_tx()
	ip, err := ic.Ialloc(2)
	if err != 0 {
		t.Fatalf("Ialloc: %v", err)
	}
	ip.Nlink = 1
	ic.Iupdate(ip)

	data := bytes.Repeat([]byte("x"), 3*BSIZE+17)
	n, err := ic.Writei(ip, data, 0)
	if err != 0 || n != len(data) {
		t.Fatalf("Writei: n=%d err=%v", n, err)
	}
	ic.Iunlock(ip)
	log.End_tx()

	ic.Ilock(ip)
	got := make([]byte, len(data))
	n, err = ic.Readi(ip, got, 0)
	ic.Iunlock(ip)
	if err != 0 || n != len(data) {
		t.Fatalf("Readi: n=%d err=%v", n, err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("read back data does not match written data")
	}
}

func TestInodeTruncFreesBlocks(t *testing.T) {
	_, log, ic, _ := mkfs(t)

	log.Begin_tx()
	ip, _ := ic.Ialloc(2)
	ip.Nlink = 1
	ic.Iupdate(ip)
	data := bytes.Repeat([]byte("y"), 5*BSIZE)
	ic.Writei(ip, data, 0)
	ip.Nlink = 0
	ic.Iunlock(ip)
	log.End_tx()

	ic.Iput(ip)

	log.Begin_tx()
	ip2, err := ic.Ialloc(2)
	log.End_tx()
	if err != 0 {
		t.Fatalf("Ialloc after truncation: %v", err)
	}
	if ip2.Size != 0 {
		t.Fatalf("freshly allocated inode should start empty, size=%d", ip2.Size)
	}
}

func TestMaxFileSizeBoundary(t *testing.T) {
	_, log, ic, _ := mkfs(t)

	log.Begin_tx()
	ip, _ := ic.Ialloc(2)
	ip.Nlink = 1
	ic.Iupdate(ip)
	ic.Iunlock(ip)
	log.End_tx()

	// One transaction per block, as a whole-file write in one transaction
	// would overflow the log.
	max := MAXFILEBLOCKS * BSIZE
	chunk := make([]byte, BSIZE)
	put := 0
	var err2 int32
	for put < max {
		log.Begin_tx()
		ic.Ilock(ip)
		n, err := ic.Writei(ip, chunk, put)
		ic.Iunlock(ip)
		log.End_tx()
		if err != 0 {
			err2 = int32(err)
			break
		}
		put += n
	}
	if err2 != 0 {
		t.Fatalf("writing up to the maximum file size should not fail: %v", err2)
	}
	log.Begin_tx()
	ic.Ilock(ip)
	_, err := ic.Writei(ip, []byte{0}, max)
	ic.Iunlock(ip)
	log.End_tx()
	if err == 0 {
		t.Fatal("expected EFileTooLarge writing past the maximum file size")
	}
}
