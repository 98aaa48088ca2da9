package file

import (
	"testing"

	"spinlock"
)

// fakeHart is a minimal spinlock.Hartstate_i: pipes and fd tables are
// guarded by spinlock.Spinlock_t, so this test binary installs a hart hook
// the way a kernel boot does via proc.InstallHartHook.
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

func TestPipeReadWrite(t *testing.T) {
	rf, wf := MkPipe()
	n, err := wf.Write([]byte("hello"))
	if err != 0 || n != 5 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	buf := make([]byte, 5)
	n, err = rf.Read(buf)
	if err != 0 || n != 5 || string(buf) != "hello" {
		t.Fatalf("Read: n=%d err=%v buf=%q", n, err, buf)
	}
}

func TestPipeEOFAfterWriterCloses(t *testing.T) {
	rf, wf := MkPipe()
	wf.Close()
	buf := make([]byte, 5)
	n, err := rf.Read(buf)
	if err != 0 || n != 0 {
		t.Fatalf("expected EOF (n=0, err=0), got n=%d err=%v", n, err)
	}
}

func TestPipeBrokenAfterReaderCloses(t *testing.T) {
	rf, wf := MkPipe()
	rf.Close()
	_, err := wf.Write([]byte("x"))
	if err == 0 {
		t.Fatal("expected EBrokenPipe writing after reader closed")
	}
}

func TestFdtableAllocDupClose(t *testing.T) {
	var t1 Fdtable_t
	_, wf := MkPipe()
	f := MkDeviceFile(1, 0, true, true)
	_ = wf

	fd0, err := t1.Fdalloc(f)
	if err != 0 || fd0 != 0 {
		t.Fatalf("Fdalloc: fd=%d err=%v", fd0, err)
	}
	fd1, err := t1.Dup(fd0)
	if err != 0 || fd1 != 1 {
		t.Fatalf("Dup: fd=%d err=%v", fd1, err)
	}
	if err := t1.Close(fd0); err != 0 {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := t1.Get(fd0); ok {
		t.Fatal("expected fd0 to be closed")
	}
	if _, ok := t1.Get(fd1); !ok {
		t.Fatal("expected fd1 (dup) to remain open")
	}
}
