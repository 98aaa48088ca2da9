package dir

import (
	"testing"

	"disk"
	"fs"
	"spinlock"
	"ustr"
)

// fakeHart is a minimal spinlock.Hartstate_i: dir's Ilock/Iunlock calls go
// through fs.Icache_t, which sleep-locks via spinlock underneath, so any
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

func setup(t *testing.T) (*fs.Icache_t, *fs.Log_t, *fs.Inode_t) {
	t.Helper()
	d := disk.MkMemDisk(fs.BSIZE)
	sb := fs.Mkfs(d, 0, 2000, 200)
	bc := fs.MkBufcache(128, d)
	log := fs.MkLog(bc, 0, sb)
	log.Recover()
	ic := fs.MkIcache(128, bc, log, sb, 0)

	root := ic.Iget(0, fs.RootInum)
	ic.Ilock(root)
	if err := InitRoot(ic, log, root); err != 0 {
		t.Fatalf("InitRoot: %v", err)
	}
	ic.Iunlock(root)
	return ic, log, root
}

func mkfile(t *testing.T, ic *fs.Icache_t, log *fs.Log_t, dp *fs.Inode_t, name string) *fs.Inode_t {
	t.Helper()
	log.Begin_tx()
	ip, err := ic.Ialloc(2) // T_FILE
	if err != 0 {
		t.Fatalf("Ialloc: %v", err)
	}
	ip.Nlink = 1
	ic.Iupdate(ip)
	ic.Iunlock(ip)
	ic.Ilock(dp)
	if err := Link(ic, dp, ustr.Ustr(name), ip.Inum); err != 0 {
		t.Fatalf("Link: %v", err)
	}
	ic.Iunlock(dp)
	log.End_tx()
	return ip
}

func TestLinkLookup(t *testing.T) {
	ic, log, root := setup(t)
	ip := mkfile(t, ic, log, root, "hello")

	ic.Ilock(root)
	found, _, err := Lookup(ic, root, ustr.Ustr("hello"))
	ic.Iunlock(root)
	if err != 0 {
		t.Fatalf("Lookup: %v", err)
	}
	if found.Inum != ip.Inum {
		t.Fatalf("Lookup returned inum %d, want %d", found.Inum, ip.Inum)
	}
}

func TestLookupMissing(t *testing.T) {
	ic, _, root := setup(t)
	ic.Ilock(root)
	_, _, err := Lookup(ic, root, ustr.Ustr("nope"))
	ic.Iunlock(root)
	if err == 0 {
		t.Fatal("expected EFsEntryNotFound")
	}
}

func TestIsEmpty(t *testing.T) {
	ic, log, root := setup(t)
	ic.Ilock(root)
	if !IsEmpty(ic, root) {
		t.Fatal("fresh root should be empty of non-dot entries")
	}
	ic.Iunlock(root)

	mkfile(t, ic, log, root, "x")

	ic.Ilock(root)
	if IsEmpty(ic, root) {
		t.Fatal("root with a child should not be empty")
	}
	ic.Iunlock(root)
}

func TestResolve(t *testing.T) {
	ic, log, root := setup(t)
	ip := mkfile(t, ic, log, root, "a")

	found, err := Resolve(ic, root, root, ustr.Ustr("/a"))
	if err != 0 {
		t.Fatalf("Resolve: %v", err)
	}
	if found.Inum != ip.Inum {
		t.Fatalf("Resolve returned inum %d, want %d", found.Inum, ip.Inum)
	}
}

func TestResolveParent(t *testing.T) {
	ic, log, root := setup(t)
	mkfile(t, ic, log, root, "a")

	parent, last, err := ResolveParent(ic, root, root, ustr.Ustr("/a"))
	if err != 0 {
		t.Fatalf("ResolveParent: %v", err)
	}
	if parent.Inum != root.Inum {
		t.Fatalf("ResolveParent parent = %d, want root %d", parent.Inum, root.Inum)
	}
	if last.String() != "a" {
		t.Fatalf("ResolveParent last = %q, want \"a\"", last.String())
	}
}
