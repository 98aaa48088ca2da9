package main

import (
	"os"
	"path/filepath"
	"testing"

	"defs"
	"dir"
	"disk"
	"fs"
	"spinlock"
	"ustr"
)

func init() {
	spinlock.SetHart(func() spinlock.Hartstate_i { return &fakeHart{} })
}

func mkTestFs(t *testing.T) (*fs.Icache_t, *fs.Log_t, *fs.Inode_t) {
	t.Helper()
	d := disk.MkMemDisk(fs.BSIZE)
	sb := fs.Mkfs(d, 0, 2000, 200)
	bc := fs.MkBufcache(128, d)
	flog := fs.MkLog(bc, 0, sb)
	flog.Recover()
	ic := fs.MkIcache(128, bc, flog, sb, 0)

	root := ic.Iget(0, fs.RootInum)
	ic.Ilock(root)
	if err := dir.InitRoot(ic, flog, root); err != defs.EOK {
		t.Fatalf("InitRoot: %v", err)
	}
	ic.Iunlock(root)
	return ic, flog, root
}

func TestAddTreeReplicatesSkeleton(t *testing.T) {
	skel := t.TempDir()
	if err := os.MkdirAll(filepath.Join(skel, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skel, "bin", "init"), []byte("#!fake init\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skel, "README"), []byte("hello skeleton"), 0644); err != nil {
		t.Fatal(err)
	}

	ic, flog, root := mkTestFs(t)
	if err := addTree(ic, flog, root, skel); err != nil {
		t.Fatalf("addTree: %v", err)
	}

	top, err := dir.Resolve(ic, root, root, ustr.Ustr("/README"))
	if err != defs.EOK {
		t.Fatalf("resolve /README: %v", err)
	}
	ic.Ilock(top)
	got := make([]byte, len("hello skeleton"))
	n, rerr := ic.Readi(top, got, 0)
	ic.Iunlock(top)
	ic.Iput(top)
	if rerr != defs.EOK || n != len(got) {
		t.Fatalf("Readi /README: n=%d err=%v", n, rerr)
	}
	if string(got) != "hello skeleton" {
		t.Fatalf("/README contents = %q, want %q", got, "hello skeleton")
	}

	initIp, err := dir.Resolve(ic, root, root, ustr.Ustr("/bin/init"))
	if err != defs.EOK {
		t.Fatalf("resolve /bin/init: %v", err)
	}
	ic.Ilock(initIp)
	isFile := initIp.Type == defs.T_FILE
	ic.Iunlock(initIp)
	ic.Iput(initIp)
	if !isFile {
		t.Fatal("/bin/init should be a regular file")
	}

	binIp, err := dir.Resolve(ic, root, root, ustr.Ustr("/bin"))
	if err != defs.EOK {
		t.Fatalf("resolve /bin: %v", err)
	}
	ic.Ilock(binIp)
	isDir := binIp.Type == defs.T_DIR
	empty := dir.IsEmpty(ic, binIp)
	ic.Iunlock(binIp)
	ic.Iput(binIp)
	if !isDir {
		t.Fatal("/bin should be a directory")
	}
	if empty {
		t.Fatal("/bin should contain init")
	}
}
