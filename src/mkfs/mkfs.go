// Command mkfs formats a disk image with the spec.md §6 on-disk layout
// and, optionally, seeds it with the contents of a host skeleton
// directory -- the host-side counterpart of fs.Mkfs plus dir.Link, run
// once before boot instead of against a running kernel's buffer cache.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"defs"
	"dir"
	"disk"
	"fs"
	"spinlock"
	"ustr"
)

// Sizing mirrors the teacher's mkfs constants (nlogblks/ninodeblks/
// ndatablks), scaled down: this is a teaching kernel's image, not a
// production one.
const (
	nblocks = 20000
	ninodes = 2000
)

// fakeHart is the same single-goroutine Hartstate_i stand-in dir_test.go
// and fs_test.go use: mkfs runs single-threaded and never touches the
// scheduler, but Icache_t.Ilock/Iunlock sleep-lock through a
// spinlock.Spinlock_t regardless of caller, so something has to answer
// spinlock.current().
type fakeHart struct{ depth int }

func (h *fakeHart) Id() spinlock.Hartid_t { return 0 }
func (h *fakeHart) IntrOn()               {}
func (h *fakeHart) IntrOff()              {}
func (h *fakeHart) IntrEnabled() bool     { return true }
func (h *fakeHart) Pushcli()              { h.depth++ }
func (h *fakeHart) Popcli()               { h.depth-- }

func main() {
	image := flag.String("image", "", "path to the disk image to create")
	skeldir := flag.String("skel", "", "host directory tree to copy into the image's root (optional)")
	flag.Parse()

	if *image == "" {
		fmt.Fprintln(os.Stderr, "usage: mkfs -image <path> [-skel <dir>]")
		os.Exit(1)
	}

	spinlock.SetHart(func() spinlock.Hartstate_i { return &fakeHart{} })

	d, err := disk.CreateFileDisk(*image, fs.BSIZE, nblocks)
	if err != nil {
		log.Fatalf("mkfs: create %s: %v", *image, err)
	}
	defer d.Close()

	sb := fs.Mkfs(d, 0, nblocks, ninodes)
	bc := fs.MkBufcache(128, d)
	flog := fs.MkLog(bc, 0, sb)
	flog.Recover()
	ic := fs.MkIcache(128, bc, flog, sb, 0)

	root := ic.Iget(0, fs.RootInum)
	ic.Ilock(root)
	if err := dir.InitRoot(ic, flog, root); err != defs.EOK {
		log.Fatalf("mkfs: InitRoot: %v", err)
	}
	ic.Iunlock(root)

	if *skeldir != "" {
		if err := addTree(ic, flog, root, *skeldir); err != nil {
			log.Fatalf("mkfs: %v", err)
		}
	}

	ic.Iput(root)
	if err := d.Sync(); err != nil {
		log.Fatalf("mkfs: sync: %v", err)
	}
}

// addTree walks skeldir on the host and replicates it under root,
// creating one fs directory per host directory and copying file
// contents block by block. dirs maps a host relative path ("" for the
// root itself) to its already-created inode, so a nested file's parent
// is looked up instead of re-resolved through dir.Resolve.
func addTree(ic *fs.Icache_t, flog *fs.Log_t, root *fs.Inode_t, skeldir string) error {
	dirs := map[string]*fs.Inode_t{"": root}

	return filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, skeldir), string(os.PathSeparator))
		if rel == "" {
			return nil
		}
		parentRel := filepath.Dir(rel)
		if parentRel == "." {
			parentRel = ""
		}
		dp, ok := dirs[parentRel]
		if !ok {
			return fmt.Errorf("addTree: no parent inode cached for %q", rel)
		}
		name := ustr.Ustr(filepath.Base(rel))

		if d.IsDir() {
			ip, err := mkSubdir(ic, flog, dp, name)
			if err != defs.EOK {
				return fmt.Errorf("mkdir %q: %v", rel, err)
			}
			dirs[rel] = ip
			return nil
		}

		if err := addFile(ic, flog, dp, name, path); err != nil {
			return fmt.Errorf("add file %q: %w", rel, err)
		}
		return nil
	})
}

// mkSubdir allocates a directory inode, links "." and ".." into it, and
// links name -> it into dp. Mirrors sysMkdir's locking order: the new
// inode is locked and released before dp is locked, so a single inode is
// never held locked while also holding another.
func mkSubdir(ic *fs.Icache_t, flog *fs.Log_t, dp *fs.Inode_t, name ustr.Ustr) (*fs.Inode_t, defs.Err_t) {
	flog.Begin_tx()
	defer flog.End_tx()

	ip, err := ic.Ialloc(defs.T_DIR)
	if err != defs.EOK {
		return nil, err
	}
	ip.Nlink = 1
	ic.Iupdate(ip)
	if err := dir.Link(ic, ip, ustr.MkUstrDot(), ip.Inum); err != defs.EOK {
		ic.Iunlock(ip)
		ic.Iput(ip)
		return nil, err
	}
	if err := dir.Link(ic, ip, ustr.DotDot, dp.Inum); err != defs.EOK {
		ic.Iunlock(ip)
		ic.Iput(ip)
		return nil, err
	}
	ic.Iunlock(ip)

	ic.Ilock(dp)
	linkErr := dir.Link(ic, dp, name, ip.Inum)
	ic.Iunlock(dp)
	if linkErr != defs.EOK {
		ic.Iput(ip)
		return nil, linkErr
	}
	return ip, defs.EOK
}

// addFile allocates a file inode, links it into dp under name, and
// copies src's contents into it one host-read at a time.
func addFile(ic *fs.Icache_t, flog *fs.Log_t, dp *fs.Inode_t, name ustr.Ustr, src string) error {
	flog.Begin_tx()
	ip, err := ic.Ialloc(defs.T_FILE)
	if err != defs.EOK {
		flog.End_tx()
		return fmt.Errorf("Ialloc: %v", err)
	}
	ip.Nlink = 1
	ic.Iupdate(ip)
	ic.Iunlock(ip)

	ic.Ilock(dp)
	linkErr := dir.Link(ic, dp, name, ip.Inum)
	ic.Iunlock(dp)
	flog.End_tx()
	if linkErr != defs.EOK {
		ic.Iput(ip)
		return fmt.Errorf("Link: %v", linkErr)
	}
	defer ic.Iput(ip)

	f, err2 := os.Open(src)
	if err2 != nil {
		return err2
	}
	defer f.Close()

	buf := make([]byte, fs.BSIZE)
	off := 0
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			flog.Begin_tx()
			ic.Ilock(ip)
			wn, werr := ic.Writei(ip, buf[:n], off)
			ic.Iunlock(ip)
			flog.End_tx()
			if werr != defs.EOK {
				return fmt.Errorf("Writei: %v", werr)
			}
			off += wn
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	return nil
}
