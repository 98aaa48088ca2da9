// Command boot is the kernel entry point: it wires together the file
// system, process table, device registrations, and hart pool that every
// other package only declares the pieces of, then execs the first user
// program. A real machine-mode bootloader would jump here after setting
// up the trap vector and a stack per hart (spec.md §1 "OUT OF SCOPE");
// this rendition's stand-in for that is simply running on goroutines
// (see proc's package doc), so boot's job shrinks to: open the disk,
// install the cross-package hooks every locking primitive needs, mount
// the file system, register the device files, and start one goroutine
// per hart.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/sync/errgroup"

	"defs"
	"dir"
	"disk"
	"file"
	"fs"
	"mem"
	"proc"
	"profdev"
	"sleeplock"
	"trap"
	"ustr"
)

// Sizing mirrors mkfs's own constants: a freshly -format'd image gets
// the same layout mkfs would have produced for it.
const (
	fsBlocks  = 20000
	fsInodes  = 2000
	ramBytes  = 256 * 1024 * 1024
	bufcacheN = 256
)

func main() {
	image := flag.String("image", "", "disk image to boot from")
	format := flag.Bool("format", false, "lay out a fresh file system on -image before booting (overwrites its contents)")
	harts := flag.Int("harts", 1, "number of harts (scheduler goroutines) to run")
	initPath := flag.String("init", "/init", "path of the first user program to exec")
	flag.Parse()

	if *image == "" {
		fmt.Fprintln(os.Stderr, "usage: boot -image <path> [-format] [-harts N] [-init /path]")
		os.Exit(1)
	}

	d, err := openImage(*image, *format)
	if err != nil {
		log.Fatalf("boot: %v", err)
	}
	defer d.Close()

	// Every spinlock use from here on, starting with the page allocator's,
	// needs the hart hook installed and this goroutine bound to a hart.
	proc.InstallHartHook()
	sleeplock.SetScheduler(proc.Sched)
	defer proc.BindObserverHart()()

	mem.Phys_init(ramBytes)
	tramp, ok := mem.Physmem.Refpg_new()
	if !ok {
		log.Fatal("boot: out of memory allocating the trampoline page")
	}

	bc := fs.MkBufcache(bufcacheN, d)
	var sb *fs.Superblock_t
	if *format {
		sb = fs.Mkfs(d, 0, fsBlocks, fsInodes)
		bc = fs.MkBufcache(bufcacheN, d) // Mkfs wrote straight to disk; start the real cache clean
	} else {
		sb = fs.Loadsuper(bc, 0)
	}
	flog := fs.MkLog(bc, 0, sb)
	flog.Recover()
	ic := fs.MkIcache(bufcacheN, bc, flog, sb, 0)

	pt := proc.MkPtable(ic, flog, 0, tramp)

	if *format {
		ic.Ilock(pt.Root())
		if err := dir.InitRoot(ic, flog, pt.Root()); err != defs.EOK {
			log.Fatalf("boot: InitRoot: %v", err)
		}
		ic.Iunlock(pt.Root())
	}

	pd := profdev.MkProfdev()
	registerDevices(pd)

	var g errgroup.Group
	for i := 0; i < *harts; i++ {
		id := proc.Hartid_t(i)
		g.Go(func() error {
			pt.RunHart(id, pd)
			return nil
		})
	}

	bootDone := make(chan defs.Err_t, 1)
	_, serr := pt.Spawn("init", func(p *proc.Proc_t) {
		if err := execInit(p, pt, *initPath); err != defs.EOK {
			bootDone <- err
			p.Exit(-1)
			return
		}
		bootDone <- defs.EOK
		trap.Loop(p, pt)
	})
	if serr != defs.EOK {
		log.Fatalf("boot: spawning init: %v", serr)
	}
	if err := <-bootDone; err != defs.EOK {
		log.Fatalf("boot: exec %s: %v", *initPath, err)
	}

	// The hart pool runs forever servicing processes; a real kernel
	// never reaches here. errgroup.Wait is reached only if RunHart
	// itself returns, which it does not in normal operation -- it is
	// still the right supervision primitive, since it is also what
	// propagates a hart goroutine panic-turned-error to the others were
	// RunHart ever changed to report one instead of panicking outright.
	if err := g.Wait(); err != nil {
		log.Fatalf("boot: hart pool: %v", err)
	}
}

// openImage creates a fresh backing file when format is requested,
// otherwise opens an existing image in place.
func openImage(path string, format bool) (*disk.FileDisk, error) {
	if format {
		return disk.CreateFileDisk(path, fs.BSIZE, fsBlocks)
	}
	return disk.OpenFileDisk(path, fs.BSIZE)
}

// execInit resolves path against the file system root and execs it into
// p, the same sequence trap.go's sysExec handler runs for any process --
// init is simply the first one, run directly instead of dispatched from
// a trapped SYS_EXEC.
func execInit(p *proc.Proc_t, pt *proc.Ptable_t, path string) defs.Err_t {
	ip, err := dir.Resolve(pt.Ic(), pt.Root(), p.Cwd, ustr.Ustr(path))
	if err != defs.EOK {
		return err
	}
	image, lerr := proc.LoadFromFile(pt.Ic(), ip)
	pt.Ic().Iput(ip)
	if lerr != defs.EOK {
		return lerr
	}
	return p.Exec(pt, image, []string{path})
}

// registerDevices installs the device files every booted kernel offers
// regardless of which image it mounted: a profiling device backed by
// pd -- the same instance every hart's RunHart loop ticks -- and
// /dev/null. The console (dev.Console_i) and raw disk (defs.D_RAWDISK)
// majors stay unregistered -- they need a real UART/virtio-blk driver
// underneath them, out of spec.md §1's scope, and opening either without
// a backing driver would be fabricating one.
func registerDevices(pd *profdev.Profdev_t) {
	file.RegisterDevice(int16(defs.D_PROF), func(buf []uint8) (int, defs.Err_t) {
		data, err := pd.Read()
		if err != defs.EOK {
			return 0, err
		}
		return copy(buf, data), defs.EOK
	}, nil)

	file.RegisterDevice(int16(defs.D_DEVNULL), func(buf []uint8) (int, defs.Err_t) {
		return 0, defs.EOK
	}, func(buf []uint8) (int, defs.Err_t) {
		return len(buf), defs.EOK
	})
}
