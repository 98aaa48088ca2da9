package trap

import (
	"testing"
	"time"

	"defs"
	"dir"
	"disk"
	"fs"
	"mem"
	"proc"
	"sleeplock"
	"ustr"
	"vm"
)

// harness mirrors proc's own test harness, with the root directory
// additionally populated via dir.InitRoot so path resolution has
// something to walk.
func harness(t *testing.T) *proc.Ptable_t {
	t.Helper()
	proc.InstallHartHook()
	sleeplock.SetScheduler(proc.Sched)
	t.Cleanup(proc.BindObserverHart())

	mem.Phys_init(8192 * mem.PGSIZE)
	tramp, ok := mem.Physmem.Refpg_new()
	if !ok {
		t.Fatal("could not allocate trampoline page")
	}

	d := disk.MkMemDisk(fs.BSIZE)
	sb := fs.Mkfs(d, 0, 2000, 200)
	bc := fs.MkBufcache(128, d)
	log := fs.MkLog(bc, 0, sb)
	log.Recover()
	ic := fs.MkIcache(128, bc, log, sb, 0)

	root := ic.Iget(0, fs.RootInum)
	ic.Ilock(root)
	if err := dir.InitRoot(ic, log, root); err != defs.EOK {
		t.Fatalf("InitRoot: %v", err)
	}
	ic.Iunlock(root)
	ic.Iput(root)

	return proc.MkPtable(ic, log, 0, tramp)
}

func runHarts(pt *proc.Ptable_t, n int) {
	for i := 0; i < n; i++ {
		go pt.RunHart(proc.Hartid_t(i), nil)
	}
}

// callSyscall arms p's trap frame with a0..a5/a7 and runs exactly one
// Dispatch, returning whatever landed in a0 afterward (0 for SYS_EXIT,
// after which p's slot may already have been reaped).
func callSyscall(p *proc.Proc_t, sysno uint64, a0, a1, a2, a3, a4, a5 uint64) uint64 {
	p.Tf.A0, p.Tf.A1, p.Tf.A2 = a0, a1, a2
	p.Tf.A3, p.Tf.A4, p.Tf.A5 = a3, a4, a5
	p.Tf.A7 = sysno
	Dispatch(p, proc.GlobalPtable)
	if sysno == uint64(defs.SYS_EXIT) {
		return 0
	}
	return p.Tf.A0
}

func writeUserPath(p *proc.Proc_t, va uint64, path string) {
	b := append([]byte(path), 0)
	if err := vm.CopyOut(p.As.Root, uintptr(va), b); err != defs.EOK {
		panic(err)
	}
}

func TestCreateWriteReadRoundtrip(t *testing.T) {
	pt := harness(t)
	runHarts(pt, 1)

	done := make(chan struct{})
	var gotErr defs.Err_t
	var gotN uint64
	var gotData string

	_, err := pt.Spawn("worker", func(p *proc.Proc_t) {
		defer close(done)
		if e := p.As.GrowTo(8192, vm.PTE_R|vm.PTE_W); e != defs.EOK {
			gotErr = e
			return
		}
		pathVa := uint64(4096)
		writeUserPath(p, pathVa, "/greeting")

		fd := callSyscall(p, uint64(defs.SYS_OPEN), pathVa, uint64(defs.O_CREATE|defs.O_RDWR), 0, 0, 0, 0)
		if int32(fd) < 0 {
			gotErr = defs.Err_t(int32(fd))
			return
		}

		msg := "hello, kernel"
		bufVa := uint64(4200)
		writeUserPath(p, bufVa, msg)

		n := callSyscall(p, uint64(defs.SYS_WRITE), fd, bufVa, uint64(len(msg)), 0, 0, 0)
		gotN = n

		callSyscall(p, uint64(defs.SYS_CLOSE), fd, 0, 0, 0, 0, 0)

		fd2 := callSyscall(p, uint64(defs.SYS_OPEN), pathVa, uint64(defs.O_RDWR), 0, 0, 0, 0)
		readBufVa := uint64(4300)
		rn := callSyscall(p, uint64(defs.SYS_READ), fd2, readBufVa, uint64(len(msg)), 0, 0, 0)
		raw := make([]byte, rn)
		if rerr := vm.CopyIn(p.As.Root, uintptr(readBufVa), raw); rerr != defs.EOK {
			gotErr = rerr
			return
		}
		gotData = string(raw)
		callSyscall(p, uint64(defs.SYS_CLOSE), fd2, 0, 0, 0, 0, 0)
		p.Exit(0)
	})
	if err != defs.EOK {
		t.Fatalf("Spawn: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never finished")
	}
	if gotErr != defs.EOK {
		t.Fatalf("worker hit error: %v", gotErr)
	}
	if gotN != 13 {
		t.Fatalf("write returned %d, want 13", gotN)
	}
	if gotData != "hello, kernel" {
		t.Fatalf("read back %q, want %q", gotData, "hello, kernel")
	}
}

func TestForkExitWaitThroughSyscalls(t *testing.T) {
	pt := harness(t)
	runHarts(pt, 2)

	parentDone := make(chan struct{})
	var waitStatus uint64

	_, err := pt.Spawn("parent", func(p *proc.Proc_t) {
		cpid, ferr := p.Fork(pt, func(child *proc.Proc_t) {
			callSyscall(child, uint64(defs.SYS_EXIT), 9, 0, 0, 0, 0, 0)
		})
		if ferr != defs.EOK {
			t.Errorf("Fork: %v", ferr)
			p.Exit(1)
			return
		}
		got := callSyscall(p, uint64(defs.SYS_WAIT), 0, 0, 0, 0, 0, 0)
		if defs.Pid_t(got) != cpid {
			t.Errorf("wait returned pid %d, want %d", got, cpid)
		}
		_, status, werr := pt.Wait(p)
		_ = status
		if werr != defs.ENoChildProcess {
			t.Errorf("second wait: %v", werr)
		}
		waitStatus = got
		close(parentDone)
		p.Exit(0)
	})
	if err != defs.EOK {
		t.Fatalf("Spawn: %v", err)
	}
	select {
	case <-parentDone:
	case <-time.After(2 * time.Second):
		t.Fatal("parent never finished waiting")
	}
	if waitStatus == 0 {
		t.Fatal("wait never observed the forked child")
	}
}

func TestUnlinkRemovesDirectoryEntry(t *testing.T) {
	pt := harness(t)
	runHarts(pt, 1)

	done := make(chan struct{})
	var lookupErr defs.Err_t

	_, err := pt.Spawn("worker", func(p *proc.Proc_t) {
		defer close(done)
		if e := p.As.GrowTo(8192, vm.PTE_R|vm.PTE_W); e != defs.EOK {
			return
		}
		pathVa := uint64(4096)
		writeUserPath(p, pathVa, "/todelete")
		fd := callSyscall(p, uint64(defs.SYS_OPEN), pathVa, uint64(defs.O_CREATE|defs.O_RDWR), 0, 0, 0, 0)
		callSyscall(p, uint64(defs.SYS_CLOSE), fd, 0, 0, 0, 0, 0)

		ret := callSyscall(p, uint64(defs.SYS_UNLINK), pathVa, 0, 0, 0, 0, 0)
		if int32(ret) != 0 {
			lookupErr = defs.Err_t(int32(ret))
			return
		}
		root := pt.Root()
		name := ustr.MkUstrSlice([]byte("todelete"))
		pt.Ic().Ilock(root)
		_, _, lerr := dir.Lookup(pt.Ic(), root, name)
		pt.Ic().Iunlock(root)
		lookupErr = lerr
		p.Exit(0)
	})
	if err != defs.EOK {
		t.Fatalf("Spawn: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never finished")
	}
	if lookupErr == defs.EOK {
		t.Fatal("unlinked entry is still visible in the directory")
	}
}
