package proc

import (
	"defs"
	"file"
	"fs"
	"limits"
	"vm"
)

// Spawn creates the very first process (pid InitPid): a fresh address
// space and an empty fd table, with cwd pinned at the file system
// root. There is no parent to fork from at boot (spec.md §4.4: "the
// first process is constructed directly by the kernel"). entry must
// call p.Exit as its last action; it is run on its own goroutine and
// is never invoked again once it returns.
func (pt *Ptable_t) Spawn(name string, entry func(*Proc_t)) (*Proc_t, defs.Err_t) {
	p := pt.alloc()
	if p == nil {
		return nil, defs.ENoFreeProc
	}
	as, err := vm.NewAs(pt.trampolinePa)
	if err != defs.EOK {
		pt.free(p)
		return nil, err
	}
	p.As = as
	p.Tf = &Trapframe_t{}
	p.Fds = &file.Fdtable_t{}
	p.Cwd = pt.ic.Iget(pt.dev, fs.RootInum)
	p.Name = name
	p.Ppid = 0
	pt.spawn(p, entry)
	return p, defs.EOK
}

// free resets a slot back to Unused; called when a slot could not be
// fully initialized (Spawn/Fork failure paths) or after Wait reaps a
// zombie. Releases the Sysprocs slot alloc took.
func (pt *Ptable_t) free(p *Proc_t) {
	p.lock()
	p.State = Unused
	p.Pid = 0
	p.As = nil
	p.Tf = nil
	p.Fds = nil
	p.Cwd = nil
	p.Name = ""
	p.unlock()
	limits.Syslimit.Sysprocs.Give()
}

// Fork clones parent into a new slot: a copy-on-write-free full copy
// of the address space, a duplicated fd table, a shared cwd pin, and a
// trap frame identical to the parent's except for the zero return
// value the child observes (spec.md §4.4's Fork semantics). The child
// is left Runnable and starts its own kernel thread at childEntry --
// normally the same trap-dispatch loop the parent itself runs under,
// passed explicitly rather than reused from p.entry so that a single
// entry closure can distinguish "I am now the child" from "I am still
// the parent, about to return the child's pid from a fork syscall".
// The parent's fork(2) syscall handler returns the child's pid.
func (p *Proc_t) Fork(pt *Ptable_t, childEntry func(*Proc_t)) (defs.Pid_t, defs.Err_t) {
	child := pt.alloc()
	if child == nil {
		return 0, defs.ENoFreeProc
	}
	as, err := p.As.Clone(pt.trampolinePa)
	if err != defs.EOK {
		pt.free(child)
		return 0, err
	}
	child.As = as
	tf := *p.Tf
	tf.SetReturn(0)
	child.Tf = &tf
	child.Fds = p.Fds.Copy()
	child.Cwd = pt.ic.Iget(p.Cwd.Dev, p.Cwd.Inum)
	child.Name = p.Name
	child.Ppid = p.Pid

	pt.spawn(child, childEntry)
	return child.Pid, defs.EOK
}

// Exit tears down a process's private resources, reparents its
// children to init, marks the slot Zombie, and wakes a parent blocked
// in Wait. It is the only path by which a process's kernel-thread
// goroutine terminates (spec.md §4.4).
func (p *Proc_t) Exit(status int) {
	p.Fds.CloseAll()
	pt := GlobalPtable
	pt.ic.Iput(p.Cwd)

	wakeInit := false
	pt.waitlock.Lock()
	for _, c := range pt.procs {
		c.lock()
		if c.State != Unused && c.Ppid == p.Pid {
			c.Ppid = InitPid
			if c.State == Zombie {
				wakeInit = true
			}
		}
		c.unlock()
	}
	// Zombie is set before waitlock is released, so a parent scanning in
	// Wait either sees it or is already Sleeping when the wakeup below runs.
	p.lock()
	p.State = Zombie
	p.ExitStatus = status
	ppid := p.Ppid
	p.unlock()
	pt.waitlock.Unlock()
	if wakeInit {
		Sched.Wakeup(uintptr(InitPid))
	}

	Sched.Wakeup(uintptr(ppid))

	cpu := currentHart()
	cpu.setCurrent(nil)
	unbindHart()
	p.parkedCh <- struct{}{}
}

// Wait blocks parent until one of its children exits, reaps the first
// zombie child it finds, and returns its pid and exit status. It
// returns ENoChildProcess immediately if parent has no live children
// (spec.md §4.4).
func (pt *Ptable_t) Wait(parent *Proc_t) (defs.Pid_t, int, defs.Err_t) {
	for {
		pt.waitlock.Lock()
		haveChild := false
		for _, c := range pt.procs {
			c.lock()
			if c.State != Unused && c.Ppid == parent.Pid {
				haveChild = true
				if c.State == Zombie {
					pid, status := c.Pid, c.ExitStatus
					c.unlock()
					c.As.Free()
					pt.free(c)
					pt.waitlock.Unlock()
					return pid, status, defs.EOK
				}
			}
			c.unlock()
		}
		if !haveChild {
			pt.waitlock.Unlock()
			return 0, 0, defs.ENoChildProcess
		}
		// SleepOn returns with waitlock held again; the loop re-takes it.
		err := Sched.SleepOn(uintptr(parent.Pid), &pt.waitlock, true)
		pt.waitlock.Unlock()
		if err != defs.EOK {
			return 0, 0, err
		}
	}
}

// Kill marks pid for death and, if it is blocked in an interruptible
// sleep, wakes it so the kill is observed promptly rather than only at
// its next voluntary poll point (spec.md §4.4).
func (pt *Ptable_t) Kill(pid defs.Pid_t) defs.Err_t {
	p := pt.Find(pid)
	if p == nil {
		return defs.EProcessNotFound
	}
	p.lock()
	p.Killed = true
	if p.State == Sleeping {
		p.State = Runnable
	}
	p.unlock()
	return defs.EOK
}
