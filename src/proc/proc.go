package proc

import (
	"sync/atomic"

	"accnt"
	"defs"
	"file"
	"fs"
	"limits"
	"mem"
	"spinlock"
	"vm"
)

// State_t is a process slot's lifecycle state (spec.md §3).
type State_t int

const (
	Unused State_t = iota
	Used
	Sleeping
	Runnable
	Running
	Zombie
)

func (s State_t) String() string {
	switch s {
	case Unused:
		return "unused"
	case Used:
		return "used"
	case Sleeping:
		return "sleeping"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	default:
		return "?"
	}
}

// AlarmState_t is a process's pending-alarm bookkeeping (SPEC_FULL.md §16,
// supplemented from the original_source alarm-syscall behavior): ticks
// remaining before the handler fires, the handler's user address, and the
// trapframe snapshot to restore once the handler returns.
type AlarmState_t struct {
	TicksLeft int
	Handler   uint64
	Saved     *Trapframe_t
	Pending   bool
}

// Proc_t is a process-table slot. Fields above the line are shared state,
// read and written under l and visible to other processes (the parent
// doing a Wait, the scheduler, a killer); fields below are private to
// whichever goroutine currently holds this slot's kernel thread and are
// touched without l held (spec.md §3 "Shared resources" / "Per-process
// private resources").
type Proc_t struct {
	l spinlock.Spinlock_t

	State      State_t
	Pid        defs.Pid_t
	Ppid       defs.Pid_t
	Chan       uintptr
	Killed     bool
	ExitStatus int
	Name       string

	As    *vm.As_t
	Tf    *Trapframe_t
	Fds   *file.Fdtable_t
	Cwd   *fs.Inode_t
	Trace bool
	Alarm AlarmState_t
	Acc   accnt.Accnt_t

	resumeCh chan *Cpu_t
	parkedCh chan struct{}

	entry func(*Proc_t)
}

func (p *Proc_t) lock()   { p.l.Lock() }
func (p *Proc_t) unlock() { p.l.Unlock() }

// Ptable_t is the fixed-size process table (spec.md §3: "a bounded array
// of process slots"). Membership is read under each slot's own lock, so
// the table itself carries no separate lock for scans; waitlock
// serializes the Wait/Exit rendezvous (spec.md §4.4).
type Ptable_t struct {
	procs    [defs.NPROC]*Proc_t
	waitlock spinlock.Spinlock_t

	ic           *fs.Icache_t
	log          *fs.Log_t
	dev          int
	trampolinePa mem.Pa_t
	root         *fs.Inode_t

	nextPid int64
}

// Root returns the file system root inode, pinned for the table's
// entire lifetime -- the starting point path resolution uses for any
// absolute path (spec.md §4.10).
func (pt *Ptable_t) Root() *fs.Inode_t { return pt.root }

// Ic returns the inode cache this table's processes share.
func (pt *Ptable_t) Ic() *fs.Icache_t { return pt.ic }

// Log returns the transaction log this table's processes share.
func (pt *Ptable_t) Log() *fs.Log_t { return pt.log }

// GlobalPtable is the single process table for the running kernel,
// installed by MkPtable. Package-level because sleeplock.Sched_i's
// Wakeup(chn) has no other way to reach "all process slots".
var GlobalPtable *Ptable_t

// InitPid is the pid reserved for the first process; Exit() reparents
// orphaned children to it (spec.md §4.4).
const InitPid defs.Pid_t = 1

// MkPtable allocates an empty process table bound to the given file
// system instance. dev is the device id of the root file system, used
// to pin each new process's initial cwd at the root inode. trampolinePa
// is the single physical page holding the trampoline code, shared by
// every address space this table ever creates.
func MkPtable(ic *fs.Icache_t, log *fs.Log_t, dev int, trampolinePa mem.Pa_t) *Ptable_t {
	pt := &Ptable_t{ic: ic, log: log, dev: dev, trampolinePa: trampolinePa}
	for i := range pt.procs {
		pt.procs[i] = &Proc_t{}
	}
	pt.waitlock = *spinlock.MkLock("ptable.wait")
	pt.root = ic.Iget(dev, fs.RootInum)
	GlobalPtable = pt
	return pt
}

func (pt *Ptable_t) allocPid() defs.Pid_t {
	return defs.Pid_t(atomic.AddInt64(&pt.nextPid, 1))
}

// alloc finds an Unused slot, marks it Used with a fresh pid, and
// returns it still locked by the caller's perspective (it returns
// unlocked; callers finish initializing private fields before making
// the slot Runnable). Returns nil if the table is full or the
// system-wide process limit (limits.Syslimit.Sysprocs) is exhausted --
// the table itself is sized defs.NPROC, but Sysprocs lets an operator
// cap live processes below that static bound the same way the teacher
// accounts every other bounded resource.
func (pt *Ptable_t) alloc() *Proc_t {
	if !limits.Syslimit.Sysprocs.Take() {
		return nil
	}
	for _, p := range pt.procs {
		p.lock()
		if p.State == Unused {
			p.State = Used
			p.Pid = pt.allocPid()
			p.Ppid = 0
			p.Killed = false
			p.ExitStatus = 0
			p.Chan = 0
			p.Alarm = AlarmState_t{}
			p.resumeCh = make(chan *Cpu_t)
			p.parkedCh = make(chan struct{})
			p.unlock()
			return p
		}
		p.unlock()
	}
	limits.Syslimit.Sysprocs.Give()
	return nil
}

// Find returns the process slot with the given pid, or nil.
func (pt *Ptable_t) Find(pid defs.Pid_t) *Proc_t {
	for _, p := range pt.procs {
		p.lock()
		if p.State != Unused && p.Pid == pid {
			p.unlock()
			return p
		}
		p.unlock()
	}
	return nil
}

// spawn starts p's permanent kernel-thread goroutine and marks it
// Runnable. The goroutine blocks waiting for its first dispatch and
// runs entry to completion; entry's contract is to always call Exit
// as its last action. Exit already unbinds the calling goroutine from
// its hart before returning, so nothing here may touch p's lock (and
// so reach for a hart) once entry has returned -- unbindHart is safe
// to call redundantly, everything else is not.
func (pt *Ptable_t) spawn(p *Proc_t, entry func(*Proc_t)) {
	p.entry = entry
	go func() {
		cpu := <-p.resumeCh
		bindHart(cpu)
		p.entry(p)
		unbindHart()
	}()
	p.lock()
	p.State = Runnable
	p.unlock()
}

func (p *Proc_t) getState() State_t {
	p.lock()
	defer p.unlock()
	return p.State
}

// IsKilled reports whether this process has been marked for death; the
// common poll point inside long-running syscall loops (spec.md §4.4).
func (p *Proc_t) IsKilled() bool {
	p.lock()
	defer p.unlock()
	return p.Killed
}
