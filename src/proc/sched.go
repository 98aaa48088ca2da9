package proc

import (
	"runtime"

	"caller"
	"defs"
	"profdev"
	"spinlock"
)

// reschedule hands this process's hart back to the scheduler loop that
// dispatched it and blocks until it is dispatched again. Callers set
// the slot's shared State before calling (Runnable for Yield, Sleeping
// for SleepOn, Zombie for the final call from Exit). The zero-value
// channel handoff is the "context switch": at most one of {hart
// goroutine, process goroutine} is ever running past this point until
// the other sends.
func (p *Proc_t) reschedule() {
	cpu := currentHart()
	cpu.setCurrent(nil)
	unbindHart()
	p.parkedCh <- struct{}{}
	newcpu := <-p.resumeCh
	bindHart(newcpu)
}

// Yield voluntarily gives up the hart without blocking on anything
// (spec.md §4.4): used at the end of a long-running syscall slice and
// from the timer-interrupt path.
func (p *Proc_t) Yield() {
	p.lock()
	p.State = Runnable
	p.unlock()
	p.reschedule()
}

// pickRunnable scans the table for the first Runnable slot and claims
// it, matching spec.md §4.4's "pick the first Runnable slot whose
// shared lock can be acquired, mark it Running".
func (pt *Ptable_t) pickRunnable() *Proc_t {
	for _, p := range pt.procs {
		p.lock()
		if p.State == Runnable {
			p.State = Running
			p.unlock()
			return p
		}
		p.unlock()
	}
	return nil
}

// wakeup moves every Sleeping slot waiting on chn to Runnable
// (spec.md §4.4's Wakeup(channel)).
func (pt *Ptable_t) wakeup(chn uintptr) {
	for _, p := range pt.procs {
		p.lock()
		if p.State == Sleeping && p.Chan == chn {
			p.State = Runnable
		}
		p.unlock()
	}
}

// RunHart is a hart's scheduler loop (spec.md §4.4): forever pick a
// Runnable process, dispatch it, wait for it to park, repeat. id
// distinguishes one hart goroutine from another for Cpu_t.Id() and for
// profiling; prof may be nil.
func (pt *Ptable_t) RunHart(id Hartid_t, prof *profdev.Profdev_t) {
	cpu := mkCpu(id)
	bindHart(cpu)
	cpu.IntrOn()
	for {
		p := pt.pickRunnable()
		if p == nil {
			cpu.mu.Lock()
			cpu.idle = true
			cpu.mu.Unlock()
			runtime.Gosched()
			continue
		}
		cpu.mu.Lock()
		cpu.idle = false
		cpu.mu.Unlock()
		cpu.setCurrent(p)
		if prof != nil {
			prof.Tick(p.Pid, p.Name)
		}
		start := p.Acc.Now()
		p.resumeCh <- cpu
		<-p.parkedCh
		cpu.setCurrent(nil)
		// This rendition has no separate user/kernel-mode trap boundary
		// to split Userns from Sysns at, so the whole dispatch runs up
		// against system time; Io_time/Sleep_time still carve the
		// blocked-waiting portion back out where callers know about it.
		p.Acc.Systadd(p.Acc.Now() - start)
	}
}

// Scheduler_t implements sleeplock.Sched_i on top of GlobalPtable: the
// single bridge between the sleep-lock package's "block the caller"
// primitive and the process table's state machine.
type Scheduler_t struct{}

// Sched is the one scheduler instance; install with
// sleeplock.SetScheduler(proc.Sched) during boot.
var Sched = &Scheduler_t{}

// SleepOn implements sleeplock.Sched_i. It must be called with guard
// held and the calling goroutine bound to a hart that has a current
// process (i.e. from inside that process's kernel thread).
func (s *Scheduler_t) SleepOn(chn uintptr, guard *spinlock.Spinlock_t, interruptible bool) defs.Err_t {
	cpu := currentHart()
	p := cpu.Current()
	if p == nil {
		caller.Callerdump(2)
		panic("proc: SleepOn called with no current process")
	}
	p.lock()
	p.State = Sleeping
	p.Chan = chn
	p.unlock()
	guard.Unlock()

	since := p.Acc.Now()
	p.reschedule()
	p.Acc.Sleep_time(since)

	guard.Lock()
	p.lock()
	p.Chan = 0
	killed := p.Killed
	p.unlock()
	if interruptible && killed {
		return defs.ECallerProcessAlreadyKilled
	}
	return defs.EOK
}

// Wakeup implements sleeplock.Sched_i.
func (s *Scheduler_t) Wakeup(chn uintptr) {
	if GlobalPtable != nil {
		GlobalPtable.wakeup(chn)
	}
}
