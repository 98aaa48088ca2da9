// Package proc implements the trap frame / user page table, the
// scheduler, and the process lifecycle (spec.md §3, §4.4-§4.6). The
// teacher runs on a patched Go runtime with real assembly context
// switches and a `runtime.Gptr`/`runtime.Setgptr` goroutine-local hook
// for "current thread" (see tinfo.Tnote_t); this rendition is plain,
// portable Go (see DESIGN.md, Open Question resolutions): every hart and
// every process kernel-thread is a goroutine, and "context switch" is a
// rendezvous handoff over a pair of channels.
package proc

import (
	"runtime"
	"strconv"
	"sync"

	"spinlock"
)

// Hartid_t identifies a hart -- a goroutine standing in for one of the
// virtual machine's cores.
type Hartid_t = spinlock.Hartid_t

// Cpu_t is the per-hart record of spec.md §3 ("Hart (CPU) record"):
// current process, idle flag, interrupt-nesting depth, and whether
// interrupts were enabled at the outermost push_off.
type Cpu_t struct {
	id Hartid_t

	mu          sync.Mutex
	proc        *Proc_t
	idle        bool
	ncli        int
	intenaOuter bool
	intrOn      bool
}

// mkCpu returns a fresh, idle Cpu_t for hart id.
func mkCpu(id Hartid_t) *Cpu_t {
	return &Cpu_t{id: id}
}

// Id implements spinlock.Hartstate_i.
func (c *Cpu_t) Id() Hartid_t { return c.id }

// IntrEnabled implements spinlock.Hartstate_i.
func (c *Cpu_t) IntrEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intrOn
}

// IntrOn implements spinlock.Hartstate_i: this hart's interrupts are
// enabled directly (used outside of any push_off nesting, e.g. the
// scheduler's idle loop).
func (c *Cpu_t) IntrOn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intrOn = true
}

func (c *Cpu_t) IntrOff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intrOn = false
}

// Pushcli implements spinlock.Hartstate_i: the interrupt-nesting
// discipline of spec.md §4.1. Depth 0 iff the hart holds no spinlock.
func (c *Cpu_t) Pushcli() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ncli == 0 {
		c.intenaOuter = c.intrOn
	}
	c.intrOn = false
	c.ncli++
}

// Popcli is the inverse of Pushcli: interrupts are only actually
// re-enabled once the nesting counter returns to zero.
func (c *Cpu_t) Popcli() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ncli == 0 {
		panic("proc: Popcli without matching Pushcli")
	}
	c.ncli--
	if c.ncli == 0 {
		c.intrOn = c.intenaOuter
	}
}

// Current returns the process currently bound to this hart, or nil when
// the hart is idle / running scheduler context.
func (c *Cpu_t) Current() *Proc_t {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc
}

func (c *Cpu_t) setCurrent(p *Proc_t) {
	c.mu.Lock()
	c.proc = p
	c.mu.Unlock()
}

// goroutine-local hart binding.
//
// spinlock.SetHart installs a zero-argument accessor: every already
// written leaf package (mem, vm, fs, sleeplock) calls Spinlock_t.Lock()
// with no arguments and expects the package-level hook to recover "which
// hart is this" on its own, the same contract the teacher satisfies with
// its patched runtime's per-goroutine pointer. Threading an explicit
// *Cpu_t through every one of those call sites (the resolution used for
// tinfo.Tnote_t's goroutine-local, see DESIGN.md) would mean changing
// Spinlock_t's already-established signature everywhere it is used. Since
// the invariant that actually matters -- at most one goroutine is ever
// "standing in" for a given hart at a time -- already holds by
// construction (see sched.go), a small goroutine-keyed table is a safe,
// narrowly confined substitute: it is looked up by parsing the calling
// goroutine's id out of a runtime stack trace, entirely within this file.
var hartOf sync.Map // goroutine id (uint64) -> *Cpu_t

func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	i := len("goroutine ")
	j := i
	for j < len(b) && b[j] != ' ' {
		j++
	}
	id, err := strconv.ParseUint(string(b[i:j]), 10, 64)
	if err != nil {
		panic("proc: could not parse goroutine id")
	}
	return id
}

// bindHart associates cpu with the calling goroutine for as long as it is
// standing in for that hart (its scheduler loop, or a process's kernel
// thread it just resumed).
func bindHart(cpu *Cpu_t) {
	hartOf.Store(goroutineID(), cpu)
}

func unbindHart() {
	hartOf.Delete(goroutineID())
}

func currentHart() *Cpu_t {
	v, ok := hartOf.Load(goroutineID())
	if !ok {
		panic("proc: spinlock used from a goroutine with no bound hart")
	}
	return v.(*Cpu_t)
}

// InstallHartHook registers proc's hart lookup with spinlock. Called once
// during boot, before any lock is used.
func InstallHartHook() {
	spinlock.SetHart(func() spinlock.Hartstate_i { return currentHart() })
}

// observerHartid is the id given to a goroutine that borrows hart
// credentials without ever running RunHart's scheduling loop.
const observerHartid Hartid_t = -1

// BindObserverHart lets the calling goroutine take process-table locks
// (Proc_t.lock, via spinlock.SetHart's hook) without standing in for a
// real hart. Diagnostics and test harnesses that inspect process state
// from outside any hart's scheduling loop need this: Spinlock_t.Lock
// always calls back into the installed hook, hart or not. The returned
// func unbinds; callers should defer it.
func BindObserverHart() func() {
	bindHart(mkCpu(observerHartid))
	return unbindHart
}
