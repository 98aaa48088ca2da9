// Package spinlock implements mutual exclusion with the interrupt-disable
// nesting discipline required by a non-preemptive kernel (spec.md §4.1):
// acquiring any spinlock must first push interrupts off on the current
// hart, and nested acquisitions must nest that push/pop correctly so that
// interrupts are only re-enabled once the outermost lock is released.
package spinlock

import (
	"sync/atomic"
)

// Hartid_t identifies a hart (a goroutine standing in for a physical CPU
// core in this rendition; see DESIGN.md).
type Hartid_t int32

// Hartstate_i is implemented by the per-hart record (proc.Cpu_t) so that
// spinlock can push/pop interrupts without importing proc (which would
// create an import cycle: proc needs locks on its own data).
type Hartstate_i interface {
	// Id returns this hart's identity.
	Id() Hartid_t
	// IntrOn/IntrOff set and clear this hart's interrupt-enable bit;
	// IntrEnabled reports its current state.
	IntrOn()
	IntrOff()
	IntrEnabled() bool
	// Pushcli/Popcli implement the nesting counter described in spec.md
	// §4.1: depth 0 iff outside any critical section.
	Pushcli()
	Popcli()
}

// current must be set once per hart at hart-boot, via SetHart, before any
// lock is used on that hart. It is goroutine-local in spirit (one entry
// per hart goroutine) but modeled here as a function the caller supplies,
// since plain Go has no hart-affinity concept for a goroutine.
var current func() Hartstate_i

// SetHart installs the accessor used to find the calling hart's state.
// Called exactly once during kernel boot.
func SetHart(f func() Hartstate_i) {
	current = f
}

// Spinlock_t is a test-and-set lock recording its owning hart for the
// "holding" diagnostic and for the fatal double-lock assertion.
type Spinlock_t struct {
	locked int32
	owner  Hartid_t
	name   string
}

// MkLock returns a new, unlocked spinlock tagged with a diagnostic name.
func MkLock(name string) *Spinlock_t {
	return &Spinlock_t{owner: -1, name: name}
}

// Holding reports whether the calling hart already owns this lock.
func (l *Spinlock_t) Holding() bool {
	return atomic.LoadInt32(&l.locked) == 1 && l.owner == current().Id()
}

// Lock acquires the spinlock, disabling interrupts on the calling hart for
// the duration of the critical section (spec.md §4.1 acquisition
// sequence). Double-locking by the same hart is a fatal assertion.
func (l *Spinlock_t) Lock() {
	h := current()
	h.Pushcli()
	if l.Holding() {
		panic("spinlock: double lock by same hart: " + l.name)
	}
	for !atomic.CompareAndSwapInt32(&l.locked, 0, 1) {
		// busy-wait with interrupts disabled: the only way to avoid
		// racing the timer interrupt while spinning.
	}
	l.owner = h.Id()
}

// Unlock releases the spinlock and pops the calling hart's interrupt
// nesting counter. Releasing a lock not held by the calling hart is a
// fatal assertion.
func (l *Spinlock_t) Unlock() {
	h := current()
	if !l.Holding() {
		panic("spinlock: unlock by non-owner: " + l.name)
	}
	l.owner = -1
	atomic.StoreInt32(&l.locked, 0)
	h.Popcli()
}

// Name returns the lock's diagnostic tag.
func (l *Spinlock_t) Name() string {
	return l.name
}
