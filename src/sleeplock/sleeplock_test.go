package sleeplock

import (
	"sync"
	"testing"

	"defs"
	"spinlock"
)

// testSched is a stand-in for the real scheduler (see proc.Scheduler_t): a real
// kernel would context-switch away and rely on Wakeup scanning the
// process table, but for a unit test a buffered per-channel signal avoids
// the lost-wakeup race a bare sync.Cond would have against Notify running
// before Wait is entered.
type testSched struct {
	mu   sync.Mutex
	wake map[uintptr]chan struct{}
}

func newTestSched() *testSched {
	return &testSched{wake: map[uintptr]chan struct{}{}}
}

func (s *testSched) chanFor(chn uintptr) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.wake[chn]
	if !ok {
		c = make(chan struct{}, 1)
		s.wake[chn] = c
	}
	return c
}

func (s *testSched) SleepOn(chn uintptr, guard *spinlock.Spinlock_t, interruptible bool) defs.Err_t {
	c := s.chanFor(chn)
	guard.Unlock()
	<-c
	guard.Lock()
	return 0
}

func (s *testSched) Wakeup(chn uintptr) {
	c := s.chanFor(chn)
	select {
	case c <- struct{}{}:
	default:
	}
}

type testHart struct{ depth int }

func (h *testHart) Id() spinlock.Hartid_t   { return 0 }
func (h *testHart) IntrOn()                 {}
func (h *testHart) IntrOff()                {}
func (h *testHart) IntrEnabled() bool       { return true }
func (h *testHart) Pushcli()                { h.depth++ }
func (h *testHart) Popcli()                 { h.depth-- }

func TestSleepLockMutualExclusion(t *testing.T) {
	spinlock.SetHart(func() spinlock.Hartstate_i { return &testHart{} })
	SetScheduler(newTestSched())

	l := MkLock("test")
	if err := l.Lock(1); err != 0 {
		t.Fatalf("lock failed: %v", err)
	}
	if !l.Holding(1) {
		t.Fatal("expected owner 1 to hold lock")
	}
	l.Unlock()
	if l.Holding(1) {
		t.Fatal("should not hold after unlock")
	}
}

func TestCondWaitNotify(t *testing.T) {
	spinlock.SetHart(func() spinlock.Hartstate_i { return &testHart{} })
	sched := newTestSched()
	SetScheduler(sched)

	guard := spinlock.MkLock("guard")
	var cv Cond_t
	ready := make(chan struct{})
	done := make(chan struct{})

	go func() {
		guard.Lock()
		close(ready)
		cv.Wait(guard)
		guard.Unlock()
		close(done)
	}()

	<-ready
	guard.Lock()
	cv.Notify()
	guard.Unlock()
	<-done
}
