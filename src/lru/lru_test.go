package lru

import (
	"testing"

	"spinlock"
)

// fakeHart is a minimal spinlock.Hartstate_i: Lru_t guards its index with
// a spinlock.Spinlock_t, so this test binary installs a hart hook the way
// a kernel boot does via proc.InstallHartHook.
type fakeHart struct{ depth int }

func (h *fakeHart) Id() spinlock.Hartid_t { return 0 }
func (h *fakeHart) IntrOn()               {}
func (h *fakeHart) IntrOff()              {}
func (h *fakeHart) IntrEnabled() bool     { return true }
func (h *fakeHart) Pushcli()              { h.depth++ }
func (h *fakeHart) Popcli()               { h.depth-- }

func init() {
	spinlock.SetHart(func() spinlock.Hartstate_i { return &fakeHart{} })
}

func TestInsertGetRelease(t *testing.T) {
	c := MkLru[int64, string]("test", 2)
	c.Insert(1, "one")
	v, ok := c.Get(1)
	if !ok || v != "one" {
		t.Fatalf("expected hit with 'one', got %q %v", v, ok)
	}
	c.Release(1) // release the Get's pin
	c.Release(1) // release the Insert's initial pin
}

func TestEvictsOnlyUnpinned(t *testing.T) {
	c := MkLru[int64, string]("test", 2)
	c.Insert(1, "one")
	c.Insert(2, "two")
	// both still pinned (pins=1 from Insert); inserting a third must
	// panic since nothing is evictable.
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic: capacity exhausted, nothing unpinned")
		}
	}()
	c.Insert(3, "three")
}

func TestEvictsLeastRecentlyReleased(t *testing.T) {
	c := MkLru[int64, string]("test", 2)
	c.Insert(1, "one")
	c.Insert(2, "two")
	c.Release(1)
	c.Release(2)
	// 1 was released first, so it is further from the front; inserting a
	// third entry should evict key 1.
	c.Insert(3, "three")
	if _, ok := c.Get(1); ok {
		t.Fatal("expected key 1 to have been evicted")
	}
	if _, ok := c.Get(2); !ok {
		t.Fatal("expected key 2 to still be resident")
	}
}

func TestStatsFormatsWithoutPanicking(t *testing.T) {
	c := MkLru[int64, string]("test", 2)
	c.Insert(1, "one")
	c.Get(1)
	c.Get(2)
	// stats.Stats is compiled false, so Stats() is always "" -- this
	// just exercises the reflect-based formatter doesn't panic on an
	// unexported-field cache.
	if s := c.Stats(); s != "" {
		t.Fatalf("expected empty string with stats disabled, got %q", s)
	}
}

func TestPinPreventsEviction(t *testing.T) {
	c := MkLru[int64, string]("test", 1)
	c.Insert(1, "one")
	c.Release(1)
	c.Pin(1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic: only entry is pinned")
		}
	}()
	c.Insert(2, "two")
}
