package mem

import (
	"testing"

	"spinlock"
)

// fakeHart is a minimal spinlock.Hartstate_i: the allocator's free list is
// guarded by a spinlock.Spinlock_t, so this test binary installs a hart
// hook the way a kernel boot does via proc.InstallHartHook.
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

func TestAllocFreeRoundTrip(t *testing.T) {
	phys := Phys_init(16 * PGSIZE)
	if phys.Nfree() != 16 {
		t.Fatalf("expected 16 free pages, got %d", phys.Nfree())
	}
	pa, ok := phys.Refpg_new()
	if !ok {
		t.Fatal("alloc failed with free pages available")
	}
	if phys.Nfree() != 15 {
		t.Fatalf("expected 15 free pages after alloc, got %d", phys.Nfree())
	}
	buf := phys.Dmap(pa)
	for _, b := range buf {
		if b != 0 {
			t.Fatal("Refpg_new should return zeroed memory")
		}
	}
	phys.Refpg_free(pa)
	if phys.Nfree() != 16 {
		t.Fatalf("expected 16 free pages after free, got %d", phys.Nfree())
	}
}

func TestAllocNoZeroFillsJunk(t *testing.T) {
	phys := Phys_init(4 * PGSIZE)
	pa, ok := phys.Refpg_new_nozero()
	if !ok {
		t.Fatal("alloc failed")
	}
	buf := phys.Dmap(pa)
	if buf[0] != allocFill {
		t.Fatalf("expected junk fill 0x%x, got 0x%x", allocFill, buf[0])
	}
}

func TestDoubleFreePanics(t *testing.T) {
	phys := Phys_init(4 * PGSIZE)
	pa, _ := phys.Refpg_new()
	phys.Refpg_free(pa)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	phys.Refpg_free(pa)
}

func TestOutOfMemory(t *testing.T) {
	phys := Phys_init(2 * PGSIZE)
	_, ok1 := phys.Refpg_new()
	_, ok2 := phys.Refpg_new()
	_, ok3 := phys.Refpg_new()
	if !ok1 || !ok2 {
		t.Fatal("expected first two allocations to succeed")
	}
	if ok3 {
		t.Fatal("expected third allocation to fail: out of pages")
	}
}
