package proc

import (
	"testing"

	"mem"
)

func TestTrapframeLoadStoreRoundtrip(t *testing.T) {
	// Refpg_new takes the allocator's spinlock, which needs a bound hart.
	InstallHartHook()
	t.Cleanup(BindObserverHart())
	mem.Phys_init(64 * mem.PGSIZE)
	pa, ok := mem.Physmem.Refpg_new()
	if !ok {
		t.Fatal("could not allocate trapframe page")
	}

	want := &Trapframe_t{
		Epc: 0x1000, Sp: 0x3fff000, A0: 1, A1: 2, A7: uint64(17),
		S11: 0xdeadbeef,
	}
	want.Store(pa)

	got := &Trapframe_t{}
	got.Load(pa)
	if *got != *want {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, want)
	}
}

func TestTrapframeArgsAndSetReturn(t *testing.T) {
	tf := &Trapframe_t{A0: 10, A1: 20, A2: 30, A3: 40, A4: 50, A5: 60, A7: 7}
	a0, a1, a2, a3, a4, a5, sysno := tf.Args()
	if a0 != 10 || a1 != 20 || a2 != 30 || a3 != 40 || a4 != 50 || a5 != 60 || sysno != 7 {
		t.Fatalf("unexpected Args() result: %d %d %d %d %d %d sys=%d", a0, a1, a2, a3, a4, a5, sysno)
	}
	tf.SetReturn(99)
	if tf.A0 != 99 {
		t.Fatalf("SetReturn did not set A0, got %d", tf.A0)
	}
}
