package vm

import (
	"testing"

	"mem"
)

func setup(t *testing.T) mem.Pa_t {
	t.Helper()
	mem.Phys_init(4096 * mem.PGSIZE)
	tramp, ok := mem.Physmem.Refpg_new()
	if !ok {
		t.Fatal("could not allocate trampoline page")
	}
	return tramp
}

func TestNewAsMapsTrampolineAndTrapframe(t *testing.T) {
	tramp := setup(t)
	as, err := NewAs(tramp)
	if err != 0 {
		t.Fatalf("NewAs failed: %v", err)
	}
	pte, werr := Walk(as.Root, TRAMPOLINE, false)
	if werr != 0 || *pte&PTE_V == 0 {
		t.Fatal("trampoline not mapped")
	}
	pte, werr = Walk(as.Root, TRAPFRAME, false)
	if werr != 0 || *pte&PTE_V == 0 {
		t.Fatal("trap frame not mapped")
	}
}

func TestGrowShrinkCopy(t *testing.T) {
	tramp := setup(t)
	as, _ := NewAs(tramp)
	if err := as.GrowTo(3*uintptr(mem.PGSIZE), PTE_R|PTE_W); err != 0 {
		t.Fatalf("GrowTo failed: %v", err)
	}
	if as.Sz != 3*uintptr(mem.PGSIZE) {
		t.Fatalf("unexpected size %d", as.Sz)
	}
	msg := []byte("hello, sv39")
	if err := CopyOut(as.Root, UTEXT, msg); err != 0 {
		t.Fatalf("CopyOut failed: %v", err)
	}
	got := make([]byte, len(msg))
	if err := CopyIn(as.Root, UTEXT, got); err != 0 {
		t.Fatalf("CopyIn failed: %v", err)
	}
	if string(got) != string(msg) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, msg)
	}
	if err := as.ShrinkTo(1 * uintptr(mem.PGSIZE)); err != 0 {
		t.Fatalf("ShrinkTo failed: %v", err)
	}
	if as.Sz != uintptr(mem.PGSIZE) {
		t.Fatalf("unexpected size after shrink %d", as.Sz)
	}
}

func TestCopyOutBadAddressFails(t *testing.T) {
	tramp := setup(t)
	as, _ := NewAs(tramp)
	buf := []byte("x")
	if err := CopyOut(as.Root, UTEXT, buf); err == 0 {
		t.Fatal("expected BadAddress writing to unmapped page")
	}
}

func TestCloneIsIndependentCopy(t *testing.T) {
	tramp := setup(t)
	as, _ := NewAs(tramp)
	as.GrowTo(uintptr(mem.PGSIZE), PTE_R|PTE_W)
	CopyOut(as.Root, UTEXT, []byte("parent"))

	child, err := as.Clone(tramp)
	if err != 0 {
		t.Fatalf("Clone failed: %v", err)
	}
	CopyOut(as.Root, UTEXT, []byte("PARENT"))
	got := make([]byte, 6)
	CopyIn(child.Root, UTEXT, got)
	if string(got) != "parent" {
		t.Fatalf("clone should be independent, got %q", got)
	}
}

func TestCopyInStrStopsAtNul(t *testing.T) {
	tramp := setup(t)
	as, _ := NewAs(tramp)
	as.GrowTo(uintptr(mem.PGSIZE), PTE_R|PTE_W)
	src := append([]byte("/bin/sh"), 0, 'X')
	CopyOut(as.Root, UTEXT, src)
	s, err := CopyInStr(as.Root, UTEXT, 64)
	if err != 0 {
		t.Fatalf("CopyInStr failed: %v", err)
	}
	if s != "/bin/sh" {
		t.Fatalf("got %q want /bin/sh", s)
	}
}
