package vm

import (
	"sync"

	"defs"
	"mem"
)

// Reserved virtual addresses (spec.md §6, "Reserved virtual addresses").
// Sv39 addresses are 39 bits; MAXVA is 1<<38, one bit below that, so no
// user address needs sign extension. It is the top of the address space.
const MAXVA = uintptr(1) << 38

// TRAMPOLINE is the top page of every address space: identical code,
// identity-mapped in the kernel and every user page table.
const TRAMPOLINE = MAXVA - uintptr(mem.PGSIZE)

// TRAPFRAME sits just below the trampoline: one page, RW, holding the
// per-process saved user register file.
const TRAPFRAME = TRAMPOLINE - uintptr(mem.PGSIZE)

// USYSCALL is a reserved page below the trap frame (space reserved for a
// future fast vDSO-style syscall path; unused by the syscalls in scope).
// The user stack is not placed relative to it: exec builds the stack in
// the page directly above the loaded image.
const USYSCALL = TRAPFRAME - uintptr(mem.PGSIZE)

// UTEXT is the fixed load address of a process's first text byte.
const UTEXT = uintptr(0x1000)

// As_t is a process's user address space: the Sv39 page table root plus
// bookkeeping of how much of it is user memory. The mutex guards
// concurrent map/unmap: exec's page-table swap can race fork's clone of
// the same process's old address space.
type As_t struct {
	sync.Mutex
	Root mem.Pa_t
	Sz   uintptr // bytes of user virtual memory currently mapped, from UTEXT
}

// NewAs creates a fresh address space: allocates a root, maps the
// trampoline (RX) and a fresh trap-frame page (RW), and begins with zero
// user pages (spec.md §4.5, "User page-table lifecycle").
func NewAs(trampolinePa mem.Pa_t) (*As_t, defs.Err_t) {
	root, ok := NewRoot()
	if !ok {
		return nil, defs.ENoFreePage
	}
	if err := MapPages(root, TRAMPOLINE, trampolinePa, mem.PGSIZE, PTE_R|PTE_X); err != 0 {
		FreeTable(root)
		return nil, err
	}
	tfPa, ok := mem.Physmem.Refpg_new()
	if !ok {
		UnmapPages(root, TRAMPOLINE, mem.PGSIZE, false)
		FreeTable(root)
		return nil, defs.ENoFreePage
	}
	if err := MapPages(root, TRAPFRAME, tfPa, mem.PGSIZE, PTE_R|PTE_W); err != 0 {
		mem.Physmem.Refpg_free(tfPa)
		UnmapPages(root, TRAMPOLINE, mem.PGSIZE, false)
		FreeTable(root)
		return nil, err
	}
	return &As_t{Root: root, Sz: 0}, 0
}

// TrapframePa returns the physical page backing the trap frame, for
// proc.Trapframe_t to bind to.
func (as *As_t) TrapframePa() mem.Pa_t {
	pte, err := Walk(as.Root, TRAPFRAME, false)
	if err != 0 || pte == nil || *pte&PTE_V == 0 {
		panic("vm: trap frame not mapped")
	}
	return pteToPa(*pte)
}

// GrowTo extends the user heap from its current size up to newSize,
// allocating zeroed frames and mapping them U|perm. On failure it rolls
// back to the old size (spec.md §4.5).
func (as *As_t) GrowTo(newSize uintptr, perm Pte_t) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	if newSize <= as.Sz {
		return 0
	}
	oldSz := as.Sz
	oldTop := UTEXT + oldSz
	newTop := UTEXT + newSize
	for va := oldTop; va < newTop; va += uintptr(mem.PGSIZE) {
		pa, ok := mem.Physmem.Refpg_new()
		if !ok {
			UnmapPages(as.Root, oldTop, int(va-oldTop), true)
			return defs.ENoFreePage
		}
		if err := MapPages(as.Root, va, pa, mem.PGSIZE, perm|PTE_U); err != 0 {
			mem.Physmem.Refpg_free(pa)
			UnmapPages(as.Root, oldTop, int(va-oldTop), true)
			return err
		}
	}
	as.Sz = newSize
	return 0
}

// ShrinkTo unmaps and frees user pages down to newSize.
func (as *As_t) ShrinkTo(newSize uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	if newSize >= as.Sz {
		return 0
	}
	shrinkBy := as.Sz - newSize
	UnmapPages(as.Root, UTEXT+newSize, int(shrinkBy), true)
	as.Sz = newSize
	return 0
}

// Clone allocates new frames and copies content for each mapped user page
// of src, producing an independent address space sharing nothing with
// src (spec.md §4.5, "fork-time page copy"; no copy-on-write).
func (src *As_t) Clone(trampolinePa mem.Pa_t) (*As_t, defs.Err_t) {
	src.Lock()
	defer src.Unlock()
	dst, err := NewAs(trampolinePa)
	if err != 0 {
		return nil, err
	}
	for va := UTEXT; va < UTEXT+src.Sz; va += uintptr(mem.PGSIZE) {
		spte, serr := Walk(src.Root, va, false)
		if serr != 0 || spte == nil || *spte&PTE_V == 0 {
			dst.Free()
			return nil, defs.EBadAddress
		}
		perm := *spte & (pteRWX | PTE_U | PTE_G)
		npa, ok := mem.Physmem.Refpg_new_nozero()
		if !ok {
			dst.Free()
			return nil, defs.ENoFreePage
		}
		copy(mem.Physmem.Dmap(npa), mem.Physmem.Dmap(pteToPa(*spte)))
		if e := MapPages(dst.Root, va, npa, mem.PGSIZE, perm|PTE_V); e != 0 {
			mem.Physmem.Refpg_free(npa)
			dst.Free()
			return nil, e
		}
	}
	dst.Sz = src.Sz
	return dst, 0
}

// Free tears down the whole address space: unmaps and frees every user
// page, the trap frame, the trampoline mapping (frame not freed -- it is
// shared kernel text), and every intermediate table, finally the root.
func (as *As_t) Free() {
	as.Lock()
	defer as.Unlock()
	UnmapPages(as.Root, UTEXT, int(as.Sz), true)
	tfPa := as.TrapframePa()
	mem.Physmem.Refpg_free(tfPa)
	UnmapPages(as.Root, TRAPFRAME, mem.PGSIZE, false)
	UnmapPages(as.Root, TRAMPOLINE, mem.PGSIZE, false)
	FreeTable(as.Root)
}
