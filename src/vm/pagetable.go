// Package vm implements the Sv39 page-table layer of spec.md §4.5: a
// three-level 512-entry-per-level tree, leaf mapping/unmapping, and the
// user/kernel copy primitives that are the only sanctioned way for the
// kernel to touch user memory.
package vm

import (
	"unsafe"

	"defs"
	"mem"
	"util"
)

// Pte_t is one Sv39 page table entry.
type Pte_t uint64

// Sv39 PTE flag bits.
const (
	PTE_V Pte_t = 1 << 0 // valid
	PTE_R Pte_t = 1 << 1 // readable
	PTE_W Pte_t = 1 << 2 // writable
	PTE_X Pte_t = 1 << 3 // executable
	PTE_U Pte_t = 1 << 4 // user-accessible
	PTE_G Pte_t = 1 << 5 // global
	PTE_A Pte_t = 1 << 6 // accessed
	PTE_D Pte_t = 1 << 7 // dirty
)

const pteFlagsMask = Pte_t(0x3ff)
const pteRWX = PTE_R | PTE_W | PTE_X

// ppnShift is where the physical page number begins inside a PTE.
const ppnShift = 10

// levels, each indexing 9 bits of the 39-bit virtual address.
const (
	vpnBits  = 9
	vpnMask  = (1 << vpnBits) - 1
	pgLevels = 3
)

func vpn(va uintptr, level int) uintptr {
	shift := 12 + vpnBits*level
	return (va >> uint(shift)) & vpnMask
}

func pteToPa(pte Pte_t) mem.Pa_t {
	return mem.Pa_t((pte >> ppnShift) << 12)
}

func paToPte(pa mem.Pa_t, flags Pte_t) Pte_t {
	return Pte_t(uint64(pa)>>12<<ppnShift) | (flags & pteFlagsMask)
}

func isLeaf(pte Pte_t) bool {
	return pte&PTE_V != 0 && pte&pteRWX != 0
}

// tableEntries views the 4 KiB page at pa as 512 PTEs.
func tableEntries(pa mem.Pa_t) *[512]Pte_t {
	buf := mem.Physmem.Dmap(pa)
	return (*[512]Pte_t)(unsafe.Pointer(&buf[0]))
}

// Walk returns a pointer to the leaf (or intermediate, if alloc requested
// a deeper level than exists) PTE for va within the tree rooted at root.
// When alloc is true, missing intermediate tables are allocated on
// demand; on allocation failure it returns (nil, ENoFreePage).
func Walk(root mem.Pa_t, va uintptr, alloc bool) (*Pte_t, defs.Err_t) {
	table := root
	for level := pgLevels - 1; level > 0; level-- {
		entries := tableEntries(table)
		idx := vpn(va, level)
		pte := &entries[idx]
		if *pte&PTE_V == 0 {
			if !alloc {
				return nil, defs.EBadAddress
			}
			child, ok := mem.Physmem.Refpg_new()
			if !ok {
				return nil, defs.ENoFreePage
			}
			*pte = paToPte(child, PTE_V)
		} else if isLeaf(*pte) {
			// a superpage at an intermediate level: not used by this
			// rendition, but guard against walking through one.
			return nil, defs.EBadAddress
		}
		table = pteToPa(*pte)
	}
	entries := tableEntries(table)
	idx := vpn(va, 0)
	return &entries[idx], 0
}

// MapPages installs leaf mappings at 4 KiB granularity covering
// [va, va+size) mapped to the physical range starting at pa, with the
// given permission flags (which must include at least one of R/W/X;
// PTE_V is added here). Allocates intermediate tables on demand. On any failure midway,
// it unmaps everything it had installed so far, leaving no partial
// mapping visible (spec.md §4.5).
func MapPages(root mem.Pa_t, va uintptr, pa mem.Pa_t, size int, perm Pte_t) defs.Err_t {
	if size <= 0 {
		panic("vm: MapPages zero size")
	}
	start := util.Rounddown(va, uintptr(mem.PGSIZE))
	end := util.Rounddown(va+uintptr(size)-1, uintptr(mem.PGSIZE))
	installed := 0
	for a, p := start, pa; ; a, p = a+uintptr(mem.PGSIZE), p+mem.Pa_t(mem.PGSIZE) {
		pte, err := Walk(root, a, true)
		if err != 0 {
			unmapRange(root, start, installed)
			return err
		}
		if *pte&PTE_V != 0 {
			unmapRange(root, start, installed)
			return defs.EBadAddress
		}
		*pte = paToPte(p, perm|PTE_V)
		installed++
		if a == end {
			break
		}
	}
	return 0
}

func unmapRange(root mem.Pa_t, start uintptr, npages int) {
	for i := 0; i < npages; i++ {
		va := start + uintptr(i*mem.PGSIZE)
		pte, err := Walk(root, va, false)
		if err == 0 {
			*pte = 0
		}
	}
}

// UnmapPages removes leaf mappings covering [va, va+size). When
// freePages is true the backing physical frames are also freed (used
// when shrinking or tearing down an address space); when false, the
// caller retains ownership of the frames (used when unmapping is purely
// administrative, e.g. swapping in a new user page table during exec).
func UnmapPages(root mem.Pa_t, va uintptr, size int, freePages bool) defs.Err_t {
	if size <= 0 {
		return 0
	}
	start := util.Rounddown(va, uintptr(mem.PGSIZE))
	end := util.Rounddown(va+uintptr(size)-1, uintptr(mem.PGSIZE))
	for a := start; ; a += uintptr(mem.PGSIZE) {
		pte, err := Walk(root, a, false)
		if err == 0 && *pte&PTE_V != 0 {
			if freePages {
				mem.Physmem.Refpg_free(pteToPa(*pte))
			}
			*pte = 0
		}
		if a == end {
			break
		}
	}
	return 0
}

// FreeTable frees every intermediate table page in the tree rooted at
// root (but not leaf data pages, which callers free via UnmapPages with
// freePages=true before calling this), and finally the root itself.
func FreeTable(root mem.Pa_t) {
	freeTableLevel(root, pgLevels-1)
}

func freeTableLevel(pa mem.Pa_t, level int) {
	if level > 0 {
		entries := tableEntries(pa)
		for _, pte := range entries {
			if pte&PTE_V != 0 && !isLeaf(pte) {
				freeTableLevel(pteToPa(pte), level-1)
			}
		}
	}
	mem.Physmem.Refpg_free(pa)
}

// NewRoot allocates a fresh, empty top-level page table.
func NewRoot() (mem.Pa_t, bool) {
	return mem.Physmem.Refpg_new()
}
