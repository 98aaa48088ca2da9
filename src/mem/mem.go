// Package mem implements the physical page-frame allocator of spec.md
// §4.2. Physical RAM is modeled as a single Go-managed byte arena rather
// than hardware-mapped memory (see DESIGN.md, Open Question resolutions):
// a Pa_t is an offset into that arena, and Dmap returns a slice view into
// it standing in for the kernel's direct map of RAM.
package mem

import (
	"unsafe"

	"spinlock"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

/// Pa_t represents a physical address: an offset into the RAM arena.
type Pa_t uintptr

/// Bytepg_t is a byte-addressed page.
type Bytepg_t [PGSIZE]uint8

// fill patterns distinguish freshly allocated pages (spec.md §4.2:
// "overwritten with a recognizable nonzero fill") from freed pages (junk
// fill, to catch dangling use).
const allocFill = 0xd0
const freedFill = 0xf3

/// Physpg_t tracks one page frame's place in the free list. Matches the
/// teacher's Physpg_t role (an index-addressed metadata record per page)
/// but drops the refcount/percpu-sharding fields: this rendition never
/// shares a page between owners except via explicit Vm clone-copy, so a
/// free/allocated boolean plus an intrusive next-pointer suffices.
type Physpg_t struct {
	free  bool
	nexti uint32 // index of next free page, or sentinel below
}

const nilIdx = ^uint32(0)

/// Physmem_t is the page-frame allocator: a single intrusive free list
/// protected by a spinlock, managing every page in the arena.
type Physmem_t struct {
	lock  spinlock.Spinlock_t
	arena []byte
	pgs   []Physpg_t
	freei uint32
	nfree int
}

/// Physmem is the kernel-wide page allocator singleton (spec.md §9,
/// "Global mutable state": process-wide singletons with explicit init).
var Physmem = &Physmem_t{}

/// Phys_init carves size bytes of RAM, rounds down to whole pages, and
/// pushes every page onto the free list.
func Phys_init(size int) *Physmem_t {
	npg := size / PGSIZE
	if npg <= 0 {
		panic("mem: no pages to manage")
	}
	phys := Physmem
	phys.lock = *spinlock.MkLock("physmem")
	phys.arena = make([]byte, npg*PGSIZE)
	phys.pgs = make([]Physpg_t, npg)
	phys.freei = 0
	phys.nfree = npg
	for i := 0; i < npg; i++ {
		phys.pgs[i].free = true
		if i == npg-1 {
			phys.pgs[i].nexti = nilIdx
		} else {
			phys.pgs[i].nexti = uint32(i + 1)
		}
	}
	return phys
}

func idx2pa(i uint32) Pa_t {
	return Pa_t(i) * Pa_t(PGSIZE)
}

func pa2idx(pa Pa_t) uint32 {
	return uint32(pa / Pa_t(PGSIZE))
}

/// Dmap returns the direct-map byte slice backing the page containing pa.
/// The returned slice starts at the page boundary; per-byte offset
/// reconstruction, when needed, is the caller's responsibility (callers
/// within this rendition only ever deal in whole pages — see vm.As_t).
func (phys *Physmem_t) Dmap(pa Pa_t) []byte {
	base := pa &^ PGOFFSET
	if int(base)+PGSIZE > len(phys.arena) {
		panic("mem: Dmap out of range")
	}
	return phys.arena[base : int(base)+PGSIZE]
}

/// Dmap8 is Dmap reinterpreted as a fixed-size array pointer, matching
/// the teacher's *Bytepg_t idiom at call sites that want a fixed view.
func (phys *Physmem_t) Dmap8(pa Pa_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(&phys.Dmap(pa)[0]))
}

/// Refpg_new_nozero allocates one page without zeroing it, overwriting it
/// with a recognizable nonzero fill so uninitialized reads are visible.
func (phys *Physmem_t) Refpg_new_nozero() (Pa_t, bool) {
	phys.lock.Lock()
	defer phys.lock.Unlock()
	if phys.freei == nilIdx {
		return 0, false
	}
	i := phys.freei
	phys.freei = phys.pgs[i].nexti
	phys.pgs[i].free = false
	phys.nfree--
	pa := idx2pa(i)
	buf := phys.Dmap(pa)
	for j := range buf {
		buf[j] = allocFill
	}
	return pa, true
}

/// Refpg_new allocates one zero-filled page.
func (phys *Physmem_t) Refpg_new() (Pa_t, bool) {
	pa, ok := phys.Refpg_new_nozero()
	if !ok {
		return 0, false
	}
	buf := phys.Dmap(pa)
	for j := range buf {
		buf[j] = 0
	}
	return pa, true
}

/// Refpg_free returns pa to the free list after overwriting it with a
/// junk pattern to catch dangling use. Double-free and out-of-range free
/// are fatal assertions (spec.md §7).
func (phys *Physmem_t) Refpg_free(pa Pa_t) {
	phys.lock.Lock()
	defer phys.lock.Unlock()
	if pa%Pa_t(PGSIZE) != 0 || int(pa) < 0 || int(pa)+PGSIZE > len(phys.arena) {
		panic("mem: free out of range")
	}
	i := pa2idx(pa)
	if phys.pgs[i].free {
		panic("mem: double free")
	}
	buf := phys.Dmap(pa)
	for j := range buf {
		buf[j] = freedFill
	}
	phys.pgs[i].free = true
	phys.pgs[i].nexti = phys.freei
	phys.freei = i
	phys.nfree++
}

/// Nfree reports the number of free pages remaining (diagnostic).
func (phys *Physmem_t) Nfree() int {
	phys.lock.Lock()
	defer phys.lock.Unlock()
	return phys.nfree
}
