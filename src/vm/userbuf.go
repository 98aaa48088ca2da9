package vm

import (
	"defs"
	"mem"
)

// pageSpan splits [va, va+len) into per-page (pageVa, pageOffset, n)
// triples, the unit copy_in/copy_out operate in (spec.md §4.5: "transfer
// bytes across the user/kernel boundary a page at a time").
type pageSpan struct {
	va  uintptr
	off int
	n   int
}

func spans(va uintptr, n int) []pageSpan {
	var out []pageSpan
	for n > 0 {
		off := int(va) & int(mem.PGOFFSET)
		chunk := mem.PGSIZE - off
		if chunk > n {
			chunk = n
		}
		out = append(out, pageSpan{va: va &^ uintptr(mem.PGOFFSET), off: off, n: chunk})
		va += uintptr(chunk)
		n -= chunk
	}
	return out
}

// CopyIn transfers len(dst) bytes from user virtual address va in the
// address space rooted at root into dst. Fails BadAddress on missing
// mapping or a non-(readable) page (spec.md §4.5).
func CopyIn(root mem.Pa_t, va uintptr, dst []uint8) defs.Err_t {
	got := 0
	for _, sp := range spans(va, len(dst)) {
		pte, err := Walk(root, sp.va, false)
		if err != 0 || pte == nil || *pte&(PTE_V|PTE_U|PTE_R) != (PTE_V|PTE_U|PTE_R) {
			return defs.EBadAddress
		}
		page := mem.Physmem.Dmap(pteToPa(*pte))
		copy(dst[got:got+sp.n], page[sp.off:sp.off+sp.n])
		got += sp.n
	}
	return 0
}

// CopyOut transfers src into user virtual address va in the address
// space rooted at root. Fails BadAddress on missing mapping or a
// non-writable page.
func CopyOut(root mem.Pa_t, va uintptr, src []uint8) defs.Err_t {
	done := 0
	for _, sp := range spans(va, len(src)) {
		pte, err := Walk(root, sp.va, false)
		if err != 0 || pte == nil || *pte&(PTE_V|PTE_U|PTE_W) != (PTE_V|PTE_U|PTE_W) {
			return defs.EBadAddress
		}
		page := mem.Physmem.Dmap(pteToPa(*pte))
		copy(page[sp.off:sp.off+sp.n], src[done:done+sp.n])
		done += sp.n
	}
	return 0
}

// CopyInStr reads a NUL-terminated string of at most max bytes (not
// counting the terminator) starting at user address va. Fails
// ArgumentListTooLarge if the string is not NUL-terminated within max
// bytes, and BadAddress on an unmapped/unreadable page along the way.
func CopyInStr(root mem.Pa_t, va uintptr, max int) (string, defs.Err_t) {
	buf := make([]uint8, 0, 64)
	for i := 0; i < max; i++ {
		var b [1]uint8
		if err := CopyIn(root, va+uintptr(i), b[:]); err != 0 {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), 0
		}
		buf = append(buf, b[0])
	}
	return "", defs.EArgumentListTooLarge
}
