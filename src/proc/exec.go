package proc

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"log"

	"golang.org/x/arch/riscv64/riscv64asm"

	"defs"
	"fs"
	"mem"
	"util"
	"vm"
)

// stackTop is the base address of the reserved USYSCALL page. Exec does
// not use it: buildStack places the user stack in the page directly above
// the loaded image, so the stack has no fixed address.
const stackTop = vm.USYSCALL

// debugTraceExec toggles a one-line disassembly of the entry
// instruction on every exec, in the same compile-time-gated style as
// stats.Stats/stats.Timing.
const debugTraceExec = false

// traceEntry decodes and logs the single instruction at f's entry
// point, for debugTraceExec sanity-checking that the loader landed on
// a real instruction boundary rather than the middle of one.
func traceEntry(f *elf.File, entry uint64) {
	if !debugTraceExec {
		return
	}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || entry < prog.Vaddr || entry >= prog.Vaddr+prog.Memsz {
			continue
		}
		buf := make([]byte, 4)
		if _, err := prog.ReadAt(buf, int64(entry-prog.Vaddr)); err != nil {
			return
		}
		inst, err := riscv64asm.Decode(buf)
		if err != nil {
			log.Printf("exec: entry %#x: %v", entry, err)
			return
		}
		log.Printf("exec: entry %#x: %s", entry, inst.String())
		return
	}
}

// Exec replaces p's address space and trap frame with a freshly loaded
// ELF image, per spec.md §4.5 "exec()": the old address space is only
// discarded once the new one is fully built, so a failed exec leaves
// the caller's process unchanged. argv becomes the user stack's
// argument vector; len(argv) must be <= defs.MAXARG.
func (p *Proc_t) Exec(pt *Ptable_t, image []byte, argv []string) defs.Err_t {
	if len(argv) > defs.MAXARG {
		return defs.EArgumentListTooLarge
	}
	// buildStack lays argv out in a single page: each string padded to 8
	// bytes, the zero-terminated pointer array, and up to 8 bytes of
	// alignment between them.
	argBytes := (len(argv)+1)*8 + 8
	for _, a := range argv {
		argBytes += util.Roundup(len(a)+1, 8)
	}
	if argBytes > mem.PGSIZE {
		return defs.EArgumentListTooLarge
	}
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return defs.EInvalidExecutable
	}
	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB ||
		f.Type != elf.ET_EXEC || f.Machine != elf.EM_RISCV {
		return defs.EInvalidExecutable
	}
	traceEntry(f, f.Entry)

	as, err2 := vm.NewAs(pt.trampolinePa)
	if err2 != defs.EOK {
		return err2
	}

	var top uintptr
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		segEnd := uintptr(prog.Vaddr-uint64(vm.UTEXT)) + uintptr(prog.Memsz)
		if segEnd > top {
			top = segEnd
		}
	}
	if top == 0 {
		as.Free()
		return defs.EInvalidExecutable
	}
	pageAligned := util.Roundup(top, uintptr(mem.PGSIZE))
	if e := as.GrowTo(pageAligned, vm.PTE_R|vm.PTE_W|vm.PTE_X); e != defs.EOK {
		as.Free()
		return e
	}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Filesz > prog.Memsz {
			as.Free()
			return defs.EInvalidExecutable
		}
		data := make([]byte, prog.Memsz)
		n, rerr := prog.ReadAt(data[:prog.Filesz], 0)
		if rerr != nil || uint64(n) != prog.Filesz {
			as.Free()
			return defs.EInvalidExecutable
		}
		va := vm.UTEXT + uintptr(prog.Vaddr-uint64(vm.UTEXT))
		if e := vm.CopyOut(as.Root, va, data); e != defs.EOK {
			as.Free()
			return e
		}
	}

	sp, e := buildStack(as, argv)
	if e != defs.EOK {
		as.Free()
		return e
	}

	tf := &Trapframe_t{
		Epc: f.Entry,
		Sp:  uint64(sp),
	}

	old := p.As
	p.As = as
	p.Tf = tf
	old.Free()
	return defs.EOK
}

// buildStack lays out argv at the top of the user stack the way the
// teacher's runtime expects: a NUL-terminated string for each argument,
// followed by an argv[] pointer array terminated by a zero pointer, with
// the stack pointer left pointing at the first pointer entry.
func buildStack(as *vm.As_t, argv []string) (uintptr, defs.Err_t) {
	if e := as.GrowTo(as.Sz+uintptr(mem.PGSIZE), vm.PTE_R|vm.PTE_W); e != defs.EOK {
		return 0, e
	}
	sp := vm.UTEXT + as.Sz

	ptrs := make([]uintptr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		s := append([]byte(argv[i]), 0)
		sp -= uintptr(len(s))
		sp &^= 0x7
		if e := vm.CopyOut(as.Root, sp, s); e != defs.EOK {
			return 0, e
		}
		ptrs[i] = sp
	}

	sp &^= 0xf
	sp -= uintptr(len(ptrs)+1) * 8
	buf := make([]byte, (len(ptrs)+1)*8)
	for i, pv := range ptrs {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(pv))
	}
	if e := vm.CopyOut(as.Root, sp, buf); e != defs.EOK {
		return 0, e
	}
	return sp, defs.EOK
}

// LoadFromFile reads a whole executable out of the file system for
// Exec, mirroring the teacher's pattern of reading a file fully into
// memory before interpreting it (no demand paging in scope here).
func LoadFromFile(ic *fs.Icache_t, ip *fs.Inode_t) ([]byte, defs.Err_t) {
	ic.Ilock(ip)
	defer ic.Iunlock(ip)
	buf := make([]byte, ip.Size)
	n, err := ic.Readi(ip, buf, 0)
	if err != defs.EOK {
		return nil, err
	}
	return buf[:n], defs.EOK
}
