package proc

import (
	"encoding/binary"

	"mem"
)

// Trapframe_t is the per-process saved user register file (spec.md §4.5
// "trampoline + trap-frame mapping", §4.6 "trap frame carries argument
// registers a0..a5 and the syscall number in a7"). It is kept as a plain
// Go struct and marshaled to/from the raw physical page vm.As_t maps at
// TRAPFRAME, the same way fs.Superblock_t marshals to/from a raw block:
// the trampoline's user-entry/exit path only ever touches the page's raw
// bytes, never this struct directly.
type Trapframe_t struct {
	KernelSatp  uint64
	KernelSp    uint64
	KernelTrap  uint64
	Epc         uint64
	KernelHartid uint64
	Ra, Sp, Gp, Tp             uint64
	T0, T1, T2                 uint64
	S0, S1                     uint64
	A0, A1, A2, A3, A4, A5, A6, A7 uint64
	S2, S3, S4, S5, S6, S7, S8, S9, S10, S11 uint64
	T3, T4, T5, T6             uint64
}

// fields lists the fields in on-page order.
func (tf *Trapframe_t) fields() []*uint64 {
	return []*uint64{
		&tf.KernelSatp, &tf.KernelSp, &tf.KernelTrap, &tf.Epc, &tf.KernelHartid,
		&tf.Ra, &tf.Sp, &tf.Gp, &tf.Tp,
		&tf.T0, &tf.T1, &tf.T2,
		&tf.S0, &tf.S1,
		&tf.A0, &tf.A1, &tf.A2, &tf.A3, &tf.A4, &tf.A5, &tf.A6, &tf.A7,
		&tf.S2, &tf.S3, &tf.S4, &tf.S5, &tf.S6, &tf.S7, &tf.S8, &tf.S9, &tf.S10, &tf.S11,
		&tf.T3, &tf.T4, &tf.T5, &tf.T6,
	}
}

// Load reads the trap frame out of the physical page backing it.
func (tf *Trapframe_t) Load(pa mem.Pa_t) {
	raw := mem.Physmem.Dmap(pa)
	for i, f := range tf.fields() {
		*f = binary.LittleEndian.Uint64(raw[i*8:])
	}
}

// Store writes the trap frame into the physical page backing it.
func (tf *Trapframe_t) Store(pa mem.Pa_t) {
	raw := mem.Physmem.Dmap(pa)
	for i, f := range tf.fields() {
		binary.LittleEndian.PutUint64(raw[i*8:], *f)
	}
}

// Args returns the six scalar syscall argument registers and the syscall
// number register (spec.md §4.6).
func (tf *Trapframe_t) Args() (a0, a1, a2, a3, a4, a5 uint64, sysno uint64) {
	return tf.A0, tf.A1, tf.A2, tf.A3, tf.A4, tf.A5, tf.A7
}

// SetReturn stores a syscall's return value in a0. There is no
// two-register form; a1 is left unchanged.
func (tf *Trapframe_t) SetReturn(v0 uint64) {
	tf.A0 = v0
}
