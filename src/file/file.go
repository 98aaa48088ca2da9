// Package file implements the file object abstraction (a tagged variant
// over inode, device, and pipe backings), the per-process fd table, and
// the pipe itself (spec.md §4.11-4.12).
package file

import (
	"sync"

	"defs"
	"fs"
	"spinlock"
	"stat"
)

// / NOFILE bounds the number of simultaneously open file descriptors a
// process may hold.
const NOFILE = 16

// / Kind_t tags which backing a File_t wraps.
type Kind_t int

const (
	KindInode Kind_t = iota
	KindDevice
	KindPipe
)

// / DevRW is the read or write half of a registered device's operations.
// It is handed an already copy_in/copy_out'd kernel buffer -- the trap
// layer is responsible for moving bytes to and from user memory.
type DevRW func(buf []uint8) (int, defs.Err_t)

type devEntry struct {
	read  DevRW
	write DevRW
}

var devlock sync.Mutex
var devtable = map[int16]devEntry{}

// / RegisterDevice installs the (read, write) pair for major device
// number maj, looked up by the Device file variant on every access.
func RegisterDevice(maj int16, read, write DevRW) {
	devlock.Lock()
	defer devlock.Unlock()
	devtable[maj] = devEntry{read: read, write: write}
}

func lookupDevice(maj int16) (devEntry, bool) {
	devlock.Lock()
	defer devlock.Unlock()
	d, ok := devtable[maj]
	return d, ok
}

// / File_t is a reference-counted, ref-shared kernel file object. Several
// fd table slots (this process's or another's, after fork) may point at
// the same File_t; Ref/Unref manage its lifetime.
type File_t struct {
	lock     sync.Mutex
	ref      int
	Kind     Kind_t
	Readable bool
	Writable bool
	Append   bool

	ic  *fs.Icache_t
	log *fs.Log_t
	ip  *fs.Inode_t
	off int

	major, minor int16

	pipe *Pipe_t
}

// / MkInodeFile wraps an already-resolved inode as a pinned, open file.
func MkInodeFile(ic *fs.Icache_t, log *fs.Log_t, ip *fs.Inode_t, readable, writable bool) *File_t {
	return &File_t{ref: 1, Kind: KindInode, Readable: readable, Writable: writable, ic: ic, log: log, ip: ip}
}

// / MkDeviceFile wraps a (major, minor) device node as an open file.
func MkDeviceFile(major, minor int16, readable, writable bool) *File_t {
	return &File_t{ref: 1, Kind: KindDevice, Readable: readable, Writable: writable, major: major, minor: minor}
}

// / Dup bumps f's reference count, used when a fd table slot referencing
// f is duplicated (dup(2), fork).
func (f *File_t) Dup() *File_t {
	f.lock.Lock()
	f.ref++
	f.lock.Unlock()
	return f
}

// / Close drops one reference, closing f's backing once the count hits
// zero: releasing the inode, or tearing down the pipe's open-end flags.
func (f *File_t) Close() {
	f.lock.Lock()
	f.ref--
	n := f.ref
	f.lock.Unlock()
	if n > 0 {
		return
	}
	switch f.Kind {
	case KindInode:
		f.ic.Iput(f.ip)
	case KindPipe:
		if f.Readable {
			f.pipe.closeRead()
		}
		if f.Writable {
			f.pipe.closeWrite()
		}
	}
}

// / Read reads into dst at f's current offset (inode/pipe) or dispatches
// to the registered device read function.
func (f *File_t) Read(dst []uint8) (int, defs.Err_t) {
	if !f.Readable {
		return 0, defs.EFileDescriptorNotReadable
	}
	switch f.Kind {
	case KindInode:
		f.ic.Ilock(f.ip)
		n, err := f.ic.Readi(f.ip, dst, f.off)
		f.off += n
		f.ic.Iunlock(f.ip)
		return n, err
	case KindDevice:
		d, ok := lookupDevice(f.major)
		if !ok || d.read == nil {
			return 0, defs.EFileDescriptorNotFound
		}
		return d.read(dst)
	case KindPipe:
		return f.pipe.read(dst)
	}
	panic("file: unknown kind")
}

// / Write writes src at f's current offset (inode/pipe, wrapped in a
// transaction for inodes) or dispatches to the registered device write
// function.
func (f *File_t) Write(src []uint8) (int, defs.Err_t) {
	if !f.Writable {
		return 0, defs.EFileDescriptorNotWritable
	}
	switch f.Kind {
	case KindInode:
		f.log.Begin_tx()
		f.ic.Ilock(f.ip)
		n, err := f.ic.Writei(f.ip, src, f.off)
		f.off += n
		f.ic.Iunlock(f.ip)
		f.log.End_tx()
		return n, err
	case KindDevice:
		d, ok := lookupDevice(f.major)
		if !ok || d.write == nil {
			return 0, defs.EFileDescriptorNotFound
		}
		return d.write(src)
	case KindPipe:
		return f.pipe.write(src)
	}
	panic("file: unknown kind")
}

// / Stat fills st with {dev, inum, type, size}; the link count is not
// reported, as stat.Stat_t has no field for it. Pipes and devices with no
// backing inode return StatOnNonFsEntry.
func (f *File_t) Stat(st *stat.Stat_t) defs.Err_t {
	if f.Kind != KindInode {
		return defs.EStatOnNonFsEntry
	}
	f.ic.Ilock(f.ip)
	st.Wdev(uint(f.ip.Dev))
	st.Wino(uint(f.ip.Inum))
	st.Wmode(uint(f.ip.Type))
	st.Wsize(uint(f.ip.Size))
	f.ic.Iunlock(f.ip)
	return 0
}

// / Fdtable_t is a process's bounded array of open file descriptors.
type Fdtable_t struct {
	lock spinlock.Spinlock_t
	fds  [NOFILE]*File_t
}

// / Fdalloc installs f at the smallest free descriptor and returns it.
func (t *Fdtable_t) Fdalloc(f *File_t) (int, defs.Err_t) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for i := range t.fds {
		if t.fds[i] == nil {
			t.fds[i] = f
			return i, 0
		}
	}
	return 0, defs.ENoFreeFileDescriptorTableEntry
}

// / Get returns the file at fd, or ok=false if the slot is empty or out
// of range.
func (t *Fdtable_t) Get(fd int) (*File_t, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if fd < 0 || fd >= NOFILE || t.fds[fd] == nil {
		return nil, false
	}
	return t.fds[fd], true
}

// / Close clears fd's slot and drops the table's reference to its file.
func (t *Fdtable_t) Close(fd int) defs.Err_t {
	t.lock.Lock()
	f, ok := t.fds[fd], fd >= 0 && fd < NOFILE && t.fds[fd] != nil
	if ok {
		t.fds[fd] = nil
	}
	t.lock.Unlock()
	if !ok {
		return defs.EFileDescriptorNotFound
	}
	f.Close()
	return 0
}

// / Dup clones fd to a new, smallest-free slot, sharing the same File_t.
func (t *Fdtable_t) Dup(fd int) (int, defs.Err_t) {
	f, ok := t.Get(fd)
	if !ok {
		return 0, defs.EFileDescriptorNotFound
	}
	return t.Fdalloc(f.Dup())
}

// / Copy returns a new table referencing the same files as t, each with
// its reference count bumped -- used by fork to clone the fd table.
func (t *Fdtable_t) Copy() *Fdtable_t {
	t.lock.Lock()
	defer t.lock.Unlock()
	nt := &Fdtable_t{}
	for i, f := range t.fds {
		if f != nil {
			nt.fds[i] = f.Dup()
		}
	}
	return nt
}

// / CloseAll closes every open descriptor, e.g. on process exit.
func (t *Fdtable_t) CloseAll() {
	for i := range t.fds {
		t.Close(i)
	}
}
