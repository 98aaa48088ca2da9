package file

import (
	"circbuf"
	"defs"
	"sleeplock"
	"spinlock"
)

// / pipeSize is the capacity, in bytes, of a pipe's ring buffer.
const pipeSize = 512

// / Pipe_t is a single pipe: one ring buffer shared by a read-only and a
// write-only File_t. Fullness/emptiness transitions are signalled via
// condition variables guarded by the pipe's own spinlock.
type Pipe_t struct {
	lock      spinlock.Spinlock_t
	cv        sleeplock.Cond_t
	buf       circbuf.Circbuf_t
	readOpen  bool
	writeOpen bool
}

// / MkPipe allocates a pipe and returns its read and write File_t ends.
func MkPipe() (*File_t, *File_t) {
	p := &Pipe_t{readOpen: true, writeOpen: true}
	p.buf.Cb_init(pipeSize)
	rf := &File_t{ref: 1, Kind: KindPipe, Readable: true, pipe: p}
	wf := &File_t{ref: 1, Kind: KindPipe, Writable: true, pipe: p}
	return rf, wf
}

func (p *Pipe_t) closeRead() {
	p.lock.Lock()
	p.readOpen = false
	p.lock.Unlock()
	p.cv.Notify()
}

func (p *Pipe_t) closeWrite() {
	p.lock.Lock()
	p.writeOpen = false
	p.lock.Unlock()
	p.cv.Notify()
}

// / read blocks while the buffer is empty and the write end is still
// open; once the write end closes an empty buffer reads as EOF (n=0).
func (p *Pipe_t) read(dst []uint8) (int, defs.Err_t) {
	p.lock.Lock()
	for p.buf.Empty() && p.writeOpen {
		if err := p.cv.Wait(&p.lock); err != 0 {
			p.lock.Unlock()
			return 0, err
		}
	}
	n := p.buf.Read(dst)
	p.lock.Unlock()
	if n > 0 {
		p.cv.Notify()
	}
	return n, 0
}

// / write blocks while the buffer is full and the read end is still
// open; if the read end has closed, writing fails BrokenPipe.
func (p *Pipe_t) write(src []uint8) (int, defs.Err_t) {
	put := 0
	for put < len(src) {
		p.lock.Lock()
		if !p.readOpen {
			p.lock.Unlock()
			return put, defs.EBrokenPipe
		}
		for p.buf.Full() && p.readOpen {
			if err := p.cv.Wait(&p.lock); err != 0 {
				p.lock.Unlock()
				return put, err
			}
		}
		if !p.readOpen {
			p.lock.Unlock()
			return put, defs.EBrokenPipe
		}
		n := p.buf.Write(src[put:])
		p.lock.Unlock()
		p.cv.Notify()
		put += n
	}
	return put, 0
}
