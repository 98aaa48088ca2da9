package disk

import (
	"os"
	"sync"
)

// FileDisk is a block device backed by a plain host file: mkfs and any
// other host-side tooling run the same fs package code a booted kernel
// would, just against a real file instead of a virtio-blk-backed RAM
// disk. Reads/writes seek to blockno*blocksize before each operation, so
// callers never need at-most-one-in-flight discipline themselves -- the
// mutex here provides it.
type FileDisk struct {
	sync.Mutex
	f         *os.File
	blocksize int
}

// CreateFileDisk truncates (or creates) path to nblocks*blocksize bytes
// and returns a FileDisk over it.
func CreateFileDisk(path string, blocksize, nblocks int) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(blocksize) * int64(nblocks)); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDisk{f: f, blocksize: blocksize}, nil
}

// OpenFileDisk opens an existing disk image at path for reading and
// writing.
func OpenFileDisk(path string, blocksize int) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &FileDisk{f: f, blocksize: blocksize}, nil
}

// ReadBlock implements dev.Disk_i.
func (d *FileDisk) ReadBlock(devid int, blockno int, buf []uint8) {
	d.Lock()
	defer d.Unlock()
	if _, err := d.f.Seek(int64(blockno)*int64(d.blocksize), 0); err != nil {
		panic(err)
	}
	n, err := d.f.Read(buf)
	if err != nil || n != len(buf) {
		panic(err)
	}
}

// WriteBlock implements dev.Disk_i.
func (d *FileDisk) WriteBlock(devid int, blockno int, buf []uint8) {
	d.Lock()
	defer d.Unlock()
	if _, err := d.f.Seek(int64(blockno)*int64(d.blocksize), 0); err != nil {
		panic(err)
	}
	n, err := d.f.Write(buf)
	if err != nil || n != len(buf) {
		panic(err)
	}
}

// Sync flushes the backing file to stable storage.
func (d *FileDisk) Sync() error {
	return d.f.Sync()
}

// Close releases the backing file.
func (d *FileDisk) Close() error {
	return d.f.Close()
}
