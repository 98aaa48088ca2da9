// Package fs implements the crash-consistent file system: a buffer cache
// backed by lru.Lru_t, a redo log providing atomic multi-block
// transactions, a bitmap block allocator, and an on-disk inode layer with
// direct and single-indirect block addressing. The on-disk layout is the
// traditional xv6 layout: boot block, superblock, log region, inode
// blocks, bitmap block(s), data blocks.
package fs

import "encoding/binary"

// / BSIZE is the size of a disk block in bytes.
const BSIZE = 1024

// / NDIRECT is the number of direct block pointers in a dinode.
const NDIRECT = 12

// / NINDIRECT is the number of block numbers held in one indirect block.
const NINDIRECT = BSIZE / 4

// / MAXFILEBLOCKS is the largest number of blocks a file may span.
const MAXFILEBLOCKS = NDIRECT + NINDIRECT

// / sbBlock is the block number of the superblock.
const sbBlock = 1

const sbMagic = 0x10203040

// / Superblock_t is the decoded form of the on-disk super block.
type Superblock_t struct {
	Magic      uint32
	Size       uint32 /// total blocks on device
	Nblocks    uint32 /// number of data blocks
	Ninodes    uint32 /// number of inodes
	Nlog       uint32 /// number of log blocks, header included
	Logstart   uint32 /// block number of the log header
	Inodestart uint32 /// block number of the first inode block
	Bmapstart  uint32 /// block number of the first bitmap block
}

// / Decode reads the superblock out of a raw BSIZE-byte block.
func (sb *Superblock_t) Decode(blk []uint8) {
	r := func(i int) uint32 { return binary.LittleEndian.Uint32(blk[i*4:]) }
	sb.Magic = r(0)
	sb.Size = r(1)
	sb.Nblocks = r(2)
	sb.Ninodes = r(3)
	sb.Nlog = r(4)
	sb.Logstart = r(5)
	sb.Inodestart = r(6)
	sb.Bmapstart = r(7)
}

// / Encode writes sb into a raw BSIZE-byte block.
func (sb *Superblock_t) Encode(blk []uint8) {
	w := func(i int, v uint32) { binary.LittleEndian.PutUint32(blk[i*4:], v) }
	w(0, sb.Magic)
	w(1, sb.Size)
	w(2, sb.Nblocks)
	w(3, sb.Ninodes)
	w(4, sb.Nlog)
	w(5, sb.Logstart)
	w(6, sb.Inodestart)
	w(7, sb.Bmapstart)
}

// / IPB is the number of dinodes packed per inode block.
const IPB = BSIZE / dinodeSize

// / Iblock returns the block number holding inode inum.
func (sb *Superblock_t) Iblock(inum int) int {
	return int(sb.Inodestart) + inum/IPB
}

// / Nfreebitblocks returns the bitmap blocks needed to cover Size blocks.
func (sb *Superblock_t) Nfreebitblocks() int {
	return (int(sb.Size) + BSIZE*8 - 1) / (BSIZE * 8)
}

// / Loadsuper reads and validates the on-disk superblock, panicking per
// spec on a bad magic number (the image is not one mkfs produced).
func Loadsuper(bc *Bufcache_t, dev int) *Superblock_t {
	b := bc.Bread(dev, sbBlock)
	defer bc.Brelse(b)
	sb := &Superblock_t{}
	sb.Decode(b.Data[:])
	if sb.Magic != sbMagic {
		panic("fs: bad superblock magic")
	}
	return sb
}
