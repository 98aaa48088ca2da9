package fs

import (
	"defs"

	"dev"
)

// / RootInum is the inode number of the file system root, fixed by
// convention (mirroring the teacher's layout).
const RootInum = 1

// / Mkfs lays out a fresh file system on disk devid: superblock, log
// region, inode blocks, bitmap, and data region, then formats inode 1 as
// an empty root directory. It writes directly to disk (no transaction --
// there is nothing yet to recover from).
func Mkfs(disk dev.Disk_i, devid int, nblocks, ninodes int) *Superblock_t {
	bc := MkBufcache(64, disk)

	sb := &Superblock_t{
		Magic:   sbMagic,
		Size:    uint32(nblocks),
		Ninodes: uint32(ninodes),
		Nlog:    LogBlocks,
	}
	sb.Logstart = sbBlock + 1
	sb.Inodestart = sb.Logstart + sb.Nlog
	ninodeblocks := (ninodes + IPB - 1) / IPB
	sb.Bmapstart = sb.Inodestart + uint32(ninodeblocks)
	sb.Nblocks = uint32(nblocks) - sb.Bmapstart - uint32(sb.Nfreebitblocks())

	for b := 0; b < nblocks; b++ {
		blk := bc.Bread(devid, b)
		Zero(blk)
		bc.Bwrite(blk)
		bc.Brelse(blk)
	}

	sbblk := bc.Bread(devid, sbBlock)
	sb.Encode(sbblk.Data[:])
	bc.Bwrite(sbblk)
	bc.Brelse(sbblk)

	metaBlocks := int(sb.Bmapstart) + sb.Nfreebitblocks()
	for b := 0; b < metaBlocks; b++ {
		markUsed(bc, sb, devid, b)
	}

	root := Dinode_t{Type: defs.T_DIR, Nlink: 1}
	rblk := bc.Bread(devid, sb.Iblock(RootInum))
	off := (RootInum % IPB) * dinodeSize
	root.encode(rblk.Data[off : off+dinodeSize])
	bc.Bwrite(rblk)
	bc.Brelse(rblk)

	return sb
}

// / LogBlocks is the fixed size, in blocks, of the on-disk log region
// (header block included) that Mkfs reserves.
const LogBlocks = 32

func markUsed(bc *Bufcache_t, sb *Superblock_t, devid, bn int) {
	bmapblk := int(sb.Bmapstart) + bn/(BSIZE*8)
	blk := bc.Bread(devid, bmapblk)
	bi := bn % (BSIZE * 8)
	blk.Data[bi/8] |= 1 << uint(bi%8)
	bc.Bwrite(blk)
	bc.Brelse(blk)
}
