package fs

import (
	"defs"
	"lru"
	"sleeplock"
)

// / dinodeSize is the on-disk size, in bytes, of one packed inode record:
// / type, major, minor, nlink (i16 each), size (u32), NDIRECT+1 block
// / numbers (u32 each).
const dinodeSize = 2 + 2 + 2 + 2 + 4 + (NDIRECT+1)*4

// / Dinode_t is the on-disk inode record.
type Dinode_t struct {
	Type  defs.FileType
	Major int16
	Minor int16
	Nlink int16
	Size  uint32
	Addrs [NDIRECT + 1]uint32
}

func decodeDinode(raw []byte) Dinode_t {
	var d Dinode_t
	le16 := func(o int) int16 { return int16(uint16(raw[o]) | uint16(raw[o+1])<<8) }
	d.Type = defs.FileType(le16(0))
	d.Major = le16(2)
	d.Minor = le16(4)
	d.Nlink = le16(6)
	d.Size = le32(raw[8:])
	for i := 0; i < NDIRECT+1; i++ {
		d.Addrs[i] = le32(raw[12+4*i:])
	}
	return d
}

func (d Dinode_t) encode(raw []byte) {
	put16 := func(o int, v int16) {
		raw[o] = uint8(v)
		raw[o+1] = uint8(uint16(v) >> 8)
	}
	put16(0, int16(d.Type))
	put16(2, d.Major)
	put16(4, d.Minor)
	put16(6, d.Nlink)
	putle32(raw[8:], d.Size)
	for i := 0; i < NDIRECT+1; i++ {
		putle32(raw[12+4*i:], d.Addrs[i])
	}
}

// / Inode_t is the in-memory, cached form of an inode: (dev, inum) plus a
// sleep lock serializing access to the fields below and a "valid" flag
// marking whether they have been loaded from disk yet.
type Inode_t struct {
	lk    *sleeplock.Lock_t
	Dev   int
	Inum  int
	valid bool
	Dinode_t
}

// / Icache_t is the inode cache: a bounded lru.Lru_t over in-memory
// Inode_t records, plus the filesystem plumbing each needs to read,
// write, and grow/shrink its on-disk form.
type Icache_t struct {
	cache *lru.Lru_t[int64, *Inode_t]
	bc    *Bufcache_t
	log   *Log_t
	sb    *Superblock_t
	dev   int
}

// / MkIcache allocates an inode cache holding at most capacity inodes.
func MkIcache(capacity int, bc *Bufcache_t, log *Log_t, sb *Superblock_t, dev int) *Icache_t {
	return &Icache_t{
		cache: lru.MkLru[int64, *Inode_t]("icache", capacity),
		bc:    bc,
		log:   log,
		sb:    sb,
		dev:   dev,
	}
}

func ikey(dev, inum int) int64 {
	return int64(dev)<<32 | int64(uint32(inum))
}

// / Iget returns a pinned, not-yet-locked handle for (dev, inum), reading
// nothing from disk until Ilock is called.
func (ic *Icache_t) Iget(dev, inum int) *Inode_t {
	key := ikey(dev, inum)
	if ip, ok := ic.cache.Get(key); ok {
		return ip
	}
	ip := &Inode_t{lk: sleeplock.MkLock("inode"), Dev: dev, Inum: inum}
	ic.cache.Insert(key, ip)
	return ip
}

// / Iput drops the caller's reference. When an unlinked inode (nlink==0)
// loses its last reference its blocks are freed and the slot is returned
// to the free-inode pool (spec.md §4.9).
func (ic *Icache_t) Iput(ip *Inode_t) {
	ip.lk.Lock(0)
	if ip.valid && ip.Nlink == 0 {
		ic.itrunc(ip)
		ip.Type = defs.T_UNUSED
		ic.iupdate(ip)
		ip.valid = false
	}
	ip.lk.Unlock()
	ic.cache.Release(ikey(ip.Dev, ip.Inum))
}

// / Ilock locks ip and, on first use, loads its fields from disk.
func (ic *Icache_t) Ilock(ip *Inode_t) {
	ip.lk.Lock(0)
	if ip.valid {
		return
	}
	blk := ic.bc.Bread(ip.Dev, ic.sb.Iblock(ip.Inum))
	off := (ip.Inum % IPB) * dinodeSize
	ip.Dinode_t = decodeDinode(blk.Data[off : off+dinodeSize])
	ic.bc.Brelse(blk)
	if ip.Type == defs.T_UNUSED {
		panic("fs: load of free inode")
	}
	ip.valid = true
}

// / Iunlock releases ip's sleep lock without dropping the cache pin.
func (ic *Icache_t) Iunlock(ip *Inode_t) {
	ip.lk.Unlock()
}

// / iupdate writes ip's in-memory fields back to its on-disk record as
// part of the current transaction. Caller holds ip's lock.
func (ic *Icache_t) iupdate(ip *Inode_t) {
	blk := ic.bc.Bread(ip.Dev, ic.sb.Iblock(ip.Inum))
	off := (ip.Inum % IPB) * dinodeSize
	ip.Dinode_t.encode(blk.Data[off : off+dinodeSize])
	ic.log.Write(blk)
	ic.bc.Brelse(blk)
}

// / Iupdate is the exported form of iupdate for callers (directory ops)
// that have already locked ip and are inside a transaction.
func (ic *Icache_t) Iupdate(ip *Inode_t) {
	ic.iupdate(ip)
}

// / Ialloc scans the inode blocks for a free (T_UNUSED) slot, marks it
// with the given type, and returns a locked handle on it. Must run inside
// a transaction.
func (ic *Icache_t) Ialloc(typ defs.FileType) (*Inode_t, defs.Err_t) {
	for inum := 1; inum < int(ic.sb.Ninodes); inum++ {
		blk := ic.bc.Bread(ic.dev, ic.sb.Iblock(inum))
		off := (inum % IPB) * dinodeSize
		d := decodeDinode(blk.Data[off : off+dinodeSize])
		if d.Type == defs.T_UNUSED {
			d = Dinode_t{Type: typ}
			d.encode(blk.Data[off : off+dinodeSize])
			ic.log.Write(blk)
			ic.bc.Brelse(blk)
			ip := ic.Iget(ic.dev, inum)
			ic.Ilock(ip)
			return ip, 0
		}
		ic.bc.Brelse(blk)
	}
	return nil, defs.EStorageOutOfInodes
}

// / Balloc scans the bitmap for a free block, marks it used, zeroes it,
// and returns its block number. Must run inside a transaction.
func (ic *Icache_t) Balloc() (int, defs.Err_t) {
	for b := 0; b < int(ic.sb.Size); b += BSIZE * 8 {
		bmapblk := int(ic.sb.Bmapstart) + b/(BSIZE*8)
		blk := ic.bc.Bread(ic.dev, bmapblk)
		for bi := 0; bi < BSIZE*8 && b+bi < int(ic.sb.Size); bi++ {
			byteI, bitI := bi/8, uint(bi%8)
			if blk.Data[byteI]&(1<<bitI) == 0 {
				blk.Data[byteI] |= 1 << bitI
				ic.log.Write(blk)
				ic.bc.Brelse(blk)
				bn := b + bi
				zb := ic.bc.Bread(ic.dev, bn)
				Zero(zb)
				ic.log.Write(zb)
				ic.bc.Brelse(zb)
				return bn, 0
			}
		}
		ic.bc.Brelse(blk)
	}
	return 0, defs.EStorageOutOfBlocks
}

// / Bfree clears bn's bit in the bitmap. Must run inside a transaction.
func (ic *Icache_t) Bfree(bn int) {
	bmapblk := int(ic.sb.Bmapstart) + bn/(BSIZE*8)
	blk := ic.bc.Bread(ic.dev, bmapblk)
	bi := bn % (BSIZE * 8)
	byteI, bitI := bi/8, uint(bi%8)
	if blk.Data[byteI]&(1<<bitI) == 0 {
		panic("fs: double free of block")
	}
	blk.Data[byteI] &^= 1 << bitI
	ic.log.Write(blk)
	ic.bc.Brelse(blk)
}

// / Bmap returns the block number holding byte offset bn*BSIZE of ip's
// data, allocating direct or indirect blocks lazily as needed.
func (ic *Icache_t) Bmap(ip *Inode_t, bn int) (int, defs.Err_t) {
	if bn < NDIRECT {
		if ip.Addrs[bn] == 0 {
			nb, err := ic.Balloc()
			if err != 0 {
				return 0, err
			}
			ip.Addrs[bn] = uint32(nb)
		}
		return int(ip.Addrs[bn]), 0
	}
	bn -= NDIRECT
	if bn >= NINDIRECT {
		return 0, defs.EFileTooLarge
	}
	if ip.Addrs[NDIRECT] == 0 {
		nb, err := ic.Balloc()
		if err != 0 {
			return 0, err
		}
		ip.Addrs[NDIRECT] = uint32(nb)
	}
	ind := ic.bc.Bread(ip.Dev, int(ip.Addrs[NDIRECT]))
	addr := le32(ind.Data[4*bn:])
	if addr == 0 {
		nb, err := ic.Balloc()
		if err != 0 {
			ic.bc.Brelse(ind)
			return 0, err
		}
		putle32(ind.Data[4*bn:], uint32(nb))
		ic.log.Write(ind)
		addr = uint32(nb)
	}
	ic.bc.Brelse(ind)
	return int(addr), 0
}

// / itrunc frees all of ip's data blocks and resets its size to zero.
func (ic *Icache_t) itrunc(ip *Inode_t) {
	for i := 0; i < NDIRECT; i++ {
		if ip.Addrs[i] != 0 {
			ic.Bfree(int(ip.Addrs[i]))
			ip.Addrs[i] = 0
		}
	}
	if ip.Addrs[NDIRECT] != 0 {
		ind := ic.bc.Bread(ip.Dev, int(ip.Addrs[NDIRECT]))
		for i := 0; i < NINDIRECT; i++ {
			if a := le32(ind.Data[4*i:]); a != 0 {
				ic.Bfree(int(a))
			}
		}
		ic.bc.Brelse(ind)
		ic.Bfree(int(ip.Addrs[NDIRECT]))
		ip.Addrs[NDIRECT] = 0
	}
	ip.Size = 0
	ic.iupdate(ip)
}

// / Readi copies up to len(dst) bytes starting at off out of ip's data.
// Caller holds ip's lock.
func (ic *Icache_t) Readi(ip *Inode_t, dst []uint8, off int) (int, defs.Err_t) {
	if off > int(ip.Size) {
		return 0, 0
	}
	n := len(dst)
	if off+n > int(ip.Size) {
		n = int(ip.Size) - off
	}
	got := 0
	for got < n {
		bn, err := ic.Bmap(ip, (off+got)/BSIZE)
		if err != 0 {
			return got, err
		}
		blk := ic.bc.Bread(ip.Dev, bn)
		boff := (off + got) % BSIZE
		m := BSIZE - boff
		if m > n-got {
			m = n - got
		}
		copy(dst[got:got+m], blk.Data[boff:boff+m])
		ic.bc.Brelse(blk)
		got += m
	}
	return got, 0
}

// / Writei copies src into ip's data starting at off, growing the file
// (and its size field) as needed, and rejecting writes that would exceed
// the maximum direct+indirect file size. Caller holds ip's lock and is
// inside a transaction.
func (ic *Icache_t) Writei(ip *Inode_t, src []uint8, off int) (int, defs.Err_t) {
	if off < 0 || off > int(ip.Size)+1 {
		return 0, defs.EWriteOffsetTooLarge
	}
	if off+len(src) > MAXFILEBLOCKS*BSIZE {
		return 0, defs.EFileTooLarge
	}
	put := 0
	n := len(src)
	for put < n {
		bn, err := ic.Bmap(ip, (off+put)/BSIZE)
		if err != 0 {
			return put, err
		}
		blk := ic.bc.Bread(ip.Dev, bn)
		boff := (off + put) % BSIZE
		m := BSIZE - boff
		if m > n-put {
			m = n - put
		}
		copy(blk.Data[boff:boff+m], src[put:put+m])
		ic.log.Write(blk)
		ic.bc.Brelse(blk)
		put += m
	}
	if off+put > int(ip.Size) {
		ip.Size = uint32(off + put)
	}
	ic.iupdate(ip)
	return put, 0
}
