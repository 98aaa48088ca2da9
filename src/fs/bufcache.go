package fs

import (
	"dev"
	"lru"
	"sleeplock"
)

// / Bdev_block_t is a cached copy of one on-disk block. Each entry carries
// its own sleep lock so that readers serialize against concurrent fetches
// of the same block without holding the cache-wide lru lock across I/O
// (spec.md §4.7: "per-block sleep lock").
type Bdev_block_t struct {
	lk    *sleeplock.Lock_t
	Dev   int
	Block int
	Data  [BSIZE]byte
}

// / Bufcache_t is the buffer cache: a bounded lru.Lru_t index over cached
// blocks, backed by a dev.Disk_i for misses and writeback.
type Bufcache_t struct {
	cache *lru.Lru_t[int64, *Bdev_block_t]
	disk  dev.Disk_i
}

func bkey(devid, block int) int64 {
	return int64(devid)<<32 | int64(uint32(block))
}

// / MkBufcache allocates a buffer cache holding at most capacity blocks.
func MkBufcache(capacity int, disk dev.Disk_i) *Bufcache_t {
	return &Bufcache_t{
		cache: lru.MkLru[int64, *Bdev_block_t]("bufcache", capacity),
		disk:  disk,
	}
}

// / Bread fetches block devid:block, reading it from disk on a miss, and
// returns it locked -- the caller must Brelse it exactly once.
func (bc *Bufcache_t) Bread(devid, block int) *Bdev_block_t {
	key := bkey(devid, block)
	if b, ok := bc.cache.Get(key); ok {
		b.lk.Lock(0)
		return b
	}
	b := &Bdev_block_t{lk: sleeplock.MkLock("buf"), Dev: devid, Block: block}
	bc.cache.Insert(key, b)
	b.lk.Lock(0)
	bc.disk.ReadBlock(devid, block, b.Data[:])
	return b
}

// / Bwrite writes b's contents to its home location on disk. The caller
// must hold b's lock (i.e. have obtained it from Bread).
func (bc *Bufcache_t) Bwrite(b *Bdev_block_t) {
	bc.disk.WriteBlock(b.Dev, b.Block, b.Data[:])
}

// / Brelse unlocks b and releases the cache's pin on it.
func (bc *Bufcache_t) Brelse(b *Bdev_block_t) {
	b.lk.Unlock()
	bc.cache.Release(bkey(b.Dev, b.Block))
}

// / Pin increments the pin count on devid:block without acquiring its
// sleep lock, used by the log layer to keep an absorbed buffer resident
// across a commit.
func (bc *Bufcache_t) Pin(devid, block int) {
	bc.cache.Pin(bkey(devid, block))
}

// / Unpin is the inverse of Pin.
func (bc *Bufcache_t) Unpin(devid, block int) {
	bc.cache.Unpin(bkey(devid, block))
}

// / Zero zeroes a block's contents in the cache; it does not log the
// block, so the caller passes it to Log_t.Write. Used when allocating a
// fresh data or bitmap block.
func Zero(b *Bdev_block_t) {
	for i := range b.Data {
		b.Data[i] = 0
	}
}
