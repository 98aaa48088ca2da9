package fs

import (
	"sleeplock"
	"spinlock"
)

// / MAXOPBLOCKS bounds the number of distinct blocks a single transaction
// may write, so Begin_tx can guarantee the log never overflows.
const MAXOPBLOCKS = 10

// / Log_t is the on-disk redo log: a fixed region of the device holding a
// header block (count n, then n block numbers) followed by n data slots.
// Concurrent transactions accumulate into the same in-memory absorption
// set; a commit happens only when the last concurrent transaction ends
// (spec.md §4.8: group commit).
type Log_t struct {
	lk          spinlock.Spinlock_t
	cond        sleeplock.Cond_t
	bc          *Bufcache_t
	dev         int
	start       int /// block number of the header
	size        int /// blocks in the log region, header included
	outstanding int
	committing  bool
	logged      []int /// home block numbers currently absorbed
}

// / MkLog constructs a log manager over the log region described by sb.
func MkLog(bc *Bufcache_t, dev int, sb *Superblock_t) *Log_t {
	return &Log_t{
		bc:    bc,
		dev:   dev,
		start: int(sb.Logstart),
		size:  int(sb.Nlog),
	}
}

func (log *Log_t) slots() int {
	return log.size - 1
}

// / Recover replays the log at boot. If the header's count is nonzero the
// previous commit reached its commit point but not all home-location
// writes landed, so every logged block is reapplied before the header is
// zeroed, making recovery idempotent.
func (log *Log_t) Recover() {
	hdr := log.bc.Bread(log.dev, log.start)
	n := int(le32(hdr.Data[:4]))
	if n > log.slots() {
		panic("fs: log header count exceeds log capacity")
	}
	nums := make([]int, n)
	for i := 0; i < n; i++ {
		nums[i] = int(le32(hdr.Data[4+4*i:]))
	}
	log.bc.Brelse(hdr)
	if n == 0 {
		return
	}
	for i, bn := range nums {
		lb := log.bc.Bread(log.dev, log.start+1+i)
		db := log.bc.Bread(log.dev, bn)
		copy(db.Data[:], lb.Data[:])
		log.bc.Bwrite(db)
		log.bc.Brelse(db)
		log.bc.Brelse(lb)
	}
	log.writeHeader(nil)
}

// / Begin_tx reserves capacity for one transaction, blocking
// uninterruptibly while a commit is underway or while admitting this
// transaction's worst case could overflow the log.
func (log *Log_t) Begin_tx() {
	log.lk.Lock()
	for log.committing || len(log.logged)+MAXOPBLOCKS > log.slots() {
		log.cond.WaitUninterruptible(&log.lk)
	}
	log.outstanding++
	log.lk.Unlock()
}

// / End_tx ends one transaction. The last concurrent transaction to end
// performs the commit.
func (log *Log_t) End_tx() {
	log.lk.Lock()
	log.outstanding--
	docommit := log.outstanding == 0
	if docommit {
		log.committing = true
	}
	log.lk.Unlock()

	if docommit {
		log.commit()
		log.lk.Lock()
		log.committing = false
		log.cond.Notify()
		log.lk.Unlock()
		return
	}
	log.lk.Lock()
	log.cond.Notify()
	log.lk.Unlock()
}

// / Write absorbs b into the current transaction: its contents will be
// copied into the log and, at commit, applied to its home location. A
// block already logged by this group is absorbed without growing the log.
func (log *Log_t) Write(b *Bdev_block_t) {
	log.lk.Lock()
	defer log.lk.Unlock()
	for _, bn := range log.logged {
		if bn == b.Block {
			return
		}
	}
	if len(log.logged) >= log.slots() {
		panic("fs: log overflow")
	}
	log.logged = append(log.logged, b.Block)
	log.bc.Pin(b.Dev, b.Block)
}

// / commit performs the five-step group commit of spec.md §4.8.
func (log *Log_t) commit() {
	if len(log.logged) == 0 {
		return
	}
	for i, bn := range log.logged {
		lb := log.bc.Bread(log.dev, log.start+1+i)
		db := log.bc.Bread(log.dev, bn)
		copy(lb.Data[:], db.Data[:])
		log.bc.Bwrite(lb)
		log.bc.Brelse(db)
		log.bc.Brelse(lb)
	}
	log.writeHeader(log.logged) // commit point
	for _, bn := range log.logged {
		db := log.bc.Bread(log.dev, bn)
		log.bc.Bwrite(db)
		log.bc.Brelse(db)
		log.bc.Unpin(log.dev, bn)
	}
	log.writeHeader(nil) // erase log
	log.logged = log.logged[:0]
}

func (log *Log_t) writeHeader(nums []int) {
	hdr := log.bc.Bread(log.dev, log.start)
	putle32(hdr.Data[:4], uint32(len(nums)))
	for i, bn := range nums {
		putle32(hdr.Data[4+4*i:], uint32(bn))
	}
	log.bc.Bwrite(hdr)
	log.bc.Brelse(hdr)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putle32(b []byte, v uint32) {
	b[0] = uint8(v)
	b[1] = uint8(v >> 8)
	b[2] = uint8(v >> 16)
	b[3] = uint8(v >> 24)
}
