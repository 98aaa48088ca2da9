// Package lru implements the generic fixed-capacity LRU cache of
// spec.md §3 ("Generic LRU cache") and §4 item 4: a bounded key→value
// map with pin counts, serving as the substrate for both the buffer
// cache and the inode cache. The key index is a hashtable.Hashtable_t
// (lock-free reads, sharded bucket writes); recency order and pin
// counts are a doubly linked list under the cache's own spinlock.
// Eviction semantics (recycle from the back of the list only when
// pinned count is zero; promote to front on release) are grounded in
// the pin/ref-count discipline the original ov6 lru crate implements.
package lru

import (
	"container/list"

	"hashtable"
	"spinlock"
	"stats"
)

type node[K comparable, V any] struct {
	key  K
	val  V
	pins int
	elem *list.Element
}

// Lru_t is a fixed-capacity cache mapping K to V with pin counts. K must
// be one of the key types hashtable.Hashtable_t supports (int, int32,
// int64, string, ustr.Ustr); using any other key type panics on first
// use, mirroring the hashtable's own "unsupported key type" assertion.
type Lru_t[K comparable, V any] struct {
	lock  spinlock.Spinlock_t
	cap   int
	index *hashtable.Hashtable_t
	order *list.List // front = most-recently-released, back = next to evict
	n     int

	hits   stats.Counter_t
	misses stats.Counter_t
	evicts stats.Counter_t
}

// MkLru returns an empty cache that holds at most capacity entries.
func MkLru[K comparable, V any](name string, capacity int) *Lru_t[K, V] {
	if capacity <= 0 {
		panic("lru: non-positive capacity")
	}
	return &Lru_t[K, V]{
		lock:  *spinlock.MkLock(name),
		cap:   capacity,
		index: hashtable.MkHash(capacity),
		order: list.New(),
	}
}

// Get looks up key, bumping its pin count on a hit. The caller must
// eventually call Release exactly once for each successful Get.
func (c *Lru_t[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	v, ok := c.index.Get(key)
	if !ok {
		c.misses.Inc()
		var zero V
		return zero, false
	}
	c.hits.Inc()
	n := v.(*node[K, V])
	n.pins++
	return n.val, true
}

// Insert installs key→val as a fresh, pinned (pins=1) entry. If the
// cache is at capacity, it evicts the least-recently-released entry with
// a zero pin count. Panics if no evictable entry exists -- spec.md §4.7
// treats this as impossible given correct sizing ("Fails fatally if no
// reusable buffer exists").
func (c *Lru_t[K, V]) Insert(key K, val V) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, exists := c.index.Get(key); exists {
		panic("lru: duplicate insert")
	}
	if c.n >= c.cap {
		c.evictLocked()
	}
	n := &node[K, V]{key: key, val: val, pins: 1}
	n.elem = c.order.PushFront(n)
	c.index.Set(key, n)
	c.n++
}

// evictLocked removes the back-most zero-pin entry. Caller holds c.lock.
func (c *Lru_t[K, V]) evictLocked() {
	for e := c.order.Back(); e != nil; e = e.Prev() {
		n := e.Value.(*node[K, V])
		if n.pins == 0 {
			c.order.Remove(e)
			c.index.Del(n.key)
			c.n--
			c.evicts.Inc()
			return
		}
	}
	panic("lru: capacity exhausted, no reusable entry")
}

// Release decrements key's pin count. When it reaches zero the entry
// moves to the front of the recency list (spec.md §4.7: "move to MRU
// position so most-recent holders are evicted last").
func (c *Lru_t[K, V]) Release(key K) {
	c.lock.Lock()
	defer c.lock.Unlock()
	v, ok := c.index.Get(key)
	if !ok {
		panic("lru: release of unknown key")
	}
	n := v.(*node[K, V])
	if n.pins == 0 {
		panic("lru: release of unpinned entry")
	}
	n.pins--
	if n.pins == 0 {
		c.order.MoveToFront(n.elem)
	}
}

// Pin increments key's pin count without touching recency order, for
// callers (the log layer) that need to keep an entry resident without
// holding its sleep lock.
func (c *Lru_t[K, V]) Pin(key K) {
	c.lock.Lock()
	defer c.lock.Unlock()
	v, ok := c.index.Get(key)
	if !ok {
		panic("lru: pin of unknown key")
	}
	v.(*node[K, V]).pins++
}

// Unpin is the inverse of Pin.
func (c *Lru_t[K, V]) Unpin(key K) {
	c.Release(key)
}

// Remove evicts key unconditionally (used when an inode or buffer is
// being permanently discarded, e.g. after truncation frees the last
// reference). Panics if key is still pinned.
func (c *Lru_t[K, V]) Remove(key K) {
	c.lock.Lock()
	defer c.lock.Unlock()
	v, ok := c.index.Get(key)
	if !ok {
		return
	}
	n := v.(*node[K, V])
	if n.pins != 0 {
		panic("lru: remove of pinned entry")
	}
	c.order.Remove(n.elem)
	c.index.Del(key)
	c.n--
}

// Len reports the current number of resident entries (diagnostic).
func (c *Lru_t[K, V]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.n
}

// Stats formats c's hit/miss/eviction counters; empty unless
// stats.Stats is compiled in, same as the teacher's own counters.
func (c *Lru_t[K, V]) Stats() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return stats.Stats2String(struct {
		Hits, Misses, Evicts stats.Counter_t
	}{c.hits, c.misses, c.evicts})
}
