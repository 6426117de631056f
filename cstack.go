// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

import "sync"

// Defaults of the stack cache.
const (
	DefaultMaxSlotSize   = 1024 // buckets, one per StackQuantum
	DefaultMaxCacheCount = 100
)

// CacheStats describes a stack cache.
type CacheStats struct {
	Cached  int    // slices parked in the cache
	Hits    uint64 // acquisitions served from a bucket
	Misses  uint64 // acquisitions that created a slice
	Flushes uint64 // whole-cache evictions
}

// StackCache keeps idle slices by size class so a hard tasklet can start
// on a stack that is already grown. Each thread owns one.
//
// Sizes at or above the slot ceiling are never cached. When the cache is
// full a release flushes all of it before keeping the new slice.
type StackCache struct {
	buckets  []*Slice
	count    int
	maxCount int
	stats    CacheStats
	chain    *sliceChain
	onFlush  func(n int)
}

// NewStackCache returns a cache with maxSlots size classes holding at most
// maxCount slices. Non-positive arguments select the defaults.
func NewStackCache(maxSlots, maxCount int) *StackCache {
	if maxSlots <= 0 {
		maxSlots = DefaultMaxSlotSize
	}
	if maxCount <= 0 {
		maxCount = DefaultMaxCacheCount
	}
	return &StackCache{buckets: make([]*Slice, maxSlots), maxCount: maxCount}
}

// Acquire returns a slice whose size is at least size bytes and at least
// one [StackQuantum]; zero-size slices are thread stubs. The slice has no
// owner.
func (c *StackCache) Acquire(size int) *Slice {
	size = max(roundStack(size), StackQuantum)
	if slot := size / StackQuantum; slot > 0 && slot < len(c.buckets) {
		if sl := c.buckets[slot]; sl != nil {
			c.buckets[slot] = sl.free
			sl.free = nil
			c.count--
			c.stats.Hits++
			c.chain.add(sl)
			return sl
		}
	}
	c.stats.Misses++
	sl := newSlice(size)
	c.chain.add(sl)
	return sl
}

// Release hands a slice back. Its owner fields are cleared.
func (c *StackCache) Release(sl *Slice) {
	c.chain.remove(sl)
	sl.task, sl.thread = nil, nil
	slot := sl.size / StackQuantum
	if sl.done || slot == 0 || slot >= len(c.buckets) {
		sl.destroy()
		return
	}
	if c.count >= c.maxCount {
		c.Flush()
	}
	sl.free = c.buckets[slot]
	c.buckets[slot] = sl
	c.count++
}

// Flush destroys every cached slice.
func (c *StackCache) Flush() {
	n := c.count
	for i, sl := range c.buckets {
		for sl != nil {
			next := sl.free
			sl.free = nil
			sl.destroy()
			sl = next
		}
		c.buckets[i] = nil
	}
	c.count = 0
	c.stats.Flushes++
	if c.onFlush != nil {
		c.onFlush(n)
	}
}

// Stats returns a snapshot of the cache counters.
func (c *StackCache) Stats() CacheStats {
	st := c.stats
	st.Cached = c.count
	return st
}

// Ceiling returns the smallest size that is never cached.
func (c *StackCache) Ceiling() int { return len(c.buckets) * StackQuantum }

// sliceChain is the circular list of every live slice of a runtime. The
// teardown sweep walks it to find tasklets that still own a stack.
type sliceChain struct {
	mu   sync.Mutex
	head *Slice
	n    int
}

func (ch *sliceChain) add(sl *Slice) {
	if ch == nil {
		return
	}
	ch.mu.Lock()
	if ch.head == nil {
		sl.next, sl.prev = sl, sl
		ch.head = sl
	} else {
		sl.next = ch.head
		sl.prev = ch.head.prev
		ch.head.prev.next = sl
		ch.head.prev = sl
	}
	ch.n++
	ch.mu.Unlock()
}

func (ch *sliceChain) remove(sl *Slice) {
	if ch == nil || sl.next == nil {
		return
	}
	ch.mu.Lock()
	if sl.next == sl {
		ch.head = nil
	} else {
		sl.prev.next = sl.next
		sl.next.prev = sl.prev
		if ch.head == sl {
			ch.head = sl.next
		}
	}
	sl.next, sl.prev = nil, nil
	ch.n--
	ch.mu.Unlock()
}

// owned returns the tasklets of thread s that own a live stack.
func (ch *sliceChain) owned(s *Scheduler) []*Tasklet {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	var ts []*Tasklet
	if ch.head == nil {
		return nil
	}
	sl := ch.head
	for {
		if sl.size > 0 && sl.thread == s && sl.task != nil {
			ts = append(ts, sl.task)
		}
		sl = sl.next
		if sl == ch.head {
			break
		}
	}
	return ts
}

// len returns the number of live slices.
func (ch *sliceChain) len() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.n
}
