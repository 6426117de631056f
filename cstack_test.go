// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless_test

import (
	"testing"

	"code.hybscloud.com/stackless"
)

func TestStackCacheHit(t *testing.T) {
	c := stackless.NewStackCache(0, 0)
	defer c.Flush()

	sl := c.Acquire(5000)
	if sl.Size() < 5000 || sl.Size()%stackless.StackQuantum != 0 {
		t.Fatalf("got size %d for 5000", sl.Size())
	}
	c.Release(sl)
	if st := c.Stats(); st.Cached != 1 || st.Misses != 1 {
		t.Fatalf("got %+v", st)
	}
	again := c.Acquire(5000)
	if again != sl {
		t.Fatalf("release then acquire of the same size missed the cache")
	}
	if st := c.Stats(); st.Hits != 1 || st.Cached != 0 {
		t.Fatalf("got %+v", st)
	}
	if again.Owner() != nil {
		t.Fatalf("cached slice kept its owner")
	}
	c.Release(again)
}

func TestStackCacheSmallestSlice(t *testing.T) {
	c := stackless.NewStackCache(0, 0)
	defer c.Flush()
	for _, size := range []int{0, -1, 1} {
		sl := c.Acquire(size)
		if sl.Size() != stackless.StackQuantum {
			t.Fatalf("Acquire(%d): got size %d, want %d", size, sl.Size(), stackless.StackQuantum)
		}
		c.Release(sl)
	}
	if st := c.Stats(); st.Misses != 1 || st.Hits != 2 {
		t.Fatalf("got %+v, want one miss and two hits", st)
	}
}

func TestStackCacheCeiling(t *testing.T) {
	c := stackless.NewStackCache(4, 0)
	defer c.Flush()
	if got := c.Ceiling(); got != 4*stackless.StackQuantum {
		t.Fatalf("got %d, want %d", got, 4*stackless.StackQuantum)
	}
	big := c.Acquire(c.Ceiling())
	c.Release(big)
	if st := c.Stats(); st.Cached != 0 {
		t.Fatalf("slice at the ceiling was cached: %+v", st)
	}
	if c.Acquire(c.Ceiling()) == big {
		t.Fatalf("destroyed slice handed out again")
	}
}

func TestStackCacheFlushWhenFull(t *testing.T) {
	c := stackless.NewStackCache(0, 3)
	defer c.Flush()
	var sls []*stackless.Slice
	for range 4 {
		sls = append(sls, c.Acquire(2048))
	}
	for _, sl := range sls {
		c.Release(sl)
	}
	st := c.Stats()
	if st.Flushes != 1 || st.Cached != 1 {
		t.Fatalf("got %+v, want one flush and one cached slice", st)
	}
}

func TestPropertyStackCacheNeverShrinks(t *testing.T) {
	rng := newRand()
	c := stackless.NewStackCache(64, 16)
	defer c.Flush()
	var held []*stackless.Slice
	for range propertyN {
		size := rng.IntN(80*stackless.StackQuantum) + 1
		sl := c.Acquire(size)
		if sl.Size() < size {
			t.Fatalf("got size %d for %d", sl.Size(), size)
		}
		held = append(held, sl)
		if rng.IntN(2) == 0 {
			i := rng.IntN(len(held))
			c.Release(held[i])
			held = append(held[:i], held[i+1:]...)
		}
		if st := c.Stats(); st.Cached > 16 {
			t.Fatalf("cache holds %d slices, limit 16", st.Cached)
		}
	}
	for _, sl := range held {
		c.Release(sl)
	}
}
