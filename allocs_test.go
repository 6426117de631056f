// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless_test

import (
	"testing"

	"code.hybscloud.com/stackless"
)

func TestAllocationsScheduleAlone(t *testing.T) {
	_, s := newSched(t)
	allocs := testing.AllocsPerRun(100, func() {
		_ = s.Schedule()
	})
	if allocs > 0 {
		t.Errorf("Schedule with nothing else runnable allocs = %v; want 0", allocs)
	}
	allocs = testing.AllocsPerRun(100, func() {
		_ = s.Checkpoint()
	})
	if allocs > 0 {
		t.Errorf("Checkpoint allocs = %v; want 0", allocs)
	}
}

func TestAllocationsTryOps(t *testing.T) {
	_, s := newSched(t)
	ch := stackless.NewChannel()
	allocs := testing.AllocsPerRun(100, func() {
		_ = ch.TrySend(s, 1)
		_, _ = ch.TryReceive(s)
	})
	if allocs > 0 {
		t.Errorf("TrySend/TryReceive without partner allocs = %v; want 0", allocs)
	}
}

func TestAllocationsStackCacheHit(t *testing.T) {
	c := stackless.NewStackCache(0, 0)
	defer c.Flush()
	c.Release(c.Acquire(8192))
	allocs := testing.AllocsPerRun(100, func() {
		c.Release(c.Acquire(8192))
	})
	if allocs > 0 {
		t.Errorf("Acquire/Release cache hit allocs = %v; want 0", allocs)
	}
}
