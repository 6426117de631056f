// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

// ring is an intrusive circular list of tasklets. The run queue of a thread
// and the wait queue of a channel are rings; a tasklet is linked into at
// most one of them, and its next link is nil while it floats.
type ring struct {
	head *Tasklet
	n    int
}

// pushBack links t before head, at the end of the rotation. On an empty
// ring t becomes the head.
func (r *ring) pushBack(t *Tasklet) {
	if r.head == nil {
		t.next, t.prev = t, t
		r.head = t
	} else {
		t.next = r.head
		t.prev = r.head.prev
		r.head.prev.next = t
		r.head.prev = t
	}
	r.n++
}

// popFront unlinks the head; its successor becomes the new head.
func (r *ring) popFront() *Tasklet {
	t := r.head
	if t != nil {
		r.unlink(t)
	}
	return t
}

// unlink removes t. When t is the head, the head advances.
func (r *ring) unlink(t *Tasklet) {
	if t.next == t {
		r.head = nil
	} else {
		t.prev.next = t.next
		t.next.prev = t.prev
		if r.head == t {
			r.head = t.next
		}
	}
	t.next, t.prev = nil, nil
	r.n--
}

// insertAt links t before at. A nil at appends.
func (r *ring) insertAt(t, at *Tasklet) {
	if at == nil || r.head == nil {
		r.pushBack(t)
		return
	}
	t.next = at
	t.prev = at.prev
	at.prev.next = t
	at.prev = t
	r.n++
}

// cut unlinks t and returns the position restore needs to put it back.
func (r *ring) cut(t *Tasklet) (at *Tasklet) {
	if t.next != r.head {
		at = t.next
	}
	r.unlink(t)
	return at
}

// restore links t at a position returned by cut. A nil at appends.
func (r *ring) restore(t, at *Tasklet) {
	r.insertAt(t, at)
	if at != nil && at == r.head {
		r.head = t
	}
}

// slice returns the ring in rotation order.
func (r *ring) slice() []*Tasklet {
	if r.head == nil {
		return nil
	}
	out := make([]*Tasklet, 0, r.n)
	t := r.head
	for {
		out = append(out, t)
		t = t.next
		if t == r.head {
			return out
		}
	}
}

// Run queue. The head of a thread's ring is the current tasklet while it is
// scheduled; "inserting" appends behind it, so the order of the original
// chain is kept across every switch.

// currentInsert appends t to the run queue of its thread.
func (s *Scheduler) currentInsert(t *Tasklet) {
	s.runq.pushBack(t)
}

// currentInsertAfter links t right behind the head.
func (s *Scheduler) currentInsertAfter(t *Tasklet) {
	if s.runq.head == nil {
		s.runq.pushBack(t)
		return
	}
	hold := s.runq.head
	s.runq.head = hold.next
	s.runq.pushBack(t)
	s.runq.head = hold
}

// currentRemove unlinks the head and returns it. The next runnable
// tasklet becomes current.
func (s *Scheduler) currentRemove() *Tasklet {
	return s.runq.popFront()
}

// currentRemoveTasklet unlinks t from the run queue.
func (s *Scheduler) currentRemoveTasklet(t *Tasklet) {
	s.runq.unlink(t)
}

// currentUnremove undoes currentRemove: t becomes the head again.
func (s *Scheduler) currentUnremove(t *Tasklet) {
	s.runq.pushBack(t)
	s.runq.head = t
}

// cur returns the head of the run queue, the current tasklet.
func (s *Scheduler) cur() *Tasklet { return s.runq.head }

// setCurrent rotates the head to t without relinking.
func (s *Scheduler) setCurrent(t *Tasklet) { s.runq.head = t }
