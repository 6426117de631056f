// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

// Kill raises [ErrTaskletExit] in t. Killing a dead tasklet is a no-op.
// Unless pending, the caller switches to t at once and continues after t
// has handled the error.
func (t *Tasklet) Kill(pending bool) error {
	return t.Throw(ErrTaskletExit, nil, pending)
}

// RaiseException raises err in t and switches to it.
func (t *Tasklet) RaiseException(err error, value any) error {
	return t.Throw(err, value, false)
}

// Throw raises err in t the next time t runs: the operation t is suspended
// in returns the error. Throwing to the caller itself returns the error
// right away. With pending set, t is made runnable (unblocked if needed)
// without switching to it.
func (t *Tasklet) Throw(err error, value any, pending bool) error {
	s := t.rt.owner
	if s == nil {
		return ErrNoThread
	}
	if e := s.guard(); e != nil {
		return e
	}
	bomb := NewBomb(err, value, t.String())
	if t == s.cur() {
		return bomb
	}
	if !t.Alive() {
		if !bomb.isExit() {
			return ErrThrowDead
		}
		if t.blocked != 0 {
			t.channel.removeTasklet(t)
		} else if t.next != nil {
			t.thread.currentRemoveTasklet(t)
		}
		return nil
	}
	if t.thread == nil || t.thread.closed {
		return ErrNoThread
	}
	old := t.setval(bomb)
	if !pending {
		v, _, e := s.scheduleTask(s.cur(), t)
		if e != nil {
			t.tempval = old
			return e
		}
		_, e = explode(v)
		return e
	}
	if t.blocked != 0 {
		t.channel.removeTasklet(t)
	}
	if t.next == nil {
		t.thread.currentInsert(t)
		t.thread.threadUnblock()
	}
	return nil
}
