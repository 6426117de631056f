// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

import "errors"

// Switch protocol.
//
// scheduleTask moves control from prev, the current tasklet, to next. It
// returns the raw content of prev's value slot claimed when prev runs
// again, and whether a switch took place. A non-nil error means nothing
// happened: every preparatory step was undone.
//
// How control moves depends on where prev executes:
//
//   - on the root stack (main): the dispatcher runs other tasklets until
//     main is current again;
//   - on a slice: the slice parks and the dispatcher takes over;
//   - inside a soft step: nothing parks. The switch is recorded, the step
//     unwinds to the dispatcher with s.unwinding set and the value is
//     claimed when the suspension is resumed.
func (s *Scheduler) scheduleTask(prev, next *Tasklet) (any, bool, error) {
	if next == nil {
		return s.scheduleBlock(prev)
	}
	if next.thread == nil {
		return nil, false, ErrNoThread
	}
	if next.thread != s && next != prev {
		return s.scheduleInterthread(prev, next)
	}
	if s.switchTrap != 0 && prev != next {
		return nil, false, ErrSwitchTrap
	}

	if next.blocked != 0 {
		next.channel.remove(next)
		s.currentInsert(next)
	} else if next.next == nil {
		s.currentInsert(next)
	}
	v, switched := s.scheduleTaskPrepared(prev, next)
	return v, switched, nil
}

// scheduleTaskPrepared switches to a next that is already runnable here.
func (s *Scheduler) scheduleTaskPrepared(prev, next *Tasklet) (any, bool) {
	noSoftIRQ := s.runflags&flagNoSoftIRQ != 0
	s.runflags &^= flagNoSoftIRQ
	next = s.softIRQ(prev, next, noSoftIRQ)

	if prev == next {
		return prev.take(), false
	}
	s.notifySchedule(prev, next)
	if s.runflags&flagTotalTimeout == 0 {
		s.watermark = s.tick + s.interval
	}

	s.setCurrent(next)
	switch {
	case prev == s.dying:
		s.dying = nil
		return nil, true
	case prev == s.softRunning:
		s.unwinding = true
		return nil, true
	}
	if st, err := s.transfer(prev, next); st == TransferError {
		panic(err.Error())
	}
	return prev.take(), true
}

// softIRQ substitutes the interrupt watchdog for next when prev had an
// interrupt deferred while running in soft mode.
func (s *Scheduler) softIRQ(prev, next *Tasklet, notNow bool) *Tasklet {
	if !prev.pendingIRQ || s.runflags&flagSoft == 0 {
		return next
	}
	wd := s.watchdog(true)
	prev.pendingIRQ = false
	if wd == nil || wd.next != nil || wd == prev || wd == next || s.interrupted != nil {
		return next
	}
	if notNow || !s.nestingOK(prev) {
		next.pendingIRQ = true
		return next
	}
	s.interrupted = next
	hold := s.cur()
	s.setCurrent(next)
	s.currentInsert(wd)
	s.setCurrent(hold)
	return wd
}

// scheduleBlock handles a switch with nobody to switch to: the thread
// blocks until another thread hands it work, the watchdog is revived, or
// prev receives a deadlock error.
func (s *Scheduler) scheduleBlock(prev *Tasklet) (any, bool, error) {
	wakeup := s.watchdog(false)
	revive := s.blockingRuns == 0 && wakeup.next == nil
	if !revive && !s.rt.deadlocked(s) {
		for {
			s.threadBlock()
			if next := s.cur(); next != nil {
				return s.scheduleTask(prev, next)
			}
			if s.rt.deadlocked(s) {
				break
			}
		}
	}

	if revive || (s == s.rt.initial && wakeup.next == nil) {
		var saved any
		moved := prev.hasBomb()
		if moved {
			saved = wakeup.setval(prev.tempval)
		}
		v, sw, err := s.scheduleTask(prev, wakeup)
		if err != nil && moved {
			wakeup.tempval = saved
		}
		return v, sw, err
	}

	saved := wakeup.setval(nil)
	prev.setval(NewBomb(ErrDeadlock, nil, prev.String()))
	v, sw, err := s.scheduleTask(prev, prev)
	if err != nil {
		wakeup.tempval = saved
	}
	return v, sw, err
}

// scheduleInterthread makes next runnable on its own thread. The caller
// keeps running.
func (s *Scheduler) scheduleInterthread(prev, next *Tasklet) (any, bool, error) {
	nts := next.thread
	if nts.closed {
		return nil, false, ErrNoThread
	}
	v, sw, err := s.scheduleTask(prev, prev)
	if err != nil {
		return nil, sw, err
	}
	if next.blocked != 0 {
		next.channel.remove(next)
		nts.currentInsert(next)
	} else if next.next == nil {
		nts.currentInsert(next)
	}
	nts.threadUnblock()
	return v, sw, nil
}

// nestingOK reports whether t may be interrupted or soft switched with
// respect to its nesting level.
func (s *Scheduler) nestingOK(t *Tasklet) bool {
	if t.ignoreNesting || s.runflags&flagIgnoreNesting != 0 {
		return true
	}
	return t.NestingLevel() == 0
}

// threadBlock waits on the execution token until another thread hands
// this one work.
func (s *Scheduler) threadBlock() {
	s.blocked, s.idle = true, true
	s.rt.log.Debug("thread blocked", "thread", s.id)
	s.rt.owner = nil
	for s.blocked {
		s.cond.Wait()
	}
	s.rt.waiting.Add(^uint32(0))
	s.rt.handoffs.Add(1)
	s.rt.owner = s
	s.idle = false
	s.rt.log.Debug("thread unblocked", "thread", s.id)
}

// threadUnblock wakes a blocked thread. The caller holds the token; the
// wakee is counted as waiting for it until it runs.
func (s *Scheduler) threadUnblock() {
	if !s.blocked {
		return
	}
	s.blocked = false
	s.rt.waiting.Add(1)
	s.cond.Signal()
}

// endTasklet finishes the current tasklet t of s with the error its body
// returned and switches to the next runnable tasklet. It returns only to
// the body wrapper.
func (s *Scheduler) endTasklet(t *Tasklet, err error) {
	if err != nil {
		if errors.Is(err, ErrTaskletExit) {
			err = nil
		} else if h := s.rt.errorHandler; h != nil {
			err = h(t, err)
		}
	}
	var retval any
	if err != nil {
		retval = asBomb(err, t.String())
		s.rt.log.Debug("tasklet failed", "tasklet", t.String(), "error", err)
	}
	t.tempval = retval

	if s.cur() == t {
		s.currentRemove()
	} else if t.next != nil {
		s.currentRemoveTasklet(t)
	}
	next := s.cur()
	if next == nil {
		wakeup := s.watchdog(false)
		if wakeup.blocked != 0 && retval == nil {
			e := ErrMainSending
			if wakeup.blocked < 0 {
				e = ErrMainReceiving
			}
			retval = NewBomb(e, nil, wakeup.String())
			t.tempval = retval
		}
		next = wakeup
	}
	if b, ok := retval.(*Bomb); ok {
		next = s.watchdog(false)
		t.tempval = nil
		next.tempval = b
	}

	if sl := t.slice; sl != nil {
		t.slice = nil
		s.delPostSwitch = sl
	}
	t.clearFrame()
	s.destruct(t, next)
}

// destruct switches away from a tasklet that just ended.
func (s *Scheduler) destruct(t, next *Tasklet) {
	s.dying = t
	if _, _, err := s.scheduleTask(t, next); err != nil {
		s.dying = nil
		panic("stackless: could not end " + t.String() + ": " + err.Error())
	}
}

// dispatch runs on the root stack and enters the current tasklet until
// root is current again.
func (s *Scheduler) dispatch(root *Tasklet) {
	for {
		t := s.cur()
		if t == root {
			return
		}
		if t == nil {
			panic("stackless: dispatcher without a current tasklet")
		}
		s.enter(t)
		s.postSwitch()
	}
}

// enter resumes t according to its resumption point and returns when t
// switched away or ended.
func (s *Scheduler) enter(t *Tasklet) {
	switch t.kind {
	case resumeFresh:
		if t.eff != nil {
			if s.rt.softswitch {
				s.enterSoft(t)
			} else {
				s.promote(t)
			}
			return
		}
		s.startHard(t)
	case resumeSoft:
		if s.rt.softswitch {
			s.enterSoft(t)
		} else {
			s.promote(t)
		}
	case resumeHard:
		s.resumeHard(t)
	case resumeRoot:
		panic("stackless: root stack entered from the dispatcher")
	default:
		panic("stackless: entered dead " + t.String())
	}
}

// startHard gives t a slice from the cache and starts its body on it.
func (s *Scheduler) startHard(t *Tasklet) {
	fn, args := t.fn, t.args
	s.runOnSlice(t, func() error {
		if _, err := t.claim(); err != nil {
			return err
		}
		return fn(t, args...)
	})
}

func (s *Scheduler) runOnSlice(t *Tasklet, body func() error) {
	size := t.stackSize
	if size <= 0 {
		size = int(s.rt.cfg.StackSize)
	}
	sl := s.cache.Acquire(size)
	sl.task, sl.thread = t, s
	t.slice = sl
	t.kind = resumeHard
	sl.body = func() { s.runBody(t, body) }
	s.resumeHard(t)
}

func (s *Scheduler) resumeHard(t *Tasklet) {
	s.nesting = t.nesting
	if _, err := t.slice.enter(); err != nil {
		panic(err.Error())
	}
}

// runBody executes on a slice. A teardown unwind ends the body without
// going through endTasklet.
func (s *Scheduler) runBody(t *Tasklet, body func() error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(unwind); ok {
				return
			}
			panic(r)
		}
	}()
	err := body()
	s.endTasklet(t, err)
}

// postSwitch releases the slice of a tasklet that ended during the last
// entry. Its coroutine has parked by now.
func (s *Scheduler) postSwitch() {
	if sl := s.delPostSwitch; sl != nil {
		s.delPostSwitch = nil
		s.cache.Release(sl)
	}
}
