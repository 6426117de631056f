// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

// RunOptions configures [Scheduler.Run].
type RunOptions struct {
	// Timeout is the tick budget. With a positive Timeout the watchdog
	// interrupts the running tasklet once the budget is used up.
	Timeout int64
	// ThreadBlock makes the thread wait for other threads when the last
	// runnable tasklet blocks, instead of returning to the caller. It
	// holds for the whole thread while the run is active, with or without
	// a Timeout.
	ThreadBlock bool
	// Soft defers an interrupt to the next switch of the running tasklet
	// instead of preempting it at a checkpoint.
	Soft bool
	// IgnoreNesting allows interrupts inside [Scheduler.Nest] scopes.
	IgnoreNesting bool
	// TotalTimeout counts the budget across switches; otherwise every
	// switch restarts it.
	TotalTimeout bool
}

func (o RunOptions) flags() runFlags {
	var f runFlags
	if o.Soft {
		f |= flagSoft
	}
	if o.IgnoreNesting {
		f |= flagIgnoreNesting
	}
	if o.TotalTimeout {
		f |= flagTotalTimeout
	}
	return f
}

// Run runs the other tasklets of the thread with the caller acting as
// watchdog. It returns when the run queue is empty, or with the
// interrupted tasklet when the timeout fired. The interrupted tasklet is
// removed from the run queue and stays alive; inserting it resumes it.
//
// Runs nest. Only the outermost run with a timeout arms the interrupt.
func (s *Scheduler) Run(opts RunOptions) (*Tasklet, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	cur := s.cur()
	if opts.ThreadBlock {
		s.blockingRuns++
		defer func() { s.blockingRuns-- }()
	}
	interrupt := s.pushWatchdog(cur, opts.Timeout > 0)

	type saved struct {
		interrupt bool
		runflags  runFlags
		watermark int64
		interval  int64
	}
	var old saved
	if interrupt {
		old = saved{s.interrupt, s.runflags, s.watermark, s.interval}
		s.interrupt = true
		s.interval = opts.Timeout
		s.watermark = s.tick + opts.Timeout
		s.runflags = opts.flags()
	}
	restore := func() {
		if interrupt {
			s.interrupt, s.runflags, s.watermark, s.interval = old.interrupt, old.runflags, old.watermark, old.interval
		}
	}

	s.currentRemove()
	v, _, err := s.scheduleTask(cur, s.cur())
	if err != nil {
		s.popWatchdog()
		s.currentUnremove(cur)
		restore()
		return nil, err
	}

	if s.checkWatchdog(cur) {
		for {
			t := s.popWatchdog()
			if t.next == nil {
				s.currentInsert(t)
			}
			if t == cur {
				break
			}
		}
		restore()
	}

	if _, err := explode(v); err != nil {
		return nil, err
	}
	victim := s.interrupted
	if victim == nil {
		return nil, nil
	}
	s.interrupted = nil
	if opts.Soft {
		return nil, nil
	}
	if victim.next != nil && victim.blocked == 0 {
		s.currentRemoveTasklet(victim)
	}
	return victim, nil
}

// pushWatchdog pushes t on the watchdog stack. With interrupt set it also
// tries to claim slot 0 and reports whether it did.
func (s *Scheduler) pushWatchdog(t *Tasklet, interrupt bool) bool {
	if len(s.watchdogs) == 0 {
		s.watchdogs = append(s.watchdogs, nil)
	}
	if interrupt {
		if s.watchdogs[0] != nil {
			interrupt = false
		} else {
			s.watchdogs[0] = t
		}
	}
	s.watchdogs = append(s.watchdogs, t)
	return interrupt
}

// popWatchdog pops the innermost watchdog, releasing slot 0 when it
// held it.
func (s *Scheduler) popWatchdog() *Tasklet {
	n := len(s.watchdogs)
	t := s.watchdogs[n-1]
	s.watchdogs[n-1] = nil
	s.watchdogs = s.watchdogs[:n-1]
	if s.watchdogs[0] == t {
		s.watchdogs[0] = nil
	}
	return t
}

// checkWatchdog reports whether t is on the watchdog stack.
func (s *Scheduler) checkWatchdog(t *Tasklet) bool {
	for i := len(s.watchdogs) - 1; i >= 1; i-- {
		if s.watchdogs[i] == t {
			return true
		}
	}
	return false
}

// watchdog returns the interrupt watchdog, or the innermost one, falling
// back to main.
func (s *Scheduler) watchdog(interrupt bool) *Tasklet {
	if len(s.watchdogs) <= 1 {
		return s.main
	}
	if interrupt {
		if wd := s.watchdogs[0]; wd != nil {
			return wd
		}
		return s.main
	}
	return s.watchdogs[len(s.watchdogs)-1]
}

// interruptTimeout fires the watchdog on the current tasklet, or defers
// the interrupt when the tasklet must not be interrupted now.
func (s *Scheduler) interruptTimeout() error {
	cur := s.cur()
	if s.runflags&flagSoft != 0 || cur.atomic || s.schedlock || !s.nestingOK(cur) || s.switchTrap != 0 {
		s.watermark = s.tick + s.interval
		cur.pendingIRQ = true
		return nil
	}
	wd := s.watchdog(true)
	if wd == cur {
		return nil
	}
	cur.pendingIRQ = false
	s.interrupted = cur
	v, _, err := s.scheduleTask(cur, wd)
	if err != nil {
		s.interrupted = nil
		return err
	}
	_, err = explode(v)
	return err
}

// checkPendingIRQ lets a deferred hard interrupt fire at the next tick
// once the current tasklet became interruptible.
func (s *Scheduler) checkPendingIRQ() {
	cur := s.cur()
	if cur == nil || !cur.pendingIRQ || s.runflags&flagSoft != 0 {
		return
	}
	if cur.atomic || !s.nestingOK(cur) {
		return
	}
	s.watermark = s.tick + 1
	cur.pendingIRQ = false
}
