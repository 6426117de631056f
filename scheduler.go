// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

import (
	"sync"

	"code.hybscloud.com/kont"
)

// runFlags are the run mode bits of a watchdog.
type runFlags uint8

const (
	flagSoft runFlags = 1 << iota
	flagIgnoreNesting
	flagTotalTimeout
	flagNoSoftIRQ // one-shot: the next switch does not take a soft interrupt
)

// Scheduler is the per-thread state of the runtime. A thread is a
// goroutine attached with [Runtime.NewScheduler] or started with
// [Runtime.Go]; its own stack is the main tasklet, every other tasklet of
// the thread runs on a stack slice or as a continuation stepped by the
// thread's dispatcher.
//
// A Scheduler is used from its thread only: from main and from the
// tasklets it runs.
type Scheduler struct {
	rt    *Runtime
	id    uint64
	osTID int

	runq        ring
	main        *Tasklet
	watchdogs   []*Tasklet // slot 0: the interrupt watchdog
	interrupted *Tasklet

	interrupt bool
	tick      int64
	watermark int64
	interval  int64
	runflags  runFlags

	blockingRuns int // active runs with RunOptions.ThreadBlock

	switchTrap  int
	nesting     int
	schedlock   bool
	unwinding   bool
	inSoft      bool
	softRunning *Tasklet
	dying       *Tasklet

	stub          *Slice
	cache         *StackCache
	delPostSwitch *Slice

	serial         uint64
	serialLastJump uint64

	blocked bool
	idle    bool
	cond    *sync.Cond
	closed  bool
}

// ID returns the thread id.
func (s *Scheduler) ID() uint64 { return s.id }

// OSThreadID returns the id of the OS thread the scheduler was created on,
// 0 where unknown. It stays meaningful with Config.LockOSThread.
func (s *Scheduler) OSThreadID() int { return s.osTID }

// Runtime returns the runtime of s.
func (s *Scheduler) Runtime() *Runtime { return s.rt }

// Current returns the current tasklet.
func (s *Scheduler) Current() *Tasklet { return s.cur() }

// Main returns the main tasklet.
func (s *Scheduler) Main() *Tasklet { return s.main }

// GetRuncount returns the number of runnable tasklets, the current one
// included.
func (s *Scheduler) GetRuncount() int { return s.runq.n }

// Runnable returns the run queue in order, starting with the current
// tasklet.
func (s *Scheduler) Runnable() []*Tasklet { return s.runq.slice() }

// Tick returns the tick counter.
func (s *Scheduler) Tick() int64 { return s.tick }

// SerialLastJump returns the serial of the last stack transfer. It grows
// with every hard switch and with the stamp of the thread's stub.
func (s *Scheduler) SerialLastJump() uint64 { return s.serialLastJump }

// StubSerial returns the serial the thread's stub was last saved with.
func (s *Scheduler) StubSerial() uint64 { return s.stub.Serial() }

// CacheStats returns the statistics of the thread's stack cache.
func (s *Scheduler) CacheStats() CacheStats { return s.cache.Stats() }

// NewTasklet returns an unbound tasklet of this thread with body fn. It
// becomes alive with [Tasklet.Setup] or [Tasklet.Bind].
func (s *Scheduler) NewTasklet(fn Func) *Tasklet {
	return &Tasklet{id: s.rt.ids.Add(1), rt: s.rt, thread: s, fn: fn}
}

// Spawn creates a tasklet running fn(args...) and inserts it into the run
// queue.
func (s *Scheduler) Spawn(fn Func, args ...any) (*Tasklet, error) {
	t := s.NewTasklet(fn)
	if err := t.Setup(args...); err != nil {
		return nil, err
	}
	return t, nil
}

// NewSoftTasklet returns a paused continuation tasklet running eff.
func (s *Scheduler) NewSoftTasklet(eff kont.Eff[error]) *Tasklet {
	t := s.NewTasklet(nil)
	t.eff = eff
	t.kind = resumeFresh
	return t
}

// SpawnSoft creates a continuation tasklet running eff and inserts it into
// the run queue.
func (s *Scheduler) SpawnSoft(eff kont.Eff[error]) (*Tasklet, error) {
	t := s.NewSoftTasklet(eff)
	if err := t.Insert(); err != nil {
		return nil, err
	}
	return t, nil
}

// guard rejects calls that cannot switch from where they are made.
func (s *Scheduler) guard() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.inSoft:
		return ErrSoftBlocking
	}
	return nil
}

// enterOp is the prologue of every blocking operation: the guard and one
// tick.
func (s *Scheduler) enterOp() error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.checkpoint()
}

// Schedule lets the next runnable tasklet run. The caller stays runnable.
func (s *Scheduler) Schedule() error {
	if err := s.enterOp(); err != nil {
		return err
	}
	_, err := s.schedule(nil, false)
	return err
}

// ScheduleRemove lets the next runnable tasklet run and pauses the caller.
// When nothing else is runnable the watchdog is revived or, in a thread
// blocking run, the thread waits for other threads.
func (s *Scheduler) ScheduleRemove() error {
	if err := s.enterOp(); err != nil {
		return err
	}
	_, err := s.schedule(nil, true)
	return err
}

// schedule switches from the current tasklet to its successor with
// retval in its value slot and returns what the caller claims back.
func (s *Scheduler) schedule(retval any, remove bool) (any, error) {
	prev := s.cur()
	next := prev.next
	old := prev.setval(retval)
	if remove {
		s.currentRemove()
		if next == prev {
			next = nil
		}
	}
	v, _, err := s.scheduleTask(prev, next)
	if err != nil {
		prev.tempval = old
		if remove {
			s.currentUnremove(prev)
		}
		return nil, err
	}
	return explode(v)
}

// Checkpoint advances the tick counter. The watchdog may interrupt the
// caller here, and another thread waiting for the execution token gets it.
func (s *Scheduler) Checkpoint() error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.checkpoint()
}

func (s *Scheduler) checkpoint() error {
	s.rt.yieldToken(s)
	s.tick++
	if s.interrupt && s.tick >= s.watermark {
		return s.interruptTimeout()
	}
	return nil
}

// SwitchTrap adds delta to the switch trap level and returns the previous
// level. While it is non-zero every switch fails with [ErrSwitchTrap].
func (s *Scheduler) SwitchTrap(delta int) int {
	old := s.switchTrap
	s.switchTrap += delta
	return old
}

// Nest runs fn one nesting level deeper. The current tasklet cannot be
// interrupted inside fn unless it ignores nesting.
func (s *Scheduler) Nest(fn func() error) error {
	s.nesting++
	defer func() {
		s.nesting--
		s.checkPendingIRQ()
	}()
	return fn()
}

// Atomic runs fn with the atomic flag of the current tasklet set.
func (s *Scheduler) Atomic(fn func() error) error {
	t := s.cur()
	old := t.SetAtomic(true)
	defer t.SetAtomic(old)
	return fn()
}

// Join waits for th to end, giving up the execution token meanwhile.
func (s *Scheduler) Join(th *Thread) error {
	if err := s.guard(); err != nil {
		return err
	}
	s.rt.release()
	<-th.done
	s.rt.acquire(s)
	return th.err
}

// Close ends the thread. It must be called by the main tasklet. Every
// other tasklet of the thread is killed; tasklets that survive the kill
// are unwound. The execution token is released.
func (s *Scheduler) Close() error {
	if s.closed {
		return ErrClosed
	}
	if s.inSoft {
		return ErrSoftBlocking
	}
	if s.cur() != s.main {
		return ErrNotMain
	}
	owned := s.rt.chain.owned(s)
	s.rt.log.Debug("thread teardown", "thread", s.id, "stacks", len(owned))
	for _, t := range owned {
		if t.isMain || !t.Alive() {
			continue
		}
		if err := t.Kill(false); err != nil {
			s.rt.log.Debug("kill on teardown failed", "tasklet", t.String(), "error", err)
		}
	}
	for _, t := range s.rt.chain.owned(s) {
		if !t.isMain && t.kind == resumeHard {
			s.forceUnwind(t)
		}
	}
	for _, t := range s.runq.slice() {
		if t == s.main {
			continue
		}
		s.runq.unlink(t)
		t.clearFrame()
	}
	s.watchdogs = nil
	s.interrupted = nil
	s.interrupt = false
	s.postSwitch()
	s.cache.Flush()
	s.closed = true
	s.main.kind = resumeNone
	s.rt.detach(s)
	s.rt.release()
	return nil
}

// forceUnwind stops the stack of t without running it to completion.
func (s *Scheduler) forceUnwind(t *Tasklet) {
	if t.blocked != 0 {
		t.channel.remove(t)
	} else if t.next != nil {
		s.currentRemoveTasklet(t)
	}
	sl := t.slice
	t.slice = nil
	t.clearFrame()
	s.rt.chain.remove(sl)
	sl.destroy()
	s.rt.log.Debug("tasklet unwound", "tasklet", t.String())
}
