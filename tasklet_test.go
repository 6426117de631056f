// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless_test

import (
	"errors"
	"slices"
	"strconv"
	"testing"

	"code.hybscloud.com/stackless"
)

// newSched attaches the calling goroutine to a fresh runtime. The thread
// is closed when the test ends.
func newSched(tb testing.TB) (*stackless.Runtime, *stackless.Scheduler) {
	tb.Helper()
	return newSchedConfig(tb, stackless.DefaultConfig())
}

func newSchedConfig(tb testing.TB, cfg stackless.Config) (*stackless.Runtime, *stackless.Scheduler) {
	tb.Helper()
	rt, err := stackless.NewRuntime(cfg)
	if err != nil {
		tb.Fatalf("NewRuntime: %v", err)
	}
	s := rt.NewScheduler()
	tb.Cleanup(func() { _ = s.Close() })
	return rt, s
}

// spawn creates a hard tasklet or fails the test.
func spawn(tb testing.TB, s *stackless.Scheduler, fn stackless.Func, args ...any) *stackless.Tasklet {
	tb.Helper()
	t, err := s.Spawn(fn, args...)
	if err != nil {
		tb.Fatalf("Spawn: %v", err)
	}
	return t
}

func runAll(tb testing.TB, s *stackless.Scheduler) {
	tb.Helper()
	victim, err := s.Run(stackless.RunOptions{})
	if err != nil {
		tb.Fatalf("Run: %v", err)
	}
	if victim != nil {
		tb.Fatalf("Run: got victim %v, want nil", victim)
	}
}

// schedUntil returns a body that schedules until the scheduler hands it
// an error, which is then returned.
func schedUntil(s *stackless.Scheduler) stackless.Func {
	return func(*stackless.Tasklet, ...any) error {
		for {
			if err := s.Schedule(); err != nil {
				return err
			}
		}
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	_, s := newSched(t)
	var log []string
	a := spawn(t, s, func(self *stackless.Tasklet, args ...any) error {
		x := args[0].(int)
		log = append(log, "a1")
		if err := s.Schedule(); err != nil {
			return err
		}
		if x != 7 || !self.IsCurrent() {
			t.Errorf("state after switch: x=%d current=%v", x, self.IsCurrent())
		}
		log = append(log, "a2")
		return nil
	}, 7)

	if got := s.GetRuncount(); got != 2 {
		t.Fatalf("runcount: got %d, want 2", got)
	}
	if err := s.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	log = append(log, "m")
	if !a.Alive() || !a.Scheduled() || a.Restorable() {
		t.Fatalf("a after first switch: alive=%v scheduled=%v restorable=%v", a.Alive(), a.Scheduled(), a.Restorable())
	}
	if err := s.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if want := []string{"a1", "m", "a2"}; !slices.Equal(log, want) {
		t.Fatalf("got %v, want %v", log, want)
	}
	if a.Alive() {
		t.Fatalf("a still alive after its body returned")
	}
	if s.Current() != s.Main() || s.GetRuncount() != 1 {
		t.Fatalf("current=%v runcount=%d, want main and 1", s.Current(), s.GetRuncount())
	}
}

func TestRunKeepsCallerAfterTarget(t *testing.T) {
	_, s := newSched(t)
	var log []string
	note := func(name string) stackless.Func {
		return func(*stackless.Tasklet, ...any) error {
			log = append(log, name)
			return nil
		}
	}
	spawn(t, s, note("a"))
	b := spawn(t, s, note("b"))

	if err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	log = append(log, "main")
	if err := s.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if want := []string{"b", "main", "a"}; !slices.Equal(log, want) {
		t.Fatalf("got %v, want %v", log, want)
	}
}

func TestSwitchPausesCaller(t *testing.T) {
	_, s := newSched(t)
	main := s.Main()
	var paused bool
	a := spawn(t, s, func(*stackless.Tasklet, ...any) error {
		paused = main.Paused()
		return main.Switch()
	})
	if err := a.Switch(); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if !paused {
		t.Fatalf("main was not paused while a ran")
	}
	if !a.Paused() {
		t.Fatalf("a: got scheduled=%v, want paused", a.Scheduled())
	}
	if err := a.Remove(); err != nil {
		t.Fatalf("Remove of a paused tasklet: %v", err)
	}
}

func TestErrorDeliveredToMain(t *testing.T) {
	_, s := newSched(t)
	boom := errors.New("boom")
	a := spawn(t, s, func(*stackless.Tasklet, ...any) error { return boom })

	err := s.Schedule()
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	var b *stackless.Bomb
	if !errors.As(err, &b) {
		t.Fatalf("got %T, want *Bomb", err)
	}
	if a.Alive() {
		t.Fatalf("failed tasklet still alive")
	}
	if err := s.Schedule(); err != nil {
		t.Fatalf("bomb exploded twice: %v", err)
	}
}

func TestTaskletExitIsSilent(t *testing.T) {
	_, s := newSched(t)
	spawn(t, s, func(*stackless.Tasklet, ...any) error { return stackless.ErrTaskletExit })
	if err := s.Schedule(); err != nil {
		t.Fatalf("got %v, want nil", err)
	}
}

func TestErrorHandler(t *testing.T) {
	rt, s := newSched(t)
	boom := errors.New("boom")
	var seen error
	rt.SetErrorHandler(func(_ *stackless.Tasklet, err error) error {
		seen = err
		return nil
	})
	spawn(t, s, func(*stackless.Tasklet, ...any) error { return boom })
	if err := s.Schedule(); err != nil {
		t.Fatalf("handled error reached main: %v", err)
	}
	if seen != boom {
		t.Fatalf("got %v, want %v", seen, boom)
	}
	if old := rt.SetErrorHandler(nil); old == nil {
		t.Fatalf("SetErrorHandler did not return the installed handler")
	}
}

func TestKillIdempotent(t *testing.T) {
	_, s := newSched(t)
	a := spawn(t, s, schedUntil(s))
	if err := s.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !a.Alive() {
		t.Fatalf("a not alive before kill")
	}
	for i := range 3 {
		if err := a.Kill(false); err != nil {
			t.Fatalf("Kill #%d: %v", i, err)
		}
		if a.Alive() || a.Scheduled() {
			t.Fatalf("Kill #%d: alive=%v scheduled=%v", i, a.Alive(), a.Scheduled())
		}
	}
	if got := s.Runnable(); !slices.Equal(got, []*stackless.Tasklet{s.Main()}) {
		t.Fatalf("runnable: got %v, want only main", got)
	}

	done := spawn(t, s, func(*stackless.Tasklet, ...any) error { return nil })
	runAll(t, s)
	if err := done.Kill(false); err != nil {
		t.Fatalf("Kill of a completed tasklet: %v", err)
	}
	if err := done.Kill(true); err != nil {
		t.Fatalf("pending Kill of a completed tasklet: %v", err)
	}
}

func TestKillPending(t *testing.T) {
	_, s := newSched(t)
	var got error
	a := spawn(t, s, func(*stackless.Tasklet, ...any) error {
		got = s.ScheduleRemove()
		return got
	})
	if err := s.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !a.Paused() {
		t.Fatalf("a not paused")
	}
	if err := a.Kill(true); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if !a.Scheduled() || !a.Alive() {
		t.Fatalf("pending kill did not make a runnable")
	}
	runAll(t, s)
	if !errors.Is(got, stackless.ErrTaskletExit) {
		t.Fatalf("got %v, want ErrTaskletExit", got)
	}
	if a.Alive() {
		t.Fatalf("a alive after pending kill ran")
	}
}

func TestThrow(t *testing.T) {
	_, s := newSched(t)
	boom := errors.New("boom")

	var got error
	a := spawn(t, s, func(*stackless.Tasklet, ...any) error {
		got = s.Schedule()
		return nil
	})
	if err := s.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := a.RaiseException(boom, 42); err != nil {
		t.Fatalf("RaiseException: %v", err)
	}
	var b *stackless.Bomb
	if !errors.As(got, &b) || b.Err != boom || b.Value != 42 {
		t.Fatalf("got %#v, want bomb carrying boom and 42", got)
	}

	if err := a.Throw(boom, nil, false); !errors.Is(err, stackless.ErrThrowDead) {
		t.Fatalf("throw to dead: got %v, want ErrThrowDead", err)
	}
	if err := s.Main().Throw(boom, nil, false); !errors.Is(err, boom) {
		t.Fatalf("throw to self: got %v, want %v", err, boom)
	}
}

func TestThrowPendingUnblocks(t *testing.T) {
	_, s := newSched(t)
	boom := errors.New("boom")
	ch := stackless.NewChannel()
	var got error
	a := spawn(t, s, func(*stackless.Tasklet, ...any) error {
		_, got = ch.Receive(s)
		return nil
	})
	runAll(t, s)
	if a.Blocked() != -1 || ch.Balance() != -1 {
		t.Fatalf("blocked=%d balance=%d, want -1 -1", a.Blocked(), ch.Balance())
	}
	if err := a.Throw(boom, nil, true); err != nil {
		t.Fatalf("Throw: %v", err)
	}
	if a.Blocked() != 0 || ch.Balance() != 0 || !a.Scheduled() {
		t.Fatalf("blocked=%d balance=%d scheduled=%v", a.Blocked(), ch.Balance(), a.Scheduled())
	}
	runAll(t, s)
	if !errors.Is(got, boom) {
		t.Fatalf("got %v, want %v", got, boom)
	}
}

func TestBindErrors(t *testing.T) {
	_, s := newSched(t)
	nop := func(*stackless.Tasklet, ...any) error { return nil }

	if err := s.Main().Bind(nop); !errors.Is(err, stackless.ErrBindCurrent) {
		t.Fatalf("bind current: got %v, want ErrBindCurrent", err)
	}
	var unbindMain error
	a := spawn(t, s, func(*stackless.Tasklet, ...any) error {
		unbindMain = s.Main().Bind(nil)
		return s.ScheduleRemove()
	})
	if err := a.Bind(nop); !errors.Is(err, stackless.ErrBindScheduled) {
		t.Fatalf("bind scheduled: got %v, want ErrBindScheduled", err)
	}
	if err := s.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !errors.Is(unbindMain, stackless.ErrUnbindMain) {
		t.Fatalf("unbind main: got %v, want ErrUnbindMain", unbindMain)
	}
	if err := a.Bind(nop); !errors.Is(err, stackless.ErrNotRestorable) {
		t.Fatalf("bind paused hard tasklet: got %v, want ErrNotRestorable", err)
	}

	n := s.NewTasklet(nil)
	if err := n.Setup(); !errors.Is(err, stackless.ErrNotBound) {
		t.Fatalf("setup unbound: got %v, want ErrNotBound", err)
	}
	if err := n.Bind(nop); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if !n.Alive() || n.Scheduled() {
		t.Fatalf("bound tasklet: alive=%v scheduled=%v", n.Alive(), n.Scheduled())
	}
	if err := n.Setup(); !errors.Is(err, stackless.ErrAlreadyBound) {
		t.Fatalf("setup bound: got %v, want ErrAlreadyBound", err)
	}
	if err := n.Bind(nil); err != nil || n.Alive() {
		t.Fatalf("unbind: err=%v alive=%v", err, n.Alive())
	}
}

func TestInsertRemoveErrors(t *testing.T) {
	_, s := newSched(t)
	if err := s.Main().Remove(); !errors.Is(err, stackless.ErrRemoveCurrent) {
		t.Fatalf("remove current: got %v, want ErrRemoveCurrent", err)
	}

	ch := stackless.NewChannel()
	blocked := spawn(t, s, func(*stackless.Tasklet, ...any) error {
		_, err := ch.Receive(s)
		return err
	})
	dead := spawn(t, s, func(*stackless.Tasklet, ...any) error { return nil })
	runAll(t, s)

	if err := dead.Insert(); !errors.Is(err, stackless.ErrRunDead) {
		t.Fatalf("insert dead: got %v, want ErrRunDead", err)
	}
	if err := dead.Run(); !errors.Is(err, stackless.ErrRunDead) {
		t.Fatalf("run dead: got %v, want ErrRunDead", err)
	}
	if err := blocked.Insert(); !errors.Is(err, stackless.ErrRunBlocked) {
		t.Fatalf("insert blocked: got %v, want ErrRunBlocked", err)
	}
	if err := blocked.Remove(); !errors.Is(err, stackless.ErrRemoveBlocked) {
		t.Fatalf("remove blocked: got %v, want ErrRemoveBlocked", err)
	}
	if blocked.Channel() != ch {
		t.Fatalf("blocked on %p, want %p", blocked.Channel(), ch)
	}
}

func TestSwitchTrap(t *testing.T) {
	_, s := newSched(t)
	ran := false
	spawn(t, s, func(*stackless.Tasklet, ...any) error {
		ran = true
		return nil
	})
	if old := s.SwitchTrap(1); old != 0 {
		t.Fatalf("got %d, want 0", old)
	}
	if err := s.Schedule(); !errors.Is(err, stackless.ErrSwitchTrap) {
		t.Fatalf("got %v, want ErrSwitchTrap", err)
	}
	if err := s.ScheduleRemove(); !errors.Is(err, stackless.ErrSwitchTrap) {
		t.Fatalf("got %v, want ErrSwitchTrap", err)
	}
	if ran || s.Current() != s.Main() || s.GetRuncount() != 2 {
		t.Fatalf("failed switch changed state: ran=%v runcount=%d", ran, s.GetRuncount())
	}
	s.SwitchTrap(-1)
	runAll(t, s)
	if !ran {
		t.Fatalf("tasklet did not run after the trap was lifted")
	}
}

func TestStringAndAccessors(t *testing.T) {
	_, s := newSched(t)
	a := spawn(t, s, func(*stackless.Tasklet, ...any) error { return nil })
	if a.Scheduler() != s || a.ThreadID() != s.ID() || a.ID() == s.Main().ID() {
		t.Fatalf("thread binding of %v wrong", a)
	}
	if got := s.Main().String(); got != "tasklet#"+strconv.FormatUint(s.Main().ID(), 10)+"(root,main)" {
		t.Fatalf("got %q", got)
	}
	a.SetStackSize(64 << 10)
	if a.StackSize() != 64<<10 {
		t.Fatalf("got %d, want %d", a.StackSize(), 64<<10)
	}
	runAll(t, s)
}

func TestTransferSerials(t *testing.T) {
	_, s := newSched(t)
	if s.SerialLastJump() != 1 || s.StubSerial() != 1 {
		t.Fatalf("fresh thread: got last %d stub %d, want 1 and 1", s.SerialLastJump(), s.StubSerial())
	}
	spawn(t, s, func(*stackless.Tasklet, ...any) error { return nil })
	if err := s.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if s.SerialLastJump() != 2 || s.StubSerial() != 2 {
		t.Fatalf("after one switch: got last %d stub %d, want 2 and 2", s.SerialLastJump(), s.StubSerial())
	}
	spawn(t, s, func(*stackless.Tasklet, ...any) error {
		return s.Schedule()
	})
	runAll(t, s)
	if last := s.SerialLastJump(); last <= 2 || s.StubSerial() > last {
		t.Fatalf("serials did not advance: last %d stub %d", last, s.StubSerial())
	}
}
