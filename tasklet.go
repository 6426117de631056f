// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

import (
	"strconv"

	"code.hybscloud.com/kont"
)

// Func is the body of a hard tasklet. It runs on a native stack of its own
// and may call the blocking API ([Scheduler.Schedule], [Channel.Send],
// [Channel.Receive], ...) anywhere in its call tree.
//
// Returning [ErrTaskletExit] (or an error wrapping it) ends the tasklet
// silently. Any other error is offered to the error handler and then
// delivered to the innermost watchdog as a [Bomb].
type Func func(t *Tasklet, args ...any) error

// resumeKind tags how a tasklet is entered next.
type resumeKind uint8

const (
	resumeNone  resumeKind = iota // unbound or dead
	resumeFresh                   // bound, never entered
	resumeSoft                    // parked kont suspension
	resumeHard                    // parked on its own slice
	resumeRoot                    // the thread's own stack (main)
)

func (k resumeKind) String() string {
	switch k {
	case resumeFresh:
		return "fresh"
	case resumeSoft:
		return "soft"
	case resumeHard:
		return "hard"
	case resumeRoot:
		return "root"
	default:
		return "dead"
	}
}

// Tasklet is a lightweight unit of execution. At any time it is floating,
// linked into its thread's run queue, or blocked in exactly one channel
// queue.
//
// Tasklet methods act on behalf of the thread that currently holds the
// execution token; they must be called from a tasklet of the runtime.
type Tasklet struct {
	id     uint64
	rt     *Runtime
	thread *Scheduler

	next, prev *Tasklet
	channel    *Channel

	kind      resumeKind
	fn        Func
	args      []any
	eff       kont.Eff[error]
	susp      *kont.Suspension[error]
	replay    bool
	slice     *Slice
	stackSize int

	tempval       any
	blocked       int8
	atomic        bool
	ignoreNesting bool
	blockTrap     bool
	pendingIRQ    bool
	isMain        bool
	nesting       int
}

// ID returns the process-unique id of t.
func (t *Tasklet) ID() uint64 { return t.id }

// Alive reports whether t has a resumption point.
func (t *Tasklet) Alive() bool { return t.kind != resumeNone }

// Scheduled reports whether t is linked into a run queue or a channel.
func (t *Tasklet) Scheduled() bool { return t.next != nil }

// Paused reports whether t is alive but floating.
func (t *Tasklet) Paused() bool { return t.Alive() && !t.Scheduled() }

// Blocked returns 1 when t waits to send, -1 when it waits to receive and
// 0 otherwise.
func (t *Tasklet) Blocked() int { return int(t.blocked) }

// Channel returns the channel t is blocked on.
func (t *Tasklet) Channel() *Channel { return t.channel }

// Restorable reports whether t carries no native state, that is whether
// it can be rebound or moved to another thread.
func (t *Tasklet) Restorable() bool {
	switch t.kind {
	case resumeHard, resumeRoot:
		return false
	default:
		return true
	}
}

// Soft reports whether t is a continuation tasklet.
func (t *Tasklet) Soft() bool {
	switch t.kind {
	case resumeSoft:
		return true
	case resumeFresh:
		return t.eff != nil
	default:
		return false
	}
}

// IsMain reports whether t is the main tasklet of its thread.
func (t *Tasklet) IsMain() bool { return t.isMain }

// IsCurrent reports whether t is the current tasklet of its thread.
func (t *Tasklet) IsCurrent() bool { return t.thread != nil && t.thread.cur() == t }

// Atomic reports the atomic flag.
func (t *Tasklet) Atomic() bool { return t.atomic }

// IgnoreNesting reports the ignore-nesting flag.
func (t *Tasklet) IgnoreNesting() bool { return t.ignoreNesting }

// BlockTrap reports the block trap flag.
func (t *Tasklet) BlockTrap() bool { return t.blockTrap }

// Tempval returns the content of the value slot without claiming it.
func (t *Tasklet) Tempval() any { return t.tempval }

// NestingLevel returns the nesting level of t: the live level for the
// current tasklet, the saved one otherwise.
func (t *Tasklet) NestingLevel() int {
	if t.IsCurrent() {
		return t.thread.nesting
	}
	return t.nesting
}

// Scheduler returns the thread t belongs to.
func (t *Tasklet) Scheduler() *Scheduler { return t.thread }

// ThreadID returns the id of the thread t belongs to, 0 when unbound.
func (t *Tasklet) ThreadID() uint64 {
	if t.thread == nil {
		return 0
	}
	return t.thread.id
}

// StackSize returns the stack hint used when t starts on a native stack.
func (t *Tasklet) StackSize() int { return t.stackSize }

// SetStackSize sets the stack hint. It takes effect on the next start.
func (t *Tasklet) SetStackSize(n int) { t.stackSize = n }

func (t *Tasklet) String() string {
	b := make([]byte, 0, 32)
	b = append(b, "tasklet#"...)
	b = strconv.AppendUint(b, t.id, 10)
	b = append(b, '(')
	b = append(b, t.kind.String()...)
	switch {
	case t.isMain:
		b = append(b, ",main"...)
	case t.blocked > 0:
		b = append(b, ",sending"...)
	case t.blocked < 0:
		b = append(b, ",receiving"...)
	}
	b = append(b, ')')
	return string(b)
}

// SetAtomic sets the atomic flag and returns the previous value. An atomic
// tasklet is never interrupted by the watchdog. Clearing the flag lets a
// deferred interrupt fire at the next tick.
func (t *Tasklet) SetAtomic(flag bool) bool {
	old := t.atomic
	t.atomic = flag
	if t.IsCurrent() {
		t.thread.checkPendingIRQ()
	}
	return old
}

// SetIgnoreNesting sets the ignore-nesting flag and returns the previous
// value. Such a tasklet can be interrupted inside a [Scheduler.Nest] scope.
func (t *Tasklet) SetIgnoreNesting(flag bool) bool {
	old := t.ignoreNesting
	t.ignoreNesting = flag
	if t.IsCurrent() {
		t.thread.checkPendingIRQ()
	}
	return old
}

// SetBlockTrap makes any blocking channel operation of t fail with
// [ErrBlockTrap]. It returns the previous value.
func (t *Tasklet) SetBlockTrap(flag bool) bool {
	old := t.blockTrap
	t.blockTrap = flag
	return old
}

// checkBind validates a bind or unbind of t.
func (t *Tasklet) checkBind(unbind bool) error {
	switch {
	case t.IsCurrent():
		return ErrBindCurrent
	case t.isMain && unbind:
		return ErrUnbindMain
	case t.Scheduled():
		return ErrBindScheduled
	case !t.Restorable():
		return ErrNotRestorable
	}
	return nil
}

// clearFrame drops the resumption point of t.
func (t *Tasklet) clearFrame() {
	if t.susp != nil {
		t.susp.Discard()
		t.susp = nil
	}
	t.eff = nil
	t.replay = false
	if t.kind != resumeRoot {
		t.kind = resumeNone
	}
}

// Bind binds fn and args as the new body of t, which becomes alive but is
// not scheduled. A nil fn unbinds t.
func (t *Tasklet) Bind(fn Func, args ...any) error {
	if err := t.checkBind(fn == nil); err != nil {
		return err
	}
	t.clearFrame()
	t.fn, t.args = fn, args
	if fn != nil {
		t.kind = resumeFresh
	}
	return nil
}

// BindSoft binds a continuation as the new body of t.
func (t *Tasklet) BindSoft(eff kont.Eff[error]) error {
	if err := t.checkBind(eff == nil); err != nil {
		return err
	}
	t.clearFrame()
	t.fn, t.args = nil, nil
	if eff != nil {
		t.eff = eff
		t.kind = resumeFresh
	}
	return nil
}

// Setup supplies the arguments of a tasklet created with
// [Scheduler.NewTasklet] and inserts it into the run queue.
func (t *Tasklet) Setup(args ...any) error {
	if t.fn == nil {
		return ErrNotBound
	}
	if t.Alive() {
		return ErrAlreadyBound
	}
	t.args = args
	t.kind = resumeFresh
	if err := t.Insert(); err != nil {
		t.kind = resumeNone
		return err
	}
	return nil
}

// BindThread moves t to thread s. A nil s selects the calling thread.
func (t *Tasklet) BindThread(s *Scheduler) error {
	if s == nil {
		s = t.rt.owner
	}
	if s == nil || s.closed {
		return ErrNoThread
	}
	if t.thread == s {
		return nil
	}
	if t.Scheduled() && t.blocked == 0 {
		return ErrBindThreadRunnable
	}
	if !t.Restorable() {
		return ErrNotRestorable
	}
	t.thread = s
	return nil
}

// Insert appends t to the run queue of its thread. A scheduled tasklet is
// left where it is.
func (t *Tasklet) Insert() error {
	if t.blocked != 0 {
		return ErrRunBlocked
	}
	s := t.thread
	if s == nil || s.closed {
		return ErrNoThread
	}
	if !t.Alive() && !t.IsCurrent() {
		return ErrRunDead
	}
	if t.next == nil {
		s.currentInsert(t)
		s.threadUnblock()
	}
	return nil
}

// Remove takes t out of the run queue, pausing it.
func (t *Tasklet) Remove() error {
	if t.blocked != 0 {
		return ErrRemoveBlocked
	}
	if t.IsCurrent() {
		return ErrRemoveCurrent
	}
	if t.next != nil {
		t.thread.currentRemoveTasklet(t)
	}
	return nil
}

// Run inserts t and switches to it. The caller stays runnable and runs
// again right after t. When t lives on another thread, t is only made
// runnable there and the caller continues.
func (t *Tasklet) Run() error { return t.runRemove(false) }

// Switch is like [Tasklet.Run] but pauses the caller.
func (t *Tasklet) Switch() error { return t.runRemove(true) }

func (t *Tasklet) runRemove(remove bool) error {
	s := t.rt.owner
	if s == nil {
		return ErrNoThread
	}
	if err := s.guard(); err != nil {
		return err
	}
	prev := s.cur()
	if t == prev {
		return nil
	}
	rs := t.thread
	if rs == nil || rs.closed {
		return ErrNoThread
	}
	inserted, removed := false, false
	if rs == s {
		inserted = t.next == nil
		if err := t.Insert(); err != nil {
			return err
		}
		if remove {
			s.currentRemove()
			removed = true
		}
	} else {
		if remove {
			return ErrForeignThread
		}
		if t.blocked != 0 {
			return ErrRunBlocked
		}
		if !t.Alive() {
			return ErrRunDead
		}
		if t.next == nil {
			inserted = true
			if rs.idle {
				rs.currentInsert(t)
				rs.setCurrent(t)
			} else {
				rs.currentInsertAfter(t)
			}
		}
	}
	v, _, err := s.scheduleTask(prev, t)
	if err != nil {
		if removed {
			s.currentUnremove(prev)
		}
		if inserted && t.next != nil {
			rs.currentRemoveTasklet(t)
		}
		return err
	}
	_, err = explode(v)
	return err
}
