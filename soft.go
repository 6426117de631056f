// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

import "code.hybscloud.com/kont"

// Soft tasklets.
//
// A soft tasklet is a kont continuation. It switches by performing one of
// the operations below; the thread's dispatcher steps it with kont.Step
// and handles each operation with the same protocol the blocking API
// uses. An operation that switches away parks the suspension in the
// tasklet, so a soft switch costs no native stack at all. Every
// operation resumes with a [Result]: Left carries the error the blocking
// call would have returned.
//
// Calling the blocking API from inside a soft tasklet's step returns
// [ErrSoftBlocking].

// YieldOp yields to the next runnable tasklet, optionally pausing.
type YieldOp struct {
	kont.Phantom[Result]
	Remove bool
}

// SendOp sends Value on Ch.
type SendOp struct {
	kont.Phantom[Result]
	Ch    *Channel
	Value any
}

// ReceiveOp receives from Ch. The value is the Right of the result.
type ReceiveOp struct {
	kont.Phantom[Result]
	Ch *Channel
}

// TickOp is a bare checkpoint.
type TickOp struct {
	kont.Phantom[Result]
}

// SwitchOp runs Target; with Remove the caller is paused.
type SwitchOp struct {
	kont.Phantom[Result]
	Target *Tasklet
	Remove bool
}

// ThrowOp raises Err in Target.
type ThrowOp struct {
	kont.Phantom[Result]
	Target  *Tasklet
	Err     error
	Value   any
	Pending bool
}

// Yield performs [YieldOp].
func Yield() kont.Eff[Result] { return kont.Perform(YieldOp{}) }

// YieldRemove performs [YieldOp] with Remove set.
func YieldRemove() kont.Eff[Result] { return kont.Perform(YieldOp{Remove: true}) }

// SendTo performs [SendOp].
func SendTo(ch *Channel, v any) kont.Eff[Result] {
	return kont.Perform(SendOp{Ch: ch, Value: v})
}

// ReceiveFrom performs [ReceiveOp].
func ReceiveFrom(ch *Channel) kont.Eff[Result] {
	return kont.Perform(ReceiveOp{Ch: ch})
}

// Tick performs [TickOp].
func Tick() kont.Eff[Result] { return kont.Perform(TickOp{}) }

// RunTasklet performs [SwitchOp] keeping the caller runnable.
func RunTasklet(t *Tasklet) kont.Eff[Result] {
	return kont.Perform(SwitchOp{Target: t})
}

// SwitchTo performs [SwitchOp] pausing the caller.
func SwitchTo(t *Tasklet) kont.Eff[Result] {
	return kont.Perform(SwitchOp{Target: t, Remove: true})
}

// KillTasklet performs [ThrowOp] with [ErrTaskletExit].
func KillTasklet(t *Tasklet, pending bool) kont.Eff[Result] {
	return kont.Perform(ThrowOp{Target: t, Err: ErrTaskletExit, Pending: pending})
}

// Then continues with f when r is a value and fails the tasklet with the
// error otherwise. It is the usual glue between operations:
//
//	kont.Bind(stackless.ReceiveFrom(ch), stackless.Then(func(v any) kont.Eff[error] {
//		...
//	}))
func Then(f func(v any) kont.Eff[error]) func(Result) kont.Eff[error] {
	return func(r Result) kont.Eff[error] {
		if err, ok := r.GetLeft(); ok {
			return kont.Pure(err)
		}
		v, _ := r.GetRight()
		return f(v)
	}
}

// Done ends a soft tasklet successfully.
func Done() kont.Eff[error] { return kont.Pure[error](nil) }

// enterSoft steps the soft tasklet t on the root stack until it switches
// away or ends.
func (s *Scheduler) enterSoft(t *Tasklet) {
	s.nesting = 0
	var (
		err  error
		susp *kont.Suspension[error]
	)
	switch t.kind {
	case resumeFresh:
		eff := t.eff
		t.eff = nil
		t.kind = resumeSoft
		if _, berr := t.claim(); berr != nil {
			s.endTasklet(t, berr)
			return
		}
		err, susp = s.step(func() (error, *kont.Suspension[error]) { return kont.Step(eff) })
	case resumeSoft:
		susp = t.susp
		t.susp = nil
		if !t.replay || t.hasBomb() {
			t.replay = false
			r := resultOf(t.claim())
			cur := susp
			err, susp = s.step(func() (error, *kont.Suspension[error]) { return cur.Resume(r) })
		}
		t.replay = false
	default:
		panic("stackless: soft entry of " + t.String())
	}
	for susp != nil {
		r, switched := s.perform(t, susp.Op(), true)
		if switched {
			t.susp = susp
			return
		}
		cur := susp
		err, susp = s.step(func() (error, *kont.Suspension[error]) { return cur.Resume(r) })
	}
	s.endTasklet(t, err)
}

// step runs user code of a soft tasklet. Switching APIs are refused
// inside.
func (s *Scheduler) step(f func() (error, *kont.Suspension[error])) (error, *kont.Suspension[error]) {
	s.inSoft = true
	defer func() { s.inSoft = false }()
	return f()
}

// perform handles one operation of the current tasklet t. For a soft t it
// reports whether t switched away; the result is claimed on resume then,
// and an operation interrupted before it ran is replayed. A promoted t
// simply blocks on its own stack.
func (s *Scheduler) perform(t *Tasklet, op kont.Operation, soft bool) (Result, bool) {
	if soft {
		s.softRunning = t
		defer func() { s.softRunning = nil }()
	}

	if err := s.checkpoint(); err != nil {
		return resultOf(nil, err), false
	}
	if s.unwinding {
		s.unwinding = false
		t.replay = true
		return Result{}, true
	}

	var (
		v   any
		err error
	)
	switch op := op.(type) {
	case YieldOp:
		v, err = s.schedule(nil, op.Remove)
	case SendOp:
		_, err = op.Ch.action(s, op.Value, 1)
	case ReceiveOp:
		v, err = op.Ch.action(s, nil, -1)
	case TickOp:
	case SwitchOp:
		if op.Remove {
			err = op.Target.Switch()
		} else {
			err = op.Target.Run()
		}
	case ThrowOp:
		err = op.Target.Throw(op.Err, op.Value, op.Pending)
	default:
		panic("stackless: unhandled effect in soft tasklet")
	}
	if s.unwinding {
		s.unwinding = false
		return Result{}, true
	}
	return resultOf(v, err), false
}

// promote moves a soft tasklet onto a native stack. The same operations
// are then performed by the blocking API.
func (s *Scheduler) promote(t *Tasklet) {
	eff, susp, replay := t.eff, t.susp, t.replay
	t.eff, t.susp, t.replay = nil, nil, false
	s.runOnSlice(t, func() error {
		var err error
		switch {
		case susp == nil:
			if _, berr := t.claim(); berr != nil {
				return berr
			}
			err, susp = kont.Step(eff)
		case !replay || t.hasBomb():
			err, susp = susp.Resume(resultOf(t.claim()))
		}
		for susp != nil {
			r, _ := s.perform(t, susp.Op(), false)
			err, susp = susp.Resume(r)
		}
		return err
	})
}
