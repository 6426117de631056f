// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

import (
	"errors"

	"code.hybscloud.com/kont"
)

// Bomb is a deferred error. It travels through a tasklet's value slot
// across a switch and is raised only when the tasklet that owns the slot
// next claims it.
type Bomb struct {
	Err     error  // the error kind
	Value   any    // associated value, may be nil
	Context string // where the error originated
}

// NewBomb wraps err for deferred delivery. A nil err becomes [ErrTaskletExit].
func NewBomb(err error, value any, context string) *Bomb {
	if err == nil {
		err = ErrTaskletExit
	}
	return &Bomb{Err: err, Value: value, Context: context}
}

// Error implements error.
func (b *Bomb) Error() string {
	if b.Context == "" {
		return b.Err.Error()
	}
	return b.Err.Error() + " (" + b.Context + ")"
}

// Unwrap returns the error kind, so errors.Is(bomb, ErrDeadlock) works.
func (b *Bomb) Unwrap() error { return b.Err }

// isExit reports whether the bomb carries the tasklet exit error.
func (b *Bomb) isExit() bool { return errors.Is(b.Err, ErrTaskletExit) }

// Result is what a soft tasklet receives back from a scheduling effect:
// Left carries an exploded bomb or a protocol error, Right the value.
type Result = kont.Either[error, any]

// resultOf packs a claimed value slot into a Result.
func resultOf(v any, err error) Result {
	if err != nil {
		return kont.Left[error, any](err)
	}
	return kont.Right[error, any](v)
}

// asBomb converts an error into a Bomb, reusing it when it already is one.
func asBomb(err error, context string) *Bomb {
	var b *Bomb
	if errors.As(err, &b) {
		return b
	}
	return NewBomb(err, nil, context)
}

// take claims the tasklet's value slot raw, leaving nil behind.
func (t *Tasklet) take() any {
	v := t.tempval
	t.tempval = nil
	return v
}

// claim takes the value slot and explodes a bomb: it comes back as the
// error and never as data.
func (t *Tasklet) claim() (any, error) { return explode(t.take()) }

// explode turns a claimed bomb into an error.
func explode(v any) (any, error) {
	if b, ok := v.(*Bomb); ok {
		return nil, b
	}
	return v, nil
}

// setval stores v in the value slot and returns the previous content.
func (t *Tasklet) setval(v any) any {
	old := t.tempval
	t.tempval = v
	return old
}

// swapval exchanges the value slots of two tasklets.
func swapval(a, b *Tasklet) {
	a.tempval, b.tempval = b.tempval, a.tempval
}

// hasBomb reports whether the value slot holds a pending error.
func (t *Tasklet) hasBomb() bool {
	_, ok := t.tempval.(*Bomb)
	return ok
}
