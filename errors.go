// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

import "errors"

// ErrTaskletExit is the error [Tasklet.Kill] delivers. A non-main tasklet
// that returns it (or an error wrapping it) ends silently.
var ErrTaskletExit = errors.New("stackless: tasklet exit")

// Scheduling protocol errors.
var (
	ErrDeadlock      = errors.New("stackless: deadlock: the last runnable tasklet cannot be blocked")
	ErrMainReceiving = errors.New("stackless: the main tasklet is receiving without a sender available")
	ErrMainSending   = errors.New("stackless: the main tasklet is sending without a receiver available")
	ErrSwitchTrap    = errors.New("stackless: switch trap")
	ErrSoftBlocking  = errors.New("stackless: a soft tasklet must perform an effect to switch")
	ErrForeignThread = errors.New("stackless: can't switch to a different thread")
	ErrNoThread      = errors.New("stackless: tasklet has no thread")
	ErrClosed        = errors.New("stackless: scheduler closed")
	ErrNotMain       = errors.New("stackless: operation requires the main tasklet")
)

// Tasklet lifecycle errors.
var (
	ErrRunBlocked         = errors.New("stackless: you cannot run a blocked tasklet")
	ErrRunDead            = errors.New("stackless: you cannot run an unbound (dead) tasklet")
	ErrRemoveBlocked      = errors.New("stackless: you cannot remove a blocked tasklet")
	ErrRemoveCurrent      = errors.New("stackless: the current tasklet cannot be removed")
	ErrBindCurrent        = errors.New("stackless: can't (re)bind the current tasklet")
	ErrBindScheduled      = errors.New("stackless: tasklet is scheduled")
	ErrBindThreadRunnable = errors.New("stackless: can't (re)bind a runnable tasklet")
	ErrNotRestorable      = errors.New("stackless: tasklet has native state on its stack")
	ErrUnbindMain         = errors.New("stackless: can't unbind the main tasklet")
	ErrNotBound           = errors.New("stackless: the tasklet was not bound to a function")
	ErrAlreadyBound       = errors.New("stackless: tasklet is already bound")
	ErrThrowDead          = errors.New("stackless: you cannot throw to a dead tasklet")
)

// Channel errors.
var (
	ErrChannelClosed     = errors.New("stackless: send/receive operation on a closed channel")
	ErrChannelDestroyed  = errors.New("stackless: channel destroyed with waiting tasklets")
	ErrBlockTrap         = errors.New("stackless: this tasklet does not like to be blocked")
	ErrRecursiveCallback = errors.New("stackless: recursive channel call due to callbacks")
	ErrBadPreference     = errors.New("stackless: preference must be -1, 0 or 1")
)

// ErrStackDead reports a transfer to a stack whose coroutine already ended.
// It is never returned to callers: the switch protocol panics on it.
var ErrStackDead = errors.New("stackless: transfer to a dead stack")
