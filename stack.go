// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

import "iter"

// Hard switching.
//
// A Slice is a native stack that can be parked and resumed. It is backed by
// a Go runtime coroutine (the coroswitch primitive behind iter.Pull): the
// coroutine's sequence function runs one tasklet body after another and
// parks between them, so a stack outlives the tasklet that used it and can
// be handed to the next one through the cache.
//
// Only a thread's dispatcher resumes slices. A tasklet running on a slice
// leaves it by parking (yield), which returns control to the dispatcher.

// TransferStatus is the outcome of a stack transfer.
type TransferStatus int

const (
	// TransferSwitched means control left the stack and came back.
	TransferSwitched TransferStatus = iota
	// TransferSavedOnly means the stack was stamped without switching.
	TransferSavedOnly
	// TransferError means the target stack cannot be resumed.
	TransferError
)

func (s TransferStatus) String() string {
	switch s {
	case TransferSwitched:
		return "switched"
	case TransferSavedOnly:
		return "saved"
	default:
		return "error"
	}
}

// signal is what a coroutine reports when it parks.
type signal uint8

const (
	sigSwitch signal = iota // parked in the middle of a body
	sigIdle                 // body finished, stack reusable
)

const (
	// StackQuantum is the granularity of stack sizes.
	StackQuantum = 1024
	// climbFrame is the stack consumed by one climb step.
	climbFrame = 256
)

// unwind is panicked on a parked stack that is being stopped. The body
// wrapper recovers it.
type unwind struct{}

// Slice is a saved native stack. A zero-size Slice is a thread's stub: the
// root stack of the thread, which carries no coroutine.
type Slice struct {
	size   int
	task   *Tasklet
	thread *Scheduler
	serial uint64

	next, prev *Slice // live chain, nil while cached
	free       *Slice // cache bucket

	resume func() (signal, bool)
	stop   func()
	yield  func(signal) bool
	body   func()
	done   bool
}

// newSlice creates a slice of the given size. Sizes are rounded up to
// [StackQuantum]. The coroutine starts on the first resume.
func newSlice(size int) *Slice {
	c := &Slice{size: roundStack(size)}
	if c.size > 0 {
		c.resume, c.stop = iter.Pull(c.loop)
	}
	return c
}

// roundStack rounds size up to a multiple of StackQuantum.
func roundStack(size int) int {
	if size <= 0 {
		return 0
	}
	return (size + StackQuantum - 1) / StackQuantum * StackQuantum
}

// Size returns the reserved stack size in bytes.
func (c *Slice) Size() int { return c.size }


// Owner returns the tasklet running on the slice, nil for a stub or a
// cached slice.
func (c *Slice) Owner() *Tasklet { return c.task }

// Serial returns the serial of the last jump that saved this slice.
func (c *Slice) Serial() uint64 { return c.serial }

// loop is the coroutine body of a slice.
func (c *Slice) loop(yield func(signal) bool) {
	c.yield = yield
	climb(c.size / climbFrame)
	for {
		body := c.body
		c.body = nil
		if body == nil {
			return
		}
		body()
		if !yield(sigIdle) {
			return
		}
	}
}

// climb grows the stack of a fresh coroutine to n frames so the first body
// starts on a stack of the reserved size.
//
//go:noinline
func climb(n int) byte {
	var pad [climbFrame]byte
	pad[n%climbFrame] = byte(n)
	if n <= 0 {
		return pad[0]
	}
	return climb(n-1) ^ pad[n%climbFrame]
}

// enter resumes the slice from the dispatcher and returns when it parks.
func (c *Slice) enter() (signal, error) {
	if c.done || c.resume == nil {
		return sigIdle, ErrStackDead
	}
	sig, ok := c.resume()
	if !ok {
		c.done = true
		return sigIdle, ErrStackDead
	}
	return sig, nil
}

// park leaves the slice from inside its coroutine. It returns when the
// dispatcher resumes the slice. A stopped slice unwinds instead.
func (c *Slice) park() {
	if !c.yield(sigSwitch) {
		panic(unwind{})
	}
}

// destroy ends the coroutine. A parked body is unwound first.
func (c *Slice) destroy() {
	if c.stop != nil && !c.done {
		c.body = nil
		c.stop()
	}
	c.done = true
	c.task, c.thread = nil, nil
}

// transfer saves the stack prev runs on and switches to next, which the
// switch protocol already made current. It returns once prev is current
// again. With next == nil only the save step happens.
func (s *Scheduler) transfer(prev, next *Tasklet) (TransferStatus, error) {
	from := prev.stack()
	s.serial++
	from.serial = s.serial
	s.serialLastJump = from.serial
	if next == nil {
		return TransferSavedOnly, nil
	}
	if next.kind == resumeHard && (next.slice == nil || next.slice.done) {
		return TransferError, ErrStackDead
	}
	nesting := s.nesting
	prev.nesting = nesting
	switch prev.kind {
	case resumeRoot:
		s.dispatch(prev)
	case resumeHard:
		from.park()
	default:
		panic("stackless: transfer from a tasklet without a native stack")
	}
	s.nesting = nesting
	return TransferSwitched, nil
}

// stack returns the slice a tasklet executes on.
func (t *Tasklet) stack() *Slice {
	if t.kind == resumeRoot {
		return t.thread.stub
	}
	return t.slice
}
