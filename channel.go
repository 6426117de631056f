// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

import (
	"iter"

	"code.hybscloud.com/iox"
)

// Channel is a synchronous rendezvous point. A send with no receiver
// waiting blocks the sender, a receive with no sender waiting blocks the
// receiver; when a partner is waiting the value moves at once.
//
// The balance counts waiters: positive for senders, negative for
// receivers. All tasklets in the queue wait in the same direction.
//
// The preference decides who runs after a rendezvous: -1 the receiver,
// 1 the sender, 0 the caller keeps running. With schedule-all set the
// caller always yields to the next runnable tasklet.
type Channel struct {
	queue       ring
	balance     int
	closing     bool
	preference  int
	scheduleAll bool
}

// NewChannel returns an open channel preferring the receiver.
func NewChannel() *Channel {
	return &Channel{preference: -1}
}

// Balance returns the number of waiting senders (positive) or receivers
// (negative).
func (ch *Channel) Balance() int { return ch.balance }

// Queue returns the waiting tasklets in FIFO order.
func (ch *Channel) Queue() []*Tasklet { return ch.queue.slice() }

// Close marks the channel as closing: no tasklet may block on it any
// more. Tasklets already waiting stay queued.
func (ch *Channel) Close() { ch.closing = true }

// Open clears the closing flag.
func (ch *Channel) Open() { ch.closing = false }

// Closing reports whether Close was called.
func (ch *Channel) Closing() bool { return ch.closing }

// Closed reports whether the channel is closing and nobody waits on it.
func (ch *Channel) Closed() bool { return ch.closing && ch.balance == 0 }

// Preference returns the scheduling preference.
func (ch *Channel) Preference() int { return ch.preference }

// SetPreference sets the scheduling preference: -1, 0 or 1.
func (ch *Channel) SetPreference(p int) error {
	if p < -1 || p > 1 {
		return ErrBadPreference
	}
	ch.preference = p
	return nil
}

// ScheduleAll reports the schedule-all flag.
func (ch *Channel) ScheduleAll() bool { return ch.scheduleAll }

// SetScheduleAll sets the schedule-all flag.
func (ch *Channel) SetScheduleAll(flag bool) { ch.scheduleAll = flag }

// insert queues t waiting in direction dir at a position from remove.
func (ch *Channel) insert(t *Tasklet, dir int8, at *Tasklet) {
	ch.queue.restore(t, at)
	t.blocked = dir
	t.channel = ch
	ch.balance += int(dir)
}

// remove unblocks t and returns what insert needs to undo it.
func (ch *Channel) remove(t *Tasklet) (dir int8, at *Tasklet) {
	dir = t.blocked
	at = ch.queue.cut(t)
	ch.balance -= int(dir)
	t.blocked = 0
	t.channel = nil
	return dir, at
}

func (ch *Channel) removeTasklet(t *Tasklet) { ch.remove(t) }

// Send sends v. It blocks until a receiver takes it unless a receiver is
// already waiting.
func (ch *Channel) Send(s *Scheduler, v any) error {
	if err := s.enterOp(); err != nil {
		return err
	}
	_, err := ch.action(s, v, 1)
	return err
}

// Receive receives a value, blocking until a sender provides one. A sent
// error ([Channel.SendException]) is returned as the error.
func (ch *Channel) Receive(s *Scheduler) (any, error) {
	if err := s.enterOp(); err != nil {
		return nil, err
	}
	return ch.action(s, nil, -1)
}

// SendException sends err so that the receiver's Receive fails with it.
func (ch *Channel) SendException(s *Scheduler, err error, value any) error {
	return ch.Send(s, NewBomb(err, value, "channel"))
}

// SendThrow sends err as is: the receiver gets back exactly err wrapped in
// a [Bomb] without an associated value.
func (ch *Channel) SendThrow(s *Scheduler, err error) error {
	return ch.Send(s, asBomb(err, "channel"))
}

// SendSequence sends every value of seq and returns how many were sent.
func (ch *Channel) SendSequence(s *Scheduler, seq iter.Seq[any]) (int, error) {
	n := 0
	for v := range seq {
		if err := ch.Send(s, v); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// All receives values until the channel is closing with no sender
// waiting. A receive error is yielded once and ends the iteration.
func (ch *Channel) All(s *Scheduler) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for {
			if ch.closing && ch.balance <= 0 {
				return
			}
			v, err := ch.Receive(s)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// TrySend sends v only when a receiver is waiting. Otherwise it returns
// [iox.ErrWouldBlock] and the caller keeps running.
func (ch *Channel) TrySend(s *Scheduler, v any) error {
	if err := s.guard(); err != nil {
		return err
	}
	if ch.balance >= 0 {
		return iox.ErrWouldBlock
	}
	_, err := ch.action(s, v, 1)
	return err
}

// TryReceive receives only when a sender is waiting. Otherwise it returns
// [iox.ErrWouldBlock].
func (ch *Channel) TryReceive(s *Scheduler) (any, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if ch.balance <= 0 {
		return nil, iox.ErrWouldBlock
	}
	return ch.action(s, nil, -1)
}

// Destroy wakes every waiting tasklet with [ErrChannelDestroyed] and
// closes the channel. It returns the number of tasklets woken.
func (ch *Channel) Destroy(s *Scheduler) int {
	n := 0
	for ch.queue.head != nil {
		t := ch.queue.head
		ch.remove(t)
		t.tempval = NewBomb(ErrChannelDestroyed, nil, "channel")
		if ts := t.thread; ts != nil && !ts.closed {
			ts.currentInsert(t)
			if ts != s {
				ts.threadUnblock()
			}
		}
		n++
	}
	ch.closing = true
	return n
}

// action performs one send (dir 1) or receive (dir -1) for the current
// tasklet of s and returns the value it claims when it runs again.
func (ch *Channel) action(s *Scheduler, arg any, dir int8) (any, error) {
	source := s.cur()
	cando := (dir > 0 && ch.balance < 0) || (dir < 0 && ch.balance > 0)
	interthread := cando && ch.queue.head.thread != s
	old := source.setval(arg)
	if !interthread {
		if err := s.notifyChannel(ch, source, dir, !cando); err != nil {
			source.tempval = old
			return nil, err
		}
	}
	var (
		v   any
		err error
	)
	if cando {
		v, err = ch.cando(s, dir)
	} else {
		v, err = ch.block(s, dir)
	}
	if err != nil {
		source.tempval = old
		return nil, err
	}
	if interthread {
		if err := s.notifyChannel(ch, source, dir, false); err != nil {
			return nil, err
		}
	}
	return explode(v)
}

// cando hands the values over to the first waiting partner.
func (ch *Channel) cando(s *Scheduler, dir int8) (any, error) {
	source := s.cur()
	target := ch.queue.head
	_, at := ch.remove(target)
	interthread := target.thread != s
	swapval(source, target)

	switchto := target
	var flags runFlags
	if !interthread {
		switch {
		case ch.scheduleAll:
			s.currentInsert(target)
			switchto = source.next
		case ch.preference == -int(dir):
			s.currentInsertAfter(target)
			flags = flagNoSoftIRQ
		default:
			s.currentInsert(target)
			switchto = source
			flags = flagNoSoftIRQ
		}
	}

	old := s.runflags
	s.runflags |= flags
	v, _, err := s.scheduleTask(source, switchto)
	if err != nil {
		s.runflags = old
		if !interthread {
			s.currentRemoveTasklet(target)
			s.setCurrent(source)
		}
		ch.insert(target, -dir, at)
		swapval(source, target)
		return nil, err
	}
	return v, nil
}

// block queues the current tasklet and switches away.
func (ch *Channel) block(s *Scheduler, dir int8) (any, error) {
	source := s.cur()
	if source.blockTrap {
		return nil, ErrBlockTrap
	}
	if ch.closing {
		return nil, ErrChannelClosed
	}
	s.currentRemove()
	ch.insert(source, dir, nil)
	v, _, err := s.scheduleTask(source, s.cur())
	if err != nil {
		ch.remove(source)
		s.currentUnremove(source)
		return nil, err
	}
	return v, nil
}
