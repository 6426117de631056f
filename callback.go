// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

// ScheduleCallback observes every switch. prev is the tasklet leaving, next
// the one about to run; prev may already be dead. An error is logged and
// otherwise ignored. Switching from inside the callback panics.
type ScheduleCallback func(prev, next *Tasklet) error

// ChannelCallback observes every channel operation before it happens. An
// error aborts the operation with that error. Channel operations from
// inside the callback fail with [ErrRecursiveCallback].
type ChannelCallback func(ch *Channel, t *Tasklet, sending, willBlock bool) error

// ErrorHandler sees the error a tasklet ended with. Returning nil swallows
// it; a non-nil return is delivered to the watchdog instead.
type ErrorHandler func(t *Tasklet, err error) error

// SetScheduleCallback installs cb and returns the previous callback.
func (rt *Runtime) SetScheduleCallback(cb ScheduleCallback) ScheduleCallback {
	old := rt.scheduleHook
	rt.scheduleHook = cb
	return old
}

// SetChannelCallback installs cb and returns the previous callback.
func (rt *Runtime) SetChannelCallback(cb ChannelCallback) ChannelCallback {
	old := rt.channelHook
	rt.channelHook = cb
	return old
}

// SetErrorHandler installs h and returns the previous handler.
func (rt *Runtime) SetErrorHandler(h ErrorHandler) ErrorHandler {
	old := rt.errorHandler
	rt.errorHandler = h
	return old
}

func (s *Scheduler) notifySchedule(prev, next *Tasklet) {
	cb := s.rt.scheduleHook
	if cb == nil {
		return
	}
	if s.schedlock {
		panic("stackless: recursive scheduler call due to callbacks")
	}
	s.schedlock = true
	err := cb(prev, next)
	s.schedlock = false
	if err != nil {
		s.rt.log.Warn("schedule callback failed", "prev", prev.String(), "next", next.String(), "error", err)
	}
}

func (s *Scheduler) notifyChannel(ch *Channel, t *Tasklet, dir int8, willBlock bool) error {
	cb := s.rt.channelHook
	if cb == nil {
		return nil
	}
	if s.schedlock {
		return ErrRecursiveCallback
	}
	s.schedlock = true
	err := cb(ch, t, dir > 0, willBlock)
	s.schedlock = false
	return err
}
