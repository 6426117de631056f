// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stackless provides cooperative tasklets with manual context
// switching, synchronous channels and watchdog timeslicing.
//
// Many tasklets run inside one thread and switch only at explicit points:
// a schedule, a channel operation, a checkpoint. Several threads may exist;
// they share one execution token, so at most one of them runs tasklet code
// at any time.
//
// # Threads
//
// A thread is a goroutine attached to a [Runtime]:
//
//   - [Runtime.NewScheduler]: attach the calling goroutine
//   - [Runtime.Go]: start a new thread running a function on its main tasklet
//   - [Scheduler.Close]: kill the remaining tasklets and detach
//
// The goroutine's own stack is the thread's main tasklet. [Scheduler.Run]
// runs the other tasklets with main acting as watchdog.
//
// # Two Kinds of Tasklets
//
// Hard tasklets ([Scheduler.Spawn]) run a [Func] on a native stack of their
// own. They may switch anywhere in their call tree through the blocking
// API:
//
//   - [Scheduler.Schedule], [Scheduler.ScheduleRemove]
//   - [Channel.Send], [Channel.Receive]
//   - [Tasklet.Run], [Tasklet.Switch], [Tasklet.Kill], [Tasklet.Throw]
//
// A native stack is a Go runtime coroutine (the primitive behind
// [iter.Pull]). Stacks are recycled through a per-thread cache keyed by
// size class.
//
// Soft tasklets ([Scheduler.SpawnSoft]) are continuations built with
// [code.hybscloud.com/kont]. They switch by performing operations
// ([Yield], [SendTo], [ReceiveFrom], [Tick], [RunTasklet], [SwitchTo],
// [KillTasklet]); the thread's dispatcher steps them one operation at a
// time and parks the suspension when they switch away. A soft switch needs
// no native stack. Each operation resumes with a [Result]:
//
//	eff := kont.Bind(stackless.ReceiveFrom(ch), stackless.Then(func(v any) kont.Eff[error] {
//		return kont.Bind(stackless.SendTo(out, v), stackless.Then(func(any) kont.Eff[error] {
//			return stackless.Done()
//		}))
//	}))
//
// Both kinds share run queues and channels. With soft switching disabled
// ([Runtime.EnableSoftSwitch]) soft tasklets are moved onto native stacks.
//
// # Channels
//
// A [Channel] is a rendezvous: a sender waits for a receiver and the other
// way round. The balance counts the waiters, positive for senders and
// negative for receivers. The preference selects who runs after a
// rendezvous. [Channel.TrySend] and [Channel.TryReceive] return
// [code.hybscloud.com/iox.ErrWouldBlock] instead of blocking.
//
// # Deferred Errors
//
// Errors travel between tasklets as a [Bomb] stored in the receiving
// tasklet's value slot. The bomb explodes, that is the error is returned,
// when that tasklet runs again. Killing a tasklet is throwing
// [ErrTaskletExit] into it.
//
// # Watchdog
//
// [Scheduler.Run] with a Timeout counts ticks and interrupts the running
// tasklet when the budget is used up, returning it to the caller. An
// atomic tasklet ([Tasklet.SetAtomic]), a tasklet inside [Scheduler.Nest]
// and a thread with a switch trap are not interrupted; the interrupt is
// deferred instead.
//
// # Configuration and Logging
//
// [Config] can be loaded from YAML ([LoadConfig]). Sizes accept units such
// as 8KB. Diagnostics go to a [log/slog] logger.
package stackless
