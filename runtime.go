// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

// Runtime is the process-wide part of the scheduler: the execution token,
// the thread list, the chain of live stacks, callbacks and configuration.
//
// Exactly one thread holds the execution token at a time. A thread takes it
// when it is attached and keeps it until it closes, except while it is
// blocked waiting for work or when it hands the token over at a
// checkpoint because another thread waits for it.
type Runtime struct {
	cfg Config
	log *slog.Logger

	gil      sync.Mutex
	waiting  atomix.Uint32
	handoffs atomix.Uint64
	owner    *Scheduler

	mu       sync.Mutex
	threads  []*Scheduler
	initial  *Scheduler
	starting atomix.Uint32

	chain sliceChain
	ids   atomix.Uint64
	tids  atomix.Uint64

	softswitch   bool
	scheduleHook ScheduleCallback
	channelHook  ChannelCallback
	errorHandler ErrorHandler
}

// NewRuntime returns a runtime configured by cfg.
func NewRuntime(cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}
	return &Runtime{cfg: cfg, log: cfg.Logger, softswitch: cfg.SoftSwitch}, nil
}

// Config returns the configuration of the runtime.
func (rt *Runtime) Config() Config { return rt.cfg }

// NewScheduler attaches the calling goroutine as a new thread and gives it
// the execution token. The goroutine's own stack becomes the main tasklet.
// The thread ends with [Scheduler.Close].
func (rt *Runtime) NewScheduler() *Scheduler {
	s := rt.newScheduler()
	rt.attach(s)
	return s
}

func (rt *Runtime) newScheduler() *Scheduler {
	s := &Scheduler{
		rt:    rt,
		id:    rt.tids.Add(1),
		osTID: gettid(),
		cache: NewStackCache(int(rt.cfg.MaxSlotSize)/StackQuantum, rt.cfg.MaxCacheCount),
		stub:  newSlice(0),
	}
	s.cond = sync.NewCond(&rt.gil)
	s.cache.chain = &rt.chain
	s.cache.onFlush = func(n int) {
		rt.log.Debug("stack cache flushed", "thread", s.id, "slices", n)
	}
	s.stub.thread = s
	main := &Tasklet{id: rt.ids.Add(1), rt: rt, thread: s, kind: resumeRoot, isMain: true}
	s.stub.task = main
	s.main = main
	s.currentInsert(main)
	s.transfer(main, nil)
	return s
}

// attach takes the token and registers s.
func (rt *Runtime) attach(s *Scheduler) {
	rt.acquire(s)
	rt.chain.add(s.stub)
	rt.mu.Lock()
	rt.threads = append(rt.threads, s)
	if rt.initial == nil {
		rt.initial = s
	}
	rt.mu.Unlock()
}

// detach unregisters s. The caller still holds the token.
func (rt *Runtime) detach(s *Scheduler) {
	rt.chain.remove(s.stub)
	rt.mu.Lock()
	for i, ts := range rt.threads {
		if ts == s {
			rt.threads = append(rt.threads[:i], rt.threads[i+1:]...)
			break
		}
	}
	if rt.initial == s {
		rt.initial = nil
	}
	rt.mu.Unlock()
}

func (rt *Runtime) acquire(s *Scheduler) {
	rt.waiting.Add(1)
	rt.gil.Lock()
	rt.waiting.Add(^uint32(0))
	rt.handoffs.Add(1)
	rt.owner = s
}

func (rt *Runtime) release() {
	rt.owner = nil
	rt.gil.Unlock()
}

// yieldToken hands the token to a waiting thread, if any, and takes it
// back afterwards.
func (rt *Runtime) yieldToken(s *Scheduler) {
	if rt.waiting.Load() == 0 {
		return
	}
	gen := rt.handoffs.Load()
	rt.release()
	var bo iox.Backoff
	for rt.handoffs.Load() == gen {
		bo.Wait()
	}
	rt.acquire(s)
}

// deadlocked reports whether every thread but self is blocked. Threads
// that are still starting count as running.
func (rt *Runtime) deadlocked(self *Scheduler) bool {
	if rt.starting.Load() > 0 {
		return false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, ts := range rt.threads {
		if ts != self && !ts.blocked {
			return false
		}
	}
	return true
}

// Thread is a scheduler thread started by [Runtime.Go].
type Thread struct {
	ready chan struct{}
	done  chan struct{}
	sched *Scheduler
	err   error
}

// Scheduler returns the scheduler of the thread once it exists.
func (th *Thread) Scheduler() *Scheduler {
	<-th.ready
	return th.sched
}

// Wait waits for the thread to end and returns the error of its function.
// Callers holding the execution token use [Scheduler.Join] instead.
func (th *Thread) Wait() error {
	<-th.done
	return th.err
}

// Done is closed when the thread ended.
func (th *Thread) Done() <-chan struct{} { return th.done }

// Go starts a new thread that runs fn on its main tasklet and closes its
// scheduler when fn returns.
func (rt *Runtime) Go(fn func(s *Scheduler) error) *Thread {
	th := &Thread{ready: make(chan struct{}), done: make(chan struct{})}
	rt.starting.Add(1)
	go func() {
		defer close(th.done)
		if rt.cfg.LockOSThread {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
		}
		s := rt.newScheduler()
		th.sched = s
		close(th.ready)
		rt.attach(s)
		rt.starting.Add(^uint32(0))
		rt.log.Debug("thread started", "thread", s.id, "tid", s.osTID)
		err := fn(s)
		if cerr := s.Close(); err == nil && !errors.Is(cerr, ErrClosed) {
			err = cerr
		}
		th.err = err
	}()
	return th
}

// Threads returns the ids of the attached threads.
func (rt *Runtime) Threads() []uint64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ids := make([]uint64, len(rt.threads))
	for i, ts := range rt.threads {
		ids[i] = ts.id
	}
	return ids
}

// ThreadInfo describes one thread.
type ThreadInfo struct {
	Main     *Tasklet
	Current  *Tasklet
	Runcount int
}

// ThreadInfo returns the state of thread id. The caller holds the token.
func (rt *Runtime) ThreadInfo(id uint64) (ThreadInfo, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, ts := range rt.threads {
		if ts.id == id {
			return ThreadInfo{Main: ts.main, Current: ts.cur(), Runcount: ts.runq.n}, nil
		}
	}
	return ThreadInfo{}, ErrNoThread
}

// EnableSoftSwitch turns soft switching on or off and returns the previous
// setting. With soft switching off, continuation tasklets are moved onto
// native stacks the next time they run.
func (rt *Runtime) EnableSoftSwitch(flag bool) bool {
	old := rt.softswitch
	rt.softswitch = flag
	return old
}

// CacheStats sums the stack cache statistics of every thread.
func (rt *Runtime) CacheStats() CacheStats {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var st CacheStats
	for _, ts := range rt.threads {
		c := ts.cache.Stats()
		st.Cached += c.Cached
		st.Hits += c.Hits
		st.Misses += c.Misses
		st.Flushes += c.Flushes
	}
	return st
}

// LiveStacks returns the number of stacks owned by tasklets, thread stubs
// included. Cached stacks are not counted.
func (rt *Runtime) LiveStacks() int { return rt.chain.len() }
