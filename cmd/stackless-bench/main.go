// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command stackless-bench runs scheduling scenarios and reports their
// throughput.
//
// Flags may also be given in STACKLESS_BENCH_FLAGS; they are parsed with
// shell quoting before the command line.
//
//	stackless-bench -scenario pingpong -n 100000 -stack 16KB
//	stackless-bench -scenario pipeline -stages 4 -soft
//	stackless-bench -scenario watchdog -timeout 50 -workers 8
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"code.hybscloud.com/kont"
	"code.hybscloud.com/stackless"
	"github.com/google/shlex"
	"github.com/mattn/go-colorable"
)

const envFlags = "STACKLESS_BENCH_FLAGS"

type options struct {
	config   string
	scenario string
	n        int
	stages   int
	workers  int
	timeout  int64
	soft     bool
	verbose  bool
	stack    stackless.Size
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "stackless-bench:", err)
		os.Exit(1)
	}
}

func parse(args []string) (options, error) {
	if env := os.Getenv(envFlags); env != "" {
		extra, err := shlex.Split(env)
		if err != nil {
			return options{}, fmt.Errorf("%s: %w", envFlags, err)
		}
		args = append(extra, args...)
	}
	var o options
	fs := flag.NewFlagSet("stackless-bench", flag.ContinueOnError)
	fs.StringVar(&o.config, "config", "", "YAML configuration `file`")
	fs.StringVar(&o.scenario, "scenario", "pingpong", "pingpong, pipeline or watchdog")
	fs.IntVar(&o.n, "n", 100000, "number of values or ticks")
	fs.IntVar(&o.stages, "stages", 4, "pipeline stages")
	fs.IntVar(&o.workers, "workers", 4, "watchdog workers")
	fs.Int64Var(&o.timeout, "timeout", 100, "watchdog tick budget")
	fs.BoolVar(&o.soft, "soft", false, "run tasklets as continuations")
	fs.BoolVar(&o.verbose, "v", false, "log at debug level")
	fs.Var(&o.stack, "stack", "stack `size` of hard tasklets, e.g. 16KB")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.n <= 0 || o.stages <= 0 || o.workers <= 0 || o.timeout <= 0 {
		return options{}, errors.New("counts must be positive")
	}
	return o, nil
}

func run(args []string) error {
	o, err := parse(args)
	if err != nil {
		return err
	}
	cfg := stackless.DefaultConfig()
	if o.config != "" {
		if cfg, err = stackless.LoadConfigFile(o.config); err != nil {
			return err
		}
	}
	if o.stack > 0 {
		cfg.StackSize = o.stack
	}
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(colorable.NewColorableStderr(), &slog.HandlerOptions{Level: level}))
	cfg.Logger = log

	rt, err := stackless.NewRuntime(cfg)
	if err != nil {
		return err
	}
	s := rt.NewScheduler()
	defer s.Close()

	var scenario func(*stackless.Runtime, *stackless.Scheduler, options) (int, error)
	switch o.scenario {
	case "pingpong":
		scenario = pingPong
	case "pipeline":
		scenario = pipeline
	case "watchdog":
		scenario = watchdog
	default:
		return fmt.Errorf("unknown scenario %q", o.scenario)
	}

	start := time.Now()
	ops, err := scenario(rt, s, o)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	st := s.CacheStats()
	log.Info("finished",
		"scenario", o.scenario,
		"soft", o.soft,
		"ops", ops,
		"elapsed", elapsed,
		"per_op", elapsed/time.Duration(max(ops, 1)),
		"stack", cfg.StackSize.String(),
		"cache_hits", st.Hits,
		"cache_misses", st.Misses,
		"cache_flushes", st.Flushes,
	)
	return nil
}

// spawn starts a hard tasklet running fn or a soft one running eff.
func spawn(s *stackless.Scheduler, soft bool, fn stackless.Func, eff func() kont.Eff[error]) error {
	if soft {
		_, err := s.SpawnSoft(eff())
		return err
	}
	_, err := s.Spawn(fn)
	return err
}

// relay receives n values from in and sends each to out.
func relay(s *stackless.Scheduler, in, out *stackless.Channel, n int) (stackless.Func, func() kont.Eff[error]) {
	fn := func(*stackless.Tasklet, ...any) error {
		for range n {
			v, err := in.Receive(s)
			if err != nil {
				return err
			}
			if err := out.Send(s, v); err != nil {
				return err
			}
		}
		return nil
	}
	var step func(i int) kont.Eff[error]
	step = func(i int) kont.Eff[error] {
		if i == n {
			return stackless.Done()
		}
		return kont.Bind(stackless.ReceiveFrom(in), stackless.Then(func(v any) kont.Eff[error] {
			return kont.Bind(stackless.SendTo(out, v), stackless.Then(func(any) kont.Eff[error] {
				return step(i + 1)
			}))
		}))
	}
	return fn, func() kont.Eff[error] { return step(0) }
}

// pingPong bounces n values between main's partner and an echo tasklet.
func pingPong(rt *stackless.Runtime, s *stackless.Scheduler, o options) (int, error) {
	ping, pong := rt.NewChannel(), rt.NewChannel()
	fn, eff := relay(s, ping, pong, o.n)
	if err := spawn(s, o.soft, fn, eff); err != nil {
		return 0, err
	}
	var sum int
	_, err := s.Spawn(func(*stackless.Tasklet, ...any) error {
		for i := range o.n {
			if err := ping.Send(s, i); err != nil {
				return err
			}
			v, err := pong.Receive(s)
			if err != nil {
				return err
			}
			sum += v.(int)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if _, err := s.Run(stackless.RunOptions{}); err != nil {
		return 0, err
	}
	if want := o.n * (o.n - 1) / 2; sum != want {
		return 0, fmt.Errorf("pingpong: checksum %d, want %d", sum, want)
	}
	return 2 * o.n, nil
}

// pipeline pushes n values through a chain of relay stages.
func pipeline(rt *stackless.Runtime, s *stackless.Scheduler, o options) (int, error) {
	head := rt.NewChannel()
	in := head
	for range o.stages {
		out := rt.NewChannel()
		fn, eff := relay(s, in, out, o.n)
		if err := spawn(s, o.soft, fn, eff); err != nil {
			return 0, err
		}
		in = out
	}
	tail := in
	_, err := s.Spawn(func(*stackless.Tasklet, ...any) error {
		_, err := head.SendSequence(s, func(yield func(any) bool) {
			for i := range o.n {
				if !yield(i) {
					return
				}
			}
		})
		head.Close()
		return err
	})
	if err != nil {
		return 0, err
	}
	got := 0
	_, err = s.Spawn(func(*stackless.Tasklet, ...any) error {
		for range o.n {
			v, err := tail.Receive(s)
			if err != nil {
				return err
			}
			if v.(int) != got {
				return fmt.Errorf("pipeline: got %v, want %d", v, got)
			}
			got++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if _, err := s.Run(stackless.RunOptions{}); err != nil {
		return 0, err
	}
	return o.n * (o.stages + 1), nil
}

// watchdog timeslices busy workers until n ticks were spent and returns
// the number of preemptions.
func watchdog(_ *stackless.Runtime, s *stackless.Scheduler, o options) (int, error) {
	for range o.workers {
		var loop func() kont.Eff[error]
		loop = func() kont.Eff[error] {
			return kont.Bind(stackless.Tick(), stackless.Then(func(any) kont.Eff[error] {
				return loop()
			}))
		}
		busy := func(*stackless.Tasklet, ...any) error {
			for {
				if err := s.Checkpoint(); err != nil {
					return err
				}
			}
		}
		if err := spawn(s, o.soft, busy, loop); err != nil {
			return 0, err
		}
	}
	start := s.Tick()
	preemptions := 0
	for s.Tick()-start < int64(o.n) {
		victim, err := s.Run(stackless.RunOptions{Timeout: o.timeout})
		if err != nil {
			return preemptions, err
		}
		if victim == nil {
			return preemptions, errors.New("watchdog: workers ended")
		}
		preemptions++
		if err := victim.Insert(); err != nil {
			return preemptions, err
		}
	}
	return preemptions, nil
}
