// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless_test

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"code.hybscloud.com/stackless"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := stackless.LoadConfig(strings.NewReader(`
stack_size: 16KB
max_cache_count: 10
preference: 0
soft_switch: false
`))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StackSize != 16<<10 {
		t.Fatalf("stack size: got %d, want %d", cfg.StackSize, 16<<10)
	}
	if cfg.MaxCacheCount != 10 || cfg.Preference != 0 || cfg.SoftSwitch {
		t.Fatalf("got %+v", cfg)
	}
	if def := stackless.DefaultConfig(); cfg.MaxSlotSize != def.MaxSlotSize {
		t.Fatalf("missing key lost its default: got %d, want %d", cfg.MaxSlotSize, def.MaxSlotSize)
	}

	cfg, err = stackless.LoadConfig(strings.NewReader("stack_size: 4096\n"))
	if err != nil || cfg.StackSize != 4096 {
		t.Fatalf("got %d %v, want 4096", cfg.StackSize, err)
	}

	cfg, err = stackless.LoadConfig(strings.NewReader(""))
	if err != nil || cfg != stackless.DefaultConfig() {
		t.Fatalf("empty input: got %+v %v, want defaults", cfg, err)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want error
	}{
		{"negative stack", "stack_size: -1\n", stackless.ErrBadStackSize},
		{"tiny slot", "max_slot_size: 10\n", stackless.ErrBadSlotSize},
		{"no cache", "max_cache_count: 0\n", stackless.ErrBadCacheSize},
		{"preference", "preference: 2\n", stackless.ErrBadPreference},
	}
	for _, c := range cases {
		if _, err := stackless.LoadConfig(strings.NewReader(c.in)); !errors.Is(err, c.want) {
			t.Fatalf("%s: got %v, want %v", c.name, err, c.want)
		}
	}
	if _, err := stackless.LoadConfig(strings.NewReader("stack_sise: 1KB\n")); err == nil {
		t.Fatalf("unknown key accepted")
	}
	if _, err := stackless.LoadConfig(strings.NewReader("stack_size: lots\n")); err == nil {
		t.Fatalf("bad size accepted")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackless.yaml")
	if err := os.WriteFile(path, []byte("max_slot_size: 2MB\nlock_os_thread: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := stackless.LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.MaxSlotSize != 2<<20 || !cfg.LockOSThread {
		t.Fatalf("got %+v", cfg)
	}
	if _, err := stackless.LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got %v, want ErrNotExist", err)
	}
}

func TestSizeFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var size stackless.Size
	fs.Var(&size, "stack", "stack size")
	if err := fs.Parse([]string{"-stack", "32KB"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if size != 32<<10 {
		t.Fatalf("got %d, want %d", size, 32<<10)
	}
	if n, err := stackless.ParseSize("123"); err != nil || n != 123 {
		t.Fatalf("got %d %v, want 123", n, err)
	}
	if back, err := stackless.ParseSize(size.String()); err != nil || back != size {
		t.Fatalf("%q parsed back as %d %v", size.String(), back, err)
	}
	for in, want := range map[string]stackless.Size{
		"8KB":  8 << 10,
		"8KiB": 8 << 10,
		"1MB":  1 << 20,
		"1MiB": 1 << 20,
		"2GiB": 2 << 30,
	} {
		if n, err := stackless.ParseSize(in); err != nil || n != want {
			t.Fatalf("%s: got %d %v, want %d", in, n, err, want)
		}
	}
	cfg, err := stackless.LoadConfig(strings.NewReader("stack_size: 16KiB\n"))
	if err != nil || cfg.StackSize != 16<<10 {
		t.Fatalf("got %d %v, want %d", cfg.StackSize, err, 16<<10)
	}
}

func TestZeroStackSize(t *testing.T) {
	cfg := stackless.DefaultConfig()
	cfg.StackSize = 0
	_, s := newSchedConfig(t, cfg)
	ran := 0
	for range 2 {
		spawn(t, s, func(*stackless.Tasklet, ...any) error {
			ran++
			return s.Schedule()
		})
	}
	runAll(t, s)
	if ran != 2 {
		t.Fatalf("got %d, want 2", ran)
	}
}

func TestRuntimeUsesConfig(t *testing.T) {
	cfg := stackless.DefaultConfig()
	cfg.Preference = 1
	cfg.StackSize = 32 << 10
	if _, err := stackless.NewRuntime(stackless.Config{}); !errors.Is(err, stackless.ErrBadSlotSize) {
		t.Fatalf("zero config: got %v, want ErrBadSlotSize", err)
	}
	rt, s := newSchedConfig(t, cfg)
	if got := rt.NewChannel().Preference(); got != 1 {
		t.Fatalf("preference: got %d, want 1", got)
	}
	spawn(t, s, func(*stackless.Tasklet, ...any) error { return nil })
	runAll(t, s)
	if st := s.CacheStats(); st.Misses != 1 || st.Cached != 1 {
		t.Fatalf("got %+v, want one stack created and cached", st)
	}
}
