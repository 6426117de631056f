// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stackless

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"
)

// Size is a byte count. In configuration files it is written either as a
// plain integer or with a unit: 8KB, 8KiB, 1MB, 1MiB. Units are powers of
// 1024 in both spellings.
type Size int

// binaryUnits maps IEC suffixes onto the 1024-based units of bytesize.
var binaryUnits = strings.NewReplacer("KiB", "KB", "MiB", "MB", "GiB", "GB", "TiB", "TB")

// ParseSize parses a byte count with an optional unit.
func ParseSize(s string) (Size, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return Size(n), nil
	}
	b, err := bytesize.Parse(binaryUnits.Replace(s))
	if err != nil {
		return 0, err
	}
	return Size(b), nil
}

func (s Size) String() string { return bytesize.ByteSize(s).String() }

// Set implements flag.Value.
func (s *Size) Set(v string) error {
	n, err := ParseSize(v)
	if err != nil {
		return err
	}
	*s = n
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(unmarshal func(any) error) error {
	var n int
	if err := unmarshal(&n); err == nil {
		*s = Size(n)
		return nil
	}
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	return s.Set(str)
}

// MarshalYAML implements yaml.Marshaler.
func (s Size) MarshalYAML() (any, error) { return s.String(), nil }

// Config configures a [Runtime].
type Config struct {
	// StackSize is the stack reserved for a hard tasklet that has no
	// size hint of its own. Zero selects the smallest stack, one
	// [StackQuantum].
	StackSize Size `yaml:"stack_size"`
	// MaxSlotSize is the stack cache ceiling: larger stacks are never
	// cached.
	MaxSlotSize Size `yaml:"max_slot_size"`
	// MaxCacheCount is the number of cached stacks that triggers a flush.
	MaxCacheCount int `yaml:"max_cache_count"`
	// Preference is the preference of channels made by
	// [Runtime.NewChannel].
	Preference int `yaml:"preference"`
	// SoftSwitch enables soft switching of continuation tasklets.
	SoftSwitch bool `yaml:"soft_switch"`
	// LockOSThread pins threads started by [Runtime.Go] to their OS
	// thread.
	LockOSThread bool `yaml:"lock_os_thread"`

	Logger *slog.Logger `yaml:"-"`
}

// Configuration errors.
var (
	ErrBadStackSize = errors.New("stackless: stack size must not be negative")
	ErrBadSlotSize  = errors.New("stackless: max slot size must be at least one stack quantum")
	ErrBadCacheSize = errors.New("stackless: max cache count must be positive")
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		StackSize:     8 * StackQuantum,
		MaxSlotSize:   DefaultMaxSlotSize * StackQuantum,
		MaxCacheCount: DefaultMaxCacheCount,
		Preference:    -1,
		SoftSwitch:    true,
	}
}

// Validate checks c.
func (c Config) Validate() error {
	switch {
	case c.StackSize < 0:
		return ErrBadStackSize
	case c.MaxSlotSize < StackQuantum:
		return ErrBadSlotSize
	case c.MaxCacheCount <= 0:
		return ErrBadCacheSize
	case c.Preference < -1 || c.Preference > 1:
		return ErrBadPreference
	}
	return nil
}

// LoadConfig reads a YAML configuration. Missing keys keep their
// defaults; unknown keys are an error.
func LoadConfig(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	c := DefaultConfig()
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return Config{}, err
		}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return LoadConfig(f)
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// NewChannel returns a channel with the configured preference.
func (rt *Runtime) NewChannel() *Channel {
	return &Channel{preference: rt.cfg.Preference}
}
