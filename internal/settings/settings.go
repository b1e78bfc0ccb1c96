// Package settings loads the scrollglide YAML configuration.
//
// Configuration is layered: DefaultConfig, then the file, then flag overrides,
// then Validate. The rest of the code can assume a well-formed config.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"scrollglide/internal/capture"
	"scrollglide/internal/easing"
	"scrollglide/internal/logging"
	"scrollglide/internal/physics"
	"scrollglide/internal/router"
)

// Config is the top-level YAML configuration for the scrollglide daemon.
type Config struct {
	// Wheel input capture
	Capture CaptureConfig `yaml:"capture"`

	// Physics engine (global values)
	Engine EngineFileConfig `yaml:"engine"`

	// Raw delta multiplier applied before the engine
	ScrollMultiplier float64 `yaml:"scroll_multiplier"`

	// Per-process overrides, keyed by process name (case-insensitive)
	PerApp map[string]AppOverride `yaml:"per_app,omitempty"`

	// Processes whose wheel events are never touched
	ExcludedApps []string `yaml:"excluded_apps"`

	// Simulation cadence
	Clock ClockConfig `yaml:"clock"`

	// Telemetry WebSocket server
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// IPC control socket
	IPC IPCConfig `yaml:"ipc"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Our own process name; events from it always pass through
	SelfName string `yaml:"self_name"`
}

type CaptureConfig struct {
	// Wheel devices (evdev)
	Pointers []string `yaml:"pointers"`
	// Read only for the Ctrl zoom modifier
	Keyboards []string `yaml:"keyboards,omitempty"`
	// Exclusive access; whatever is not consumed is re-emitted
	Grab bool `yaml:"grab"`
	// Virtual pointer used for output
	UinputPath string `yaml:"uinput_path"`
	DeviceName string `yaml:"device_name"`

	// Command printing the focused window's pid; empty disables per-app rules
	FocusCommand []string `yaml:"focus_command,omitempty"`
	FocusPollMS  int      `yaml:"focus_poll_ms,omitempty"`
}

// EngineFileConfig is the user-facing engine configuration as represented in YAML.
//
// It maps 1:1 to physics.Config, but uses YAML-friendly types
// (e.g., glide delay in milliseconds, easing by name).
type EngineFileConfig struct {
	Smoothness          float64 `yaml:"smoothness"`
	Acceleration        float64 `yaml:"acceleration"`
	Friction            float64 `yaml:"friction"`
	MinVelocity         float64 `yaml:"min_velocity"`
	MaxVelocity         float64 `yaml:"max_velocity"`
	SmoothStopThreshold float64 `yaml:"smooth_stop_threshold"`
	MinScrollStep       float64 `yaml:"min_scroll_step"`
	Momentum            float64 `yaml:"momentum"`
	GlideDecay          float64 `yaml:"glide_decay"`
	GlideTriggerDelayMS int     `yaml:"glide_trigger_delay_ms"`
	Easing              string  `yaml:"easing"`
	AccelerationEnabled bool    `yaml:"acceleration_enabled"`
	Enabled             bool    `yaml:"enabled"`
}

// AppOverride is a partial engine configuration for one process.
// Omitted fields inherit the global value; enabled defaults to true.
type AppOverride struct {
	Enabled          *bool    `yaml:"enabled,omitempty"`
	Smoothness       *float64 `yaml:"smoothness,omitempty"`
	Acceleration     *float64 `yaml:"acceleration,omitempty"`
	Friction         *float64 `yaml:"friction,omitempty"`
	Momentum         *float64 `yaml:"momentum,omitempty"`
	ScrollMultiplier *float64 `yaml:"scroll_multiplier,omitempty"`
	Easing           *string  `yaml:"easing,omitempty"`
}

type ClockConfig struct {
	UpdateHz int `yaml:"update_hz"`
}

type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
	// Motion frames are coalesced to at most this many per second
	BroadcastHz int `yaml:"broadcast_hz"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	eng := physics.DefaultConfig()
	return Config{
		Capture: CaptureConfig{
			Pointers:   []string{"/dev/input/event2"},
			Grab:       true,
			UinputPath: "/dev/uinput",
			DeviceName: capture.DefaultVirtualDeviceName,
		},
		Engine: EngineFileConfig{
			Smoothness:          eng.SmoothnessFactor,
			Acceleration:        eng.AccelerationFactor,
			Friction:            eng.FrictionFactor,
			MinVelocity:         eng.MinVelocityThreshold,
			MaxVelocity:         eng.MaxVelocity,
			SmoothStopThreshold: eng.SmoothStopThreshold,
			MinScrollStep:       eng.MinScrollStep,
			Momentum:            eng.MomentumFactor,
			GlideDecay:          eng.GlideDecay,
			GlideTriggerDelayMS: int(eng.GlideTriggerDelay / time.Millisecond),
			Easing:              eng.Easing.String(),
			AccelerationEnabled: eng.AccelerationEnabled,
			Enabled:             eng.Enabled,
		},
		ScrollMultiplier: router.DefaultScrollMultiplier,
		ExcludedApps:     append([]string(nil), router.DefaultExcludedApps...),
		Clock: ClockConfig{
			UpdateHz: physics.DefaultUpdateHz,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Bind:        "127.0.0.1",
			Port:        3002,
			BroadcastHz: 30,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/scrollglide.sock",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		SelfName: "scrollglide",
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Notes:
//   - The file must be valid YAML.
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML on top of DefaultConfig.
func Parse(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// Flags should pass pointers; each override is only applied if the pointer is non-nil.
type FlagOverrides struct {
	Pointer    *string
	Keyboard   *string
	Grab       *bool
	UinputPath *string

	Smoothness   *float64
	Acceleration *float64
	Friction     *float64
	Momentum     *float64
	Easing       *string
	Disabled     *bool

	ScrollMultiplier *float64
	UpdateHz         *int

	TelemetryEnabled *bool
	TelemetryPort    *int

	IPCSocketPath *string
	LogLevel      *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
// If the pointer is non-nil, the value is applied (even if it is a "zero value").
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Pointer != nil {
		cfg.Capture.Pointers = []string{*o.Pointer}
	}
	if o.Keyboard != nil {
		cfg.Capture.Keyboards = []string{*o.Keyboard}
	}
	if o.Grab != nil {
		cfg.Capture.Grab = *o.Grab
	}
	if o.UinputPath != nil {
		cfg.Capture.UinputPath = *o.UinputPath
	}

	if o.Smoothness != nil {
		cfg.Engine.Smoothness = *o.Smoothness
	}
	if o.Acceleration != nil {
		cfg.Engine.Acceleration = *o.Acceleration
	}
	if o.Friction != nil {
		cfg.Engine.Friction = *o.Friction
	}
	if o.Momentum != nil {
		cfg.Engine.Momentum = *o.Momentum
	}
	if o.Easing != nil {
		cfg.Engine.Easing = *o.Easing
	}
	if o.Disabled != nil {
		cfg.Engine.Enabled = !*o.Disabled
	}

	if o.ScrollMultiplier != nil {
		cfg.ScrollMultiplier = *o.ScrollMultiplier
	}
	if o.UpdateHz != nil {
		cfg.Clock.UpdateHz = *o.UpdateHz
	}

	if o.TelemetryEnabled != nil {
		cfg.Telemetry.Enabled = *o.TelemetryEnabled
	}
	if o.TelemetryPort != nil {
		cfg.Telemetry.Port = *o.TelemetryPort
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks structural invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
//
// Engine tuning values are deliberately not range-checked; the engine trusts
// them and out-of-range values only produce odd motion.
func (c *Config) Validate() error {
	// Capture
	if len(c.Capture.Pointers) == 0 {
		return errors.New("capture.pointers must not be empty")
	}
	for i, dev := range c.Capture.Pointers {
		if dev == "" {
			return fmt.Errorf("capture.pointers[%d] is empty", i)
		}
	}
	for i, dev := range c.Capture.Keyboards {
		if dev == "" {
			return fmt.Errorf("capture.keyboards[%d] is empty", i)
		}
	}
	if c.Capture.Grab && c.Capture.UinputPath == "" {
		return errors.New("capture.grab requires capture.uinput_path")
	}
	if c.Capture.FocusPollMS < 0 {
		return errors.New("capture.focus_poll_ms must be >= 0")
	}

	// Engine
	if _, err := easing.ParseKind(c.Engine.Easing); err != nil {
		return fmt.Errorf("engine.easing: %w", err)
	}
	if c.Engine.GlideTriggerDelayMS < 0 {
		return errors.New("engine.glide_trigger_delay_ms must be >= 0")
	}
	for name, o := range c.PerApp {
		if name == "" {
			return errors.New("per_app keys must not be empty")
		}
		if o.Easing != nil {
			if _, err := easing.ParseKind(*o.Easing); err != nil {
				return fmt.Errorf("per_app.%s.easing: %w", name, err)
			}
		}
	}

	// Clock
	if c.Clock.UpdateHz < physics.MinUpdateHz || c.Clock.UpdateHz > physics.MaxUpdateHz {
		return fmt.Errorf("clock.update_hz must be between %d and %d", physics.MinUpdateHz, physics.MaxUpdateHz)
	}

	// Telemetry
	if c.Telemetry.Enabled {
		if c.Telemetry.Port <= 0 || c.Telemetry.Port > 65535 {
			return errors.New("telemetry.port must be between 1 and 65535")
		}
		if c.Telemetry.BroadcastHz <= 0 || c.Telemetry.BroadcastHz > 240 {
			return errors.New("telemetry.broadcast_hz must be between 1 and 240")
		}
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Logging
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToEngineConfig converts the file config into the engine config.
// Call Validate first; an unknown easing name falls back to the default.
func (c *Config) ToEngineConfig() physics.Config {
	kind, _ := easing.ParseKind(c.Engine.Easing)
	return physics.Config{
		SmoothnessFactor:     c.Engine.Smoothness,
		AccelerationFactor:   c.Engine.Acceleration,
		FrictionFactor:       c.Engine.Friction,
		MinVelocityThreshold: c.Engine.MinVelocity,
		MaxVelocity:          c.Engine.MaxVelocity,
		SmoothStopThreshold:  c.Engine.SmoothStopThreshold,
		MinScrollStep:        c.Engine.MinScrollStep,
		MomentumFactor:       c.Engine.Momentum,
		GlideDecay:           c.Engine.GlideDecay,
		GlideTriggerDelay:    time.Duration(c.Engine.GlideTriggerDelayMS) * time.Millisecond,
		Easing:               kind,
		AccelerationEnabled:  c.Engine.AccelerationEnabled,
		Enabled:              c.Engine.Enabled,
	}
}

// ToPolicy builds the routing policy. Call Validate first.
func (c *Config) ToPolicy() *router.Policy {
	overrides := make(map[string]router.Override, len(c.PerApp))
	for name, o := range c.PerApp {
		ro := router.Override{
			Enabled:            o.Enabled == nil || *o.Enabled,
			SmoothnessFactor:   o.Smoothness,
			AccelerationFactor: o.Acceleration,
			FrictionFactor:     o.Friction,
			MomentumFactor:     o.Momentum,
			ScrollMultiplier:   o.ScrollMultiplier,
		}
		if o.Easing != nil {
			if kind, err := easing.ParseKind(*o.Easing); err == nil {
				ro.Easing = &kind
			}
		}
		overrides[name] = ro
	}
	return router.NewPolicy(c.ToEngineConfig(), c.ScrollMultiplier, overrides, c.ExcludedApps, c.SelfName)
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
