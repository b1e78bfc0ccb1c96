// Package physics implements the scroll glide simulation.
//
// An Engine owns at most one active Session. Input arrives through AddDelta (or
// Submit) from the capture goroutine, and a Clock drives Advance at a fixed
// cadence from another goroutine. Both paths serialise on a single mutex that is
// held only for arithmetic; commands produced by a step are emitted to the Sink
// after the lock is released.
package physics

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"scrollglide/internal/easing"
)

// Engine tuning constants that are not user configurable.
const (
	// referenceTick is the step length the per-tick factors are tuned for (120 Hz).
	referenceTick = 8.33 // ms

	// repeatWindow and repeatRamp shape the repeat-rate acceleration:
	// boost = 1 + min(repeatBoostCap, (repeatWindow - elapsed) / repeatRamp).
	repeatWindow   = 150.0 // ms
	repeatRamp     = 100.0 // ms
	repeatBoostCap = 1.5

	// glidePeakThreshold is the minimum |peak| for the idle glide to fire.
	glidePeakThreshold = 10.0
	glideBoostScale    = 0.3

	// Approach-to-stop step factor is stopStepBase + progress*stopStepRange.
	stopStepBase  = 0.05
	stopStepRange = 0.10

	// Near rest, dynamic friction moves toward restFriction and glide friction
	// loses up to glideFrictionDrop.
	restFriction      = 0.98
	glideFrictionDrop = 0.02
)

// Engine is the scroll physics engine. It is safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	session Session

	// enabled is the owner's switch. Config.Enabled comes from whoever last
	// installed a config; input is taken only when both are set.
	enabled bool

	sink   Sink
	logger *slog.Logger
}

// New creates an engine with the given configuration and output sink.
// A nil sink discards commands; a nil logger discards logs.
func New(cfg Config, sink Sink, logger *slog.Logger) *Engine {
	if sink == nil {
		sink = Discard
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		cfg:     cfg,
		enabled: true,
		sink:    sink,
		logger:  logger,
	}
}

// Config returns the current configuration snapshot. Enabled reflects the
// SetEnabled switch as well.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg := e.cfg
	cfg.Enabled = cfg.Enabled && e.enabled
	return cfg
}

// SetConfig replaces the configuration. The next step sees the whole new value.
// Disabling the engine resets the active session.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	if !cfg.Enabled {
		e.session.reset()
	}
}

// SetEnabled switches the engine on or off. A later Submit carrying an
// enabled config does not undo SetEnabled(false).
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
	e.cfg.Enabled = enabled
	if !enabled {
		e.session.reset()
	}
}

// Snapshot returns a copy of the current session state.
func (e *Engine) Snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Active reports whether a gesture is in progress.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Active
}

// Reset drops the active gesture. Commands already emitted are not affected.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.reset()
}

// AddDelta ingests one discrete wheel delta using the current configuration.
// It is ignored while the engine is disabled.
func (e *Engine) AddDelta(delta int, target TargetID, axis Axis, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addDeltaLocked(delta, target, axis, now)
}

// Submit installs cfg as the effective configuration and ingests delta in the
// same critical section, so a concurrent Advance never observes the new
// configuration without the input or the other way round.
func (e *Engine) Submit(cfg Config, delta int, target TargetID, axis Axis, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.addDeltaLocked(delta, target, axis, now)
}

func (e *Engine) addDeltaLocked(delta int, target TargetID, axis Axis, now time.Time) {
	cfg := &e.cfg
	s := &e.session

	if !cfg.Enabled || !e.enabled {
		return
	}

	// A new target inherits the velocity of the gesture in flight.
	s.Target = target
	s.Axis = axis
	s.Gliding = false

	accelerated := float64(delta) * cfg.AccelerationFactor
	if cfg.AccelerationEnabled && !s.LastInputAt.IsZero() {
		elapsed := msSince(s.LastInputAt, now)
		if elapsed < repeatWindow {
			accelerated *= 1 + math.Min(repeatBoostCap, (repeatWindow-elapsed)/repeatRamp)
		}
	}

	if sign(s.RemainingVelocity) == sign(accelerated) || math.Abs(s.RemainingVelocity) < 1 {
		s.RemainingVelocity += accelerated
	} else {
		// Reversal: momentum from the old direction must not leak into the new one.
		s.RemainingVelocity = accelerated
		s.PeakVelocity = 0
	}

	s.CurrentVelocity = accelerated
	if math.Abs(s.CurrentVelocity) > math.Abs(s.PeakVelocity) {
		s.PeakVelocity = s.CurrentVelocity
	}

	s.clamp(cfg.VelocityLimit())
	s.LastInputAt = now
	s.Active = true
}

// Advance integrates one simulation step of length dt and emits at most one
// command. It is cheap when no gesture is active.
func (e *Engine) Advance(dt time.Duration, now time.Time) {
	cmd, ok := e.step(dt, now)
	if !ok {
		return
	}
	if err := e.sink.Emit(cmd); err != nil {
		e.logger.Debug("motion sink emit failed", "axis", cmd.Axis, "delta", cmd.Delta, "error", err)
	}
}

func (e *Engine) step(dt time.Duration, now time.Time) (Command, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := &e.cfg
	s := &e.session

	if !s.Active || math.Abs(s.RemainingVelocity) < cfg.MinVelocityThreshold {
		if s.Active {
			s.reset()
		}
		return Command{}, false
	}
	if dt <= 0 {
		return Command{}, false
	}

	timeFactor := float64(dt) / float64(time.Millisecond) / referenceTick
	s.LastStepAt = now

	if !s.Gliding &&
		msSince(s.LastInputAt, now) > float64(cfg.GlideTriggerDelay)/float64(time.Millisecond) &&
		math.Abs(s.PeakVelocity) > glidePeakThreshold {
		s.Gliding = true
		s.RemainingVelocity += sign(s.RemainingVelocity) * math.Abs(s.PeakVelocity) * cfg.MomentumFactor * glideBoostScale
		s.clamp(cfg.VelocityLimit())
	}

	step := adaptiveStep(cfg, s.RemainingVelocity, timeFactor)
	if math.IsNaN(step) || math.IsInf(step, 0) {
		e.discardSession("step", step)
		return Command{}, false
	}

	var (
		cmd  Command
		emit bool
	)
	s.AccumulatedFraction += step
	if whole := math.Trunc(s.AccumulatedFraction); whole != 0 {
		cmd = Command{
			Axis:      s.Axis,
			Delta:     saturateInt32(whole),
			Target:    s.Target,
			Signature: Signature,
		}
		emit = true
		s.AccumulatedFraction -= whole
	}

	s.RemainingVelocity -= step

	friction := dynamicFriction(cfg, s.RemainingVelocity)
	if s.Gliding {
		friction = glideFriction(cfg, s.RemainingVelocity)
	}
	s.RemainingVelocity *= math.Pow(friction, timeFactor)
	s.clamp(cfg.VelocityLimit())

	if !s.finite() {
		e.discardSession("state", s.RemainingVelocity)
		return Command{}, false
	}
	return cmd, emit
}

// discardSession drops a session whose numeric state is no longer usable.
// Must be called with e.mu held.
func (e *Engine) discardSession(where string, value float64) {
	e.logger.Debug("non-finite physics state, resetting session", "where", where, "value", value)
	e.session.reset()
}

// adaptiveStep computes how much of v to integrate this tick.
func adaptiveStep(cfg *Config, v, timeFactor float64) float64 {
	a := math.Abs(v)
	if a < cfg.SmoothStopThreshold {
		progress := a / cfg.SmoothStopThreshold
		step := v * (stopStepBase + progress*stopStepRange) * timeFactor

		minStep := cfg.MinScrollStep * timeFactor
		if math.Abs(step) < minStep && a > cfg.MinVelocityThreshold {
			// Never step past zero, otherwise the tail can oscillate around
			// the threshold forever.
			step = sign(v) * math.Min(minStep, a)
		}
		return step
	}

	stepFactor := 1 - math.Pow(1-cfg.SmoothnessFactor, timeFactor)
	return v * easing.Ease(cfg.Easing, stepFactor)
}

// dynamicFriction rises toward restFriction as |v| approaches zero.
func dynamicFriction(cfg *Config, v float64) float64 {
	a := math.Abs(v)
	if a < cfg.SmoothStopThreshold {
		progress := 1 - a/cfg.SmoothStopThreshold
		return cfg.FrictionFactor + (restFriction-cfg.FrictionFactor)*progress
	}
	return cfg.FrictionFactor
}

// glideFriction drops below GlideDecay by up to glideFrictionDrop near rest.
func glideFriction(cfg *Config, v float64) float64 {
	a := math.Abs(v)
	if a < 2*cfg.SmoothStopThreshold {
		progress := a / (2 * cfg.SmoothStopThreshold)
		return cfg.GlideDecay - (1-progress)*glideFrictionDrop
	}
	return cfg.GlideDecay
}

func msSince(t, now time.Time) float64 {
	return float64(now.Sub(t)) / float64(time.Millisecond)
}

func saturateInt32(v float64) int32 {
	switch {
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	default:
		return int32(v)
	}
}
