package physics

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Clock cadence bounds
const (
	DefaultUpdateHz = 240
	MinUpdateHz     = 60
	MaxUpdateHz     = 1000
)

// Clock drives Engine.Advance at a fixed cadence.
type Clock struct {
	engine   *Engine
	interval time.Duration
	maxStep  time.Duration
	logger   *slog.Logger
}

// NewClock creates a clock ticking updateHz times per second.
func NewClock(engine *Engine, updateHz int, logger *slog.Logger) (*Clock, error) {
	if updateHz < MinUpdateHz || updateHz > MaxUpdateHz {
		return nil, fmt.Errorf("update rate must be between %d and %d Hz (got %d)", MinUpdateHz, MaxUpdateHz, updateHz)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	interval := time.Second / time.Duration(updateHz)
	return &Clock{
		engine:   engine,
		interval: interval,
		// Allow up to ~2 ticks worth of time to be integrated in one step.
		maxStep: 2 * interval,
		logger:  logger,
	}, nil
}

// Interval returns the nominal tick period.
func (c *Clock) Interval() time.Duration { return c.interval }

// Run ticks until ctx is canceled, then resets the engine session.
// A step already in progress completes first; emitted commands are not recalled.
func (c *Clock) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Debug("clock started", "interval", c.interval)

	lastTick := time.Now()
	for {
		select {
		case <-ctx.Done():
			c.engine.Reset()
			c.logger.Debug("clock stopped")
			return nil

		case now := <-ticker.C:
			dt := now.Sub(lastTick)
			lastTick = now
			if dt > c.maxStep {
				dt = c.maxStep
			}
			c.engine.Advance(dt, now)
		}
	}
}
