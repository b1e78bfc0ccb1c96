// Package router decides which wheel events the physics engine takes over.
//
// Route runs on the capture path for every wheel event, so it only reads an
// atomically published Policy snapshot and a handful of counters.
package router

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"scrollglide/internal/physics"
)

// Event is one raw wheel event as reported by a capture backend.
type Event struct {
	Delta        int16
	Axis         physics.Axis
	Target       physics.TargetID
	ProcessName  string
	SelfInjected bool // carries physics.Signature
	ZoomModifier bool // zoom key held, the host must see the raw event
}

// Decision tells the capture backend what to do with the original event.
type Decision int

const (
	// PassThrough leaves the event to the host untouched.
	PassThrough Decision = iota
	// Accepted means the engine took the event over; the original must be consumed.
	Accepted
)

func (d Decision) String() string {
	switch d {
	case PassThrough:
		return "pass_through"
	case Accepted:
		return "accepted"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Submitter is the part of the engine the router drives.
type Submitter interface {
	Submit(cfg physics.Config, delta int, target physics.TargetID, axis physics.Axis, now time.Time)
}

// Activity describes an accepted event for observers.
type Activity struct {
	ProcessName string
	Delta       int16
	Axis        physics.Axis
	At          time.Time
}

// Stats counts routing outcomes since the router was created.
type Stats struct {
	Accepted         uint64 `json:"accepted"`
	SelfInjected     uint64 `json:"self_injected"`
	ZoomModifier     uint64 `json:"zoom_modifier"`
	Disabled         uint64 `json:"disabled"`
	OwnProcess       uint64 `json:"own_process"`
	Excluded         uint64 `json:"excluded"`
	OverrideDisabled uint64 `json:"override_disabled"`
}

// Router applies the exclusion and override policy and forwards accepted
// events to the engine.
type Router struct {
	engine Submitter
	policy atomic.Pointer[Policy]
	logger *slog.Logger

	// OnActivity, when set before routing starts, is called for every accepted
	// event on the capture path. It must return quickly.
	OnActivity func(Activity)

	accepted, selfInjected, zoom, disabled, own, excluded, overrideOff atomic.Uint64
}

// New creates a router. A nil policy means DefaultPolicy("").
func New(engine Submitter, policy *Policy, logger *slog.Logger) *Router {
	if policy == nil {
		policy = DefaultPolicy("")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Router{engine: engine, logger: logger}
	r.policy.Store(policy)
	return r
}

// Policy returns the current policy snapshot.
func (r *Router) Policy() *Policy { return r.policy.Load() }

// SetPolicy publishes a new policy; the next routed event sees all of it.
func (r *Router) SetPolicy(p *Policy) {
	r.policy.Store(p)
	r.logger.Debug("routing policy updated",
		"enabled", p.Global.Enabled,
		"scroll_multiplier", p.ScrollMultiplier,
		"overrides", len(p.overrides),
		"excluded", len(p.excluded))
}

// SetEnabled publishes a copy of the current policy with Global.Enabled set.
func (r *Router) SetEnabled(enabled bool) {
	for {
		cur := r.policy.Load()
		if r.policy.CompareAndSwap(cur, cur.WithEnabled(enabled)) {
			return
		}
	}
}

// Enabled reports the global enabled flag of the current policy.
func (r *Router) Enabled() bool { return r.policy.Load().Global.Enabled }

// Route classifies one event and, when accepted, feeds it to the engine.
// PassThrough never touches engine state.
func (r *Router) Route(ev Event, now time.Time) Decision {
	p := r.policy.Load()

	switch {
	case ev.SelfInjected:
		r.selfInjected.Add(1)
		return PassThrough
	case ev.ZoomModifier:
		r.zoom.Add(1)
		return PassThrough
	case !p.Global.Enabled:
		r.disabled.Add(1)
		return PassThrough
	}

	process := NormalizeProcess(ev.ProcessName)
	if process != "" && process == p.SelfName {
		r.own.Add(1)
		return PassThrough
	}
	if p.Excluded(process) {
		r.excluded.Add(1)
		return PassThrough
	}
	if o, ok := p.Override(process); ok && !o.Enabled {
		r.overrideOff.Add(1)
		return PassThrough
	}

	cfg, mult := p.Effective(process)
	delta := scaleDelta(ev.Delta, mult)
	r.engine.Submit(cfg, int(delta), ev.Target, ev.Axis, now)
	r.accepted.Add(1)

	if r.OnActivity != nil {
		r.OnActivity(Activity{ProcessName: process, Delta: ev.Delta, Axis: ev.Axis, At: now})
	}
	return Accepted
}

// Stats returns a snapshot of the routing counters.
func (r *Router) Stats() Stats {
	return Stats{
		Accepted:         r.accepted.Load(),
		SelfInjected:     r.selfInjected.Load(),
		ZoomModifier:     r.zoom.Load(),
		Disabled:         r.disabled.Load(),
		OwnProcess:       r.own.Load(),
		Excluded:         r.excluded.Load(),
		OverrideDisabled: r.overrideOff.Load(),
	}
}

// scaleDelta multiplies and truncates toward zero, saturating at int16 bounds.
func scaleDelta(delta int16, mult float64) int16 {
	v := math.Trunc(float64(delta) * mult)
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
