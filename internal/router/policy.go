package router

import (
	"strings"

	"scrollglide/internal/easing"
	"scrollglide/internal/physics"
)

// DefaultScrollMultiplier scales raw deltas before they reach the engine.
const DefaultScrollMultiplier = 1.4

// DefaultExcludedApps lists media players and canvas editors where the wheel
// is a discrete control (volume, zoom) rather than a scroll.
var DefaultExcludedApps = []string{
	"vlc",
	"mpc-hc64",
	"mpc-hc",
	"potplayermini64",
	"photoshop",
	"illustrator",
}

// Override is a partial configuration for one process.
// Nil fields inherit the global value. Enabled=false routes every event from
// the process straight through.
type Override struct {
	Enabled bool

	SmoothnessFactor   *float64
	AccelerationFactor *float64
	FrictionFactor     *float64
	MomentumFactor     *float64
	ScrollMultiplier   *float64
	Easing             *easing.Kind
}

// Apply merges the override over base field by field.
func (o Override) Apply(base physics.Config) physics.Config {
	if o.SmoothnessFactor != nil {
		base.SmoothnessFactor = *o.SmoothnessFactor
	}
	if o.AccelerationFactor != nil {
		base.AccelerationFactor = *o.AccelerationFactor
	}
	if o.FrictionFactor != nil {
		base.FrictionFactor = *o.FrictionFactor
	}
	if o.MomentumFactor != nil {
		base.MomentumFactor = *o.MomentumFactor
	}
	if o.Easing != nil {
		base.Easing = *o.Easing
	}
	return base
}

// Policy is an immutable routing snapshot. Build it with NewPolicy and
// replace it as a whole; never mutate a Policy that a Router is using.
type Policy struct {
	Global           physics.Config
	ScrollMultiplier float64
	SelfName         string

	overrides map[string]Override
	excluded  map[string]struct{}
}

// NewPolicy builds a policy with process names normalized for lookup.
func NewPolicy(global physics.Config, multiplier float64, overrides map[string]Override, excluded []string, selfName string) *Policy {
	p := &Policy{
		Global:           global,
		ScrollMultiplier: multiplier,
		SelfName:         NormalizeProcess(selfName),
		overrides:        make(map[string]Override, len(overrides)),
		excluded:         make(map[string]struct{}, len(excluded)),
	}
	for name, o := range overrides {
		p.overrides[NormalizeProcess(name)] = o
	}
	for _, name := range excluded {
		if n := NormalizeProcess(name); n != "" {
			p.excluded[n] = struct{}{}
		}
	}
	return p
}

// DefaultPolicy routes with default engine settings and the default exclusions.
func DefaultPolicy(selfName string) *Policy {
	return NewPolicy(physics.DefaultConfig(), DefaultScrollMultiplier, nil, DefaultExcludedApps, selfName)
}

// WithEnabled returns a copy of p with Global.Enabled replaced.
func (p *Policy) WithEnabled(enabled bool) *Policy {
	cp := *p
	cp.Global.Enabled = enabled
	return &cp
}

// Excluded reports whether the process is on the exclusion list.
func (p *Policy) Excluded(process string) bool {
	_, ok := p.excluded[NormalizeProcess(process)]
	return ok
}

// Override returns the per-process override, if any.
func (p *Policy) Override(process string) (Override, bool) {
	o, ok := p.overrides[NormalizeProcess(process)]
	return o, ok
}

// Effective resolves the configuration and multiplier for a process.
func (p *Policy) Effective(process string) (physics.Config, float64) {
	cfg := p.Global
	mult := p.ScrollMultiplier
	if o, ok := p.Override(process); ok {
		cfg = o.Apply(cfg)
		if o.ScrollMultiplier != nil {
			mult = *o.ScrollMultiplier
		}
	}
	return cfg, mult
}

// NormalizeProcess lowercases a process name and strips a trailing ".exe".
func NormalizeProcess(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(n, ".exe")
}
