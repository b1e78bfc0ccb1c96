package physics

import (
	"time"

	"scrollglide/internal/easing"
)

// Config contains all tunable parameters for the scroll physics engine.
//
// Values are trusted: the engine does not range-check them. Out-of-range values
// produce odd motion but never a crash, since all arithmetic is on clamped floats.
type Config struct {
	// Core dynamics
	SmoothnessFactor   float64 // (0,1): fraction of remaining velocity consumed per reference tick
	AccelerationFactor float64 // >=1: multiplier applied to every raw delta
	FrictionFactor     float64 // (0,1): per reference tick velocity retention while not gliding

	// Bounds
	MinVelocityThreshold float64 // below this the gesture ends
	MaxVelocity          float64 // |remaining| is clamped to MaxVelocity * velocityClampFactor

	// Smooth stopping
	SmoothStopThreshold float64 // below this |remaining| the approach-to-stop regime applies
	MinScrollStep       float64 // minimum per reference tick step inside that regime

	// Momentum / glide
	MomentumFactor    float64       // >=1: scales the one-time glide boost
	GlideDecay        float64       // (0,1): per reference tick retention while gliding
	GlideTriggerDelay time.Duration // idle time after the last input before the glide fires

	Easing              easing.Kind
	AccelerationEnabled bool
	Enabled             bool
}

// Engine defaults
const (
	defaultSmoothnessFactor     = 0.05
	defaultAccelerationFactor   = 1.2
	defaultFrictionFactor       = 0.97
	defaultMinVelocityThreshold = 0.05
	defaultMaxVelocity          = 400
	defaultSmoothStopThreshold  = 30
	defaultMinScrollStep        = 0.3
	defaultMomentumFactor       = 3.2
	defaultGlideDecay           = 0.992
	defaultGlideTriggerDelay    = 80 * time.Millisecond
)

// DefaultConfig returns a fully-populated Config with the tuned defaults.
func DefaultConfig() Config {
	return Config{
		SmoothnessFactor:     defaultSmoothnessFactor,
		AccelerationFactor:   defaultAccelerationFactor,
		FrictionFactor:       defaultFrictionFactor,
		MinVelocityThreshold: defaultMinVelocityThreshold,
		MaxVelocity:          defaultMaxVelocity,
		SmoothStopThreshold:  defaultSmoothStopThreshold,
		MinScrollStep:        defaultMinScrollStep,
		MomentumFactor:       defaultMomentumFactor,
		GlideDecay:           defaultGlideDecay,
		GlideTriggerDelay:    defaultGlideTriggerDelay,
		Easing:               easing.EaseOutQuad,
		AccelerationEnabled:  true,
		Enabled:              true,
	}
}

// velocityClampFactor bounds |remainingVelocity| relative to MaxVelocity.
// The same bound is used for input accumulation and for the glide boost.
const velocityClampFactor = 15

// VelocityLimit returns the hard bound on |remainingVelocity|.
func (c Config) VelocityLimit() float64 {
	return c.MaxVelocity * velocityClampFactor
}
