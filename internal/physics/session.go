package physics

import (
	"fmt"
	"math"
	"time"
)

// Axis is the scroll direction a session or command applies to.
type Axis uint8

const (
	Vertical Axis = iota
	Horizontal
)

func (a Axis) String() string {
	switch a {
	case Vertical:
		return "vertical"
	case Horizontal:
		return "horizontal"
	default:
		return fmt.Sprintf("Axis(%d)", uint8(a))
	}
}

// TargetID is an opaque identity of the surface being scrolled (a window handle,
// a terminal pane, an input device). Zero is a valid target.
type TargetID uint64

// Session is the physics state for one scroll gesture on one target/axis.
//
// Velocities are signed and measured in wheel units (120 per detent).
type Session struct {
	Target TargetID
	Axis   Axis

	RemainingVelocity   float64 // outstanding motion not yet integrated
	AccumulatedFraction float64 // sub-unit carry between steps, |x| < 1

	LastInputAt time.Time
	LastStepAt  time.Time

	CurrentVelocity float64 // most recent input impulse
	PeakVelocity    float64 // largest impulse since the last direction reversal

	Gliding bool // the idle glide boost already fired for this gesture
	Active  bool
}

// reset returns the session to the empty state.
// Target, axis and lastInputAt survive so repeat-rate acceleration keeps working
// across short gestures.
func (s *Session) reset() {
	s.RemainingVelocity = 0
	s.AccumulatedFraction = 0
	s.CurrentVelocity = 0
	s.PeakVelocity = 0
	s.Gliding = false
	s.Active = false
}

func (s *Session) clamp(limit float64) {
	if s.RemainingVelocity > limit {
		s.RemainingVelocity = limit
	} else if s.RemainingVelocity < -limit {
		s.RemainingVelocity = -limit
	}
}

func (s *Session) finite() bool {
	for _, v := range [...]float64{s.RemainingVelocity, s.AccumulatedFraction, s.PeakVelocity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// sign returns -1, 0 or +1.
func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
