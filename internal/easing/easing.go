// Package easing maps normalized progress in [0,1] onto eased progress.
//
// The set of curves is closed and small, so dispatch is a plain switch over Kind
// with one pure function per curve.
package easing

import (
	"fmt"
	"math"
	"strings"
)

// Kind selects an easing curve.
type Kind int

const (
	Linear Kind = iota
	EaseOutQuad
	EaseOutCubic
	EaseOutExpo
	EaseOutCirc
	EaseInOutQuad
	EaseOutElastic
	EaseOutBack
)

// Default is used for zero configuration and for unknown kinds.
const Default = EaseOutQuad

var kindNames = [...]string{
	Linear:         "linear",
	EaseOutQuad:    "ease_out_quad",
	EaseOutCubic:   "ease_out_cubic",
	EaseOutExpo:    "ease_out_expo",
	EaseOutCirc:    "ease_out_circ",
	EaseInOutQuad:  "ease_in_out_quad",
	EaseOutElastic: "ease_out_elastic",
	EaseOutBack:    "ease_out_back",
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind converts a configuration name into a Kind.
//
// Matching ignores case, underscores, dashes and spaces, so "ease_out_quad",
// "EaseOutQuad" and "ease-out-quad" are equivalent.
func ParseKind(name string) (Kind, error) {
	want := normalize(name)
	if want == "" {
		return Default, nil
	}
	for i, n := range kindNames {
		if normalize(n) == want {
			return Kind(i), nil
		}
	}
	return Default, fmt.Errorf("unknown easing %q", name)
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

// Ease applies the curve selected by k to t.
// Unknown kinds fall back to EaseOutQuad.
func Ease(k Kind, t float64) float64 {
	switch k {
	case Linear:
		return linear(t)
	case EaseOutQuad:
		return outQuad(t)
	case EaseOutCubic:
		return outCubic(t)
	case EaseOutExpo:
		return outExpo(t)
	case EaseOutCirc:
		return outCirc(t)
	case EaseInOutQuad:
		return inOutQuad(t)
	case EaseOutElastic:
		return outElastic(t)
	case EaseOutBack:
		return outBack(t)
	default:
		return outQuad(t)
	}
}

func linear(t float64) float64 { return t }

func outQuad(t float64) float64 { return t * (2 - t) }

func outCubic(t float64) float64 {
	u := 1 - t
	return 1 - u*u*u
}

func outExpo(t float64) float64 {
	if t == 1 {
		return 1
	}
	return 1 - math.Pow(2, -10*t)
}

func outCirc(t float64) float64 {
	u := t - 1
	return math.Sqrt(1 - u*u)
}

func inOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	u := -2*t + 2
	return 1 - u*u/2
}

func outElastic(t float64) float64 {
	switch t {
	case 0:
		return 0
	case 1:
		return 1
	}
	const c4 = 2 * math.Pi / 3
	return math.Pow(2, -10*t)*math.Sin((10*t-0.75)*c4) + 1
}

func outBack(t float64) float64 {
	const (
		c1 = 1.70158
		c3 = c1 + 1
	)
	u := t - 1
	return 1 + c3*u*u*u + c1*u*u
}
