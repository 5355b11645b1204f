// Package fade defines the gain curves used for passage fades and crossfades.
package fade

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Curve selects a gain-vs-progress function.
type Curve int

const (
	Linear Curve = iota
	Logarithmic
	Exponential
	SCurve
	EqualPower
)

var errUnknownCurve = errors.New("unknown fade curve")

// String returns the curve name as used in configuration.
func (c Curve) String() string {
	switch c {
	case Linear:
		return "linear"
	case Logarithmic:
		return "logarithmic"
	case Exponential:
		return "exponential"
	case SCurve:
		return "s-curve"
	case EqualPower:
		return "equal-power"
	default:
		return "unknown"
	}
}

// ParseCurve parses a curve name. Short aliases ("log", "exp", "cosine",
// "power") are accepted.
func ParseCurve(s string) (Curve, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear", "":
		return Linear, nil
	case "logarithmic", "log":
		return Logarithmic, nil
	case "exponential", "exp":
		return Exponential, nil
	case "s-curve", "scurve", "cosine":
		return SCurve, nil
	case "equal-power", "equalpower", "power":
		return EqualPower, nil
	default:
		return Linear, fmt.Errorf("%w: %q", errUnknownCurve, s)
	}
}

// FadeIn returns the fade-in gain at progress p. Progress is clamped to
// [0, 1]; FadeIn(0) = 0 and FadeIn(1) = 1 for every curve.
func (c Curve) FadeIn(p float64) float64 {
	p = clampUnit(p)
	switch c {
	case Logarithmic:
		// Fast rise: log10(1) = 0, log10(10) = 1
		return math.Log10(1 + 9*p)
	case Exponential:
		return p * p
	case SCurve:
		return (1 - math.Cos(math.Pi*p)) / 2
	case EqualPower:
		return math.Sin(math.Pi / 2 * p)
	case Linear:
		return p
	default:
		return p
	}
}

// FadeOut is the time-reversed mirror of FadeIn.
func (c Curve) FadeOut(p float64) float64 {
	return c.FadeIn(1 - clampUnit(p))
}

func clampUnit(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Fade is a curve applied over a duration.
type Fade struct {
	Curve    Curve
	Duration time.Duration
}

// IsZero reports whether the fade has no effect.
func (f Fade) IsZero() bool {
	return f.Duration <= 0
}
