// Package fade cross-fades the frames transmitted on input ports.
package fade

import (
	"fmt"
	"math"

	"github.com/bbernstein/lacylights-artnet/pkg/node"
)

// Easing names a progress curve.
type Easing string

const (
	// EasingLinear provides constant rate of change.
	EasingLinear Easing = "LINEAR"
	// EasingInOutCubic provides smooth acceleration and deceleration.
	EasingInOutCubic Easing = "EASE_IN_OUT_CUBIC"
	// EasingInOutSine provides gentle sine wave easing.
	EasingInOutSine Easing = "EASE_IN_OUT_SINE"
	// EasingOutExponential provides sharp start, smooth end.
	EasingOutExponential Easing = "EASE_OUT_EXPONENTIAL"
	// EasingSCurve is a logistic curve rescaled to hit 0 and 1 exactly.
	EasingSCurve Easing = "S_CURVE"
)

// ParseEasing validates a curve name. The empty name selects
// EasingInOutSine.
func ParseEasing(name string) (Easing, error) {
	switch e := Easing(name); e {
	case "":
		return EasingInOutSine, nil
	case EasingLinear, EasingInOutCubic, EasingInOutSine, EasingOutExponential, EasingSCurve:
		return e, nil
	}
	return "", fmt.Errorf("%w: easing %q", node.ErrArg, name)
}

// Apply maps progress (0-1) onto the curve.
func (e Easing) Apply(progress float64) float64 {
	switch {
	case progress <= 0:
		return 0
	case progress >= 1:
		return 1
	}

	switch e {
	case EasingInOutCubic:
		if progress < 0.5 {
			return 4 * progress * progress * progress
		}
		temp := -2*progress + 2
		return 1 - temp*temp*temp/2
	case EasingInOutSine:
		return -(math.Cos(math.Pi*progress) - 1) / 2
	case EasingOutExponential:
		return 1 - math.Pow(2, -10*progress)
	case EasingSCurve:
		const k = 10.0
		lo := 1 / (1 + math.Exp(k/2))
		hi := 1 / (1 + math.Exp(-k/2))
		return (1/(1+math.Exp(-k*(progress-0.5))) - lo) / (hi - lo)
	}
	return progress
}

// Interpolate returns the eased value between start and end.
func Interpolate(start, end, progress float64, e Easing) float64 {
	return start + (end-start)*e.Apply(progress)
}
