package navigator

import (
	"fmt"
	"math"
	"strings"
)

// Envelope maps normalized progress along a path (0..1) to a relative speed
// multiplier.
type Envelope interface {
	Value(progress float64) float64
}

// ConstantEnvelope keeps a uniform speed.
type ConstantEnvelope struct{}

func (ConstantEnvelope) Value(float64) float64 { return 1 }

// SineEnvelope accelerates into the middle of a path and eases out again.
type SineEnvelope struct{}

func (SineEnvelope) Value(x float64) float64 { return 0.5 + math.Sin(math.Pi*x) }

// RampEnvelope speeds up steadily toward the destination.
type RampEnvelope struct{}

func (RampEnvelope) Value(x float64) float64 { return 0.5 + x }

// ParseEnvelope resolves a configured envelope name.
func ParseEnvelope(name string) (Envelope, error) {
	switch strings.ToLower(name) {
	case "constant", "":
		return ConstantEnvelope{}, nil
	case "sine":
		return SineEnvelope{}, nil
	case "ramp":
		return RampEnvelope{}, nil
	default:
		return nil, fmt.Errorf("unknown envelope %q (must be constant, sine or ramp)", name)
	}
}
