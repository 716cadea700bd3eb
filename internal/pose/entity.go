package pose

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Entity is the pose layer the behaviors blend through.
type Entity interface {
	Interpolate(a, b []float64, amount float64) []float64
	Friction() bool
	SetFriction(on bool)
}

// OrientationMode selects how the orientation block is interpolated.
type OrientationMode string

const (
	// OrientationAuto uses quaternions when the block length is a multiple of 4.
	OrientationAuto       OrientationMode = "auto"
	OrientationQuaternion OrientationMode = "quaternion"
	OrientationLinear     OrientationMode = "linear"
)

// ParseOrientationMode validates a configured orientation mode.
func ParseOrientationMode(s string) (OrientationMode, error) {
	switch OrientationMode(strings.ToLower(s)) {
	case OrientationAuto, "":
		return OrientationAuto, nil
	case OrientationQuaternion:
		return OrientationQuaternion, nil
	case OrientationLinear:
		return OrientationLinear, nil
	default:
		return "", fmt.Errorf("invalid orientation mode %q (must be auto, quaternion or linear)", s)
	}
}

// EntityConfig configures a LinearEntity.
type EntityConfig struct {
	Orientation OrientationMode

	// Friction starts enabled when true. FrictionAmount in [0,1) is the share of
	// the previous output kept each frame while friction is on.
	Friction       bool
	FrictionAmount float64

	// Confinement pulls the root translation toward ConfinementTarget by
	// ConfinementRate of the remaining distance per frame.
	Confinement       bool
	ConfinementRate   float64
	ConfinementTarget []float64
}

// LinearEntity interpolates translation linearly and orientation either
// linearly or as normalized shortest-arc quaternion blends. It also owns the
// per-frame constrainers (friction and confinement) applied to the final
// output frame.
type LinearEntity struct {
	cfg EntityConfig

	friction bool

	// constrainer state
	previous []float64
	offset   []float64
}

// NewLinearEntity constructs an entity from cfg.
func NewLinearEntity(cfg EntityConfig) *LinearEntity {
	if cfg.Orientation == "" {
		cfg.Orientation = OrientationAuto
	}
	cfg.FrictionAmount = math.Max(0, math.Min(cfg.FrictionAmount, 0.99))
	if len(cfg.ConfinementTarget) != TranslationLen {
		cfg.ConfinementTarget = Zeros(TranslationLen)
	}
	return &LinearEntity{
		cfg:      cfg,
		friction: cfg.Friction,
	}
}

func (e *LinearEntity) Friction() bool      { return e.friction }
func (e *LinearEntity) SetFriction(on bool) { e.friction = on }

func (e *LinearEntity) Confinement() bool { return e.cfg.Confinement }

// SetConfinement toggles confinement at runtime. Switching it off freezes the
// current offset instead of dropping it.
func (e *LinearEntity) SetConfinement(on bool) { e.cfg.Confinement = on }

// Interpolate blends a toward b by amount. A nil side yields a copy of the
// other side.
func (e *LinearEntity) Interpolate(a, b []float64, amount float64) []float64 {
	switch {
	case a == nil:
		return Clone(b)
	case b == nil || len(a) != len(b):
		return Clone(a)
	}

	translation := Lerp(Translation(a), Translation(b), amount)
	oa, ob := Orientations(a), Orientations(b)
	if !e.useQuaternions(len(oa)) {
		return Combine(translation, Lerp(oa, ob, amount))
	}

	out := make([]float64, 0, len(oa))
	for i := 0; i < len(oa); i += 4 {
		out = append(out, nlerp(oa[i:i+4], ob[i:i+4], amount)...)
	}
	return Combine(translation, out)
}

func (e *LinearEntity) useQuaternions(n int) bool {
	switch e.cfg.Orientation {
	case OrientationLinear:
		return false
	default:
		return n > 0 && n%4 == 0
	}
}

// nlerp blends two quaternions along the shorter arc and renormalizes.
func nlerp(qa, qb []float64, amount float64) []float64 {
	b := Clone(qb)
	if floats.Dot(qa, b) < 0 {
		floats.Scale(-1, b)
	}
	q := Lerp(qa, b, amount)
	if n := floats.Norm(q, 2); n > 0 {
		floats.Scale(1/n, q)
	}
	return q
}

// Constrain applies friction and confinement to an output frame and returns
// the constrained copy. It must be called once per emitted frame.
func (e *LinearEntity) Constrain(p []float64) []float64 {
	if p == nil {
		return nil
	}
	out := Clone(p)

	if e.friction && e.previous != nil && len(e.previous) == len(out) {
		out = Lerp(e.previous, out, 1-e.cfg.FrictionAmount)
	}
	// previous is kept without the confinement offset
	e.previous = Clone(out)

	if len(out) >= TranslationLen {
		if e.offset == nil {
			e.offset = Zeros(TranslationLen)
		}
		if e.cfg.Confinement {
			for i := 0; i < TranslationLen; i++ {
				pos := out[i] + e.offset[i]
				e.offset[i] += (e.cfg.ConfinementTarget[i] - pos) * e.cfg.ConfinementRate
			}
		}
		for i := 0; i < TranslationLen; i++ {
			out[i] += e.offset[i]
		}
	}
	return out
}

// ResetConstrainers forgets friction history and any confinement offset.
func (e *LinearEntity) ResetConstrainers() {
	e.previous = nil
	e.offset = nil
}
