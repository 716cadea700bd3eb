package chaining

import "math"

// Selector picks between two values by the rounded blend amount and fires
// onSwitch exactly once whenever the rounded amount changes.
type Selector struct {
	onSwitch func()

	previous float64
	hasPrev  bool
}

func NewSelector(onSwitch func()) *Selector {
	return &Selector{onSwitch: onSwitch}
}

// Select returns from when amount rounds to 0 and to otherwise.
func (s *Selector) Select(from, to []float64, amount float64) []float64 {
	rounded := math.Round(amount)
	if s.hasPrev && rounded != math.Round(s.previous) && s.onSwitch != nil {
		s.onSwitch()
	}
	s.previous, s.hasPrev = amount, true

	if rounded == 0 {
		return from
	}
	return to
}
