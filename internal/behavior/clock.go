// Package behavior holds the per-frame generative behaviors of the partner:
// improvisation through the latent manifold, recall of remembered motion,
// the mode-switching state machine and the master driver that blends them
// with live input.
//
// Nothing in this package blocks or locks. Every type belongs to the single
// goroutine that drives the tick.
package behavior

import (
	"math"
	"math/rand"
)

// InterpolationDuration is the length in seconds of every crossfade and mode
// interpolation.
const InterpolationDuration = 1.0

// FrameClock converts wall-clock seconds into whole frames so that state
// durations are counted, not accumulated.
type FrameClock struct {
	Rate float64 // frames per second

	carry float64 // fraction of a frame not yet consumed by Advance
}

// Frames rounds sec to the nearest whole number of frames.
func (c FrameClock) Frames(sec float64) int {
	if sec <= 0 || c.Rate <= 0 {
		return 0
	}
	return int(math.Round(sec * c.Rate))
}

// Advance returns the whole frames elapsed in dt and keeps the remainder for
// the next call, so short ticks add up instead of rounding to zero.
func (c *FrameClock) Advance(dt float64) int {
	if dt <= 0 || c.Rate <= 0 {
		return 0
	}
	c.carry += dt * c.Rate
	n := math.Floor(c.carry + 1e-9)
	c.carry = math.Max(0, c.carry-n)
	return int(n)
}

// SCurve eases x in [0,1] into [0,1] with zero slope at both ends.
func SCurve(x float64) float64 {
	x = math.Max(0, math.Min(1, x))
	return 1 - (math.Sin((x+0.5)*math.Pi)+1)/2
}

// WeightedShuffler draws items with probability proportional to their weight.
type WeightedShuffler[T any] struct {
	items   []T
	weights []float64
	total   float64
}

// Add registers item. Non-positive weights are ignored.
func (s *WeightedShuffler[T]) Add(item T, weight float64) {
	if weight <= 0 {
		return
	}
	s.items = append(s.items, item)
	s.weights = append(s.weights, weight)
	s.total += weight
}

func (s *WeightedShuffler[T]) Len() int { return len(s.items) }

// Choice draws one item. ok is false when nothing was added.
func (s *WeightedShuffler[T]) Choice(rng *rand.Rand) (item T, ok bool) {
	if len(s.items) == 0 {
		return item, false
	}
	r := rng.Float64() * s.total
	for i, w := range s.weights {
		r -= w
		if r < 0 {
			return s.items[i], true
		}
	}
	return s.items[len(s.items)-1], true
}
