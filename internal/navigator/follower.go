package navigator

import (
	"math"

	"dancepartner/internal/pose"
)

// Unlimited lets Proceed run a path to completion.
var Unlimited = math.Inf(1)

// PathFollower moves along an immutable path as time is fed to it.
//
// The path is a chain of linear strips. The duration of each strip is its
// length divided by envelope(progress)*velocity/correction, where correction
// is calibrated once so that any envelope shape takes the same total time as
// a constant-speed traversal.
type PathFollower struct {
	path       [][]float64
	velocity   float64
	envelope   Envelope
	correction float64

	position []float64
	cursor   int // index of the current strip's departure

	stripDuration float64
	stripTravel   float64
}

// NewPathFollower calibrates the envelope against a constant one and
// positions the follower at the start of path.
func NewPathFollower(path [][]float64, velocity float64, envelope Envelope) *PathFollower {
	if envelope == nil {
		envelope = ConstantEnvelope{}
	}
	f := &PathFollower{
		path:       path,
		velocity:   velocity,
		correction: 1,
	}

	if _, flat := envelope.(ConstantEnvelope); !flat && velocity > 0 {
		flatDuration := f.estimateDuration(ConstantEnvelope{})
		shapedDuration := f.estimateDuration(envelope)
		if c := flatDuration / shapedDuration; shapedDuration > 0 && !math.IsNaN(c) && !math.IsInf(c, 0) {
			f.correction = c
		}
	}

	f.envelope = envelope
	f.Restart()
	return f
}

func (f *PathFollower) estimateDuration(envelope Envelope) float64 {
	f.envelope = envelope
	f.correction = 1
	f.Restart()
	return f.Proceed(Unlimited)
}

// Restart rewinds to the beginning of the path.
func (f *PathFollower) Restart() {
	f.cursor = 0
	f.position = nil
	if len(f.path) > 0 {
		f.position = pose.Clone(f.path[0])
	}
	f.activateStrip()
}

// Proceed consumes up to budget seconds and returns the time actually used.
// Less than budget is used only when the destination is reached.
func (f *PathFollower) Proceed(budget float64) float64 {
	var processed float64
	for budget > 0 && !f.ReachedDestination() {
		if f.stripTravel >= f.stripDuration {
			f.cursor++
			f.activateStrip()
			continue
		}

		step := math.Min(budget, f.stripDuration-f.stripTravel)
		f.stripTravel += step
		processed += step
		budget -= step

		from, to := f.path[f.cursor], f.path[f.cursor+1]
		f.position = pose.Lerp(from, to, f.stripProgress())
	}
	return processed
}

func (f *PathFollower) stripProgress() float64 {
	if math.IsInf(f.stripDuration, 1) || f.stripDuration <= 0 {
		if f.stripTravel >= f.stripDuration {
			return 1
		}
		return 0
	}
	return math.Min(1, f.stripTravel/f.stripDuration)
}

// CurrentPosition returns a copy of the current point on the path.
func (f *PathFollower) CurrentPosition() []float64 { return pose.Clone(f.position) }

// ReachedDestination reports whether fewer than two points remain unconsumed.
func (f *PathFollower) ReachedDestination() bool { return len(f.path)-f.cursor < 2 }

// Correction is the calibration factor applied to the envelope velocity.
func (f *PathFollower) Correction() float64 { return f.correction }

func (f *PathFollower) activateStrip() {
	f.stripTravel = 0
	f.stripDuration = 0
	if f.ReachedDestination() {
		return
	}
	distance := pose.Distance(f.path[f.cursor], f.path[f.cursor+1])
	speed := f.envelope.Value(f.relativeProgress()) * f.velocity / f.correction
	if speed <= 0 {
		f.stripDuration = math.Inf(1)
		return
	}
	f.stripDuration = distance / speed
}

func (f *PathFollower) relativeProgress() float64 {
	remaining := len(f.path) - f.cursor
	return 1 - float64(remaining)/float64(len(f.path))
}
