package behavior

import (
	"math"

	"github.com/aquilax/go-perlin"

	"dancepartner/internal/pose"
)

// DelayLine is a fixed-size ring of the most recent input frames.
type DelayLine struct {
	buf   [][]float64
	head  int // next write position
	count int
}

// NewDelayLine keeps enough history for delays of up to maxDelay frames.
func NewDelayLine(maxDelay int) *DelayLine {
	return &DelayLine{buf: make([][]float64, max(0, maxDelay)+1)}
}

func (d *DelayLine) Push(frame []float64) {
	d.buf[d.head] = pose.Clone(frame)
	d.head = (d.head + 1) % len(d.buf)
	if d.count < len(d.buf) {
		d.count++
	}
}

// At returns the frame pushed delay frames before the newest one. When the
// history is shorter than delay the oldest frame is returned.
func (d *DelayLine) At(delay int) []float64 {
	if d.count == 0 {
		return nil
	}
	delay = max(0, min(delay, d.count-1))
	i := (d.head - 1 - delay + len(d.buf)) % len(d.buf)
	return d.buf[i]
}

func (d *DelayLine) Reset() {
	clear(d.buf)
	d.head, d.count = 0, 0
}

// DelayShift is a slowly wandering extra delay in [0, magnitude] seconds.
type DelayShift struct {
	noise     *perlin.Perlin
	period    float64
	magnitude float64
	elapsed   float64
}

func NewDelayShift(period, magnitude float64, seed int64) *DelayShift {
	if period <= 0 {
		period = 1
	}
	return &DelayShift{
		noise:     perlin.NewPerlin(2, 2, 3, seed),
		period:    period,
		magnitude: math.Max(0, magnitude),
	}
}

func (s *DelayShift) Advance(dt float64) { s.elapsed += dt }

func (s *DelayShift) Value() float64 {
	v := (s.noise.Noise1D(s.elapsed/s.period) + 1) / 2 * s.magnitude
	return math.Max(0, math.Min(s.magnitude, v))
}
