// Package chaining keeps per-frame vector signals continuous while their
// underlying source is swapped.
package chaining

import "dancepartner/internal/pose"

// Chainer emits raw values shifted by a cumulative offset. On the first Get
// after SwitchSource the offset is re-anchored so the new source continues
// from the last emitted value instead of jumping to its own absolute value.
//
// Put stages raw values in order; Get must be called exactly once per Put.
type Chainer struct {
	pending [][]float64
	last    []float64
	offset  []float64

	switched bool
}

func New() *Chainer { return &Chainer{} }

// Put stages the newest raw value.
func (c *Chainer) Put(v []float64) {
	c.pending = append(c.pending, pose.Clone(v))
}

// Get returns the oldest staged value with the offset applied. With nothing
// staged it repeats the last emitted value.
func (c *Chainer) Get() []float64 {
	if len(c.pending) == 0 {
		return pose.Clone(c.last)
	}
	raw := c.pending[0]
	c.pending = c.pending[1:]

	if c.switched {
		c.switched = false
		if c.last != nil && len(c.last) == len(raw) {
			c.offset = make([]float64, len(raw))
			for i := range raw {
				c.offset[i] = c.last[i] - raw[i]
			}
		}
	}
	if len(c.offset) != len(raw) {
		c.offset = nil
	}

	out := raw
	if c.offset != nil {
		out = make([]float64, len(raw))
		for i := range raw {
			out[i] = raw[i] + c.offset[i]
		}
	}
	c.last = out
	return pose.Clone(out)
}

// SwitchSource marks that the next raw value comes from a different source.
func (c *Chainer) SwitchSource() { c.switched = true }

// Anchor drops all history and makes the next source continue from v.
func (c *Chainer) Anchor(v []float64) {
	*c = Chainer{}
	c.Put(v)
	c.Get()
	c.SwitchSource()
}
