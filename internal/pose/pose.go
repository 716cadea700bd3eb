// Package pose holds the vector helpers shared by every behavior plus the
// two external collaborators the engine consumes: the dimensionality
// reduction Model and the Entity used for blending and physical smoothing.
//
// A full pose is a flat []float64. The first TranslationLen components are the
// root translation; the remainder is the orientation block.
package pose

import "gonum.org/v1/gonum/floats"

// TranslationLen is the number of leading components treated as translation.
const TranslationLen = 3

// Translation returns a copy of the translation part of p.
// Poses shorter than TranslationLen are returned whole.
func Translation(p []float64) []float64 {
	n := TranslationLen
	if len(p) < n {
		n = len(p)
	}
	return Clone(p[:n])
}

// Orientations returns a copy of everything after the translation.
func Orientations(p []float64) []float64 {
	if len(p) <= TranslationLen {
		return []float64{}
	}
	return Clone(p[TranslationLen:])
}

// Combine joins a translation and an orientation block into a new pose.
func Combine(translation, orientations []float64) []float64 {
	out := make([]float64, 0, len(translation)+len(orientations))
	out = append(out, translation...)
	return append(out, orientations...)
}

// Lerp returns a + (b-a)*amount. a and b must have equal length.
func Lerp(a, b []float64, amount float64) []float64 {
	diff := make([]float64, len(a))
	floats.SubTo(diff, b, a)
	out := make([]float64, len(a))
	floats.AddScaledTo(out, a, amount, diff)
	return out
}

// Distance is the Euclidean distance between a and b.
func Distance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// Clone returns a copy of p, or nil for a nil slice.
func Clone(p []float64) []float64 {
	if p == nil {
		return nil
	}
	out := make([]float64, len(p))
	copy(out, p)
	return out
}

// Zeros returns a zero vector of length n.
func Zeros(n int) []float64 {
	return make([]float64, n)
}
