// Package navigator generates plausible paths through a learned latent
// manifold and follows them in physical time.
package navigator

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/spatial/kdtree"

	"dancepartner/internal/pose"
)

// ErrEmptyManifold is returned when a Navigator is built without any
// manifold points to constrain paths to.
var ErrEmptyManifold = errors.New("navigator: manifold is empty")

// Config tunes path generation.
type Config struct {
	// NumTrials candidate paths are generated per request; the best scoring wins.
	NumTrials int
	// Resolution is the number of points of an interpolated path.
	Resolution int
	// NoveltyFactor scales novelty into the share of residual distance kept
	// away from the nearest manifold point at every coarse step.
	NoveltyFactor float64
	// NoveltyWeight and ExtensionWeight weigh the two score terms.
	NoveltyWeight   float64
	ExtensionWeight float64
	// Extension is the desired distance between departure and path end.
	Extension float64
}

// DefaultConfig returns the tuning used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		NumTrials:       10,
		Resolution:      100,
		NoveltyFactor:   0.3,
		NoveltyWeight:   1,
		ExtensionWeight: 1,
		Extension:       0.5,
	}
}

// Navigator plans paths near a manifold of latent points. It holds a
// reference to the manifold and never mutates it.
type Navigator struct {
	cfg  Config
	dims int
	rng  *rand.Rand

	manifold [][]float64
	tree     *kdtree.Tree
}

// New indexes manifold for nearest neighbour lookups.
func New(manifold [][]float64, rng *rand.Rand, cfg Config) (*Navigator, error) {
	if len(manifold) == 0 {
		return nil, ErrEmptyManifold
	}
	if cfg.NumTrials <= 0 {
		cfg.NumTrials = 1
	}
	if cfg.Resolution < 2 {
		cfg.Resolution = 2
	}

	dims := len(manifold[0])
	pts := make(kdtree.Points, 0, len(manifold))
	for i, p := range manifold {
		if len(p) != dims {
			return nil, fmt.Errorf("navigator: manifold point %d has %d dimensions, want %d: %w", i, len(p), dims, pose.ErrDimensionMismatch)
		}
		pts = append(pts, kdtree.Point(p))
	}

	return &Navigator{
		cfg:      cfg,
		dims:     dims,
		rng:      rng,
		manifold: manifold,
		tree:     kdtree.New(pts, false),
	}, nil
}

func (n *Navigator) SetExtension(extension float64) { n.cfg.Extension = extension }

// Nearest returns a copy of the manifold point closest to p and its distance.
func (n *Navigator) Nearest(p []float64) ([]float64, float64) {
	c, d2 := n.tree.Nearest(kdtree.Point(p))
	return pose.Clone(c.(kdtree.Point)), math.Sqrt(d2)
}

// GeneratePath returns an interpolated path from departure toward a random
// destination. With zero novelty the destination is an arbitrary manifold
// point and no scoring happens.
func (n *Navigator) GeneratePath(departure []float64, numSegments int, novelty float64) ([][]float64, error) {
	if len(departure) != n.dims {
		return nil, fmt.Errorf("navigator: departure has %d dimensions, want %d: %w", len(departure), n.dims, pose.ErrDimensionMismatch)
	}
	if numSegments < 2 {
		numSegments = 2
	}

	if novelty == 0 {
		dest := n.manifold[n.rng.Intn(len(n.manifold))]
		return n.interpolate([][]float64{pose.Clone(departure), pose.Clone(dest)}), nil
	}

	var best [][]float64
	bestScore := math.Inf(1)
	for trial := 0; trial < n.cfg.NumTrials; trial++ {
		coarse := n.coarsePath(departure, n.randomPoint(), numSegments, novelty)
		path := n.interpolate(coarse)
		if score := n.score(departure, path, novelty); best == nil || score < bestScore {
			best, bestScore = path, score
		}
	}
	return best, nil
}

func (n *Navigator) randomPoint() []float64 {
	p := make([]float64, n.dims)
	for i := range p {
		p[i] = n.rng.Float64()
	}
	return p
}

// coarsePath walks numSegments straight steps toward dest, pulling every step
// onto the manifold and then letting it drift back out by the novelty share.
// Steps that do not move are dropped.
func (n *Navigator) coarsePath(departure, dest []float64, numSegments int, novelty float64) [][]float64 {
	keep := math.Min(1, novelty*n.cfg.NoveltyFactor)
	path := [][]float64{pose.Clone(departure)}

	for i := 0; i < numSegments-1; i++ {
		prev := path[len(path)-1]
		remaining := float64(numSegments - i - 1)

		straight := make([]float64, n.dims)
		for d := range straight {
			straight[d] = prev[d] + (dest[d]-prev[d])/remaining
		}

		nearest, _ := n.Nearest(straight)
		next := make([]float64, n.dims)
		for d := range next {
			next[d] = nearest[d] + (straight[d]-nearest[d])*keep
		}

		if !equal(next, prev) {
			path = append(path, next)
		}
	}
	return path
}

// interpolate resamples a coarse path to the configured resolution with a
// natural cubic spline per dimension, then clamps the result to the indices
// nearest the coarse start and end.
func (n *Navigator) interpolate(coarse [][]float64) [][]float64 {
	if len(coarse) < 2 {
		return [][]float64{pose.Clone(coarse[0])}
	}

	knots := len(coarse)
	xs := make([]float64, knots)
	for i := range xs {
		xs[i] = float64(i) / float64(knots-1)
	}

	res := n.cfg.Resolution
	curve := make([][]float64, res)
	for j := range curve {
		curve[j] = make([]float64, n.dims)
	}

	ys := make([]float64, knots)
	for d := 0; d < n.dims; d++ {
		for i, p := range coarse {
			ys[i] = p[d]
		}
		predictor := fitDimension(xs, ys)
		for j := range curve {
			curve[j][d] = predictor.Predict(float64(j) / float64(res-1))
		}
	}

	return clamp(curve, coarse[0], coarse[len(coarse)-1])
}

func fitDimension(xs, ys []float64) interp.Predictor {
	if len(xs) > 2 {
		var spline interp.NaturalCubic
		if err := spline.Fit(xs, ys); err == nil {
			return &spline
		}
	}
	var linear interp.PiecewiseLinear
	// xs is strictly increasing with at least two knots here
	_ = linear.Fit(xs, ys)
	return &linear
}

// clamp trims curve to start at the point nearest start and end at the point
// nearest end. If the two cross, the curve is returned untouched.
func clamp(curve [][]float64, start, end []float64) [][]float64 {
	first, best := 0, math.Inf(1)
	for i, p := range curve {
		if d := pose.Distance(p, start); d < best {
			first, best = i, d
		}
	}
	last, best := len(curve)-1, math.Inf(1)
	for i := len(curve) - 1; i >= 0; i-- {
		if d := pose.Distance(curve[i], end); d < best {
			last, best = i, d
		}
	}
	if last < first {
		return curve
	}
	return curve[first : last+1]
}

// score is lower for paths whose mean distance to the manifold is close to
// the requested novelty and whose end lies at the desired extension.
func (n *Navigator) score(departure []float64, path [][]float64, novelty float64) float64 {
	var sum float64
	for _, p := range path {
		_, d := n.Nearest(p)
		sum += d
	}
	achieved := sum / float64(len(path))
	extension := pose.Distance(departure, path[len(path)-1])

	return n.cfg.NoveltyWeight*math.Abs(achieved-novelty) +
		n.cfg.ExtensionWeight*math.Abs(extension-n.cfg.Extension)
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
