package pose

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Model is the pretrained dimensionality reduction collaborator.
//
// Latent points exchanged with a Model are normalized into [0,1] per
// dimension. Manifold returns the normalized latent points observed so far;
// callers must treat the returned slice as read-only.
type Model interface {
	Transform(p []float64) ([]float64, error)
	InverseTransform(latent []float64) ([]float64, error)
	NumReducedDimensions() int
	Manifold() [][]float64
}

// ErrDimensionMismatch is returned when a vector does not fit the model.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// ModelFile is the YAML representation of a LinearModel.
type ModelFile struct {
	// Mean is the full-pose mean subtracted before projection.
	Mean []float64 `yaml:"mean"`
	// Components has one row per reduced dimension, each len(Mean) long.
	Components [][]float64 `yaml:"components"`
	// LatentMin/LatentMax bound the raw projections; used for normalization.
	LatentMin []float64 `yaml:"latent_min"`
	LatentMax []float64 `yaml:"latent_max"`
	// Manifold holds normalized latent points observed during training.
	Manifold [][]float64 `yaml:"manifold"`
}

// LinearModel is an affine (PCA style) reduction: latent = C·(p - mean),
// normalized per dimension by the training range.
type LinearModel struct {
	mean       []float64
	components *mat.Dense // reduced x full
	lo, hi     []float64

	manifold    [][]float64
	maxManifold int
}

// NewLinearModel validates f and builds a model. maxManifold caps how many
// points Observe may add on top of the trained manifold (0 disables growth).
func NewLinearModel(f ModelFile, maxManifold int) (*LinearModel, error) {
	full := len(f.Mean)
	reduced := len(f.Components)
	if full == 0 {
		return nil, errors.New("model: mean is empty")
	}
	if reduced == 0 {
		return nil, errors.New("model: components are empty")
	}
	if len(f.LatentMin) != reduced || len(f.LatentMax) != reduced {
		return nil, fmt.Errorf("model: latent bounds need %d values: %w", reduced, ErrDimensionMismatch)
	}

	data := make([]float64, 0, reduced*full)
	for i, row := range f.Components {
		if len(row) != full {
			return nil, fmt.Errorf("model: component %d has %d values, want %d: %w", i, len(row), full, ErrDimensionMismatch)
		}
		data = append(data, row...)
	}

	manifold := make([][]float64, 0, len(f.Manifold))
	for i, p := range f.Manifold {
		if len(p) != reduced {
			return nil, fmt.Errorf("model: manifold point %d has %d values, want %d: %w", i, len(p), reduced, ErrDimensionMismatch)
		}
		manifold = append(manifold, Clone(p))
	}

	return &LinearModel{
		mean:        Clone(f.Mean),
		components:  mat.NewDense(reduced, full, data),
		lo:          Clone(f.LatentMin),
		hi:          Clone(f.LatentMax),
		manifold:    manifold,
		maxManifold: len(manifold) + max(0, maxManifold),
	}, nil
}

// LoadLinearModel reads a YAML model file. Unknown fields are rejected.
func LoadLinearModel(path string, maxManifold int) (*LinearModel, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}

	var f ModelFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode model yaml: %w", err)
	}

	m, err := NewLinearModel(f, maxManifold)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return m, nil
}

func (m *LinearModel) NumReducedDimensions() int { return len(m.lo) }

// NumInputDimensions is the full pose length the model expects.
func (m *LinearModel) NumInputDimensions() int { return len(m.mean) }

func (m *LinearModel) Manifold() [][]float64 { return m.manifold }

func (m *LinearModel) Transform(p []float64) ([]float64, error) {
	if len(p) != len(m.mean) {
		return nil, fmt.Errorf("transform: pose has %d values, want %d: %w", len(p), len(m.mean), ErrDimensionMismatch)
	}
	centered := make([]float64, len(p))
	for i := range p {
		centered[i] = p[i] - m.mean[i]
	}

	var raw mat.VecDense
	raw.MulVec(m.components, mat.NewVecDense(len(centered), centered))

	out := make([]float64, raw.Len())
	for i := range out {
		span := m.hi[i] - m.lo[i]
		if span == 0 {
			out[i] = 0.5
			continue
		}
		out[i] = (raw.AtVec(i) - m.lo[i]) / span
	}
	return out, nil
}

func (m *LinearModel) InverseTransform(latent []float64) ([]float64, error) {
	if len(latent) != len(m.lo) {
		return nil, fmt.Errorf("inverse transform: latent has %d values, want %d: %w", len(latent), len(m.lo), ErrDimensionMismatch)
	}
	raw := make([]float64, len(latent))
	for i, v := range latent {
		raw[i] = m.lo[i] + v*(m.hi[i]-m.lo[i])
	}

	var full mat.VecDense
	full.MulVec(m.components.T(), mat.NewVecDense(len(raw), raw))

	out := make([]float64, full.Len())
	for i := range out {
		out[i] = full.AtVec(i) + m.mean[i]
	}
	return out, nil
}

// Observe adds the normalized reduction of p to the manifold until the
// growth cap is reached. It reports whether the point was added.
func (m *LinearModel) Observe(p []float64) (bool, error) {
	if len(m.manifold) >= m.maxManifold {
		return false, nil
	}
	latent, err := m.Transform(p)
	if err != nil {
		return false, err
	}
	m.manifold = append(m.manifold, latent)
	return true, nil
}
