package behavior

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"dancepartner/internal/navigator"
	"dancepartner/internal/pose"
)

// maxPathsPerProceed bounds how many fresh paths a single Proceed may start,
// so degenerate paths cannot spin the tick.
const maxPathsPerProceed = 8

// ImproviseParams are the live-tunable improvisation knobs.
type ImproviseParams struct {
	Novelty    float64
	MaxNovelty float64 // upper bound for Novelty; 0 means unbounded
	Extension  float64
	Velocity   float64

	NumSegments int
	Envelope    navigator.Envelope
}

// Improvise wanders through the model's manifold, one generated path after
// another, and decodes the current latent position into a full pose.
type Improvise struct {
	model  pose.Model
	params ImproviseParams
	navCfg navigator.Config
	rng    *rand.Rand
	logger *slog.Logger

	nav      *navigator.Navigator
	navSize  int
	follower *navigator.PathFollower
	position []float64
}

func NewImprovise(model pose.Model, params ImproviseParams, navCfg navigator.Config, rng *rand.Rand, logger *slog.Logger) *Improvise {
	if params.Envelope == nil {
		params.Envelope = navigator.ConstantEnvelope{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Improvise{
		model:  model,
		params: params,
		navCfg: navCfg,
		rng:    rng,
		logger: logger,
	}
}

func (i *Improvise) SetNovelty(v float64) { i.params.Novelty = v }

func (i *Improvise) SetExtension(v float64) {
	i.params.Extension = v
	if i.nav != nil {
		i.nav.SetExtension(v)
	}
}

// SetVelocity applies from the next path on.
func (i *Improvise) SetVelocity(v float64) { i.params.Velocity = v }

func (i *Improvise) Params() ImproviseParams { return i.params }

// Ready reports whether there is a manifold to improvise on.
func (i *Improvise) Ready() bool { return len(i.model.Manifold()) > 0 }

// Proceed advances along the current path by dt seconds, starting new paths
// as destinations are reached. An empty manifold leaves the behavior idle.
func (i *Improvise) Proceed(dt float64) error {
	remaining := dt
	started := 0
	for remaining > 0 {
		if i.follower == nil || i.follower.ReachedDestination() {
			if started >= maxPathsPerProceed {
				break
			}
			if err := i.startPath(); err != nil {
				if errors.Is(err, navigator.ErrEmptyManifold) {
					return nil
				}
				return err
			}
			started++
			continue
		}
		remaining -= i.follower.Proceed(remaining)
		i.position = i.follower.CurrentPosition()
	}
	return nil
}

func (i *Improvise) startPath() error {
	manifold := i.model.Manifold()
	if len(manifold) == 0 {
		return navigator.ErrEmptyManifold
	}
	if i.nav == nil || len(manifold) != i.navSize {
		cfg := i.navCfg
		cfg.Extension = i.params.Extension
		nav, err := navigator.New(manifold, i.rng, cfg)
		if err != nil {
			return fmt.Errorf("improvise: %w", err)
		}
		i.nav, i.navSize = nav, len(manifold)
	}

	departure := i.position
	if departure == nil {
		departure = pose.Clone(manifold[i.rng.Intn(len(manifold))])
	}

	novelty := i.params.Novelty
	if i.params.MaxNovelty > 0 {
		novelty = math.Min(novelty, i.params.MaxNovelty)
	}

	path, err := i.nav.GeneratePath(departure, i.params.NumSegments, novelty)
	if err != nil {
		return fmt.Errorf("improvise: generate path: %w", err)
	}
	i.follower = navigator.NewPathFollower(path, i.params.Velocity, i.params.Envelope)
	i.position = i.follower.CurrentPosition()

	i.logger.Debug("improvise path started",
		"points", len(path),
		"novelty", novelty,
		"correction", i.follower.Correction(),
	)
	return nil
}

// Reduction is the current latent position, or nil before the first path.
func (i *Improvise) Reduction() []float64 { return pose.Clone(i.position) }

// Output decodes the current latent position. Decoder errors are returned
// unchanged to the caller.
func (i *Improvise) Output() ([]float64, error) {
	if i.position == nil {
		return nil, nil
	}
	return i.model.InverseTransform(i.position)
}
