package behavior

import (
	"log/slog"
	"math/rand"

	"dancepartner/internal/chaining"
	"dancepartner/internal/memory"
	"dancepartner/internal/pose"
)

// RecallState is a state of the RecallBehavior machine.
type RecallState int

const (
	RecallIdle RecallState = iota
	RecallNormal
	RecallCrossfade
)

func (s RecallState) String() string {
	switch s {
	case RecallIdle:
		return "idle"
	case RecallNormal:
		return "normal"
	case RecallCrossfade:
		return "crossfade"
	default:
		return "unknown"
	}
}

// RecallConfig tunes recall episodes.
type RecallConfig struct {
	Duration           float64 // seconds each recall plays between crossfades
	ReverseProbability float64
	// With probability RecencyBias a recall is drawn from the last
	// RecencySize seconds only.
	RecencySize float64
	RecencyBias float64
}

// RecallBehavior plays back random windows of memory, crossfading from one
// to the next. Translation continuity across crossfades is kept by a
// selector driven chainer.
type RecallBehavior struct {
	cfg    RecallConfig
	memory *memory.Memory
	entity pose.Entity
	clock  FrameClock
	rng    *rand.Rand
	logger *slog.Logger

	state       RecallState
	stateFrames int

	current, next *memory.Recall

	chainer  *chaining.Chainer
	selector *chaining.Selector
	output   []float64
}

func NewRecallBehavior(cfg RecallConfig, mem *memory.Memory, entity pose.Entity, clock FrameClock, rng *rand.Rand, logger *slog.Logger) *RecallBehavior {
	if logger == nil {
		logger = slog.Default()
	}
	b := &RecallBehavior{
		cfg:     cfg,
		memory:  mem,
		entity:  entity,
		clock:   clock,
		rng:     rng,
		logger:  logger,
		chainer: chaining.New(),
	}
	b.selector = chaining.NewSelector(b.chainer.SwitchSource)
	return b
}

// Reset drops the running episode and waits for memory again.
func (b *RecallBehavior) Reset() {
	b.state = RecallIdle
	b.stateFrames = 0
	b.current, b.next = nil, nil
	b.output = nil
	b.chainer.SwitchSource()
}

func (b *RecallBehavior) SetRecencySize(sec float64)     { b.cfg.RecencySize = sec }
func (b *RecallBehavior) SetRecencyBias(p float64)       { b.cfg.RecencyBias = p }
func (b *RecallBehavior) SetReverseProbability(p float64) { b.cfg.ReverseProbability = p }

func (b *RecallBehavior) State() RecallState { return b.state }

// Output is the last emitted frame, or nil while idle.
func (b *RecallBehavior) Output() []float64 { return pose.Clone(b.output) }

func (b *RecallBehavior) recallFrames() int { return max(1, b.clock.Frames(b.cfg.Duration)) }
func (b *RecallBehavior) interpFrames() int { return max(1, b.clock.Frames(InterpolationDuration)) }

// episodeFrames covers the crossfade in, the dwell and the crossfade out.
func (b *RecallBehavior) episodeFrames() int { return b.recallFrames() + 2*b.interpFrames() }

// Proceed advances the machine by the whole number of frames in dt.
func (b *RecallBehavior) Proceed(dt float64) {
	for n := b.clock.Advance(dt); n > 0; n-- {
		b.step()
	}
}

func (b *RecallBehavior) step() {
	switch b.state {
	case RecallIdle:
		if b.memory.NumFrames() < b.episodeFrames() {
			return
		}
		r, ok := b.createRecall()
		if !ok {
			return
		}
		b.current = r
		b.chainer.SwitchSource()
		b.enter(RecallNormal)

	case RecallNormal:
		out := b.current.Output()
		if out == nil {
			b.Reset()
			return
		}
		b.emit(pose.Translation(out), pose.Orientations(out))
		b.current.Proceed(1)
		b.stateFrames++

		if b.stateFrames >= b.recallFrames() {
			r, ok := b.createRecall()
			if !ok {
				b.Reset()
				return
			}
			b.next = r
			b.selector = chaining.NewSelector(b.chainer.SwitchSource)
			b.enter(RecallCrossfade)
		}

	case RecallCrossfade:
		from, to := b.current.Output(), b.next.Output()
		if from == nil || to == nil {
			b.Reset()
			return
		}
		amount := SCurve(float64(b.stateFrames) / float64(b.interpFrames()))
		translation := b.selector.Select(pose.Translation(from), pose.Translation(to), amount)
		blended := b.entity.Interpolate(from, to, amount)
		b.emit(translation, pose.Orientations(blended))

		b.current.Proceed(1)
		b.next.Proceed(1)
		b.stateFrames++

		if b.stateFrames >= b.interpFrames() {
			b.current, b.next = b.next, nil
			b.enter(RecallNormal)
		}
	}
}

func (b *RecallBehavior) enter(s RecallState) {
	b.logger.Debug("recall state", "from", b.state.String(), "to", s.String())
	b.state = s
	b.stateFrames = 0
}

func (b *RecallBehavior) emit(translation, orientations []float64) {
	b.chainer.Put(translation)
	b.output = pose.Combine(b.chainer.Get(), orientations)
}

func (b *RecallBehavior) createRecall() (*memory.Recall, bool) {
	recency := 0
	if b.rng.Float64() < b.cfg.RecencyBias {
		recency = b.clock.Frames(b.cfg.RecencySize)
	}
	r, err := b.memory.CreateRandomRecall(b.episodeFrames(), b.cfg.ReverseProbability, recency)
	if err != nil {
		b.logger.Debug("recall unavailable", "error", err)
		return nil, false
	}
	return r, true
}
