package behavior

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"dancepartner/internal/chaining"
	"dancepartner/internal/memory"
	"dancepartner/internal/pose"
)

// Mode is a source the switching machine can dwell in.
type Mode int

const (
	Mirror Mode = iota
	Improvisation
	Recall

	NumModes
)

var modeNames = [NumModes]string{"mirror", "improvise", "recall"}

func (m Mode) String() string {
	if m < 0 || m >= NumModes {
		return "unknown"
	}
	return modeNames[m]
}

func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("invalid mode %q (must be mirror, improvise or recall)", s)
}

// SwitchingConfig tunes the mode-selecting machine. Weights and Durations
// are indexed by Mode; durations are in seconds.
type SwitchingConfig struct {
	Weights   [NumModes]float64
	Durations [NumModes]float64

	ReverseProbability float64

	MirrorDelay    float64
	MaxMirrorDelay float64

	DelayShift          bool
	DelayShiftPeriod    float64
	DelayShiftMagnitude float64
	DelayShiftSeed      int64
}

// SwitchingBehavior dwells in one of Mirror, Improvise or Recall and moves
// between them with S-curve interpolations. The next mode is a weighted
// random pick among the other available modes.
type SwitchingBehavior struct {
	cfg       SwitchingConfig
	memory    *memory.Memory
	improvise *Improvise
	entity    pose.Entity
	clock     FrameClock
	rng       *rand.Rand
	logger    *slog.Logger

	mode, nextMode Mode
	interpolating  bool
	stateFrames    int
	amount         float64

	recall, nextRecall *memory.Recall

	delay *DelayLine
	shift *DelayShift

	chainer  *chaining.Chainer
	selector *chaining.Selector
	output   []float64
}

func NewSwitchingBehavior(cfg SwitchingConfig, mem *memory.Memory, improvise *Improvise, entity pose.Entity, clock FrameClock, rng *rand.Rand, logger *slog.Logger) *SwitchingBehavior {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxMirrorDelay < cfg.MirrorDelay {
		cfg.MaxMirrorDelay = cfg.MirrorDelay
	}
	b := &SwitchingBehavior{
		cfg:       cfg,
		memory:    mem,
		improvise: improvise,
		entity:    entity,
		clock:     clock,
		rng:       rng,
		logger:    logger,
		delay:     NewDelayLine(clock.Frames(cfg.MaxMirrorDelay)),
		chainer:   chaining.New(),
	}
	if cfg.DelayShift {
		b.shift = NewDelayShift(cfg.DelayShiftPeriod, cfg.DelayShiftMagnitude, cfg.DelayShiftSeed)
	}
	b.selector = chaining.NewSelector(b.chainer.SwitchSource)
	b.initialize()
	return b
}

// initialize enters the first available mode, falling back to Mirror.
func (b *SwitchingBehavior) initialize() {
	b.interpolating = false
	b.stateFrames = 0
	b.recall, b.nextRecall = nil, nil
	b.mode = Mirror

	for m := Mode(0); m < NumModes; m++ {
		if !b.available(m) {
			continue
		}
		if m == Recall {
			r, err := b.createRecall()
			if err != nil {
				continue
			}
			b.recall = r
		}
		b.mode = m
		break
	}
	b.chainer.SwitchSource()
	b.logger.Debug("switching initialized", "mode", b.mode.String())
}

// OnInput feeds live input to the mirror delay line.
func (b *SwitchingBehavior) OnInput(frame []float64) { b.delay.Push(frame) }

// OnMemoryCleared abandons any recall in use.
func (b *SwitchingBehavior) OnMemoryCleared() {
	if b.mode == Recall || (b.interpolating && b.nextMode == Recall) {
		b.initialize()
	}
}

// ResetTranslation re-anchors the emitted translation at the origin.
func (b *SwitchingBehavior) ResetTranslation() {
	b.chainer.Anchor(pose.Zeros(pose.TranslationLen))
	b.selector = chaining.NewSelector(b.chainer.SwitchSource)
}

func (b *SwitchingBehavior) SetWeight(m Mode, w float64) {
	if m >= 0 && m < NumModes {
		b.cfg.Weights[m] = w
	}
}

// SetDuration changes the dwell of m. A running dwell picks it up on its
// next frame.
func (b *SwitchingBehavior) SetDuration(m Mode, sec float64) {
	if m >= 0 && m < NumModes {
		b.cfg.Durations[m] = sec
	}
}

func (b *SwitchingBehavior) SetReverseProbability(p float64) { b.cfg.ReverseProbability = p }

func (b *SwitchingBehavior) Mode() Mode { return b.mode }

// NextMode is the interpolation target; ok is false while dwelling.
func (b *SwitchingBehavior) NextMode() (m Mode, ok bool) { return b.nextMode, b.interpolating }

// Output is the last emitted frame, or nil before any source produced one.
func (b *SwitchingBehavior) Output() []float64 { return pose.Clone(b.output) }

// Friction is on while improvising, and during an interpolation on the side
// of the S-curve that is closer to improvise.
func (b *SwitchingBehavior) Friction() bool {
	if !b.interpolating {
		return b.mode == Improvisation
	}
	switch {
	case b.mode == Improvisation && b.nextMode == Improvisation:
		return true
	case b.mode == Improvisation:
		return b.amount <= 0.5
	case b.nextMode == Improvisation:
		return b.amount > 0.5
	default:
		return false
	}
}

func (b *SwitchingBehavior) dwellFrames(m Mode) int { return max(1, b.clock.Frames(b.cfg.Durations[m])) }
func (b *SwitchingBehavior) interpFrames() int     { return max(1, b.clock.Frames(InterpolationDuration)) }

// recallEpisodeFrames covers the interpolation in, the dwell and the
// interpolation out.
func (b *SwitchingBehavior) recallEpisodeFrames() int {
	return b.dwellFrames(Recall) + 2*b.interpFrames()
}

func (b *SwitchingBehavior) available(m Mode) bool {
	if b.cfg.Weights[m] <= 0 {
		return false
	}
	switch m {
	case Improvisation:
		return b.improvise != nil && b.improvise.Ready()
	case Recall:
		return b.memory.NumFrames() >= b.recallEpisodeFrames()
	default:
		return true
	}
}

// Proceed advances by the whole number of frames in dt. The improvise
// behavior is advanced by the caller.
func (b *SwitchingBehavior) Proceed(dt float64) error {
	if b.shift != nil {
		b.shift.Advance(dt)
	}
	for n := b.clock.Advance(dt); n > 0; n-- {
		if err := b.step(); err != nil {
			return err
		}
	}
	return nil
}

func (b *SwitchingBehavior) step() error {
	if !b.interpolating {
		out, err := b.sourceOutput(b.mode, b.recall)
		if err != nil {
			return err
		}
		if out != nil {
			b.emit(pose.Translation(out), pose.Orientations(out))
		}
		b.advance(b.recall)
		b.stateFrames++
		if b.stateFrames >= b.dwellFrames(b.mode) {
			b.chooseNext()
		}
		return nil
	}

	from, err := b.sourceOutput(b.mode, b.recall)
	if err != nil {
		return err
	}
	to, err := b.sourceOutput(b.nextMode, b.nextRecall)
	if err != nil {
		return err
	}
	if from == nil {
		from = to
	}
	if to == nil {
		to = from
	}

	b.amount = SCurve(float64(b.stateFrames) / float64(b.interpFrames()))
	if from != nil {
		translation := b.selector.Select(pose.Translation(from), pose.Translation(to), b.amount)
		blended := b.entity.Interpolate(from, to, b.amount)
		b.emit(translation, pose.Orientations(blended))
	}
	b.advance(b.recall)
	b.advance(b.nextRecall)
	b.stateFrames++

	if b.stateFrames >= b.interpFrames() {
		b.logger.Debug("mode entered", "mode", b.nextMode.String())
		b.mode, b.recall = b.nextMode, b.nextRecall
		b.nextRecall = nil
		b.interpolating = false
		b.stateFrames = 0
	}
	return nil
}

func (b *SwitchingBehavior) sourceOutput(m Mode, r *memory.Recall) ([]float64, error) {
	switch m {
	case Mirror:
		return b.delay.At(b.mirrorDelayFrames()), nil
	case Improvisation:
		if b.improvise == nil {
			return nil, nil
		}
		return b.improvise.Output()
	case Recall:
		if r == nil {
			return nil, nil
		}
		return r.Output(), nil
	}
	return nil, nil
}

func (b *SwitchingBehavior) advance(r *memory.Recall) {
	if r != nil {
		r.Proceed(1)
	}
}

func (b *SwitchingBehavior) mirrorDelayFrames() int {
	delay := b.cfg.MirrorDelay
	if b.shift != nil {
		delay += b.shift.Value()
	}
	return min(b.clock.Frames(delay), b.clock.Frames(b.cfg.MaxMirrorDelay))
}

func (b *SwitchingBehavior) emit(translation, orientations []float64) {
	b.chainer.Put(translation)
	b.output = pose.Combine(b.chainer.Get(), orientations)
}

func (b *SwitchingBehavior) chooseNext() {
	var candidates WeightedShuffler[Mode]
	for m := Mode(0); m < NumModes; m++ {
		if m != b.mode && b.available(m) {
			candidates.Add(m, b.cfg.Weights[m])
		}
	}

	next, ok := candidates.Choice(b.rng)
	if !ok {
		// a recall episode cannot be extended, so recall moves on to a fresh one
		if b.mode == Recall && b.available(Recall) {
			b.beginInterpolation(Recall)
			return
		}
		b.logger.Info("no other mode available, staying", "mode", b.mode.String())
		b.stateFrames = 0
		return
	}
	b.beginInterpolation(next)
}

func (b *SwitchingBehavior) beginInterpolation(next Mode) {
	var r *memory.Recall
	if next == Recall {
		var err error
		if r, err = b.createRecall(); err != nil {
			b.logger.Info("recall unavailable, staying", "mode", b.mode.String(), "error", err)
			b.stateFrames = 0
			return
		}
	}
	b.logger.Debug("mode interpolation", "from", b.mode.String(), "to", next.String())
	b.nextMode, b.nextRecall = next, r
	b.interpolating = true
	b.stateFrames = 0
	b.amount = 0
	b.selector = chaining.NewSelector(b.chainer.SwitchSource)
}

func (b *SwitchingBehavior) createRecall() (*memory.Recall, error) {
	return b.memory.CreateRandomRecall(b.recallEpisodeFrames(), b.cfg.ReverseProbability, 0)
}
