package behavior

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"dancepartner/internal/chaining"
	"dancepartner/internal/memory"
	"dancepartner/internal/pose"
)

// Strategy selects what the master blends with live input.
type Strategy string

const (
	// StrategySwitching outputs the Mirror/Improvise/Recall machine.
	StrategySwitching Strategy = "switching"
	// StrategyBlend crossfades improvise and recall by the recall amount.
	StrategyBlend Strategy = "blend"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySwitching, StrategyBlend:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("invalid strategy %q (must be switching or blend)", s)
	}
}

// MasterConfig holds the master's initial knob values.
type MasterConfig struct {
	Strategy Strategy

	// IOBlendingAmount 0 echoes live input, 1 outputs only the behavior.
	IOBlendingAmount float64
	RecallAmount     float64

	Memorize     bool
	AutoFriction bool
	AutoSwitch   bool
	InputOnly    bool
}

// Components are the collaborators a Master drives.
type Components struct {
	Entity    pose.Entity
	Memory    *memory.Memory
	Improvise *Improvise
	Recall    *RecallBehavior
	Switching *SwitchingBehavior
}

// Constrainer is implemented by entities that post-process output frames.
type Constrainer interface {
	Constrain(p []float64) []float64
	ResetConstrainers()
}

// Confiner is implemented by entities whose confinement can be toggled.
type Confiner interface {
	Confinement() bool
	SetConfinement(on bool)
}

// Master is the per-frame driver. Call OnInput when a live frame is
// available, Proceed once per tick and Output once per tick.
type Master struct {
	cfg    MasterConfig
	c      Components
	logger *slog.Logger

	input   []float64
	elapsed float64

	chainer  *chaining.Chainer
	selector *chaining.Selector

	warnedNoRecall bool
}

func NewMaster(cfg MasterConfig, c Components, logger *slog.Logger) (*Master, error) {
	if _, err := ParseStrategy(string(cfg.Strategy)); err != nil {
		return nil, err
	}
	if c.Entity == nil || c.Memory == nil || c.Improvise == nil || c.Recall == nil || c.Switching == nil {
		return nil, errors.New("master: missing component")
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Master{cfg: cfg, c: c, logger: logger}
	m.ResetTranslation()
	return m, nil
}

// OnInput records a live frame.
func (m *Master) OnInput(frame []float64) {
	m.input = pose.Clone(frame)
	if m.cfg.Memorize {
		m.c.Memory.OnInput(frame)
	}
	m.c.Switching.OnInput(frame)
}

// Proceed advances every behavior by dt seconds and updates friction.
func (m *Master) Proceed(dt float64) error {
	m.elapsed += dt
	if m.cfg.AutoSwitch {
		m.cfg.RecallAmount = (math.Sin(m.elapsed*0.5) + 1) / 2
	}

	if err := m.c.Improvise.Proceed(dt); err != nil {
		return err
	}

	switch m.cfg.Strategy {
	case StrategyBlend:
		m.c.Recall.Proceed(dt)
		if m.cfg.AutoFriction {
			m.c.Entity.SetFriction(m.cfg.RecallAmount < 0.5)
		}
	default:
		if err := m.c.Switching.Proceed(dt); err != nil {
			return err
		}
		if m.cfg.AutoFriction {
			m.c.Entity.SetFriction(m.cfg.IOBlendingAmount < 0.5 || m.c.Switching.Friction())
		}
	}
	return nil
}

// Output returns this frame's pose, or nil when nothing is available yet.
func (m *Master) Output() ([]float64, error) {
	if m.cfg.InputOnly {
		return pose.Clone(m.input), nil
	}

	var out []float64
	switch m.cfg.Strategy {
	case StrategyBlend:
		var err error
		if out, err = m.blendOutput(); err != nil {
			return nil, err
		}
	default:
		out = m.c.Switching.Output()
	}

	if out == nil {
		return pose.Clone(m.input), nil
	}
	if m.input != nil {
		out = m.c.Entity.Interpolate(m.input, out, m.cfg.IOBlendingAmount)
	}
	return out, nil
}

func (m *Master) blendOutput() ([]float64, error) {
	improvised, err := m.c.Improvise.Output()
	if err != nil {
		return nil, err
	}
	recalled := m.c.Recall.Output()

	var translation, orientations []float64
	switch {
	case improvised == nil && recalled == nil:
		return nil, nil
	case recalled == nil:
		if m.cfg.RecallAmount > 0 && !m.warnedNoRecall {
			m.logger.Warn("recall amount > 0 but no recall output")
			m.warnedNoRecall = true
		}
		translation = m.selector.Select(pose.Translation(improvised), nil, 0)
		orientations = pose.Orientations(improvised)
	case improvised == nil:
		translation = m.selector.Select(nil, pose.Translation(recalled), 1)
		orientations = pose.Orientations(recalled)
	default:
		m.warnedNoRecall = false
		translation = m.selector.Select(pose.Translation(improvised), pose.Translation(recalled), m.cfg.RecallAmount)
		orientations = pose.Orientations(m.c.Entity.Interpolate(improvised, recalled, m.cfg.RecallAmount))
	}

	m.chainer.Put(translation)
	return pose.Combine(m.chainer.Get(), orientations), nil
}

// ResetTranslation re-anchors every emitted translation at the origin and
// clears the entity's constrainers.
func (m *Master) ResetTranslation() {
	if c, ok := m.c.Entity.(Constrainer); ok {
		c.ResetConstrainers()
	}
	m.chainer = chaining.New()
	m.chainer.Anchor(pose.Zeros(pose.TranslationLen))
	m.selector = chaining.NewSelector(m.chainer.SwitchSource)
	m.c.Switching.ResetTranslation()
}

// ClearMemory empties memory and resets everything that reads from it.
func (m *Master) ClearMemory() {
	m.c.Memory.Clear()
	m.c.Recall.Reset()
	m.c.Switching.OnMemoryCleared()
}

// SetMemory replaces memory with frames, for example a loaded recording.
func (m *Master) SetMemory(frames [][]float64) {
	m.c.Memory.SetFrames(frames)
	m.c.Recall.Reset()
	m.c.Switching.OnMemoryCleared()
}

// SetMemorize starts a fresh memory when memorizing is switched on.
func (m *Master) SetMemorize(on bool) {
	if on && !m.cfg.Memorize {
		m.ClearMemory()
	}
	m.cfg.Memorize = on
}

func (m *Master) SetRecallAmount(v float64)     { m.cfg.RecallAmount = clamp01(v) }
func (m *Master) SetIOBlendingAmount(v float64) { m.cfg.IOBlendingAmount = clamp01(v) }
func (m *Master) SetInputOnly(on bool)          { m.cfg.InputOnly = on }
func (m *Master) SetAutoSwitch(on bool)         { m.cfg.AutoSwitch = on }
func (m *Master) SetAutoFriction(on bool)       { m.cfg.AutoFriction = on }

func (m *Master) SetWeight(mode Mode, w float64) { m.c.Switching.SetWeight(mode, w) }
func (m *Master) SetNovelty(v float64)           { m.c.Improvise.SetNovelty(v) }
func (m *Master) SetExtension(v float64)         { m.c.Improvise.SetExtension(v) }
func (m *Master) SetVelocity(v float64)          { m.c.Improvise.SetVelocity(v) }

func (m *Master) SetModeDuration(mode Mode, sec float64) { m.c.Switching.SetDuration(mode, sec) }
func (m *Master) SetRecencySize(sec float64)             { m.c.Recall.SetRecencySize(sec) }
func (m *Master) SetRecencyBias(p float64)               { m.c.Recall.SetRecencyBias(clamp01(p)) }

// SetReverseProbability applies to recall episodes of both strategies.
func (m *Master) SetReverseProbability(p float64) {
	p = clamp01(p)
	m.c.Recall.SetReverseProbability(p)
	m.c.Switching.SetReverseProbability(p)
}

// SetConfinement is a no-op for entities without confinement.
func (m *Master) SetConfinement(on bool) {
	if c, ok := m.c.Entity.(Confiner); ok {
		c.SetConfinement(on)
	}
}

// Frames returns a copy of the memory contents.
func (m *Master) Frames() [][]float64 {
	src := m.c.Memory.Frames()
	out := make([][]float64, len(src))
	for i, f := range src {
		out[i] = pose.Clone(f)
	}
	return out
}

// Status is a snapshot of the master's observable state.
type Status struct {
	Strategy      string  `json:"strategy"`
	Mode          string  `json:"mode"`
	NextMode      string  `json:"next_mode,omitempty"`
	RecallState   string  `json:"recall_state"`
	RecallAmount  float64 `json:"recall_amount"`
	IOBlending    float64 `json:"io_blending_amount"`
	Memorize      bool    `json:"memorize"`
	InputOnly     bool    `json:"input_only"`
	AutoSwitch    bool    `json:"auto_switch"`
	AutoFriction  bool    `json:"auto_friction"`
	Friction      bool    `json:"friction"`
	Confinement   bool    `json:"confinement"`
	MemoryFrames  int     `json:"memory_frames"`
	ImproviseIdle bool    `json:"improvise_idle"`
}

func (m *Master) Status() Status {
	s := Status{
		Strategy:      string(m.cfg.Strategy),
		Mode:          m.c.Switching.Mode().String(),
		RecallState:   m.c.Recall.State().String(),
		RecallAmount:  m.cfg.RecallAmount,
		IOBlending:    m.cfg.IOBlendingAmount,
		Memorize:      m.cfg.Memorize,
		InputOnly:     m.cfg.InputOnly,
		AutoSwitch:    m.cfg.AutoSwitch,
		AutoFriction:  m.cfg.AutoFriction,
		Friction:      m.c.Entity.Friction(),
		MemoryFrames:  m.c.Memory.NumFrames(),
		ImproviseIdle: m.c.Improvise.Reduction() == nil,
	}
	if next, ok := m.c.Switching.NextMode(); ok {
		s.NextMode = next.String()
	}
	if c, ok := m.c.Entity.(Confiner); ok {
		s.Confinement = c.Confinement()
	}
	return s
}

// Constrain passes out through the entity's constrainers, if it has any.
func (m *Master) Constrain(out []float64) []float64 {
	if c, ok := m.c.Entity.(Constrainer); ok {
		return c.Constrain(out)
	}
	return out
}

func clamp01(v float64) float64 { return math.Max(0, math.Min(1, v)) }
