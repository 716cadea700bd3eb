package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"dancepartner/internal/behavior"
	"dancepartner/internal/navigator"
	"dancepartner/internal/pose"
)

// Config is the top-level YAML configuration for the partnerd daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config.
type Config struct {
	Engine    EngineConfig        `yaml:"engine"`
	Improvise ImproviseConfig     `yaml:"improvise"`
	Recall    RecallFileConfig    `yaml:"recall"`
	Switching SwitchingFileConfig `yaml:"switching"`
	Entity    EntityFileConfig    `yaml:"entity"`
	Model     ModelConfig         `yaml:"model"`
	Mocap     MocapConfig         `yaml:"mocap"`
	HTTP      HTTPConfig          `yaml:"http"`
	IPC       IPCConfig           `yaml:"ipc"`
	Store     StoreConfig         `yaml:"store"`
	Logging   LoggingConfig       `yaml:"logging"`
}

type EngineConfig struct {
	FrameRate        int     `yaml:"frame_rate"`
	Strategy         string  `yaml:"strategy"` // "switching" or "blend"
	IOBlendingAmount float64 `yaml:"io_blending_amount"`
	RecallAmount     float64 `yaml:"recall_amount"`
	Memorize         bool    `yaml:"memorize"`
	AutoFriction     bool    `yaml:"auto_friction"`
	AutoSwitch       bool    `yaml:"auto_switch"`
	InputOnly        bool    `yaml:"input_only"`
	RandomSeed       int64   `yaml:"random_seed,omitempty"` // 0 seeds from the clock
}

type ImproviseConfig struct {
	Novelty        float64 `yaml:"novelty"`
	MaxNovelty     float64 `yaml:"max_novelty"`
	Extension      float64 `yaml:"extension"`
	Velocity       float64 `yaml:"velocity"`
	NumSegments    int     `yaml:"num_segments"`
	PathResolution int     `yaml:"path_resolution"`
	Envelope       string  `yaml:"envelope"` // constant, sine or ramp
	NumTrials      int     `yaml:"num_trials"`
}

type RecallFileConfig struct {
	DurationSec        float64 `yaml:"duration_sec"`
	ReverseProbability float64 `yaml:"reverse_probability"`
	RecencySec         float64 `yaml:"recency_sec"`
	RecencyBias        float64 `yaml:"recency_bias"`
	MaxFrames          int     `yaml:"max_frames"`
}

type ModeFileConfig struct {
	Weight      float64 `yaml:"weight"`
	DurationSec float64 `yaml:"duration_sec"`
}

type DelayShiftConfig struct {
	Enabled      bool    `yaml:"enabled"`
	PeriodSec    float64 `yaml:"period_sec"`
	MagnitudeSec float64 `yaml:"magnitude_sec"`
	Seed         int64   `yaml:"seed,omitempty"`
}

type SwitchingFileConfig struct {
	Mirror    ModeFileConfig `yaml:"mirror"`
	Improvise ModeFileConfig `yaml:"improvise"`
	Recall    ModeFileConfig `yaml:"recall"`

	ReverseProbability float64 `yaml:"reverse_probability"`

	MirrorDelaySec    float64          `yaml:"mirror_delay_sec"`
	MaxMirrorDelaySec float64          `yaml:"max_mirror_delay_sec"`
	DelayShift        DelayShiftConfig `yaml:"delay_shift"`
}

type EntityFileConfig struct {
	Orientation       string    `yaml:"orientation"` // auto, quaternion or linear
	Friction          bool      `yaml:"friction"`
	FrictionAmount    float64   `yaml:"friction_amount"`
	Confinement       bool      `yaml:"confinement"`
	ConfinementRate   float64   `yaml:"confinement_rate"`
	ConfinementTarget []float64 `yaml:"confinement_target,omitempty"`
}

type ModelConfig struct {
	Path              string `yaml:"path"`
	ObserveInput      bool   `yaml:"observe_input"`
	MaxManifoldPoints int    `yaml:"max_manifold_points"`
}

type MocapConfig struct {
	// Address is host:port of the BVH string broadcaster; empty disables input.
	Address             string    `yaml:"address"`
	ReconnectIntervalMS int       `yaml:"reconnect_interval_ms"`
	TranslationOffset   []float64 `yaml:"translation_offset,omitempty"`
	ReadBufferBytes     int       `yaml:"read_buffer_bytes"`
}

type HTTPConfig struct {
	Port   int    `yaml:"port"`
	WsPath string `yaml:"ws_path"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StoreConfig struct {
	// Path of the SQLite recordings database; empty disables save/load.
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			FrameRate:        50,
			Strategy:         string(behavior.StrategySwitching),
			IOBlendingAmount: 1,
			RecallAmount:     0,
			Memorize:         true,
			AutoFriction:     true,
		},
		Improvise: ImproviseConfig{
			Novelty:        0.03,
			MaxNovelty:     1,
			Extension:      0.5,
			Velocity:       0.5,
			NumSegments:    10,
			PathResolution: 100,
			Envelope:       "sine",
			NumTrials:      10,
		},
		Recall: RecallFileConfig{
			DurationSec: 3,
			RecencySec:  5,
			RecencyBias: 1,
			MaxFrames:   50 * 60 * 10,
		},
		Switching: SwitchingFileConfig{
			Mirror:            ModeFileConfig{Weight: 1, DurationSec: 3},
			Improvise:         ModeFileConfig{Weight: 1, DurationSec: 3},
			Recall:            ModeFileConfig{Weight: 1, DurationSec: 3},
			MaxMirrorDelaySec: 10,
			DelayShift: DelayShiftConfig{
				PeriodSec:    4,
				MagnitudeSec: 1,
			},
		},
		Entity: EntityFileConfig{
			Orientation:     string(pose.OrientationAuto),
			FrictionAmount:  0.8,
			ConfinementRate: 0.02,
		},
		Model: ModelConfig{
			MaxManifoldPoints: 5000,
		},
		Mocap: MocapConfig{
			ReconnectIntervalMS: 1000,
			ReadBufferBytes:     64 * 1024,
		},
		HTTP: HTTPConfig{
			Port:   3001,
			WsPath: "/ws",
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/partnerd.sock",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
// Unknown fields are rejected to catch typos.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds command-line overrides. A nil pointer means the flag
// was not given; a non-nil pointer is applied even if it is a zero value.
type FlagOverrides struct {
	FrameRate        *int
	Strategy         *string
	IOBlendingAmount *float64
	Memorize         *bool

	ModelPath     *string
	MocapAddress  *string
	HTTPPort      *int
	IPCSocketPath *string
	StorePath     *string

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.FrameRate != nil {
		cfg.Engine.FrameRate = *o.FrameRate
	}
	if o.Strategy != nil {
		cfg.Engine.Strategy = *o.Strategy
	}
	if o.IOBlendingAmount != nil {
		cfg.Engine.IOBlendingAmount = *o.IOBlendingAmount
	}
	if o.Memorize != nil {
		cfg.Engine.Memorize = *o.Memorize
	}
	if o.ModelPath != nil {
		cfg.Model.Path = *o.ModelPath
	}
	if o.MocapAddress != nil {
		cfg.Mocap.Address = *o.MocapAddress
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.StorePath != nil {
		cfg.Store.Path = *o.StorePath
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// It is called after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	// Engine
	if c.Engine.FrameRate <= 0 || c.Engine.FrameRate > 1000 {
		return errors.New("engine.frame_rate must be between 1 and 1000")
	}
	if _, err := behavior.ParseStrategy(c.Engine.Strategy); err != nil {
		return fmt.Errorf("engine.strategy: %w", err)
	}
	if !in01(c.Engine.IOBlendingAmount) {
		return errors.New("engine.io_blending_amount must be within [0, 1]")
	}
	if !in01(c.Engine.RecallAmount) {
		return errors.New("engine.recall_amount must be within [0, 1]")
	}

	// Improvise
	if c.Improvise.Novelty < 0 {
		return errors.New("improvise.novelty must be >= 0")
	}
	if c.Improvise.MaxNovelty < 0 {
		return errors.New("improvise.max_novelty must be >= 0")
	}
	if c.Improvise.Velocity <= 0 {
		return errors.New("improvise.velocity must be > 0")
	}
	if c.Improvise.NumSegments < 1 {
		return errors.New("improvise.num_segments must be >= 1")
	}
	if c.Improvise.PathResolution < 2 {
		return errors.New("improvise.path_resolution must be >= 2")
	}
	if c.Improvise.NumTrials < 1 {
		return errors.New("improvise.num_trials must be >= 1")
	}
	if _, err := navigator.ParseEnvelope(c.Improvise.Envelope); err != nil {
		return fmt.Errorf("improvise.envelope: %w", err)
	}

	// Recall
	if c.Recall.DurationSec <= 0 {
		return errors.New("recall.duration_sec must be > 0")
	}
	if !in01(c.Recall.ReverseProbability) {
		return errors.New("recall.reverse_probability must be within [0, 1]")
	}
	if !in01(c.Recall.RecencyBias) {
		return errors.New("recall.recency_bias must be within [0, 1]")
	}
	if c.Recall.RecencySec < 0 {
		return errors.New("recall.recency_sec must be >= 0")
	}
	if c.Recall.MaxFrames < 0 {
		return errors.New("recall.max_frames must be >= 0")
	}

	// Switching
	for name, m := range map[string]ModeFileConfig{
		"mirror":    c.Switching.Mirror,
		"improvise": c.Switching.Improvise,
		"recall":    c.Switching.Recall,
	} {
		if m.Weight < 0 {
			return fmt.Errorf("switching.%s.weight must be >= 0", name)
		}
		if m.DurationSec <= 0 {
			return fmt.Errorf("switching.%s.duration_sec must be > 0", name)
		}
	}
	if !in01(c.Switching.ReverseProbability) {
		return errors.New("switching.reverse_probability must be within [0, 1]")
	}
	if c.Switching.MirrorDelaySec < 0 {
		return errors.New("switching.mirror_delay_sec must be >= 0")
	}
	if c.Switching.MaxMirrorDelaySec < c.Switching.MirrorDelaySec {
		return errors.New("switching.max_mirror_delay_sec must be >= switching.mirror_delay_sec")
	}
	if c.Switching.DelayShift.Enabled {
		if c.Switching.DelayShift.PeriodSec <= 0 {
			return errors.New("switching.delay_shift.period_sec must be > 0")
		}
		if c.Switching.DelayShift.MagnitudeSec < 0 {
			return errors.New("switching.delay_shift.magnitude_sec must be >= 0")
		}
	}

	// Entity
	if _, err := pose.ParseOrientationMode(c.Entity.Orientation); err != nil {
		return fmt.Errorf("entity.orientation: %w", err)
	}
	if c.Entity.FrictionAmount < 0 || c.Entity.FrictionAmount >= 1 {
		return errors.New("entity.friction_amount must be within [0, 1)")
	}
	if !in01(c.Entity.ConfinementRate) {
		return errors.New("entity.confinement_rate must be within [0, 1]")
	}
	if n := len(c.Entity.ConfinementTarget); n != 0 && n != pose.TranslationLen {
		return fmt.Errorf("entity.confinement_target must have %d values", pose.TranslationLen)
	}

	// Model
	if c.Model.Path == "" {
		return errors.New("model.path must not be empty")
	}
	if c.Model.MaxManifoldPoints < 0 {
		return errors.New("model.max_manifold_points must be >= 0")
	}

	// Mocap
	if c.Mocap.ReconnectIntervalMS <= 0 {
		return errors.New("mocap.reconnect_interval_ms must be > 0")
	}
	if n := len(c.Mocap.TranslationOffset); n != 0 && n != pose.TranslationLen {
		return fmt.Errorf("mocap.translation_offset must have %d values", pose.TranslationLen)
	}
	if c.Mocap.ReadBufferBytes < 0 {
		return errors.New("mocap.read_buffer_bytes must be >= 0")
	}

	// HTTP / IPC
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535")
	}
	if c.HTTP.WsPath == "" || c.HTTP.WsPath[0] != '/' {
		return errors.New("http.ws_path must start with /")
	}
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return errors.New("logging.format must be text or json")
	}

	return nil
}

func in01(v float64) bool { return v >= 0 && v <= 1 }

// FrameClock returns the engine frame clock.
func (c *Config) FrameClock() behavior.FrameClock {
	return behavior.FrameClock{Rate: float64(c.Engine.FrameRate)}
}

// ToMasterConfig converts the engine section into the master's initial knobs.
func (c *Config) ToMasterConfig() behavior.MasterConfig {
	return behavior.MasterConfig{
		Strategy:         behavior.Strategy(c.Engine.Strategy),
		IOBlendingAmount: c.Engine.IOBlendingAmount,
		RecallAmount:     c.Engine.RecallAmount,
		Memorize:         c.Engine.Memorize,
		AutoFriction:     c.Engine.AutoFriction,
		AutoSwitch:       c.Engine.AutoSwitch,
		InputOnly:        c.Engine.InputOnly,
	}
}

// ToImprovise converts the improvise section into behavior parameters and
// navigator tuning. Validate must have succeeded.
func (c *Config) ToImprovise() (behavior.ImproviseParams, navigator.Config) {
	env, _ := navigator.ParseEnvelope(c.Improvise.Envelope)
	params := behavior.ImproviseParams{
		Novelty:     c.Improvise.Novelty,
		MaxNovelty:  c.Improvise.MaxNovelty,
		Extension:   c.Improvise.Extension,
		Velocity:    c.Improvise.Velocity,
		NumSegments: c.Improvise.NumSegments,
		Envelope:    env,
	}
	nav := navigator.DefaultConfig()
	nav.NumTrials = c.Improvise.NumTrials
	nav.Resolution = c.Improvise.PathResolution
	nav.Extension = c.Improvise.Extension
	return params, nav
}

func (c *Config) ToRecallConfig() behavior.RecallConfig {
	return behavior.RecallConfig{
		Duration:           c.Recall.DurationSec,
		ReverseProbability: c.Recall.ReverseProbability,
		RecencySize:        c.Recall.RecencySec,
		RecencyBias:        c.Recall.RecencyBias,
	}
}

func (c *Config) ToSwitchingConfig() behavior.SwitchingConfig {
	s := c.Switching
	cfg := behavior.SwitchingConfig{
		ReverseProbability:  s.ReverseProbability,
		MirrorDelay:         s.MirrorDelaySec,
		MaxMirrorDelay:      s.MaxMirrorDelaySec,
		DelayShift:          s.DelayShift.Enabled,
		DelayShiftPeriod:    s.DelayShift.PeriodSec,
		DelayShiftMagnitude: s.DelayShift.MagnitudeSec,
		DelayShiftSeed:      s.DelayShift.Seed,
	}
	if cfg.DelayShift {
		// the ring must hold the base delay plus the largest shift
		cfg.MaxMirrorDelay = max(cfg.MaxMirrorDelay, s.MirrorDelaySec+s.DelayShift.MagnitudeSec)
	}
	for m, mc := range map[behavior.Mode]ModeFileConfig{
		behavior.Mirror:        s.Mirror,
		behavior.Improvisation: s.Improvise,
		behavior.Recall:        s.Recall,
	} {
		cfg.Weights[m] = mc.Weight
		cfg.Durations[m] = mc.DurationSec
	}
	return cfg
}

func (c *Config) ToEntityConfig() pose.EntityConfig {
	mode, _ := pose.ParseOrientationMode(c.Entity.Orientation)
	return pose.EntityConfig{
		Orientation:       mode,
		Friction:          c.Entity.Friction,
		FrictionAmount:    c.Entity.FrictionAmount,
		Confinement:       c.Entity.Confinement,
		ConfinementRate:   c.Entity.ConfinementRate,
		ConfinementTarget: c.Entity.ConfinementTarget,
	}
}

func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Mocap.ReconnectIntervalMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
