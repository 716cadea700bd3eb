// Package memory stores observed full-pose frames and hands out time-indexed
// read cursors over them.
package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"dancepartner/internal/pose"
)

// ErrInsufficientFrames is returned when a recall window does not fit in memory.
var ErrInsufficientFrames = errors.New("not enough frames in memory")

// Direction is the playback direction of a Recall.
type Direction int

const (
	Forward  Direction = 1
	Backward Direction = -1
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Memory is an append-only ordered sequence of full poses. A positive
// maxFrames caps the size; frames arriving after the cap are dropped.
//
// Memory is not safe for concurrent use; it belongs to the tick goroutine.
type Memory struct {
	frames    [][]float64
	maxFrames int
	rng       *rand.Rand
	logger    *slog.Logger

	capWarned bool
}

func New(maxFrames int, rng *rand.Rand, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{maxFrames: maxFrames, rng: rng, logger: logger}
}

// OnInput appends a copy of frame.
func (m *Memory) OnInput(frame []float64) {
	if m.maxFrames > 0 && len(m.frames) >= m.maxFrames {
		if !m.capWarned {
			m.logger.Warn("memory full, dropping new frames", "max_frames", m.maxFrames)
			m.capWarned = true
		}
		return
	}
	m.frames = append(m.frames, pose.Clone(frame))
}

func (m *Memory) NumFrames() int { return len(m.frames) }

// Frames returns the stored frames. Callers must not modify them.
func (m *Memory) Frames() [][]float64 { return m.frames }

// SetFrames replaces the contents, truncating to the cap.
func (m *Memory) SetFrames(frames [][]float64) {
	if m.maxFrames > 0 && len(frames) > m.maxFrames {
		frames = frames[:m.maxFrames]
	}
	m.frames = make([][]float64, len(frames))
	for i, f := range frames {
		m.frames[i] = pose.Clone(f)
	}
	m.capWarned = false
}

func (m *Memory) Clear() {
	m.frames = nil
	m.capWarned = false
}

// FrameByIndex reads frame i, clamping out-of-range indices to the first or
// last frame. Returns nil when memory is empty.
func (m *Memory) FrameByIndex(i int) []float64 {
	n := len(m.frames)
	if n == 0 {
		return nil
	}
	switch {
	case i < 0:
		m.logger.Warn("recall index out of range, clamping", "index", i, "num_frames", n)
		i = 0
	case i >= n:
		m.logger.Warn("recall index out of range, clamping", "index", i, "num_frames", n)
		i = n - 1
	}
	return m.frames[i]
}

// CreateRandomRecall prepares a cursor over a window of numToRecall frames.
//
// The window start is drawn uniformly from [n-recency, n-numToRecall], where
// recency is recencyFrames clamped into [numToRecall, n]; recencyFrames <= 0
// means the whole memory. With probability reverseProb the recall plays
// backward from the end of the window.
func (m *Memory) CreateRandomRecall(numToRecall int, reverseProb float64, recencyFrames int) (*Recall, error) {
	n := len(m.frames)
	if numToRecall < 1 {
		numToRecall = 1
	}
	if n < numToRecall {
		return nil, fmt.Errorf("recall %d frames from %d: %w", numToRecall, n, ErrInsufficientFrames)
	}

	recency := recencyFrames
	if recency <= 0 || recency > n {
		recency = n
	}
	if recency < numToRecall {
		recency = numToRecall
	}

	minCursor := n - recency
	maxCursor := n - numToRecall
	cursor := minCursor + m.rng.Intn(maxCursor-minCursor+1)

	direction := Forward
	if m.rng.Float64() < reverseProb {
		direction = Backward
		cursor += numToRecall - 1
	}

	m.logger.Debug("recall created",
		"cursor", cursor,
		"direction", direction.String(),
		"frames", numToRecall,
	)
	return &Recall{memory: m, cursor: cursor, direction: direction}, nil
}

// Recall is a read cursor over a Memory. It lives for one recall episode.
type Recall struct {
	memory    *Memory
	cursor    int
	direction Direction
}

// Proceed advances the cursor by n frames in the playback direction.
func (r *Recall) Proceed(n int) { r.cursor += n * int(r.direction) }

// Output returns the frame at the cursor, clamped to memory bounds.
func (r *Recall) Output() []float64 { return r.memory.FrameByIndex(r.cursor) }

func (r *Recall) Cursor() int          { return r.cursor }
func (r *Recall) Direction() Direction { return r.direction }
