package main

import (
	"time"

	"dancepartner/internal/behavior"
	"dancepartner/internal/control"
	"dancepartner/internal/memory"
)

// ============================================================================
// Events
// ============================================================================
// Events are the inputs to Reduce: time ticks, control actions, snapshot
// requests and results of store commands. Only the daemon goroutine reduces
// them; everything else sends them over the events channel.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// Tick is emitted by the daemon loop at the engine frame rate.
// Dt is wall-clock delta in seconds between ticks; Input is the latest mocap
// frame, or nil before the first one arrives.
type Tick struct {
	Now   time.Time
	Dt    float64
	Input *InputFrame
}

func (Tick) eventMarker() {}

// ActionEvent wraps a control Action so it can be used as an Event.
type ActionEvent struct {
	Action control.Action
	At     time.Time
}

func (ActionEvent) eventMarker() {}

// RequestStateSnapshot asks the daemon for its current state. The snapshot is
// delivered on Reply by the effects layer.
type RequestStateSnapshot struct {
	Reply chan StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// MemorySaved is emitted after the store persisted a recording.
type MemorySaved struct {
	Recording memory.Recording
	At        time.Time
}

func (MemorySaved) eventMarker() {}

// MemoryLoaded is emitted after the store read a recording.
type MemoryLoaded struct {
	Recording memory.Recording
	Frames    [][]float64
	At        time.Time
}

func (MemoryLoaded) eventMarker() {}

// StoreCommandFailed is emitted when a store command fails.
type StoreCommandFailed struct {
	Command Command
	Err     error
	At      time.Time
}

func (StoreCommandFailed) eventMarker() {}

// StateSnapshot is the externally visible daemon state.
type StateSnapshot struct {
	Status behavior.Status
	Pose   []float64
}

// ============================================================================
// State broadcasts
// ============================================================================
// Broadcasts are emitted by the reducer and fanned out to websocket clients.
// ============================================================================

// StateBroadcast is a marker interface for reducer-emitted broadcasts.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastPose carries the output frame of a tick.
type BroadcastPose struct {
	Pose []float64
	At   time.Time
}

func (BroadcastPose) broadcastMarker() {}

// BroadcastModeChanged is emitted when the switching mode or its
// interpolation target changes.
type BroadcastModeChanged struct {
	Mode     string
	NextMode string
	At       time.Time
}

func (BroadcastModeChanged) broadcastMarker() {}

// BroadcastMemoryChanged is emitted when memory is cleared, loaded or saved,
// when memorizing is toggled, and periodically while it grows.
type BroadcastMemoryChanged struct {
	Frames    int
	Memorize  bool
	Recording string
	At        time.Time
}

func (BroadcastMemoryChanged) broadcastMarker() {}
