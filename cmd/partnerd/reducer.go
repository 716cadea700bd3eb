package main

import (
	"fmt"
	"slices"
	"time"

	"dancepartner/internal/behavior"
	"dancepartner/internal/control"
)

// This file implements the reducer building blocks:
//
//   - Events: inputs to the reducer (ticks, control actions, store results)
//   - Commands: side effects requested by the reducer (store access, snapshot delivery)
//   - Broadcasts: state changes for websocket clients
//   - Reduce(): advances the engine and computes commands + broadcasts, without I/O
//
// The engine (behavior.Master) is owned by DaemonState and only ever touched from
// the daemon goroutine through Reduce.

// InputObserver grows the model manifold from live input.
type InputObserver interface {
	Observe(p []float64) (bool, error)
}

// DaemonState is the daemon-owned engine state.
type DaemonState struct {
	Master *behavior.Master

	// Observer is fed every new input frame when set.
	Observer InputObserver

	// FrameLen is the pose length the model expects.
	FrameLen int

	// MemoryReportEvery is how many memorized frames pass between
	// memory_changed broadcasts while memory grows.
	MemoryReportEvery int

	lastInputSeq uint64
	pose         []float64

	status      behavior.Status
	statusKnown bool
}

// ==============================
// Reducer input/output
// ==============================

// ReduceResult is the output of Reduce(). A non-nil Err is fatal for the
// daemon: the model failed and the engine cannot produce output.
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast
	Err        error
}

// Reduce applies one event to the daemon state.
//
// Rules:
// - Must not perform I/O
// - Must not block
func Reduce(s *DaemonState, e Event) ReduceResult {
	var (
		cmds      []Command
		bcs       []StateBroadcast
		recording string
	)

	switch ev := e.(type) {
	case Tick:
		if in := ev.Input; in != nil && in.Seq != s.lastInputSeq {
			s.lastInputSeq = in.Seq
			if s.Observer != nil {
				if _, err := s.Observer.Observe(in.Values); err != nil {
					return ReduceResult{State: s, Err: fmt.Errorf("observe input: %w", err)}
				}
			}
			s.Master.OnInput(in.Values)
		}

		if err := s.Master.Proceed(ev.Dt); err != nil {
			return ReduceResult{State: s, Err: fmt.Errorf("proceed: %w", err)}
		}
		out, err := s.Master.Output()
		if err != nil {
			return ReduceResult{State: s, Err: fmt.Errorf("output: %w", err)}
		}
		if out != nil {
			s.pose = s.Master.Constrain(out)
			bcs = append(bcs, BroadcastPose{Pose: slices.Clone(s.pose), At: ev.Now})
		}

	case ActionEvent:
		m := s.Master
		switch a := ev.Action.(type) {
		case control.SetRecallAmount:
			m.SetRecallAmount(a.Amount)
		case control.SetIOBlending:
			m.SetIOBlendingAmount(a.Amount)
		case control.SetNovelty:
			m.SetNovelty(a.Novelty)
		case control.SetExtension:
			m.SetExtension(a.Extension)
		case control.SetVelocity:
			if a.Velocity > 0 {
				m.SetVelocity(a.Velocity)
			}
		case control.SetMemorize:
			m.SetMemorize(a.On)
		case control.SetInputOnly:
			m.SetInputOnly(a.On)
		case control.SetAutoSwitch:
			m.SetAutoSwitch(a.On)
		case control.SetAutoFriction:
			m.SetAutoFriction(a.On)
		case control.SetWeight:
			if mode, err := behavior.ParseMode(a.Mode); err == nil && a.Weight >= 0 {
				m.SetWeight(mode, a.Weight)
			}
		case control.SetModeDuration:
			if mode, err := behavior.ParseMode(a.Mode); err == nil && a.Seconds > 0 {
				m.SetModeDuration(mode, a.Seconds)
			}
		case control.SetRecallRecency:
			if a.Seconds >= 0 {
				m.SetRecencySize(a.Seconds)
			}
		case control.SetRecencyBias:
			m.SetRecencyBias(a.Bias)
		case control.SetReverseProbability:
			m.SetReverseProbability(a.Probability)
		case control.SetConfinement:
			m.SetConfinement(a.On)
		case control.ResetTranslation:
			m.ResetTranslation()
		case control.ClearMemory:
			m.ClearMemory()
		case control.SaveMemory:
			name := a.Name
			if name == "" {
				name = ev.At.UTC().Format("session-20060102-150405")
			}
			cmds = append(cmds, CmdSaveMemory{Name: name, Frames: m.Frames()})
		case control.LoadMemory:
			cmds = append(cmds, CmdLoadMemory{Ref: a.Ref, FrameLen: s.FrameLen})
		default:
			// no-op
		}

	case RequestStateSnapshot:
		cmds = append(cmds, CmdPublishStateSnapshot{
			Reply: ev.Reply,
			Snapshot: StateSnapshot{
				Status: s.Master.Status(),
				Pose:   slices.Clone(s.pose),
			},
		})

	case MemoryLoaded:
		s.Master.SetMemory(ev.Frames)
		recording = ev.Recording.Name

	case MemorySaved:
		recording = ev.Recording.Name

	case StoreCommandFailed:
		// Keep state as-is; the effects layer already logged the failure.
		_ = ev

	default:
		// Unknown event type: no-op.
	}

	bcs = append(bcs, s.statusBroadcasts(eventTime(e), recording)...)

	return ReduceResult{
		State:      s,
		Commands:   cmds,
		Broadcasts: bcs,
	}
}

// statusBroadcasts diffs the master status against the last reduced one.
// A non-empty recording forces a memory_changed broadcast naming it.
func (s *DaemonState) statusBroadcasts(at time.Time, recording string) []StateBroadcast {
	st := s.Master.Status()
	prev, known := s.status, s.statusKnown
	s.status, s.statusKnown = st, true

	var bcs []StateBroadcast
	if !known || st.Mode != prev.Mode || st.NextMode != prev.NextMode {
		bcs = append(bcs, BroadcastModeChanged{Mode: st.Mode, NextMode: st.NextMode, At: at})
	}

	every := max(1, s.MemoryReportEvery)
	memChanged := !known || recording != "" ||
		st.Memorize != prev.Memorize ||
		st.MemoryFrames < prev.MemoryFrames ||
		st.MemoryFrames/every != prev.MemoryFrames/every
	if memChanged {
		bcs = append(bcs, BroadcastMemoryChanged{
			Frames:    st.MemoryFrames,
			Memorize:  st.Memorize,
			Recording: recording,
			At:        at,
		})
	}
	return bcs
}

func eventTime(e Event) time.Time {
	switch ev := e.(type) {
	case Tick:
		return ev.Now
	case ActionEvent:
		return ev.At
	case MemorySaved:
		return ev.At
	case MemoryLoaded:
		return ev.At
	case StoreCommandFailed:
		return ev.At
	default:
		return time.Time{}
	}
}
