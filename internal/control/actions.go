// Package control defines the actions accepted by the partnerd control socket
// and their line-delimited JSON encoding.
package control

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Action Types
// ============================================================================
// Actions represent intent from control clients (partner-ctl, scripts, UI).
// The daemon loop consumes them and applies them to the engine.
// ============================================================================

// Action is a marker interface for all control actions
type Action interface {
	actionMarker()
}

// SetRecallAmount sets the improvise/recall crossfade of the blend strategy
type SetRecallAmount struct {
	Amount float64 `json:"amount"`
}

// SetIOBlending sets the live input vs behavior mix (0 = input only)
type SetIOBlending struct {
	Amount float64 `json:"amount"`
}

type SetNovelty struct {
	Novelty float64 `json:"novelty"`
}

type SetExtension struct {
	Extension float64 `json:"extension"`
}

type SetVelocity struct {
	Velocity float64 `json:"velocity"`
}

// SetMemorize toggles recording of live input; turning it on starts a fresh memory
type SetMemorize struct {
	On bool `json:"on"`
}

type SetInputOnly struct {
	On bool `json:"on"`
}

type SetAutoSwitch struct {
	On bool `json:"on"`
}

type SetAutoFriction struct {
	On bool `json:"on"`
}

// SetWeight sets the selection weight of a switching mode (mirror, improvise, recall)
type SetWeight struct {
	Mode   string  `json:"mode"`
	Weight float64 `json:"weight"`
}

// SetModeDuration sets how long a switching mode dwells before the next pick
type SetModeDuration struct {
	Mode    string  `json:"mode"`
	Seconds float64 `json:"seconds"`
}

// SetRecallRecency limits biased recalls to the last Seconds of memory
type SetRecallRecency struct {
	Seconds float64 `json:"seconds"`
}

// SetRecencyBias is the probability a recall is drawn from the recent window
type SetRecencyBias struct {
	Bias float64 `json:"bias"`
}

type SetReverseProbability struct {
	Probability float64 `json:"probability"`
}

type SetConfinement struct {
	On bool `json:"on"`
}

// ResetTranslation re-anchors the output at the origin
type ResetTranslation struct{}

type ClearMemory struct{}

// SaveMemory stores the current memory as a named recording
type SaveMemory struct {
	Name string `json:"name"`
}

// LoadMemory replaces memory with a stored recording, by id or name
type LoadMemory struct {
	Ref string `json:"ref"`
}

func (SetRecallAmount) actionMarker()       {}
func (SetIOBlending) actionMarker()         {}
func (SetNovelty) actionMarker()            {}
func (SetExtension) actionMarker()          {}
func (SetVelocity) actionMarker()           {}
func (SetMemorize) actionMarker()           {}
func (SetInputOnly) actionMarker()          {}
func (SetAutoSwitch) actionMarker()         {}
func (SetAutoFriction) actionMarker()       {}
func (SetWeight) actionMarker()             {}
func (SetModeDuration) actionMarker()       {}
func (SetRecallRecency) actionMarker()      {}
func (SetRecencyBias) actionMarker()        {}
func (SetReverseProbability) actionMarker() {}
func (SetConfinement) actionMarker()        {}
func (ResetTranslation) actionMarker()      {}
func (ClearMemory) actionMarker()           {}
func (SaveMemory) actionMarker()            {}
func (LoadMemory) actionMarker()            {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// ActionEnvelope wraps an action with a type discriminator for JSON marshaling
type ActionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalAction deserializes a JSON action envelope into a concrete Action
func UnmarshalAction(data []byte) (Action, error) {
	var env ActionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "set_recall_amount":
		return decode[SetRecallAmount](env)
	case "set_io_blending":
		return decode[SetIOBlending](env)
	case "set_novelty":
		return decode[SetNovelty](env)
	case "set_extension":
		return decode[SetExtension](env)
	case "set_velocity":
		return decode[SetVelocity](env)
	case "set_memorize":
		return decode[SetMemorize](env)
	case "set_input_only":
		return decode[SetInputOnly](env)
	case "set_auto_switch":
		return decode[SetAutoSwitch](env)
	case "set_auto_friction":
		return decode[SetAutoFriction](env)
	case "set_weight":
		return decode[SetWeight](env)
	case "set_mode_duration":
		return decode[SetModeDuration](env)
	case "set_recall_recency":
		return decode[SetRecallRecency](env)
	case "set_recency_bias":
		return decode[SetRecencyBias](env)
	case "set_reverse_probability":
		return decode[SetReverseProbability](env)
	case "set_confinement":
		return decode[SetConfinement](env)
	case "reset_translation":
		return ResetTranslation{}, nil
	case "clear_memory":
		return ClearMemory{}, nil
	case "save_memory":
		return decode[SaveMemory](env)
	case "load_memory":
		a, err := decode[LoadMemory](env)
		if err != nil {
			return nil, err
		}
		if a.(LoadMemory).Ref == "" {
			return nil, fmt.Errorf("load_memory: ref is empty")
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown action type: %s", env.Type)
	}
}

func decode[T Action](env ActionEnvelope) (Action, error) {
	var a T
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return a, nil
}

// MarshalAction serializes an Action into a JSON action envelope
func MarshalAction(action Action) ([]byte, error) {
	var env ActionEnvelope

	switch action.(type) {
	case SetRecallAmount:
		env.Type = "set_recall_amount"
	case SetIOBlending:
		env.Type = "set_io_blending"
	case SetNovelty:
		env.Type = "set_novelty"
	case SetExtension:
		env.Type = "set_extension"
	case SetVelocity:
		env.Type = "set_velocity"
	case SetMemorize:
		env.Type = "set_memorize"
	case SetInputOnly:
		env.Type = "set_input_only"
	case SetAutoSwitch:
		env.Type = "set_auto_switch"
	case SetAutoFriction:
		env.Type = "set_auto_friction"
	case SetWeight:
		env.Type = "set_weight"
	case SetModeDuration:
		env.Type = "set_mode_duration"
	case SetRecallRecency:
		env.Type = "set_recall_recency"
	case SetRecencyBias:
		env.Type = "set_recency_bias"
	case SetReverseProbability:
		env.Type = "set_reverse_probability"
	case SetConfinement:
		env.Type = "set_confinement"
	case ResetTranslation:
		env.Type = "reset_translation"
		return json.Marshal(env)
	case ClearMemory:
		env.Type = "clear_memory"
		return json.Marshal(env)
	case SaveMemory:
		env.Type = "save_memory"
	case LoadMemory:
		env.Type = "load_memory"
	default:
		return nil, fmt.Errorf("unknown action type: %T", action)
	}

	data, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	env.Data = data
	return json.Marshal(env)
}
