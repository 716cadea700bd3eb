package main

import "fmt"

// ==============================
// Commands (side effects)
// ==============================

// Command represents a side effect requested by the reducer and executed
// outside of it: recording store access and snapshot delivery.
type Command interface {
	commandMarker()
	String() string
}

// CmdSaveMemory persists frames as a named recording.
type CmdSaveMemory struct {
	Name   string
	Frames [][]float64
}

func (CmdSaveMemory) commandMarker() {}
func (c CmdSaveMemory) String() string {
	return fmt.Sprintf("CmdSaveMemory(name=%q, frames=%d)", c.Name, len(c.Frames))
}

// CmdLoadMemory reads a recording by id or name. Recordings whose frame
// length differs from FrameLen are rejected.
type CmdLoadMemory struct {
	Ref      string
	FrameLen int
}

func (CmdLoadMemory) commandMarker() {}
func (c CmdLoadMemory) String() string {
	return fmt.Sprintf("CmdLoadMemory(ref=%q)", c.Ref)
}

// CmdPublishStateSnapshot delivers a reducer-produced snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

// isStoreCommand reports whether cmd must run on the store worker.
func isStoreCommand(cmd Command) bool {
	switch cmd.(type) {
	case CmdSaveMemory, CmdLoadMemory:
		return true
	default:
		return false
	}
}
