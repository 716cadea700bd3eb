package main

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"dancepartner/internal/control"
	"dancepartner/internal/memory"
	"dancepartner/internal/pose"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testModel is a 7 value pose (translation + quaternion) reduced to its x/y
// translation.
func testModel(t *testing.T) *pose.LinearModel {
	t.Helper()
	var manifold [][]float64
	for x := 0.0; x <= 1; x += 0.25 {
		for y := 0.0; y <= 1; y += 0.25 {
			manifold = append(manifold, []float64{x, y})
		}
	}
	m, err := pose.NewLinearModel(pose.ModelFile{
		Mean: []float64{0, 0, 0, 1, 0, 0, 0},
		Components: [][]float64{
			{1, 0, 0, 0, 0, 0, 0},
			{0, 1, 0, 0, 0, 0, 0},
		},
		LatentMin: []float64{-1, -1},
		LatentMax: []float64{1, 1},
		Manifold:  manifold,
	}, 100)
	if err != nil {
		t.Fatalf("NewLinearModel: %v", err)
	}
	return m
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Model.Path = "model.yaml"
	cfg.Engine.RandomSeed = 7
	return cfg
}

func newTestState(t *testing.T, cfg Config) *DaemonState {
	t.Helper()
	s, err := newDaemonState(cfg, testModel(t), discardLogger())
	if err != nil {
		t.Fatalf("newDaemonState: %v", err)
	}
	return s
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func tick(i int, in *InputFrame) Tick {
	return Tick{Now: t0.Add(time.Duration(i) * 20 * time.Millisecond), Dt: 0.02, Input: in}
}

func inputFrame(seq uint64, x, y, z float64) *InputFrame {
	return &InputFrame{Seq: seq, Values: []float64{x, y, z, 1, 0, 0, 0}}
}

func posesOf(bcs []StateBroadcast) []BroadcastPose {
	var out []BroadcastPose
	for _, b := range bcs {
		if p, ok := b.(BroadcastPose); ok {
			out = append(out, p)
		}
	}
	return out
}

func memoryChangesOf(bcs []StateBroadcast) []BroadcastMemoryChanged {
	var out []BroadcastMemoryChanged
	for _, b := range bcs {
		if m, ok := b.(BroadcastMemoryChanged); ok {
			out = append(out, m)
		}
	}
	return out
}

func assertPose(t *testing.T, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("pose len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("pose = %v, want %v", got, want)
		}
	}
}

func TestReduce_FirstTickReportsModeAndMemory(t *testing.T) {
	s := newTestState(t, testConfig())

	rr := Reduce(s, tick(0, nil))
	if rr.Err != nil {
		t.Fatalf("unexpected err: %v", rr.Err)
	}
	if n := len(posesOf(rr.Broadcasts)); n != 0 {
		t.Fatalf("expected no pose without input, got %d", n)
	}

	var mode *BroadcastModeChanged
	for _, b := range rr.Broadcasts {
		if m, ok := b.(BroadcastModeChanged); ok {
			mode = &m
		}
	}
	if mode == nil || mode.Mode != "mirror" {
		t.Fatalf("expected mode_changed(mirror), got %#v", rr.Broadcasts)
	}
	if mc := memoryChangesOf(rr.Broadcasts); len(mc) != 1 || mc[0].Frames != 0 || !mc[0].Memorize {
		t.Fatalf("expected initial memory_changed, got %#v", mc)
	}

	rr = Reduce(s, tick(1, nil))
	if len(rr.Broadcasts) != 0 {
		t.Fatalf("expected no broadcasts on an idle tick, got %#v", rr.Broadcasts)
	}
}

func TestReduce_MirrorStartsAtOriginAndFollowsInput(t *testing.T) {
	s := newTestState(t, testConfig())

	rr := Reduce(s, tick(0, inputFrame(1, 5, 6, 7)))
	if rr.Err != nil {
		t.Fatalf("unexpected err: %v", rr.Err)
	}
	poses := posesOf(rr.Broadcasts)
	if len(poses) != 1 {
		t.Fatalf("expected 1 pose, got %d", len(poses))
	}
	assertPose(t, poses[0].Pose, []float64{0, 0, 0, 1, 0, 0, 0})
	if !poses[0].At.Equal(t0) {
		t.Fatalf("pose At = %v, want %v", poses[0].At, t0)
	}

	rr = Reduce(s, tick(1, inputFrame(2, 6, 6, 5)))
	poses = posesOf(rr.Broadcasts)
	if len(poses) != 1 {
		t.Fatalf("expected 1 pose, got %d", len(poses))
	}
	assertPose(t, poses[0].Pose, []float64{1, 0, -2, 1, 0, 0, 0})
}

func TestReduce_SameInputIsMemorizedOnce(t *testing.T) {
	s := newTestState(t, testConfig())

	in := inputFrame(1, 1, 2, 3)
	for i := 0; i < 3; i++ {
		if rr := Reduce(s, tick(i, in)); rr.Err != nil {
			t.Fatalf("tick %d: %v", i, rr.Err)
		}
	}
	if got := s.Master.Status().MemoryFrames; got != 1 {
		t.Fatalf("memory frames = %d, want 1", got)
	}
}

func TestReduce_MemoryChangedIsThrottled(t *testing.T) {
	cfg := testConfig()
	s := newTestState(t, cfg)
	s.MemoryReportEvery = 5

	var reports []int
	for i := 1; i <= 10; i++ {
		rr := Reduce(s, tick(i, inputFrame(uint64(i), float64(i), 0, 0)))
		if rr.Err != nil {
			t.Fatalf("tick %d: %v", i, rr.Err)
		}
		for _, mc := range memoryChangesOf(rr.Broadcasts) {
			reports = append(reports, mc.Frames)
		}
	}

	want := []int{1, 5, 10}
	if len(reports) != len(want) {
		t.Fatalf("reports = %v, want %v", reports, want)
	}
	for i := range want {
		if reports[i] != want[i] {
			t.Fatalf("reports = %v, want %v", reports, want)
		}
	}
}

func TestReduce_ClearMemoryReportsImmediately(t *testing.T) {
	s := newTestState(t, testConfig())
	for i := 1; i <= 3; i++ {
		Reduce(s, tick(i, inputFrame(uint64(i), 0, 0, 0)))
	}

	rr := Reduce(s, ActionEvent{Action: control.ClearMemory{}, At: t0})
	mc := memoryChangesOf(rr.Broadcasts)
	if len(mc) != 1 || mc[0].Frames != 0 {
		t.Fatalf("expected memory_changed(0), got %#v", rr.Broadcasts)
	}
}

func TestReduce_ActionsUpdateMaster(t *testing.T) {
	s := newTestState(t, testConfig())

	for _, a := range []control.Action{
		control.SetRecallAmount{Amount: 0.25},
		control.SetIOBlending{Amount: 2}, // clamped
		control.SetInputOnly{On: true},
		control.SetAutoSwitch{On: true},
		control.SetAutoFriction{On: false},
		control.SetMemorize{On: false},
	} {
		if rr := Reduce(s, ActionEvent{Action: a, At: t0}); rr.Err != nil {
			t.Fatalf("%T: %v", a, rr.Err)
		}
	}

	st := s.Master.Status()
	if st.RecallAmount != 0.25 {
		t.Fatalf("recall amount = %v, want 0.25", st.RecallAmount)
	}
	if st.IOBlending != 1 {
		t.Fatalf("io blending = %v, want 1", st.IOBlending)
	}
	if !st.InputOnly || !st.AutoSwitch || st.AutoFriction || st.Memorize {
		t.Fatalf("unexpected flags: %+v", st)
	}
}

func TestReduce_RecallAndEntityControls(t *testing.T) {
	s := newTestState(t, testConfig())

	for _, a := range []control.Action{
		control.SetConfinement{On: true},
		control.SetRecallRecency{Seconds: 20},
		control.SetRecencyBias{Bias: 0.5},
		control.SetReverseProbability{Probability: 0.3},
		control.SetModeDuration{Mode: "recall", Seconds: 2},
		control.SetModeDuration{Mode: "dance", Seconds: 2},  // ignored
		control.SetModeDuration{Mode: "mirror", Seconds: 0}, // ignored
	} {
		if rr := Reduce(s, ActionEvent{Action: a, At: t0}); rr.Err != nil {
			t.Fatalf("%T: %v", a, rr.Err)
		}
	}
	if !s.Master.Status().Confinement {
		t.Fatalf("confinement not enabled")
	}

	Reduce(s, ActionEvent{Action: control.SetConfinement{On: false}, At: t0})
	if s.Master.Status().Confinement {
		t.Fatalf("confinement not disabled")
	}
}

func TestReduce_InputOnlyEchoesInput(t *testing.T) {
	s := newTestState(t, testConfig())
	Reduce(s, ActionEvent{Action: control.SetInputOnly{On: true}, At: t0})

	rr := Reduce(s, tick(1, inputFrame(1, 5, 6, 7)))
	poses := posesOf(rr.Broadcasts)
	if len(poses) != 1 {
		t.Fatalf("expected 1 pose, got %d", len(poses))
	}
	assertPose(t, poses[0].Pose, []float64{5, 6, 7, 1, 0, 0, 0})
}

func TestReduce_SaveMemoryEmitsCommand(t *testing.T) {
	s := newTestState(t, testConfig())
	for i := 1; i <= 4; i++ {
		Reduce(s, tick(i, inputFrame(uint64(i), float64(i), 0, 0)))
	}

	rr := Reduce(s, ActionEvent{Action: control.SaveMemory{}, At: t0})
	if len(rr.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(rr.Commands))
	}
	save, ok := rr.Commands[0].(CmdSaveMemory)
	if !ok {
		t.Fatalf("expected CmdSaveMemory, got %T", rr.Commands[0])
	}
	if save.Name != "session-20240501-120000" {
		t.Fatalf("default name = %q", save.Name)
	}
	if len(save.Frames) != 4 || save.Frames[3][0] != 4 {
		t.Fatalf("unexpected frames: %v", save.Frames)
	}

	// The command owns a copy of memory.
	save.Frames[0][0] = 99
	if s.Master.Frames()[0][0] == 99 {
		t.Fatalf("command frames alias memory")
	}

	rr = Reduce(s, ActionEvent{Action: control.SaveMemory{Name: "warmup"}, At: t0})
	if got := rr.Commands[0].(CmdSaveMemory).Name; got != "warmup" {
		t.Fatalf("name = %q, want warmup", got)
	}
}

func TestReduce_LoadMemoryEmitsCommandWithFrameLen(t *testing.T) {
	s := newTestState(t, testConfig())

	rr := Reduce(s, ActionEvent{Action: control.LoadMemory{Ref: "warmup"}, At: t0})
	if len(rr.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(rr.Commands))
	}
	load, ok := rr.Commands[0].(CmdLoadMemory)
	if !ok {
		t.Fatalf("expected CmdLoadMemory, got %T", rr.Commands[0])
	}
	if load.Ref != "warmup" || load.FrameLen != 7 {
		t.Fatalf("unexpected command: %+v", load)
	}
}

func TestReduce_MemoryLoadedReplacesMemory(t *testing.T) {
	s := newTestState(t, testConfig())
	Reduce(s, tick(0, nil))

	frames := make([][]float64, 20)
	for i := range frames {
		frames[i] = []float64{float64(i), 0, 0, 1, 0, 0, 0}
	}
	rr := Reduce(s, MemoryLoaded{
		Recording: memory.Recording{ID: "abc", Name: "warmup", NumFrames: 20, FrameLen: 7},
		Frames:    frames,
		At:        t0,
	})

	mc := memoryChangesOf(rr.Broadcasts)
	if len(mc) != 1 {
		t.Fatalf("expected 1 memory_changed, got %#v", rr.Broadcasts)
	}
	if mc[0].Frames != 20 || mc[0].Recording != "warmup" {
		t.Fatalf("unexpected memory_changed: %+v", mc[0])
	}
	if got := s.Master.Status().MemoryFrames; got != 20 {
		t.Fatalf("memory frames = %d, want 20", got)
	}
}

func TestReduce_MemorySavedNamesRecording(t *testing.T) {
	s := newTestState(t, testConfig())
	Reduce(s, tick(0, nil))

	rr := Reduce(s, MemorySaved{Recording: memory.Recording{Name: "warmup"}, At: t0})
	mc := memoryChangesOf(rr.Broadcasts)
	if len(mc) != 1 || mc[0].Recording != "warmup" {
		t.Fatalf("expected memory_changed naming the recording, got %#v", rr.Broadcasts)
	}
}

func TestReduce_StateSnapshotRequestEmitsPublishCommand(t *testing.T) {
	s := newTestState(t, testConfig())
	Reduce(s, tick(0, inputFrame(1, 1, 2, 3)))

	reply := make(chan StateSnapshot, 1)
	rr := Reduce(s, RequestStateSnapshot{Reply: reply})
	if len(rr.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(rr.Commands))
	}
	cmd, ok := rr.Commands[0].(CmdPublishStateSnapshot)
	if !ok {
		t.Fatalf("expected CmdPublishStateSnapshot, got %T", rr.Commands[0])
	}
	if cmd.Reply != reply {
		t.Fatalf("reply channel mismatch")
	}
	if cmd.Snapshot.Status.Mode != "mirror" || cmd.Snapshot.Status.MemoryFrames != 1 {
		t.Fatalf("unexpected status: %+v", cmd.Snapshot.Status)
	}
	assertPose(t, cmd.Snapshot.Pose, []float64{0, 0, 0, 1, 0, 0, 0})
}

type failingObserver struct{}

func (failingObserver) Observe([]float64) (bool, error) {
	return false, errors.New("dimension mismatch")
}

func TestReduce_ObserverErrorIsFatal(t *testing.T) {
	s := newTestState(t, testConfig())
	s.Observer = failingObserver{}

	rr := Reduce(s, tick(0, inputFrame(1, 0, 0, 0)))
	if rr.Err == nil || !strings.Contains(rr.Err.Error(), "observe input") {
		t.Fatalf("expected observe error, got %v", rr.Err)
	}
}

func TestReduce_ObserverGrowsManifold(t *testing.T) {
	cfg := testConfig()
	cfg.Model.ObserveInput = true
	model := testModel(t)
	s, err := newDaemonState(cfg, model, discardLogger())
	if err != nil {
		t.Fatalf("newDaemonState: %v", err)
	}
	before := len(model.Manifold())

	Reduce(s, tick(0, inputFrame(1, 0.9, -0.9, 0)))
	if got := len(model.Manifold()); got != before+1 {
		t.Fatalf("manifold size = %d, want %d", got, before+1)
	}
}
