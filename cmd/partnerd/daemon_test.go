package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"dancepartner/internal/control"
)

func TestRunDaemon_PublishesSnapshotAndPoses(t *testing.T) {
	s := newTestState(t, testConfig())

	events := make(chan Event, 8)
	broadcasts := make(chan StateBroadcast, 1024)
	input := &InputSlot{}
	input.Publish([]float64{1, 2, 3, 1, 0, 0, 0}, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runDaemon(ctx, s, daemonDeps{events: events, input: input, broadcasts: broadcasts}, 50, discardLogger())
	}()

	var pose *BroadcastPose
	deadline := time.After(2 * time.Second)
	for pose == nil {
		select {
		case b := <-broadcasts:
			if p, ok := b.(BroadcastPose); ok {
				pose = &p
			}
		case <-deadline:
			t.Fatalf("timeout waiting for a pose broadcast")
		}
	}

	reply := make(chan StateSnapshot, 1)
	events <- RequestStateSnapshot{Reply: reply}
	select {
	case snap := <-reply:
		if snap.Status.MemoryFrames != 1 {
			t.Fatalf("memory frames = %d, want 1 (one published input)", snap.Status.MemoryFrames)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for snapshot")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runDaemon returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("daemon did not stop")
	}
}

func TestRunDaemon_SaveWithoutStoreFails(t *testing.T) {
	s := newTestState(t, testConfig())

	events := make(chan Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runDaemon(ctx, s, daemonDeps{events: events}, 50, discardLogger())
	}()

	// Neither action may stall the loop.
	events <- ActionEvent{Action: control.SaveMemory{Name: "x"}}
	events <- ActionEvent{Action: control.LoadMemory{Ref: "x"}}

	reply := make(chan StateSnapshot, 1)
	events <- RequestStateSnapshot{Reply: reply}
	select {
	case <-reply:
	case <-time.After(time.Second):
		t.Fatalf("daemon stalled on store commands")
	}

	close(events)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runDaemon returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("daemon did not stop on closed events")
	}
}

func TestRunDaemon_StoreCommandsGoToWorker(t *testing.T) {
	s := newTestState(t, testConfig())
	Reduce(s, tick(0, inputFrame(1, 1, 2, 3)))

	events := make(chan Event, 8)
	storeCmds := make(chan Command, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = runDaemon(ctx, s, daemonDeps{events: events, storeCmds: storeCmds}, 50, discardLogger())
	}()

	events <- ActionEvent{Action: control.SaveMemory{Name: "warmup"}}
	select {
	case cmd := <-storeCmds:
		save, ok := cmd.(CmdSaveMemory)
		if !ok || save.Name != "warmup" || len(save.Frames) != 1 {
			t.Fatalf("unexpected store command: %v", cmd)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for store command")
	}
}

func TestRunDaemon_EngineErrorStopsLoop(t *testing.T) {
	s := newTestState(t, testConfig())
	s.Observer = failingObserver{}

	input := &InputSlot{}
	input.Publish([]float64{0, 0, 0, 1, 0, 0, 0}, time.Now())

	done := make(chan error, 1)
	go func() {
		done <- runDaemon(context.Background(), s, daemonDeps{events: make(chan Event), input: input}, 50, discardLogger())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected an engine error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("daemon did not stop on engine error")
	}
}

func TestRunStoreWorker_FeedsResultsBack(t *testing.T) {
	store := &fakeStore{}
	cmds := make(chan Command, 1)
	events := make(chan Event, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runStoreWorker(ctx, store, cmds, events, discardLogger())

	cmds <- CmdSaveMemory{Name: "warmup", Frames: [][]float64{{1, 2}}}
	select {
	case ev := <-events:
		if _, ok := ev.(MemorySaved); !ok {
			t.Fatalf("expected MemorySaved, got %T", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for worker result")
	}

	store.err = errors.New("disk full")
	cmds <- CmdSaveMemory{Name: "warmup", Frames: [][]float64{{1, 2}}}
	select {
	case ev := <-events:
		if _, ok := ev.(StoreCommandFailed); !ok {
			t.Fatalf("expected StoreCommandFailed, got %T", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for worker failure")
	}
}
