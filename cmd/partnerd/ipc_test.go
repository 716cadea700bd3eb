package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dancepartner/internal/control"
)

func startIPC(t *testing.T, events chan Event) string {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "partnerd.sock")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runIPCServer(ctx, socket, events, discardLogger()) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitUntil(t, time.Second, func() bool {
		c, err := net.Dial("unix", socket)
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, "IPC socket not listening")
	return socket
}

func TestIPC_ActionReachesDaemon(t *testing.T) {
	events := make(chan Event, 4)
	socket := startIPC(t, events)

	if err := control.SendAction(socket, control.SetWeight{Mode: "recall", Weight: 2}); err != nil {
		t.Fatalf("SendAction: %v", err)
	}

	select {
	case ev := <-events:
		a, ok := ev.(ActionEvent)
		if !ok {
			t.Fatalf("expected ActionEvent, got %T", ev)
		}
		w, ok := a.Action.(control.SetWeight)
		if !ok || w.Mode != "recall" || w.Weight != 2 {
			t.Fatalf("unexpected action: %#v", a.Action)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for action")
	}
}

func TestIPC_RejectsInvalidActions(t *testing.T) {
	events := make(chan Event, 4)
	socket := startIPC(t, events)

	for _, a := range []control.Action{
		control.SetWeight{Mode: "dance", Weight: 1},
		control.SetWeight{Mode: "mirror", Weight: -1},
		control.SetVelocity{Velocity: 0},
		control.SetNovelty{Novelty: -0.5},
		control.SetModeDuration{Mode: "recall", Seconds: 0},
		control.SetModeDuration{Mode: "solo", Seconds: 3},
		control.SetRecallRecency{Seconds: -1},
		control.SetRecencyBias{Bias: 1.5},
		control.SetReverseProbability{Probability: -0.1},
	} {
		err := control.SendAction(socket, a)
		if err == nil || !strings.Contains(err.Error(), "ipc error") {
			t.Fatalf("%T: expected ipc error, got %v", a, err)
		}
	}
	if len(events) != 0 {
		t.Fatalf("invalid actions reached the daemon")
	}
}

func TestIPC_OneResponsePerLine(t *testing.T) {
	events := make(chan Event, 1)
	socket := startIPC(t, events)

	conn, err := net.Dial("unix", socket)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	// The second valid action finds the queue full.
	_, err = conn.Write([]byte(`{"type":"clear_memory"}` + "\n" +
		`not json` + "\n" +
		`{"type":"reset_translation"}` + "\n"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	sc := bufio.NewScanner(conn)
	var got []control.IPCResponse
	for len(got) < 3 && sc.Scan() {
		var r control.IPCResponse
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad response %q: %v", sc.Text(), err)
		}
		got = append(got, r)
	}
	if len(got) != 3 {
		t.Fatalf("got %d responses, want 3", len(got))
	}
	if got[0].Status != "ok" {
		t.Fatalf("first response = %+v", got[0])
	}
	if got[1].Status != "error" || !strings.Contains(got[1].Error, "parse action") {
		t.Fatalf("second response = %+v", got[1])
	}
	if got[2].Status != "error" || got[2].Error != "event queue full" {
		t.Fatalf("third response = %+v", got[2])
	}
}
