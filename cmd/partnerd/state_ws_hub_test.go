package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dancepartner/internal/behavior"
	"dancepartner/internal/control"
)

func TestHub_ClosesClientSendChannelsOnShutdown(t *testing.T) {
	hub := NewHub(slog.Default(), HubConfig{SendBuf: 4, BroadcastBuf: 16})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)

	// Use nil websocket conns: the hub tolerates them on close.
	c1 := &Client{hub: hub, send: make(chan []byte, 4), remoteAddr: "c1", logger: slog.Default()}
	c2 := &Client{hub: hub, send: make(chan []byte, 4), remoteAddr: "c2", logger: slog.Default()}

	hub.register <- c1
	hub.register <- c2
	waitUntil(t, 500*time.Millisecond, func() bool { return hub.NumClients() == 2 }, "clients not registered in time")

	cancel()

	for _, c := range []*Client{c1, c2} {
		waitUntil(t, 500*time.Millisecond, func() bool {
			select {
			case _, ok := <-c.send:
				return !ok
			default:
				return false
			}
		}, "expected send channel of "+c.remoteAddr+" to be closed")
	}
}

func TestHub_DisconnectsSlowClient(t *testing.T) {
	hub := NewHub(slog.Default(), HubConfig{SendBuf: 1, BroadcastBuf: 16})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	slow := &Client{hub: hub, send: make(chan []byte, 1), remoteAddr: "slow", logger: slog.Default()}
	fast := &Client{hub: hub, send: make(chan []byte, 8), remoteAddr: "fast", logger: slog.Default()}

	hub.register <- slow
	hub.register <- fast
	waitUntil(t, 500*time.Millisecond, func() bool { return hub.NumClients() == 2 }, "clients not registered in time")

	// Simulate a client that stopped reading.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"mode_changed","data":{"mode":"recall"}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", got, msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	select {
	case <-slow.send:
	default:
	}
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	if n := hub.NumClients(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}
}

func decodeEnvelope(t *testing.T, msg []byte) (string, json.RawMessage) {
	t.Helper()
	var env struct {
		Type string          `json:"type"`
		Ts   string          `json:"ts"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("bad envelope %q: %v", msg, err)
	}
	if env.Ts == "" {
		t.Fatalf("envelope without ts: %s", msg)
	}
	return env.Type, env.Data
}

func TestBroadcaster_CoalescesPoses(t *testing.T) {
	hub := NewHub(discardLogger(), HubConfig{SendBuf: 64})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	c := &Client{hub: hub, send: make(chan []byte, 64), remoteAddr: "c", logger: discardLogger()}
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool { return hub.NumClients() == 1 }, "client not registered in time")

	src := make(chan StateBroadcast, 32)
	go RunBroadcaster(ctx, hub, src, discardLogger())

	for i := 0; i < 10; i++ {
		src <- BroadcastPose{Pose: []float64{float64(i)}}
	}
	src <- BroadcastModeChanged{Mode: "mirror", NextMode: "recall"}

	var poses []float64
	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-c.send:
			typ, data := decodeEnvelope(t, msg)
			switch typ {
			case "pose":
				var p wsPoseData
				if err := json.Unmarshal(data, &p); err != nil {
					t.Fatalf("bad pose: %v", err)
				}
				poses = append(poses, p.Pose[0])
				continue
			case "mode_changed":
				var m wsModeChangedData
				if err := json.Unmarshal(data, &m); err != nil {
					t.Fatalf("bad mode_changed: %v", err)
				}
				if m.Mode != "mirror" || m.NextMode != "recall" {
					t.Fatalf("unexpected mode_changed: %+v", m)
				}
			default:
				t.Fatalf("unexpected message type %q", typ)
			}
		case <-deadline:
			t.Fatalf("timeout waiting for mode_changed")
		}
		break
	}

	if len(poses) == 0 || len(poses) >= 10 {
		t.Fatalf("expected coalesced poses, got %v", poses)
	}
	// The pose pending when mode_changed arrived is flushed first.
	if last := poses[len(poses)-1]; last != 9 {
		t.Fatalf("last pose = %v, want 9", last)
	}
}

func TestConvertBroadcast_MemoryChanged(t *testing.T) {
	ev, ok := convertBroadcast(BroadcastMemoryChanged{Frames: 12, Memorize: true, Recording: "warmup"})
	if !ok || ev.Type != "memory_changed" {
		t.Fatalf("unexpected conversion: %+v", ev)
	}
	msg, err := marshalEnvelope(ev)
	if err != nil {
		t.Fatalf("marshalEnvelope: %v", err)
	}
	_, data := decodeEnvelope(t, msg)
	if string(data) != `{"frames":12,"memorize":true,"recording":"warmup"}` {
		t.Fatalf("data = %s", data)
	}
}

// fakeDaemon answers snapshot requests and collects actions.
func fakeDaemon(ctx context.Context, events <-chan Event, actions chan<- control.Action) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch e := ev.(type) {
			case RequestStateSnapshot:
				e.Reply <- StateSnapshot{
					Status: behavior.Status{Strategy: "switching", Mode: "mirror", MemoryFrames: 3},
					Pose:   []float64{0, 0, 0, 1, 0, 0, 0},
				}
			case ActionEvent:
				actions <- e.Action
			}
		}
	}
}

func TestServer_StateInitAndClientActions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 8)
	actions := make(chan control.Action, 8)
	go fakeDaemon(ctx, events, actions)

	srv := NewServer(discardLogger(), events, ServerConfig{})
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(newHTTPMux(srv, "/ws", srv.Hub(), nil, discardLogger()))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read state_init: %v", err)
	}
	typ, data := decodeEnvelope(t, msg)
	if typ != "state_init" {
		t.Fatalf("first message type = %q", typ)
	}
	var st wsStateInit
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("bad state_init: %v", err)
	}
	if st.Mode != "mirror" || st.MemoryFrames != 3 || len(st.Pose) != 7 {
		t.Fatalf("unexpected state_init: %+v", st)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"set_recall_amount","data":{"amount":0.5}}`)); err != nil {
		t.Fatalf("write action: %v", err)
	}
	// invalid actions are dropped without closing the connection
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"set_velocity","data":{"velocity":0}}`)); err != nil {
		t.Fatalf("write action: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"clear_memory"}`)); err != nil {
		t.Fatalf("write action: %v", err)
	}

	want := []control.Action{control.SetRecallAmount{Amount: 0.5}, control.ClearMemory{}}
	for _, w := range want {
		select {
		case got := <-actions:
			if got != w {
				t.Fatalf("action = %#v, want %#v", got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %#v", w)
		}
	}
}

func TestHTTP_HealthAndRecordingsWithoutStore(t *testing.T) {
	srv := NewServer(discardLogger(), nil, ServerConfig{})
	ts := httptest.NewServer(newHTTPMux(srv, "/ws", srv.Hub(), nil, discardLogger()))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var health map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, health)
	}

	resp, err = http.Get(ts.URL + "/recordings")
	if err != nil {
		t.Fatalf("GET /recordings: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("recordings without store = %d, want 503", resp.StatusCode)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
