package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"dancepartner/internal/control"
)

// ws_listen connects to the partnerd state websocket and prints what it
// receives. Pose frames are summarized unless -poses is given.

type envelope struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func main() {
	var (
		wsURL  = flag.String("ws", "ws://127.0.0.1:3001/ws", "partnerd websocket URL")
		poses  = flag.Bool("poses", false, "Print every pose frame")
		every  = flag.Duration("summary", 5*time.Second, "Pose rate summary interval (0 disables)")
		action = flag.String("action", "", `Send one action after connecting, e.g. '{"type":"set_weight","data":{"mode":"recall","weight":0}}'`)
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	var outgoing []byte
	if *action != "" {
		act, err := control.UnmarshalAction([]byte(*action))
		if err != nil {
			log.Fatalf("invalid action: %v", err)
		}
		if outgoing, err = control.MarshalAction(act); err != nil {
			log.Fatalf("marshal action: %v", err)
		}
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Protects concurrent writes to the websocket.
	var writeMu sync.Mutex

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	// partnerd pings every 20s; gorilla answers with a pong, so extend here too.
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	if outgoing != nil {
		writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, outgoing)
		writeMu.Unlock()
		if err != nil {
			log.Fatalf("failed to send action: %v", err)
		}
		log.Printf("sent %s", outgoing)
	}

	p := &printer{poses: *poses, summaryEvery: *every, since: time.Now()}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}

			switch messageType {
			case websocket.TextMessage:
				p.handle(message)
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

type printer struct {
	poses        bool
	summaryEvery time.Duration

	count int
	since time.Time
	last  []float64
}

func (p *printer) handle(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	switch env.Type {
	case "pose":
		var data struct {
			Pose []float64 `json:"pose"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			fmt.Printf("[POSE] malformed: %v\n", err)
			return
		}
		p.count++
		p.last = data.Pose
		if p.poses {
			fmt.Printf("[POSE] %s %s\n", env.Ts.Format("15:04:05.000"), formatPose(data.Pose))
		}
		if p.summaryEvery > 0 {
			if elapsed := time.Since(p.since); elapsed >= p.summaryEvery {
				fmt.Printf("[POSES] %.1f/s translation=%s\n", float64(p.count)/elapsed.Seconds(), formatPose(firstN(p.last, 3)))
				p.count, p.since = 0, time.Now()
			}
		}

	case "mode_changed":
		var data struct {
			Mode     string `json:"mode"`
			NextMode string `json:"next_mode"`
		}
		_ = json.Unmarshal(env.Data, &data)
		if data.NextMode != "" {
			fmt.Printf("[MODE] %s -> %s\n", data.Mode, data.NextMode)
		} else {
			fmt.Printf("[MODE] %s\n", data.Mode)
		}

	case "memory_changed":
		var data struct {
			Frames    int    `json:"frames"`
			Memorize  bool   `json:"memorize"`
			Recording string `json:"recording"`
		}
		_ = json.Unmarshal(env.Data, &data)
		line := fmt.Sprintf("[MEMORY] frames=%d memorize=%t", data.Frames, data.Memorize)
		if data.Recording != "" {
			line += " recording=" + data.Recording
		}
		fmt.Println(line)

	default:
		var pretty map[string]any
		if err := json.Unmarshal(env.Data, &pretty); err != nil {
			fmt.Printf("[%s] %s\n", strings.ToUpper(env.Type), string(env.Data))
			return
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Printf("[%s]\n%s\n\n", strings.ToUpper(env.Type), string(out))
	}
}

func firstN(v []float64, n int) []float64 {
	if len(v) < n {
		return v
	}
	return v[:n]
}

func formatPose(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.3f", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
