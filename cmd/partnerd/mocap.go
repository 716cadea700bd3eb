package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// ============================================================================
// Mocap receiver
// ============================================================================
// Connects to a motion capture broadcaster sending BVH frames as text:
// frames are separated by "||", values by spaces, and the first two tokens of
// a frame (actor id and name) are skipped. The newest frame is published to
// an InputSlot the daemon reads once per tick; older unread frames are
// superseded.
// ============================================================================

// ErrPeerDisconnected is returned when the broadcaster closes the connection.
var ErrPeerDisconnected = errors.New("mocap peer disconnected")

const (
	frameDelim     = "||"
	skippedTokens  = 2
	maxFrameBytes  = 1 << 20
	fpsLogInterval = 10 * time.Second
)

// InputFrame is one received pose. Seq increases with every published frame.
type InputFrame struct {
	Seq    uint64
	Values []float64
	At     time.Time
}

// InputSlot holds the latest input frame. It is written by the receiver and
// read by the daemon goroutine.
type InputSlot struct {
	latest atomic.Pointer[InputFrame]
	seq    atomic.Uint64
}

// Publish stores values as the latest frame. values must not be modified afterwards.
func (s *InputSlot) Publish(values []float64, at time.Time) {
	s.latest.Store(&InputFrame{Seq: s.seq.Add(1), Values: values, At: at})
}

// Load returns the latest frame, or nil before the first one.
func (s *InputSlot) Load() *InputFrame { return s.latest.Load() }

type mocapReceiver struct {
	address           string
	reconnectInterval time.Duration
	translationOffset []float64
	readBufferBytes   int
	frameLen          int
	logInterval       time.Duration // defaults to fpsLogInterval

	slot   *InputSlot
	logger *slog.Logger
}

// run connects, reads and reconnects until ctx is canceled.
func (r *mocapReceiver) run(ctx context.Context) error {
	for {
		err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case errors.Is(err, ErrPeerDisconnected):
			r.logger.Info("mocap peer disconnected, reconnecting", "address", r.address, "in", r.reconnectInterval)
		default:
			r.logger.Warn("mocap connection failed, reconnecting", "address", r.address, "error", err, "in", r.reconnectInterval)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.reconnectInterval):
		}
	}
}

func (r *mocapReceiver) session(ctx context.Context) error {
	d := net.Dialer{
		Timeout: 5 * time.Second,
		Control: tuneMocapSocket(r.readBufferBytes),
	}
	conn, err := d.DialContext(ctx, "tcp", r.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.address, err)
	}
	defer conn.Close()

	r.logger.Info("mocap connected", "address", r.address)

	// Closing the connection unblocks the reader on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	return r.read(conn)
}

// read publishes frames from rd until it fails.
func (r *mocapReceiver) read(rd io.Reader) error {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	sc.Split(splitFrames)

	interval := r.logInterval
	if interval <= 0 {
		interval = fpsLogInterval
	}
	var (
		received, rejected int
		since              = time.Now()
	)
	report := func() {
		elapsed := time.Since(since)
		if elapsed < interval {
			return
		}
		if received == 0 && rejected > 0 {
			r.logger.Warn("no valid mocap frames", "rejected", rejected, "in", elapsed)
		} else {
			r.logger.Debug("mocap input",
				"fps", float64(received)/elapsed.Seconds(),
				"rejected", rejected)
		}
		received, rejected, since = 0, 0, time.Now()
	}

	for sc.Scan() {
		values, err := parseFrame(sc.Text())
		if err == nil && r.frameLen > 0 && len(values) != r.frameLen {
			err = fmt.Errorf("frame has %d values, want %d", len(values), r.frameLen)
		}
		if err != nil {
			if rejected == 0 {
				r.logger.Warn("mocap frame rejected", "error", err)
			}
			rejected++
			report()
			continue
		}

		applyOffset(values, r.translationOffset)
		r.slot.Publish(values, time.Now())
		received++
		report()
	}

	if err := sc.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return ErrPeerDisconnected
}

// splitFrames is a bufio.SplitFunc cutting the stream at "||". A trailing
// partial frame at EOF is dropped.
func splitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.Index(data, []byte(frameDelim)); i >= 0 {
		return i + len(frameDelim), data[:i], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// parseFrame skips the leading id and name tokens and parses the rest as floats.
func parseFrame(line string) ([]float64, error) {
	fields := strings.Fields(line)
	if len(fields) <= skippedTokens {
		return nil, errors.New("empty frame")
	}
	fields = fields[skippedTokens:]

	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

// applyOffset adds offset to the leading translation values.
func applyOffset(values, offset []float64) {
	for i := 0; i < len(offset) && i < len(values); i++ {
		values[i] += offset[i]
	}
}
