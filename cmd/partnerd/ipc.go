package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"dancepartner/internal/behavior"
	"dancepartner/internal/control"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// External clients (partner-ctl, scripts) send control actions to the daemon.
//
// Protocol: line-delimited JSON
//   - Client sends: {"type": "action_name", "data": {...}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
// ============================================================================

// runIPCServer serves the control socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(conn, events, logger)
	}
}

// handleIPCConnection handles a single IPC connection; one response per line.
func handleIPCConnection(conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	respond := func(resp control.IPCResponse) {
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		act, err := control.UnmarshalAction([]byte(line))
		if err == nil {
			err = validateAction(act)
		}
		if err != nil {
			respond(control.IPCResponse{Status: "error", Error: fmt.Sprintf("parse action: %v", err)})
			continue
		}

		select {
		case events <- ActionEvent{Action: act}:
			respond(control.IPCResponse{Status: "ok"})
		default:
			respond(control.IPCResponse{Status: "error", Error: "event queue full"})
		}
	}

	logger.Debug("IPC connection closed")
}

// validateAction rejects actions the reducer would silently ignore.
func validateAction(act control.Action) error {
	switch a := act.(type) {
	case control.SetWeight:
		if _, err := behavior.ParseMode(a.Mode); err != nil {
			return err
		}
		if a.Weight < 0 {
			return errors.New("weight must be >= 0")
		}
	case control.SetVelocity:
		if a.Velocity <= 0 {
			return errors.New("velocity must be > 0")
		}
	case control.SetNovelty:
		if a.Novelty < 0 {
			return errors.New("novelty must be >= 0")
		}
	case control.SetModeDuration:
		if _, err := behavior.ParseMode(a.Mode); err != nil {
			return err
		}
		if a.Seconds <= 0 {
			return errors.New("duration must be > 0")
		}
	case control.SetRecallRecency:
		if a.Seconds < 0 {
			return errors.New("recency must be >= 0")
		}
	case control.SetRecencyBias:
		if a.Bias < 0 || a.Bias > 1 {
			return errors.New("recency bias must be in [0,1]")
		}
	case control.SetReverseProbability:
		if a.Probability < 0 || a.Probability > 1 {
			return errors.New("reverse probability must be in [0,1]")
		}
	}
	return nil
}
