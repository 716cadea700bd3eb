package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// Design rules enforced here:
//   - The daemon goroutine is the only owner of DaemonState (and the engine in it).
//   - Reduce performs no I/O and computes: commands + broadcasts.
//   - Store commands run on the store worker; their results come back as Events.
//   - Snapshot delivery runs inline (non-blocking channel send).
//
// ============================================================================

// daemonDeps carries the channels the loop talks to.
type daemonDeps struct {
	events     <-chan Event
	input      *InputSlot
	storeCmds  chan<- Command
	broadcasts chan<- StateBroadcast
}

// runDaemon is the main daemon loop that:
//   - Receives Events from IPC, websocket and the store worker
//   - Emits Tick events at frameRate, carrying the latest mocap frame
//   - Reduces events and dispatches the resulting commands and broadcasts
//
// It returns nil when ctx is canceled or the events channel is closed, and
// the reducer's error when the engine fails.
func runDaemon(
	ctx context.Context,
	state *DaemonState,
	deps daemonDeps,
	frameRate int,
	logger *slog.Logger,
) error {
	interval := time.Second / time.Duration(frameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Allow up to two ticks worth of time to be integrated in one step.
	maxDt := 2.0 / float64(frameRate)

	lastTick := time.Now()

	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	publish := func(bcs []StateBroadcast) {
		for _, b := range bcs {
			select {
			case deps.broadcasts <- b:
			default:
				// Pose frames are superseded by the next tick anyway.
				logger.Debug("broadcast queue full, dropping", "type", broadcastType(b))
			}
		}
	}

	flushEvents := func() error {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev)
			if rr.Err != nil {
				return rr.Err
			}
			if rr.State != nil {
				state = rr.State
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			if deps.broadcasts != nil {
				publish(rr.Broadcasts)
			}
		}
		return nil
	}

	flushCommands := func() error {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			if isStoreCommand(cmd) && deps.storeCmds != nil {
				select {
				case deps.storeCmds <- cmd:
				default:
					logger.Warn("store worker busy, dropping command", "command", cmd.String())
					enqueueEvent(StoreCommandFailed{Command: cmd, Err: errStoreBusy, At: time.Now()})
				}
			} else {
				// Without a worker, store commands fail fast with errNoStore.
				runEffect(ctx, nil, cmd, logger, enqueueEvent)
			}

			if err := flushEvents(); err != nil {
				return err
			}
		}
		return nil
	}

	step := func(ev Event) error {
		enqueueEvent(ev)
		if err := flushEvents(); err != nil {
			return err
		}
		return flushCommands()
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return nil

		case ev, ok := <-deps.events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return nil
			}
			if a, isAction := ev.(ActionEvent); isAction && a.At.IsZero() {
				a.At = time.Now()
				ev = a
			}
			if err := step(ev); err != nil {
				logger.Error("engine failed", "error", err)
				return err
			}

		case now := <-ticker.C:
			dt := min(now.Sub(lastTick).Seconds(), maxDt)
			lastTick = now

			var in *InputFrame
			if deps.input != nil {
				in = deps.input.Load()
			}
			if err := step(Tick{Now: now, Dt: dt, Input: in}); err != nil {
				logger.Error("engine failed", "error", err)
				return err
			}
		}
	}
}
