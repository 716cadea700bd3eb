package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dancepartner/internal/memory"
)

// storeTimeout bounds a single store command.
const storeTimeout = 30 * time.Second

var (
	errNoStore     = errors.New("recording store is disabled (store.path is empty)")
	errEmptyMemory = errors.New("memory is empty")
	errStoreBusy   = errors.New("store worker busy")
)

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }

// RecordingStore is the subset of memory.Store used by the effects layer.
type RecordingStore interface {
	Save(ctx context.Context, name string, frames [][]float64) (memory.Recording, error)
	Load(ctx context.Context, ref string) (memory.Recording, [][]float64, error)
}

// runEffect executes a single reducer-emitted Command and reports the outcome
// as an Event via onEvent.
//
// It may perform I/O. It never calls Reduce; the daemon loop sequences
// Reduce -> Commands -> runEffect -> Events -> Reduce.
func runEffect(
	ctx context.Context,
	store RecordingStore,
	cmd Command,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		return
	}

	now := time.Now()
	fail := func(err error) {
		logger.Error("command failed", "command", cmd.String(), "error", err)
		onEvent(StoreCommandFailed{Command: cmd, Err: err, At: now})
	}

	switch c := cmd.(type) {
	case CmdSaveMemory:
		if store == nil {
			fail(errNoStore)
			return
		}
		if len(c.Frames) == 0 {
			fail(errEmptyMemory)
			return
		}
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()

		rec, err := store.Save(sctx, c.Name, c.Frames)
		if err != nil {
			fail(err)
			return
		}
		logger.Info("memory saved", "id", rec.ID, "name", rec.Name, "frames", rec.NumFrames)
		onEvent(MemorySaved{Recording: rec, At: time.Now()})

	case CmdLoadMemory:
		if store == nil {
			fail(errNoStore)
			return
		}
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()

		rec, frames, err := store.Load(sctx, c.Ref)
		if err != nil {
			fail(err)
			return
		}
		if c.FrameLen > 0 && rec.FrameLen != c.FrameLen {
			fail(fmt.Errorf("recording %s has %d values per frame, model expects %d", rec.ID, rec.FrameLen, c.FrameLen))
			return
		}
		logger.Info("memory loaded", "id", rec.ID, "name", rec.Name, "frames", rec.NumFrames)
		onEvent(MemoryLoaded{Recording: rec, Frames: frames, At: time.Now()})

	case CmdPublishStateSnapshot:
		// The channel send lives here so the reducer stays free of blocking operations.
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
		onEvent(StoreCommandFailed{Command: cmd, Err: errUnknownCommand{cmd: cmd}, At: now})
	}
}

// runStoreWorker executes store commands off the daemon goroutine and feeds
// their results back as events. It returns when ctx is canceled.
func runStoreWorker(
	ctx context.Context,
	store RecordingStore,
	cmds <-chan Command,
	events chan<- Event,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-cmds:
			runEffect(ctx, store, cmd, logger, func(ev Event) {
				select {
				case events <- ev:
				case <-ctx.Done():
				}
			})
		}
	}
}
