package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"dancepartner/internal/memory"
)

// ============================================================================
// HTTP Server
// ============================================================================
// Serves the state websocket, a health check and the recordings catalog.
// ============================================================================

// RecordingCatalog is the read/delete side of the recording store.
type RecordingCatalog interface {
	List(ctx context.Context) ([]memory.Recording, error)
	Delete(ctx context.Context, id string) error
}

// newHTTPMux wires the daemon's HTTP endpoints. catalog may be nil.
func newHTTPMux(ws *Server, wsPath string, hub *Hub, catalog RecordingCatalog, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	ws.Register(mux, wsPath)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ws_clients": hub.NumClients()})
	})

	mux.HandleFunc("GET /recordings", func(w http.ResponseWriter, r *http.Request) {
		if catalog == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": errNoStore.Error()})
			return
		}
		recs, err := catalog.List(r.Context())
		if err != nil {
			logger.Error("list recordings failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if recs == nil {
			recs = []memory.Recording{}
		}
		writeJSON(w, http.StatusOK, recs)
	})

	mux.HandleFunc("DELETE /recordings/{id}", func(w http.ResponseWriter, r *http.Request) {
		if catalog == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": errNoStore.Error()})
			return
		}
		err := catalog.Delete(r.Context(), r.PathValue("id"))
		switch {
		case errors.Is(err, memory.ErrRecordingNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case err != nil:
			logger.Error("delete recording failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// runHTTPServer serves handler on port and shuts it down gracefully when ctx
// is canceled.
func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("HTTP server listening", "port", port)

	errCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
