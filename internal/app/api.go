package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/voicefront/voicefront/internal/capture"
	"github.com/voicefront/voicefront/internal/session"
	"github.com/voicefront/voicefront/pkg/audio"
	"github.com/voicefront/voicefront/pkg/types"
)

type stateBody struct {
	State session.State `json:"state"`
}

type errorBody struct {
	Error string        `json:"error"`
	State session.State `json:"state"`
}

func (a *App) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/wake/start", a.command(func(ctx context.Context, _ *http.Request) error {
		return a.orch.StartWakeListening(ctx)
	}))
	mux.HandleFunc("POST /v1/wake/stop", a.command(func(ctx context.Context, _ *http.Request) error {
		return a.orch.StopWakeListening(ctx)
	}))
	mux.HandleFunc("POST /v1/capture/start", a.command(func(ctx context.Context, r *http.Request) error {
		mode := types.Mode(r.URL.Query().Get("mode"))
		if mode == "" {
			mode = types.ModeChat
		}
		return a.orch.StartCapture(ctx, mode)
	}))
	mux.HandleFunc("POST /v1/capture/stop", a.command(func(ctx context.Context, _ *http.Request) error {
		return a.orch.StopCapture(ctx)
	}))
	mux.HandleFunc("GET /v1/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, stateBody{State: a.orch.State()})
	})
}

// command adapts an orchestrator call to an HTTP handler that replies with
// the resulting state.
func (a *App) command(fn func(ctx context.Context, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context(), r); err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				slog.Warn("control command failed", "path", r.URL.Path, "err", err)
			}
			writeJSON(w, status, errorBody{Error: err.Error(), State: a.orch.State()})
			return
		}
		writeJSON(w, http.StatusOK, stateBody{State: a.orch.State()})
	}
}

// statusFor maps orchestrator errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrAlreadyOpen),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrStopped):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidMode):
		return http.StatusBadRequest
	case errors.Is(err, audio.ErrNoDeviceAvailable),
		errors.Is(err, capture.ErrTranscriptionUnavailable),
		errors.Is(err, capture.ErrWakeWordUnavailable),
		errors.Is(err, session.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}
