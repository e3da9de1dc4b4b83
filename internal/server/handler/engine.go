package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// EngineControl is the subset of the engine the console drives.
type EngineControl interface {
	Status() domain.EngineStatus
	Running() bool
	Stop()
	Start()
	RequestClose(ctx context.Context) (bool, error)
}

// EngineHandler serves status and control endpoints.
type EngineHandler struct {
	engine EngineControl
	logger *slog.Logger
}

func NewEngineHandler(engine EngineControl, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{engine: engine, logger: logger}
}

// GetStatus returns the engine status snapshot.
// GET /api/status
func (h *EngineHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// Stop halts the engine schedule at the next tick.
// POST /api/engine/stop
func (h *EngineHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop()
	h.logger.InfoContext(r.Context(), "stop requested via console")
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "stopping"})
}

// Start resumes the engine schedule at the next tick.
// POST /api/engine/start
func (h *EngineHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.engine.Start()
	h.logger.InfoContext(r.Context(), "start requested via console")
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "starting"})
}

// ClosePosition closes the open position at the latest price and waits for
// the result.
// POST /api/position/close
func (h *EngineHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	closed, err := h.engine.RequestClose(r.Context())
	switch {
	case err == nil && !closed:
		writeJSON(w, http.StatusOK, map[string]any{"closed": false, "reason": "no open position"})
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"closed": true})
	case errors.Is(err, domain.ErrNoPrice), errors.Is(err, domain.ErrNoPosition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "console close failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
