// Package httpapi is the thin HTTP shell over the inbound service: run
// creation, approval decisions, and progress streaming over SSE and
// WebSocket. Full web-layer concerns (sessions, forms, rendering) live
// outside the engine.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/db"
	"github.com/inkwell-labs/corpusflow/internal/server"
)

// RunHandler serves run creation and inspection.
type RunHandler struct {
	svc    *server.Service
	logger *zap.Logger
}

// NewRunHandler creates the handler.
func NewRunHandler(svc *server.Service, logger *zap.Logger) *RunHandler {
	return &RunHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers run routes on the provided mux.
func (h *RunHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/runs", h.handleRuns)
	mux.HandleFunc("/runs/", h.handleRunByID)
}

func (h *RunHandler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req server.StartRunRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("run create decode error", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	resp, err := h.svc.StartRun(r.Context(), req)
	if errors.Is(err, server.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("run create failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *RunHandler) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/runs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	rec, err := h.svc.GetRun(r.Context(), id)
	if errors.Is(err, db.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("run load failed", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
