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

// ApprovalHandler receives human review decisions and forwards them to the
// waiting workflow as signals.
type ApprovalHandler struct {
	svc       *server.Service
	logger    *zap.Logger
	authToken string
}

// NewApprovalHandler creates the handler. authToken, when non-empty, is
// required as a bearer token on every decision.
func NewApprovalHandler(svc *server.Service, logger *zap.Logger, authToken string) *ApprovalHandler {
	return &ApprovalHandler{svc: svc, logger: logger, authToken: authToken}
}

// RegisterRoutes registers approval routes on the provided mux.
func (h *ApprovalHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/runs/approval", h.handleDecision)
}

func (h *ApprovalHandler) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.authToken != "" {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != h.authToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	var req server.ApproveRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("approval decode error", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}

	resp, err := h.svc.Approve(r.Context(), req)
	switch {
	case errors.Is(err, db.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
		return
	case errors.Is(err, server.ErrRunNotReviewing):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("approval forwarding failed", zap.String("run_id", req.RunID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
