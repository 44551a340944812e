package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/streaming"
)

// StreamingHandler serves run progress over SSE and WebSocket.
type StreamingHandler struct {
	mgr       *streaming.Manager
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewStreamingHandler creates the handler. heartbeat bounds the silence a
// consumer can see before a keepalive arrives.
func NewStreamingHandler(mgr *streaming.Manager, heartbeat time.Duration, logger *zap.Logger) *StreamingHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StreamingHandler{mgr: mgr, heartbeat: heartbeat, logger: logger}
}

// RegisterRoutes registers streaming routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream/sse", h.handleSSE)
	mux.HandleFunc("/stream/ws", h.handleWS)
}

// handleSSE streams progress for a run via Server-Sent Events.
// GET /stream/sse?run_id=<id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id required")
		return
	}
	lastID := lastEventID(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := h.mgr.Subscribe(runID, 256)
	defer h.mgr.Unsubscribe(runID, ch)

	fmt.Fprintf(w, ": connected to run %s\n\n", runID)
	flusher.Flush()

	// Replay backlog since lastID so a reconnecting consumer misses nothing.
	if lastID > 0 {
		for _, ev := range h.mgr.ReplaySince(runID, lastID) {
			writeSSE(w, ev)
			if ev.Final() {
				flusher.Flush()
				return
			}
		}
		flusher.Flush()
	}

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("run_id", runID))
			return
		case evt := <-ch:
			writeSSE(w, evt)
			flusher.Flush()
			if evt.Final() {
				return
			}
		case <-hb.C:
			// Lets consumers distinguish "still working" from a dropped
			// connection.
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev streaming.Event) {
	if ev.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", ev.Seq)
	}
	fmt.Fprintf(w, "data: %s\n\n", string(ev.Marshal()))
}

func lastEventID(r *http.Request) uint64 {
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			return n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
