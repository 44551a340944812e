package activities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/streaming"
)

// StreamingActivities publishes run progress to the streaming manager.
type StreamingActivities struct {
	manager *streaming.Manager
	logger  *zap.Logger
}

// NewStreamingActivities creates the streaming activity set.
func NewStreamingActivities(manager *streaming.Manager, logger *zap.Logger) *StreamingActivities {
	return &StreamingActivities{manager: manager, logger: logger}
}

// EmitRunUpdateInput is one progress message from the workflow.
type EmitRunUpdateInput struct {
	RunID           string    `json:"run_id"`
	Stage           string    `json:"stage"`
	ProgressPercent int       `json:"progress_percent"`
	Status          string    `json:"status,omitempty"`
	Message         string    `json:"message,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// EmitRunUpdate publishes the event to subscribers (and the Redis mirror).
// Best-effort from the workflow's point of view: publication failures are
// logged, never returned.
func (s *StreamingActivities) EmitRunUpdate(ctx context.Context, in EmitRunUpdateInput) error {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	s.manager.Publish(streaming.Event{
		RunID:           in.RunID,
		Stage:           in.Stage,
		ProgressPercent: in.ProgressPercent,
		Status:          in.Status,
		Message:         in.Message,
		Timestamp:       ts,
	})
	s.logger.Debug("Run update emitted",
		zap.String("run_id", in.RunID),
		zap.String("stage", in.Stage),
		zap.Int("progress", in.ProgressPercent),
		zap.String("status", in.Status),
	)
	return nil
}
