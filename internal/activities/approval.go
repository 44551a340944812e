package activities

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/metrics"
)

// ReviewActivities handles human-in-the-loop approval bookkeeping. The
// decision itself arrives as a workflow signal; these activities record the
// request side.
type ReviewActivities struct {
	logger *zap.Logger
}

// NewReviewActivities creates the review activity set.
func NewReviewActivities(logger *zap.Logger) *ReviewActivities {
	return &ReviewActivities{logger: logger}
}

// RequestApproval registers an approval request for a recommended strategy
// and returns a ticket the workflow tracks while it waits for the signal.
// Notification delivery (webhook, email) would hang off this point.
func (r *ReviewActivities) RequestApproval(ctx context.Context, in ApprovalRequest) (ApprovalTicket, error) {
	ticket := ApprovalTicket{
		ApprovalID:  uuid.New().String(),
		RequestedAt: time.Now().UTC(),
	}
	r.logger.Info("Human approval requested",
		zap.String("run_id", in.RunID),
		zap.String("workflow_id", in.WorkflowID),
		zap.String("approval_id", ticket.ApprovalID),
		zap.Int("strategy_documents", len(in.Strategy)),
		zap.Float64("confidence", in.Confidence),
	)
	metrics.ApprovalsRequested.Inc()
	return ticket, nil
}
