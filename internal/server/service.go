// Package server exposes the engine's inbound interface: start a run,
// deliver an approval decision, inspect a run, and subscribe to progress.
// The HTTP layer in internal/httpapi is a thin shell over this service.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/activities"
	"github.com/inkwell-labs/corpusflow/internal/metrics"
	"github.com/inkwell-labs/corpusflow/internal/run"
	"github.com/inkwell-labs/corpusflow/internal/streaming"
	"github.com/inkwell-labs/corpusflow/internal/workflows"
)

// ErrRunNotReviewing is returned when an approval arrives for a run that is
// not waiting on one.
var ErrRunNotReviewing = errors.New("run is not awaiting review")

// ErrInvalidRequest marks caller mistakes so the HTTP layer can answer 400
// instead of 500.
var ErrInvalidRequest = errors.New("invalid request")

// WorkflowClient is the slice of the Temporal client the service uses.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error
}

// RunStore is the persistence slice the service needs.
type RunStore interface {
	CreateRun(ctx context.Context, r *run.Run) error
	LoadRun(ctx context.Context, id string) (*run.Run, error)
}

// Service implements the inbound operations.
type Service struct {
	temporal  WorkflowClient
	store     RunStore
	manager   *streaming.Manager
	taskQueue string
	logger    *zap.Logger
}

// NewService creates the inbound service.
func NewService(temporal WorkflowClient, store RunStore, manager *streaming.Manager, taskQueue string, logger *zap.Logger) *Service {
	return &Service{
		temporal:  temporal,
		store:     store,
		manager:   manager,
		taskQueue: taskQueue,
		logger:    logger,
	}
}

// WorkflowIDForRun derives the workflow id from the run id; one workflow
// instance serves one run.
func WorkflowIDForRun(runID string) string { return "run-" + runID }

// StartRunRequest starts a new analysis run over a document collection.
type StartRunRequest struct {
	CollectionID    string   `json:"collection_id"`
	SubjectID       string   `json:"subject_id,omitempty"`
	Subtype         string   `json:"subtype,omitempty"`
	FocusTerms      []string `json:"focus_terms,omitempty"`
	ReviewRequested bool     `json:"review_requested"`
}

// StartRunResponse identifies the created run.
type StartRunResponse struct {
	RunID      string     `json:"run_id"`
	WorkflowID string     `json:"workflow_id"`
	Status     run.Status `json:"status"`
}

// StartRun creates the run record and starts the workflow detached from the
// caller; progress flows through the streaming manager.
func (s *Service) StartRun(ctx context.Context, req StartRunRequest) (StartRunResponse, error) {
	if req.CollectionID == "" {
		return StartRunResponse{}, fmt.Errorf("%w: collection_id is required", ErrInvalidRequest)
	}

	r := &run.Run{
		CollectionID: req.CollectionID,
		SubjectID:    req.SubjectID,
		Subtype:      req.Subtype,
	}
	if err := s.store.CreateRun(ctx, r); err != nil {
		return StartRunResponse{}, fmt.Errorf("create run: %w", err)
	}

	workflowID := WorkflowIDForRun(r.ID)
	_, err := s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.taskQueue,
	}, workflows.WorkflowName, workflows.RunInput{
		RunID:           r.ID,
		ReviewRequested: req.ReviewRequested,
		FocusTerms:      req.FocusTerms,
	})
	if err != nil {
		return StartRunResponse{}, fmt.Errorf("start workflow: %w", err)
	}

	metrics.RunsStarted.WithLabelValues(req.Subtype).Inc()
	s.logger.Info("Run started",
		zap.String("run_id", r.ID),
		zap.String("collection_id", req.CollectionID),
		zap.Bool("review_requested", req.ReviewRequested),
	)
	return StartRunResponse{RunID: r.ID, WorkflowID: workflowID, Status: run.StatusAnalyzing}, nil
}

// ApproveRequest carries a reviewer's decision on a waiting run.
type ApproveRequest struct {
	RunID            string       `json:"run_id"`
	Approved         bool         `json:"approved"`
	ModifiedStrategy run.Strategy `json:"modified_strategy,omitempty"`
	Notes            string       `json:"notes,omitempty"`
	ReviewerID       string       `json:"reviewer_id,omitempty"`
}

// ApproveResponse reports what was signalled.
type ApproveResponse struct {
	RunID    string `json:"run_id"`
	Decision string `json:"decision"`
}

// Approve validates the run is waiting on review and forwards the decision
// to the workflow as a signal. The workflow consumes exactly one decision;
// if two arrive concurrently the first received wins.
func (s *Service) Approve(ctx context.Context, req ApproveRequest) (ApproveResponse, error) {
	r, err := s.store.LoadRun(ctx, req.RunID)
	if err != nil {
		return ApproveResponse{}, err
	}
	if r.Status != run.StatusReviewing && r.Status != run.StatusWaitingForReview {
		return ApproveResponse{}, fmt.Errorf("%w: status is %s", ErrRunNotReviewing, r.Status)
	}

	decision := activities.ApprovalDecision{
		Approved:         req.Approved,
		ModifiedStrategy: req.ModifiedStrategy,
		Notes:            req.Notes,
		ReviewerID:       req.ReviewerID,
		Timestamp:        time.Now().UTC(),
	}
	if err := s.temporal.SignalWorkflow(ctx, WorkflowIDForRun(req.RunID), "", workflows.SignalApproval, decision); err != nil {
		return ApproveResponse{}, fmt.Errorf("signal workflow: %w", err)
	}

	label := "rejected"
	if req.Approved {
		label = "approved"
	}
	metrics.ApprovalDecisions.WithLabelValues(label).Inc()
	s.logger.Info("Approval decision forwarded",
		zap.String("run_id", req.RunID),
		zap.Bool("approved", req.Approved),
		zap.String("reviewer_id", req.ReviewerID),
	)
	return ApproveResponse{RunID: req.RunID, Decision: label}, nil
}

// GetRun returns the persisted run record.
func (s *Service) GetRun(ctx context.Context, runID string) (*run.Run, error) {
	return s.store.LoadRun(ctx, runID)
}

// Progress subscribes to a run's progress events, replaying anything after
// sinceSeq first. The caller must call the returned cancel function.
func (s *Service) Progress(runID string, sinceSeq uint64, buffer int) (backlog []streaming.Event, ch chan streaming.Event, cancel func()) {
	ch = s.manager.Subscribe(runID, buffer)
	if sinceSeq > 0 {
		backlog = s.manager.ReplaySince(runID, sinceSeq)
	}
	return backlog, ch, func() { s.manager.Unsubscribe(runID, ch) }
}
