package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap/zaptest"

	"github.com/inkwell-labs/corpusflow/internal/activities"
	"github.com/inkwell-labs/corpusflow/internal/run"
	"github.com/inkwell-labs/corpusflow/internal/streaming"
	"github.com/inkwell-labs/corpusflow/internal/workflows"
)

type fakeWorkflowRun struct{ id string }

func (f *fakeWorkflowRun) GetID() string    { return f.id }
func (f *fakeWorkflowRun) GetRunID() string { return "temporal-run-1" }
func (f *fakeWorkflowRun) Get(context.Context, interface{}) error {
	return nil
}
func (f *fakeWorkflowRun) GetWithOptions(context.Context, interface{}, client.WorkflowRunGetOptions) error {
	return nil
}

type fakeTemporal struct {
	startedID    string
	startedQueue string
	startedArgs  []interface{}
	startErr     error

	signalledWorkflow string
	signalName        string
	signalArg         interface{}
	signalErr         error
}

func (f *fakeTemporal) ExecuteWorkflow(_ context.Context, opts client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.startedID = opts.ID
	f.startedQueue = opts.TaskQueue
	f.startedArgs = args
	return &fakeWorkflowRun{id: opts.ID}, nil
}

func (f *fakeTemporal) SignalWorkflow(_ context.Context, workflowID, _ string, signalName string, arg interface{}) error {
	if f.signalErr != nil {
		return f.signalErr
	}
	f.signalledWorkflow = workflowID
	f.signalName = signalName
	f.signalArg = arg
	return nil
}

type fakeStore struct {
	created *run.Run
	runs    map[string]*run.Run
}

func (f *fakeStore) CreateRun(_ context.Context, r *run.Run) error {
	r.ID = "run-id-1"
	r.Status = run.StatusAnalyzing
	f.created = r
	return nil
}

func (f *fakeStore) LoadRun(_ context.Context, id string) (*run.Run, error) {
	r, ok := f.runs[id]
	if !ok {
		return nil, errors.New("run not found")
	}
	return r, nil
}

func newService(t *testing.T, temporal *fakeTemporal, store *fakeStore) *Service {
	t.Helper()
	return NewService(temporal, store, streaming.NewManager(16), "corpusflow-runs", zaptest.NewLogger(t))
}

func TestStartRunCreatesRecordAndStartsWorkflow(t *testing.T) {
	temporal := &fakeTemporal{}
	store := &fakeStore{}
	svc := newService(t, temporal, store)

	resp, err := svc.StartRun(context.Background(), StartRunRequest{
		CollectionID:    "coll-1",
		SubjectID:       "subject-9",
		Subtype:         "timeline",
		ReviewRequested: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "run-id-1", resp.RunID)
	assert.Equal(t, "run-run-id-1", resp.WorkflowID)
	assert.Equal(t, run.StatusAnalyzing, resp.Status)

	require.NotNil(t, store.created)
	assert.Equal(t, "coll-1", store.created.CollectionID)

	assert.Equal(t, "run-run-id-1", temporal.startedID)
	assert.Equal(t, "corpusflow-runs", temporal.startedQueue)
	require.Len(t, temporal.startedArgs, 1)
	input, ok := temporal.startedArgs[0].(workflows.RunInput)
	require.True(t, ok)
	assert.True(t, input.ReviewRequested)
	assert.Equal(t, "run-id-1", input.RunID)
}

func TestStartRunRequiresCollection(t *testing.T) {
	svc := newService(t, &fakeTemporal{}, &fakeStore{})
	_, err := svc.StartRun(context.Background(), StartRunRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorContains(t, err, "collection_id")
}

func TestApproveSignalsWaitingRun(t *testing.T) {
	temporal := &fakeTemporal{}
	store := &fakeStore{runs: map[string]*run.Run{
		"r1": {ID: "r1", Status: run.StatusWaitingForReview},
	}}
	svc := newService(t, temporal, store)

	resp, err := svc.Approve(context.Background(), ApproveRequest{
		RunID:      "r1",
		Approved:   true,
		ReviewerID: "rev-7",
		Notes:      "looks right",
	})
	require.NoError(t, err)
	assert.Equal(t, "approved", resp.Decision)
	assert.Equal(t, "run-r1", temporal.signalledWorkflow)
	assert.Equal(t, workflows.SignalApproval, temporal.signalName)

	decision, ok := temporal.signalArg.(activities.ApprovalDecision)
	require.True(t, ok)
	assert.True(t, decision.Approved)
	assert.Equal(t, "rev-7", decision.ReviewerID)
	assert.False(t, decision.Timestamp.IsZero())
}

func TestApproveRejectsNonReviewingRun(t *testing.T) {
	store := &fakeStore{runs: map[string]*run.Run{
		"r1": {ID: "r1", Status: run.StatusExecuting},
	}}
	svc := newService(t, &fakeTemporal{}, store)

	_, err := svc.Approve(context.Background(), ApproveRequest{RunID: "r1", Approved: true})
	assert.ErrorIs(t, err, ErrRunNotReviewing)
}

func TestProgressReplaysBacklog(t *testing.T) {
	temporal := &fakeTemporal{}
	store := &fakeStore{}
	manager := streaming.NewManager(16)
	svc := NewService(temporal, store, manager, "q", zaptest.NewLogger(t))

	manager.Publish(streaming.Event{RunID: "r1", Stage: "analyzing", ProgressPercent: 5})
	manager.Publish(streaming.Event{RunID: "r1", Stage: "recommending", ProgressPercent: 25})

	backlog, ch, cancel := svc.Progress("r1", 1, 8)
	defer cancel()

	require.Len(t, backlog, 1)
	assert.Equal(t, "recommending", backlog[0].Stage)

	manager.Publish(streaming.Event{RunID: "r1", Stage: "executing", ProgressPercent: 50})
	evt := <-ch
	assert.Equal(t, "executing", evt.Stage)
}
