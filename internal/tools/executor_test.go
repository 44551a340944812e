package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/inkwell-labs/corpusflow/internal/run"
)

type memArtifacts struct {
	mu    sync.Mutex
	saved []Artifact
	fail  bool
}

func (m *memArtifacts) UpsertArtifact(_ context.Context, a Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("db unavailable")
	}
	m.saved = append(m.saved, a)
	return nil
}

func newTestExecutor(t *testing.T, funcs map[string]Func, store ArtifactStore, timeout time.Duration) *Executor {
	t.Helper()
	r := testRegistry(t)
	if funcs == nil {
		funcs = BuiltinFuncs()
	}
	return NewExecutor(r, funcs, store, timeout, zaptest.NewLogger(t))
}

func TestExecuteSuccessRecordsArtifactAndProvenance(t *testing.T) {
	store := &memArtifacts{}
	e := newTestExecutor(t, nil, store, time.Second)

	res := e.Execute(context.Background(), Request{
		Tool:       "segment",
		DocumentID: "doc1",
		RunID:      "run1",
		Agent:      "subject-9",
		Text:       "First sentence. Second sentence. Third one. Fourth here.",
		Params:     map[string]interface{}{"sentences_per_segment": 2},
	})

	assert.Equal(t, run.ToolStatusSuccess, res.Status)
	assert.Equal(t, "run1", res.Metadata["run_id"])
	assert.Equal(t, "segment", res.Metadata["tool"])
	assert.NotNil(t, res.Metadata["params"])
	assert.NotEmpty(t, res.Provenance.ActivityID)
	assert.Equal(t, "subject-9", res.Provenance.Agent)
	assert.False(t, res.Provenance.EndedAt.Before(res.Provenance.StartedAt))

	require.Len(t, store.saved, 1)
	assert.Equal(t, "doc1", store.saved[0].DocumentID)
	assert.Equal(t, "segments", store.saved[0].Type)
	assert.Equal(t, "segment", store.saved[0].Method)
}

func TestExecuteUnknownToolReturnsStructuredError(t *testing.T) {
	e := newTestExecutor(t, nil, nil, time.Second)

	res := e.Execute(context.Background(), Request{Tool: "no_such_tool", DocumentID: "d", Text: "x"})
	assert.Equal(t, run.ToolStatusError, res.Status)
	assert.Contains(t, res.Error, "no_such_tool")
	assert.NotEmpty(t, res.Provenance.ActivityID, "provenance is recorded even on failure")
}

func TestExecuteCapturesToolError(t *testing.T) {
	funcs := map[string]Func{
		"segment": func(context.Context, string, map[string]interface{}) (map[string]interface{}, map[string]interface{}, error) {
			return nil, nil, errors.New("malformed document")
		},
	}
	e := newTestExecutor(t, funcs, nil, time.Second)

	res := e.Execute(context.Background(), Request{Tool: "segment", DocumentID: "d", Text: "x"})
	assert.Equal(t, run.ToolStatusError, res.Status)
	assert.Equal(t, "malformed document", res.Error)
}

func TestExecuteCapturesPanic(t *testing.T) {
	funcs := map[string]Func{
		"segment": func(context.Context, string, map[string]interface{}) (map[string]interface{}, map[string]interface{}, error) {
			panic("index out of range")
		},
	}
	e := newTestExecutor(t, funcs, nil, time.Second)

	res := e.Execute(context.Background(), Request{Tool: "segment", DocumentID: "d", Text: "x"})
	assert.Equal(t, run.ToolStatusError, res.Status)
	assert.Contains(t, res.Error, "panicked")
}

func TestExecuteTimesOut(t *testing.T) {
	funcs := map[string]Func{
		"segment": func(ctx context.Context, _ string, _ map[string]interface{}) (map[string]interface{}, map[string]interface{}, error) {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		},
	}
	e := newTestExecutor(t, funcs, nil, 20*time.Millisecond)

	res := e.Execute(context.Background(), Request{Tool: "segment", DocumentID: "d", Text: "x"})
	assert.Equal(t, run.ToolStatusTimeout, res.Status)
	assert.Contains(t, res.Error, "timeout")
}

func TestExecuteArtifactFailureDoesNotFailResult(t *testing.T) {
	store := &memArtifacts{fail: true}
	e := newTestExecutor(t, nil, store, time.Second)

	res := e.Execute(context.Background(), Request{Tool: "segment", DocumentID: "d", RunID: "r", Text: "One. Two."})
	assert.Equal(t, run.ToolStatusSuccess, res.Status)
}
