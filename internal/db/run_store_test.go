package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/inkwell-labs/corpusflow/internal/run"
	"github.com/inkwell-labs/corpusflow/internal/tools"
)

func newMockStore(t *testing.T) (*RunStore, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	client := NewClientFromDB(sqlx.NewDb(raw, "postgres"), zaptest.NewLogger(t))
	return NewRunStore(client, zaptest.NewLogger(t)), mock
}

func TestCreateRunInsertsAnalyzing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(sqlmock.AnyArg(), "coll-1", nil, "literature", "analyzing", "analyzing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := &run.Run{CollectionID: "coll-1", Subtype: "literature"}
	require.NoError(t, store.CreateRun(context.Background(), r))
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, run.StatusAnalyzing, r.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRunRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)

	created := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows([]string{
		"id", "collection_id", "subject_id", "subtype", "status", "current_stage",
		"created_at", "completed_at", "error_message",
		"analysis_output", "strategy_output", "review_output",
		"execution_output", "synthesis_output",
	}).AddRow(
		"run-1", "coll-1", nil, "literature", "reviewing", "reviewing",
		created, nil, nil,
		[]byte(`{"goal":"compare causal claims","focus_context":"postwar economics"}`),
		[]byte(`{"strategy":{"doc1":["segment","extract_causal"]},"reasoning":"causal focus","confidence":0.85}`),
		nil, nil, nil,
	)
	mock.ExpectQuery(`FROM runs WHERE id =`).WithArgs("run-1").WillReturnRows(rows)

	r, err := store.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusReviewing, r.Status)
	assert.Equal(t, "compare causal claims", r.Goal)
	assert.Equal(t, "postwar economics", r.FocusContext)
	assert.Equal(t, run.Strategy{"doc1": {"segment", "extract_causal"}}, r.Strategy)
	assert.InDelta(t, 0.85, r.Confidence, 1e-9)
	assert.False(t, r.StrategyApproved)
}

func TestLoadRunNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM runs WHERE id =`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.LoadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestCommitAnalysisAdvances(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE runs SET status = .+ analysis_output`).
		WithArgs("run-1", "recommending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CommitAnalysis(context.Background(), "run-1", "goal text", "focus"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitsRefuseTerminalRuns(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE runs SET status = .+ analysis_output`).
		WithArgs("run-1", "recommending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.CommitAnalysis(context.Background(), "run-1", "goal", "")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestCommitStrategyValidatesBranch(t *testing.T) {
	store, _ := newMockStore(t)
	err := store.CommitStrategy(context.Background(), "run-1", run.Strategy{}, "r", 0.5, run.StatusCompleted)
	assert.Error(t, err)
}

func TestCommitReviewRejectionCancels(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE runs SET status = .+ review_output`).
		WithArgs("run-1", "cancelled", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	review := run.Review{Approved: false, Notes: "wrong tools", ReviewerID: "rev-7", ReviewedAt: time.Now()}
	require.NoError(t, store.CommitReview(context.Background(), "run-1", review))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedSetsMessage(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE runs SET status = .+ error_message`).
		WithArgs("run-1", "failed", "analyzing: llm call timed out after 2m0s", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkFailed(context.Background(), "run-1", "analyzing", "llm call timed out after 2m0s"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertArtifact(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO artifacts`).
		WithArgs(sqlmock.AnyArg(), "doc1", "segments", "segment", "run-1",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertArtifact(context.Background(), tools.Artifact{
		DocumentID: "doc1",
		Type:       "segments",
		Method:     "segment",
		RunID:      "run-1",
		Data:       map[string]interface{}{"segments": []interface{}{}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadDocuments(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "collection_id", "title", "body"}).
		AddRow("doc1", "coll-1", "First", "text one").
		AddRow("doc2", "coll-1", "Second", "text two")
	mock.ExpectQuery(`FROM documents WHERE collection_id =`).
		WithArgs("coll-1").
		WillReturnRows(rows)

	docs, err := store.LoadDocuments(context.Background(), "coll-1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc1", docs[0].ID)
	assert.Equal(t, "text two", docs[1].Text)
}

func TestLoadDocument(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "collection_id", "title", "body"}).
		AddRow("doc1", "coll-1", "First", "text one")
	mock.ExpectQuery(`FROM documents WHERE id =`).
		WithArgs("doc1").
		WillReturnRows(rows)

	doc, err := store.LoadDocument(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Equal(t, "First", doc.Title)
	assert.Equal(t, "text one", doc.Text)
}

func TestLoadDocumentNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM documents WHERE id =`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.LoadDocument(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
