package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/run"
	"github.com/inkwell-labs/corpusflow/internal/tools"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// RunStore is the load/commit boundary for run records. Every stage
// transition goes through one of its commit methods.
type RunStore struct {
	client *Client
	logger *zap.Logger
}

// NewRunStore creates a store over the client.
func NewRunStore(client *Client, logger *zap.Logger) *RunStore {
	return &RunStore{client: client, logger: logger}
}

// CreateRun inserts the initial record with status analyzing.
func (s *RunStore) CreateRun(ctx context.Context, r *run.Run) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.Status = run.StatusAnalyzing
	r.CurrentStage = string(run.StatusAnalyzing)

	var subject *string
	if r.SubjectID != "" {
		subject = &r.SubjectID
	}
	_, err := s.client.db.ExecContext(ctx, `
		INSERT INTO runs (id, collection_id, subject_id, subtype, status, current_stage, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.CollectionID, subject, r.Subtype, string(r.Status), r.CurrentStage, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// LoadRun reads a run record by id.
func (s *RunStore) LoadRun(ctx context.Context, id string) (*run.Run, error) {
	var rec RunRecord
	err := s.client.db.GetContext(ctx, &rec, `
		SELECT id, collection_id, subject_id, subtype, status, current_stage,
		       created_at, completed_at, error_message,
		       analysis_output, strategy_output, review_output,
		       execution_output, synthesis_output
		FROM runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return recordToRun(&rec)
}

// CommitAnalysis persists stage-1 outputs and the advance to recommending.
func (s *RunStore) CommitAnalysis(ctx context.Context, id, goal, focusContext string) error {
	out := JSONB{"goal": goal}
	if focusContext != "" {
		out["focus_context"] = focusContext
	}
	return s.advance(ctx, id, run.StatusRecommending, "analysis_output", out)
}

// CommitStrategy persists stage-2 outputs and the branch target: reviewing
// when a human gate was requested, executing otherwise (auto-approval).
func (s *RunStore) CommitStrategy(ctx context.Context, id string, strategy run.Strategy, reasoning string, confidence float64, next run.Status) error {
	if !run.CanTransition(run.StatusRecommending, next) || next == run.StatusFailed {
		return fmt.Errorf("strategy commit may only advance to reviewing or executing, got %s", next)
	}
	out := JSONB{
		"strategy":   strategyToJSON(strategy),
		"reasoning":  reasoning,
		"confidence": confidence,
	}
	if next == run.StatusExecuting {
		out["auto_approved"] = true
	}
	return s.advance(ctx, id, next, "strategy_output", out)
}

// CommitReview records the approval or rejection. Approval advances to
// executing; rejection advances to cancelled and is terminal.
func (s *RunStore) CommitReview(ctx context.Context, id string, review run.Review) error {
	out := JSONB{
		"approved":    review.Approved,
		"notes":       review.Notes,
		"reviewer_id": review.ReviewerID,
		"reviewed_at": review.ReviewedAt.Format(time.RFC3339Nano),
	}
	if len(review.ModifiedStrategy) > 0 {
		out["modified_strategy"] = strategyToJSON(review.ModifiedStrategy)
	}
	next := run.StatusExecuting
	if !review.Approved {
		next = run.StatusCancelled
	}
	return s.advance(ctx, id, next, "review_output", out)
}

// MarkWaitingForReview flags the paused sub-state of reviewing.
func (s *RunStore) MarkWaitingForReview(ctx context.Context, id string) error {
	res, err := s.client.db.ExecContext(ctx, `
		UPDATE runs SET status = $2, current_stage = $2
		WHERE id = $1 AND status = $3`,
		id, string(run.StatusWaitingForReview), string(run.StatusReviewing))
	if err != nil {
		return fmt.Errorf("mark waiting for review: %w", err)
	}
	return requireRow(res, id)
}

// CommitExecution persists stage-4 outputs and the advance to synthesizing.
func (s *RunStore) CommitExecution(ctx context.Context, id string, results map[string]map[string]run.ToolResult, trace []run.TraceEntry) error {
	out := JSONB{
		"results": toJSONValue(results),
		"trace":   toJSONValue(trace),
	}
	return s.advance(ctx, id, run.StatusSynthesizing, "execution_output", out)
}

// CommitSynthesis persists stage-5 outputs, the completion timestamp, and
// the terminal completed status.
func (s *RunStore) CommitSynthesis(ctx context.Context, id, narrative string, cards []run.Card) error {
	out := JSONB{"narrative": narrative}
	if len(cards) > 0 {
		out["cards"] = toJSONValue(cards)
	}
	res, err := s.client.db.ExecContext(ctx, `
		UPDATE runs SET status = $2, current_stage = $2, synthesis_output = $3, completed_at = $4
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		id, string(run.StatusCompleted), out, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("commit synthesis: %w", err)
	}
	return requireRow(res, id)
}

// MarkFailed records the terminal failed status with the captured message.
// A run must never sit in a non-terminal status without an error record, so
// this is the last write on every unhandled stage error.
func (s *RunStore) MarkFailed(ctx context.Context, id, stage, message string) error {
	res, err := s.client.db.ExecContext(ctx, `
		UPDATE runs SET status = $2, current_stage = $2, error_message = $3, completed_at = $4
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		id, string(run.StatusFailed), fmt.Sprintf("%s: %s", stage, message), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark run failed: %w", err)
	}
	return requireRow(res, id)
}

// LoadDocuments reads the document collection a run operates on.
func (s *RunStore) LoadDocuments(ctx context.Context, collectionID string) ([]run.Document, error) {
	var recs []DocumentRecord
	err := s.client.db.SelectContext(ctx, &recs, `
		SELECT id, collection_id, title, body
		FROM documents WHERE collection_id = $1 ORDER BY id`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("load documents for collection %s: %w", collectionID, err)
	}
	docs := make([]run.Document, len(recs))
	for i, rec := range recs {
		docs[i] = run.Document{ID: rec.ID, Title: rec.Title, Text: rec.Text}
	}
	return docs, nil
}

// LoadDocument reads one document by id.
func (s *RunStore) LoadDocument(ctx context.Context, id string) (*run.Document, error) {
	var rec DocumentRecord
	err := s.client.db.GetContext(ctx, &rec, `
		SELECT id, collection_id, title, body
		FROM documents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	return &run.Document{ID: rec.ID, Title: rec.Title, Text: rec.Text}, nil
}

// UpsertArtifact implements tools.ArtifactStore: the artifact group keyed by
// (document, artifact type, method) is replaced with the latest data.
func (s *RunStore) UpsertArtifact(ctx context.Context, a tools.Artifact) error {
	_, err := s.client.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, document_id, artifact_type, method, run_id, data, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (document_id, artifact_type, method) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			data = EXCLUDED.data,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`,
		uuid.New().String(), a.DocumentID, a.Type, a.Method, a.RunID,
		JSONB(a.Data), JSONB(a.Metadata), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert artifact %s/%s/%s: %w", a.DocumentID, a.Type, a.Method, err)
	}
	return nil
}

// advance is the shared load→mutate→commit step: set the stage output column
// and move status forward, refusing to touch terminal rows.
func (s *RunStore) advance(ctx context.Context, id string, next run.Status, column string, out JSONB) error {
	query := fmt.Sprintf(`
		UPDATE runs SET status = $2, current_stage = $2, %s = $3
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`, column)
	res, err := s.client.db.ExecContext(ctx, query, id, string(next), out)
	if err != nil {
		return fmt.Errorf("advance run to %s: %w", next, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w (or already terminal)", id, ErrRunNotFound)
	}
	return nil
}

func strategyToJSON(s run.Strategy) map[string]interface{} {
	out := make(map[string]interface{}, len(s))
	for doc, names := range s {
		vals := make([]interface{}, len(names))
		for i, n := range names {
			vals[i] = n
		}
		out[doc] = vals
	}
	return out
}

// toJSONValue round-trips typed values through encoding/json so jsonb columns
// hold the same shapes the API serves.
func toJSONValue(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

func recordToRun(rec *RunRecord) (*run.Run, error) {
	r := &run.Run{
		ID:           rec.ID,
		CollectionID: rec.CollectionID,
		Subtype:      rec.Subtype,
		Status:       run.Status(rec.Status),
		CurrentStage: rec.CurrentStage,
		CreatedAt:    rec.CreatedAt,
		CompletedAt:  rec.CompletedAt,
	}
	if rec.SubjectID != nil {
		r.SubjectID = *rec.SubjectID
	}
	if rec.ErrorMessage != nil {
		r.ErrorMessage = *rec.ErrorMessage
	}

	if rec.AnalysisOutput != nil {
		r.Goal, _ = rec.AnalysisOutput["goal"].(string)
		r.FocusContext, _ = rec.AnalysisOutput["focus_context"].(string)
	}
	if rec.StrategyOutput != nil {
		r.Strategy = jsonToStrategy(rec.StrategyOutput["strategy"])
		r.Reasoning, _ = rec.StrategyOutput["reasoning"].(string)
		if c, ok := rec.StrategyOutput["confidence"].(float64); ok {
			r.Confidence = c
		}
		if auto, ok := rec.StrategyOutput["auto_approved"].(bool); ok && auto {
			r.StrategyApproved = true
		}
	}
	if rec.ReviewOutput != nil {
		review := &run.Review{}
		review.Approved, _ = rec.ReviewOutput["approved"].(bool)
		review.Notes, _ = rec.ReviewOutput["notes"].(string)
		review.ReviewerID, _ = rec.ReviewOutput["reviewer_id"].(string)
		if ts, ok := rec.ReviewOutput["reviewed_at"].(string); ok {
			review.ReviewedAt, _ = time.Parse(time.RFC3339Nano, ts)
		}
		review.ModifiedStrategy = jsonToStrategy(rec.ReviewOutput["modified_strategy"])
		r.Review = review
		r.StrategyApproved = review.Approved
	}
	if rec.ExecutionOutput != nil {
		if err := remarshal(rec.ExecutionOutput["results"], &r.Results); err != nil {
			return nil, fmt.Errorf("decode execution results: %w", err)
		}
		if err := remarshal(rec.ExecutionOutput["trace"], &r.Trace); err != nil {
			return nil, fmt.Errorf("decode execution trace: %w", err)
		}
	}
	if rec.SynthesisOutput != nil {
		r.Narrative, _ = rec.SynthesisOutput["narrative"].(string)
		if err := remarshal(rec.SynthesisOutput["cards"], &r.Cards); err != nil {
			return nil, fmt.Errorf("decode synthesis cards: %w", err)
		}
	}
	return r, nil
}

func jsonToStrategy(v interface{}) run.Strategy {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	s := make(run.Strategy, len(m))
	for doc, raw := range m {
		list, ok := raw.([]interface{})
		if !ok {
			continue
		}
		names := make([]string, 0, len(list))
		for _, item := range list {
			if name, ok := item.(string); ok {
				names = append(names, name)
			}
		}
		s[doc] = names
	}
	return s
}

func remarshal(v, target interface{}) error {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, target)
}
