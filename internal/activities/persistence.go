package activities

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/db"
	"github.com/inkwell-labs/corpusflow/internal/metrics"
	"github.com/inkwell-labs/corpusflow/internal/run"
)

// PersistenceActivities commits stage transitions to the run store. Every
// stage boundary in the workflow goes through one of these, synchronously,
// so a crash never loses a committed transition.
type PersistenceActivities struct {
	store  *db.RunStore
	logger *zap.Logger
}

// NewPersistenceActivities creates the persistence activity set.
func NewPersistenceActivities(store *db.RunStore, logger *zap.Logger) *PersistenceActivities {
	return &PersistenceActivities{store: store, logger: logger}
}

// LoadRunContextInput identifies the run to load.
type LoadRunContextInput struct {
	RunID string `json:"run_id"`
}

// RunContext is the persisted run plus document summaries for prompts.
type RunContext struct {
	Run       run.Run           `json:"run"`
	Documents []DocumentSummary `json:"documents"`
}

// excerptLen bounds how much of a document body enters workflow history.
const excerptLen = 600

// LoadRunContext loads the run record and summarizes its document
// collection. Used at workflow start and again when the processing phase
// reconstructs state after an approval.
func (p *PersistenceActivities) LoadRunContext(ctx context.Context, in LoadRunContextInput) (RunContext, error) {
	r, err := p.store.LoadRun(ctx, in.RunID)
	if err != nil {
		return RunContext{}, err
	}
	docs, err := p.store.LoadDocuments(ctx, r.CollectionID)
	if err != nil {
		return RunContext{}, err
	}
	summaries := make([]DocumentSummary, len(docs))
	for i, d := range docs {
		summaries[i] = DocumentSummary{ID: d.ID, Title: d.Title, Excerpt: excerpt(d.Text)}
	}
	return RunContext{Run: *r, Documents: summaries}, nil
}

func excerpt(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= excerptLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:excerptLen]) + "..."
}

// CommitAnalysisInput carries stage-1 outputs to the store.
type CommitAnalysisInput struct {
	RunID        string `json:"run_id"`
	Goal         string `json:"goal"`
	FocusContext string `json:"focus_context,omitempty"`
}

// CommitAnalysis persists stage-1 outputs and advances to recommending.
func (p *PersistenceActivities) CommitAnalysis(ctx context.Context, in CommitAnalysisInput) error {
	return p.store.CommitAnalysis(ctx, in.RunID, in.Goal, in.FocusContext)
}

// CommitStrategyInput carries stage-2 outputs plus the branch target.
type CommitStrategyInput struct {
	RunID      string       `json:"run_id"`
	Strategy   run.Strategy `json:"strategy"`
	Reasoning  string       `json:"reasoning,omitempty"`
	Confidence float64      `json:"confidence"`
	Next       run.Status   `json:"next"`
}

// CommitStrategy persists stage-2 outputs and the reviewing/executing branch.
func (p *PersistenceActivities) CommitStrategy(ctx context.Context, in CommitStrategyInput) error {
	return p.store.CommitStrategy(ctx, in.RunID, in.Strategy, in.Reasoning, in.Confidence, in.Next)
}

// RunIDInput names a run with no other payload.
type RunIDInput struct {
	RunID string `json:"run_id"`
}

// MarkWaitingForReview flags the paused sub-state while the workflow blocks
// on the approval signal.
func (p *PersistenceActivities) MarkWaitingForReview(ctx context.Context, in RunIDInput) error {
	return p.store.MarkWaitingForReview(ctx, in.RunID)
}

// CommitReviewInput carries the reviewer's decision.
type CommitReviewInput struct {
	RunID   string     `json:"run_id"`
	Subtype string     `json:"subtype,omitempty"`
	Review  run.Review `json:"review"`
}

// CommitReview records the approval or rejection; rejection is terminal.
func (p *PersistenceActivities) CommitReview(ctx context.Context, in CommitReviewInput) error {
	if err := p.store.CommitReview(ctx, in.RunID, in.Review); err != nil {
		return err
	}
	if !in.Review.Approved {
		metrics.RunsCompleted.WithLabelValues(in.Subtype, string(run.StatusCancelled)).Inc()
	}
	return nil
}

// CommitExecutionInput carries stage-4 outputs.
type CommitExecutionInput struct {
	RunID   string                               `json:"run_id"`
	Results map[string]map[string]run.ToolResult `json:"results"`
	Trace   []run.TraceEntry                     `json:"trace"`
}

// CommitExecution persists stage-4 outputs and advances to synthesizing.
func (p *PersistenceActivities) CommitExecution(ctx context.Context, in CommitExecutionInput) error {
	return p.store.CommitExecution(ctx, in.RunID, in.Results, in.Trace)
}

// CommitSynthesisInput carries stage-5 outputs.
type CommitSynthesisInput struct {
	RunID     string     `json:"run_id"`
	Subtype   string     `json:"subtype,omitempty"`
	Narrative string     `json:"narrative"`
	Cards     []run.Card `json:"cards,omitempty"`
}

// CommitSynthesis persists stage-5 outputs and the terminal completed status.
func (p *PersistenceActivities) CommitSynthesis(ctx context.Context, in CommitSynthesisInput) error {
	if err := p.store.CommitSynthesis(ctx, in.RunID, in.Narrative, in.Cards); err != nil {
		return err
	}
	metrics.RunsCompleted.WithLabelValues(in.Subtype, string(run.StatusCompleted)).Inc()
	return nil
}

// MarkRunFailedInput carries the captured stage error.
type MarkRunFailedInput struct {
	RunID   string `json:"run_id"`
	Subtype string `json:"subtype,omitempty"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// MarkRunFailed records the terminal failed status. The workflow calls this
// before returning on any unhandled stage error so a run is never left
// non-terminal without an error record.
func (p *PersistenceActivities) MarkRunFailed(ctx context.Context, in MarkRunFailedInput) error {
	p.logger.Error("Run failed",
		zap.String("run_id", in.RunID),
		zap.String("stage", in.Stage),
		zap.String("message", in.Message),
	)
	if err := p.store.MarkFailed(ctx, in.RunID, in.Stage, in.Message); err != nil {
		return err
	}
	metrics.RunsCompleted.WithLabelValues(in.Subtype, string(run.StatusFailed)).Inc()
	return nil
}
