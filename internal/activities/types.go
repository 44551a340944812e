package activities

import (
	"time"

	"github.com/inkwell-labs/corpusflow/internal/run"
)

// DocumentSummary is the slice of a document that travels through workflow
// history: enough for prompts, never the full body.
type DocumentSummary struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
}

// AnalyzeInput carries the collection context into the analyze stage.
type AnalyzeInput struct {
	RunID      string            `json:"run_id"`
	Subtype    string            `json:"subtype,omitempty"`
	SubjectID  string            `json:"subject_id,omitempty"`
	FocusTerms []string          `json:"focus_terms,omitempty"`
	Documents  []DocumentSummary `json:"documents"`
}

// AnalyzeResult is the stage-1 output.
type AnalyzeResult struct {
	Goal         string `json:"goal"`
	FocusContext string `json:"focus_context,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
}

// RecommendInput carries the goal and collection into the recommend stage.
type RecommendInput struct {
	RunID        string            `json:"run_id"`
	Goal         string            `json:"goal"`
	FocusContext string            `json:"focus_context,omitempty"`
	Documents    []DocumentSummary `json:"documents"`
}

// RecommendResult is the stage-2 output. Strategy is the raw recommendation;
// the workflow validates it against the catalog before execution.
type RecommendResult struct {
	Strategy   run.Strategy `json:"strategy"`
	Reasoning  string       `json:"reasoning,omitempty"`
	Confidence float64      `json:"confidence"`
	TokensUsed int          `json:"tokens_used,omitempty"`
}

// ExecuteToolInput is one (document, tool) invocation. The activity loads the
// document body itself so workflow history stays small.
type ExecuteToolInput struct {
	RunID      string                 `json:"run_id"`
	DocumentID string                 `json:"document_id"`
	Tool       string                 `json:"tool"`
	Agent      string                 `json:"agent,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

// SynthesizeInput aggregates the execute stage's results for the final call.
type SynthesizeInput struct {
	RunID        string                               `json:"run_id"`
	Subtype      string                               `json:"subtype,omitempty"`
	Goal         string                               `json:"goal"`
	FocusContext string                               `json:"focus_context,omitempty"`
	Results      map[string]map[string]run.ToolResult `json:"results"`
}

// SynthesizeResult is the stage-5 output.
type SynthesizeResult struct {
	Narrative  string     `json:"narrative"`
	Cards      []run.Card `json:"cards,omitempty"`
	TokensUsed int        `json:"tokens_used,omitempty"`
}

// ApprovalRequest asks for a human decision on a recommended strategy.
type ApprovalRequest struct {
	RunID      string       `json:"run_id"`
	WorkflowID string       `json:"workflow_id"`
	Strategy   run.Strategy `json:"strategy"`
	Reasoning  string       `json:"reasoning,omitempty"`
	Confidence float64      `json:"confidence"`
}

// ApprovalTicket identifies an outstanding approval request.
type ApprovalTicket struct {
	ApprovalID  string    `json:"approval_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// ApprovalDecision is the signal payload delivered when a reviewer decides.
type ApprovalDecision struct {
	ApprovalID       string       `json:"approval_id,omitempty"`
	Approved         bool         `json:"approved"`
	ModifiedStrategy run.Strategy `json:"modified_strategy,omitempty"`
	Notes            string       `json:"notes,omitempty"`
	ReviewerID       string       `json:"reviewer_id,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
}
