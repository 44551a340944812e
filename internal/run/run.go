// Package run defines the domain model for one execution of the analysis
// workflow over a document collection: the run record threaded through all
// stages, the stage status machine, and the per-tool result types.
package run

import (
	"fmt"
	"time"
)

// Status is the run's position in the stage state machine.
type Status string

const (
	StatusAnalyzing        Status = "analyzing"
	StatusRecommending     Status = "recommending"
	StatusReviewing        Status = "reviewing"
	StatusWaitingForReview Status = "waiting_for_review"
	StatusExecuting        Status = "executing"
	StatusSynthesizing     Status = "synthesizing"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether no further stage may mutate the run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// transitions enumerates the forward edges of the state machine. failed is
// reachable from any non-terminal state and is handled separately.
var transitions = map[Status][]Status{
	StatusAnalyzing:        {StatusRecommending},
	StatusRecommending:     {StatusReviewing, StatusExecuting},
	StatusReviewing:        {StatusWaitingForReview, StatusExecuting, StatusCancelled},
	StatusWaitingForReview: {StatusExecuting, StatusCancelled},
	StatusExecuting:        {StatusSynthesizing},
	StatusSynthesizing:     {StatusCompleted},
}

// CanTransition reports whether moving from to next is a legal step. Any
// non-terminal status may move to failed.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Strategy maps a document id to the ordered list of tool names to run
// against it. A strategy is replaced wholesale, never merged field-by-field.
type Strategy map[string][]string

// Clone returns a deep copy.
func (s Strategy) Clone() Strategy {
	if s == nil {
		return nil
	}
	out := make(Strategy, len(s))
	for doc, tools := range s {
		cp := make([]string, len(tools))
		copy(cp, tools)
		out[doc] = cp
	}
	return out
}

// ToolCount returns the total number of (document, tool) pairs.
func (s Strategy) ToolCount() int {
	n := 0
	for _, tools := range s {
		n += len(tools)
	}
	return n
}

// ToolResult statuses.
const (
	ToolStatusSuccess = "success"
	ToolStatusError   = "error"
	ToolStatusTimeout = "timeout"
)

// ToolResult is the outcome of one (document, tool) invocation. Created once
// during the execute stage and immutable afterward.
type ToolResult struct {
	Tool       string                 `json:"tool"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Provenance ProvenanceEntry        `json:"provenance"`
}

// ProvenanceEntry records which tool produced a result, when, and under what
// run. Generated on every invocation, success or failure.
type ProvenanceEntry struct {
	ActivityID string    `json:"activity_id"`
	Tool       string    `json:"tool"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Agent      string    `json:"agent"`
	InputNote  string    `json:"input_note"`
}

// TraceEntry is one line of the append-only execution trail: one entry per
// attempted tool call.
type TraceEntry struct {
	DocumentID string    `json:"document_id"`
	Tool       string    `json:"tool"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Card is a structured synthesis output whose schema depends on the run
// subtype. Fields is left open; the subtype names the schema.
type Card struct {
	Type   string                 `json:"type"`
	Title  string                 `json:"title"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Review holds the stage-3 outputs recorded by an external approval.
type Review struct {
	Approved         bool      `json:"approved"`
	ModifiedStrategy Strategy  `json:"modified_strategy,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	ReviewerID       string    `json:"reviewer_id,omitempty"`
	ReviewedAt       time.Time `json:"reviewed_at"`
}

// Document is one member of the collection under analysis.
type Document struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

// Run is one execution of the workflow over a document collection. Stage N
// outputs are only written by stage N; a run that reaches a terminal status
// is immutable.
type Run struct {
	ID           string     `json:"id"`
	CollectionID string     `json:"collection_id"`
	SubjectID    string     `json:"subject_id,omitempty"`
	Subtype      string     `json:"subtype,omitempty"`
	Status       Status     `json:"status"`
	CurrentStage string     `json:"current_stage"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	// Stage 1: analyze
	Goal         string `json:"goal,omitempty"`
	FocusContext string `json:"focus_context,omitempty"`

	// Stage 2: recommend
	Strategy   Strategy `json:"strategy,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`

	// Stage 3: review
	StrategyApproved bool    `json:"strategy_approved"`
	Review           *Review `json:"review,omitempty"`

	// Stage 4: execute
	Results map[string]map[string]ToolResult `json:"results,omitempty"`
	Trace   []TraceEntry                     `json:"trace,omitempty"`

	// Stage 5: synthesize
	Narrative string `json:"narrative,omitempty"`
	Cards     []Card `json:"cards,omitempty"`
}

// EffectiveStrategy returns the strategy the execute stage should run: the
// reviewer's modified strategy when present, otherwise the recommendation.
func (r *Run) EffectiveStrategy() Strategy {
	if r.Review != nil && len(r.Review.ModifiedStrategy) > 0 {
		return r.Review.ModifiedStrategy
	}
	return r.Strategy
}

// Stage boundary validation errors.
type MissingFieldError struct {
	Stage string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("stage %s requires %s from a predecessor stage", e.Stage, e.Field)
}

// ValidateForStage checks that predecessor outputs a stage depends on are
// present before the stage runs.
func (r *Run) ValidateForStage(stage Status) error {
	switch stage {
	case StatusRecommending:
		if r.Goal == "" {
			return &MissingFieldError{Stage: string(stage), Field: "goal"}
		}
	case StatusReviewing, StatusExecuting:
		if len(r.Strategy) == 0 && (r.Review == nil || len(r.Review.ModifiedStrategy) == 0) {
			return &MissingFieldError{Stage: string(stage), Field: "strategy"}
		}
	case StatusSynthesizing:
		if r.Results == nil {
			return &MissingFieldError{Stage: string(stage), Field: "results"}
		}
		if r.Goal == "" {
			return &MissingFieldError{Stage: string(stage), Field: "goal"}
		}
	}
	return nil
}
