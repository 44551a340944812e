// Package workflows wires the five analysis stages into the run workflow:
// analyze, recommend, the human review gate, parallel tool execution, and
// synthesis, with every stage transition committed through persistence
// activities.
package workflows

import (
	"github.com/inkwell-labs/corpusflow/internal/run"
)

// WorkflowName is the registered name of the analysis run workflow.
const WorkflowName = "AnalysisRun"

// SignalApproval is the signal channel carrying the reviewer's decision.
// One workflow instance serves one run, so the name is fixed.
const SignalApproval = "human-approval"

// RunInput starts one analysis run. The run record must already exist.
type RunInput struct {
	RunID           string   `json:"run_id"`
	ReviewRequested bool     `json:"review_requested"`
	FocusTerms      []string `json:"focus_terms,omitempty"`
}

// RunOutput is the workflow's terminal summary. Status is always a terminal
// run status; stage failures surface here, not as workflow errors.
type RunOutput struct {
	RunID        string     `json:"run_id"`
	Status       run.Status `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Narrative    string     `json:"narrative,omitempty"`
	Documents    int        `json:"documents"`
	TraceEntries int        `json:"trace_entries"`
	Cards        int        `json:"cards"`
}
