package workflows

import (
	"time"

	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/inkwell-labs/corpusflow/internal/config"
	"github.com/inkwell-labs/corpusflow/internal/tools"
)

// Definition is the explicitly constructed workflow definition: stage order,
// the review branch, and the execution tunables captured at worker start.
// Strategy validation runs against the embedded catalog, which is static, so
// calling it from workflow code is replay-safe.
type Definition struct {
	registry       *tools.Registry
	includeStubs   bool
	maxConcurrency int
	reviewTimeout  time.Duration
	llmBudget      time.Duration
	toolBudget     time.Duration
}

// NewDefinition builds the workflow definition from the tool catalog and the
// configuration captured at worker start.
func NewDefinition(registry *tools.Registry, cfg *config.Config) *Definition {
	// The activity-level deadline must cover the in-activity retry budget:
	// maxRetries+1 attempts plus backoff.
	attempts := time.Duration(cfg.LLM.MaxRetries + 1)
	llmBudget := attempts*cfg.LLM.Timeout + time.Duration(cfg.LLM.MaxRetries)*cfg.LLM.MaxDelay + time.Minute

	return &Definition{
		registry:       registry,
		includeStubs:   cfg.Tools.IncludeStubs,
		maxConcurrency: cfg.Tools.MaxConcurrency,
		reviewTimeout:  cfg.Review.Timeout,
		llmBudget:      llmBudget,
		toolBudget:     cfg.Tools.Timeout + 15*time.Second,
	}
}

// Register registers the workflow under its public name.
func (d *Definition) Register(w worker.Worker) {
	w.RegisterWorkflowWithOptions(d.AnalysisRun, workflow.RegisterOptions{Name: WorkflowName})
}
