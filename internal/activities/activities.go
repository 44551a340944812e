// Package activities implements the Temporal activities behind each workflow
// stage: the LLM-backed stages, per-tool execution, run persistence, approval
// bookkeeping, and progress emission.
package activities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/config"
	"github.com/inkwell-labs/corpusflow/internal/llm"
	"github.com/inkwell-labs/corpusflow/internal/metrics"
	"github.com/inkwell-labs/corpusflow/internal/retry"
	"github.com/inkwell-labs/corpusflow/internal/run"
	"github.com/inkwell-labs/corpusflow/internal/tools"
)

// DocumentSource loads document bodies for tool execution.
type DocumentSource interface {
	LoadDocument(ctx context.Context, id string) (*run.Document, error)
}

// ConfigProvider returns the current configuration; backed by the config
// watcher so retry/timeout tunables pick up reloads.
type ConfigProvider func() *config.Config

// Activities holds the dependencies of the LLM and tool stage activities.
type Activities struct {
	llm      llm.Completer
	registry *tools.Registry
	executor *tools.Executor
	docs     DocumentSource
	cfg      ConfigProvider
	logger   *zap.Logger
}

// NewActivities creates a stage activity set with explicit dependencies.
func NewActivities(completer llm.Completer, registry *tools.Registry, executor *tools.Executor, docs DocumentSource, cfg ConfigProvider, logger *zap.Logger) *Activities {
	return &Activities{
		llm:      completer,
		registry: registry,
		executor: executor,
		docs:     docs,
		cfg:      cfg,
		logger:   logger,
	}
}

// llmPolicy builds the retry policy for one LLM call from current config.
func (a *Activities) llmPolicy(op string) retry.Policy {
	c := a.cfg().LLM
	return retry.Policy{
		MaxRetries:   c.MaxRetries,
		Timeout:      c.Timeout,
		InitialDelay: c.InitialDelay,
		Base:         c.BackoffBase,
		MaxDelay:     c.MaxDelay,
		Op:           op,
	}
}

// complete runs one LLM request through the retry executor and decodes the
// structured reply into out.
func (a *Activities) complete(ctx context.Context, op string, req llm.Request, out interface{}) (int, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = a.cfg().LLM.MaxTokens
	}
	started := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	}()
	resp, err := retry.Do(ctx, a.llmPolicy(op), func() retry.Operation[*llm.Response] {
		return func(ctx context.Context) (*llm.Response, error) {
			return a.llm.Complete(ctx, req)
		}
	}, a.logger)
	if err != nil {
		return 0, err
	}
	if err := llm.DecodeStructured(resp.Content, out); err != nil {
		return resp.TokensUsed, err
	}
	return resp.TokensUsed, nil
}
