package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/metrics"
	"github.com/inkwell-labs/corpusflow/internal/run"
)

// ArtifactStore persists a tool's output so it is discoverable outside
// orchestration, keyed by (document, artifact type, method). Implemented by
// the db package; nil disables artifact persistence.
type ArtifactStore interface {
	UpsertArtifact(ctx context.Context, a Artifact) error
}

// Artifact is one persisted artifact group entry.
type Artifact struct {
	DocumentID string
	Type       string
	Method     string
	RunID      string
	Data       map[string]interface{}
	Metadata   map[string]interface{}
}

// Request is one tool invocation.
type Request struct {
	Tool       string
	DocumentID string
	RunID      string
	Agent      string
	Text       string
	Params     map[string]interface{}
}

// Executor dispatches tool invocations by name, enforcing the per-tool
// timeout and recording a provenance entry on every call. Tool failures are
// captured into the result — they never propagate out of Execute.
type Executor struct {
	registry  *Registry
	funcs     map[string]Func
	artifacts ArtifactStore
	timeout   time.Duration
	logger    *zap.Logger
}

// NewExecutor builds an executor over the registry's catalog. timeout is the
// fixed per-invocation deadline (tool-call scale, well below the LLM
// timeout).
func NewExecutor(registry *Registry, funcs map[string]Func, artifacts ArtifactStore, timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		registry:  registry,
		funcs:     funcs,
		artifacts: artifacts,
		timeout:   timeout,
		logger:    logger,
	}
}

// Timeout returns the per-invocation deadline.
func (e *Executor) Timeout() time.Duration { return e.timeout }

type funcOutcome struct {
	data map[string]interface{}
	meta map[string]interface{}
	err  error
}

// Execute runs one tool against one document. The returned result always has
// a populated provenance entry; status is success, error, or timeout.
func (e *Executor) Execute(ctx context.Context, req Request) run.ToolResult {
	started := time.Now()
	prov := run.ProvenanceEntry{
		ActivityID: uuid.New().String(),
		Tool:       req.Tool,
		StartedAt:  started,
		Agent:      req.Agent,
		InputNote:  fmt.Sprintf("document %s (%d chars)", req.DocumentID, len(req.Text)),
	}
	if prov.Agent == "" {
		prov.Agent = "system"
	}

	result := e.invoke(ctx, req)
	result.Tool = req.Tool
	prov.EndedAt = time.Now()
	result.Provenance = prov

	metrics.ToolExecutions.WithLabelValues(req.Tool, result.Status).Inc()
	metrics.ToolExecutionDuration.WithLabelValues(req.Tool).Observe(prov.EndedAt.Sub(started).Seconds())

	if result.Status == run.ToolStatusSuccess && e.artifacts != nil {
		def, _ := e.registry.Lookup(req.Tool)
		artifact := Artifact{
			DocumentID: req.DocumentID,
			Type:       def.ArtifactType,
			Method:     req.Tool,
			RunID:      req.RunID,
			Data:       result.Data,
			Metadata:   result.Metadata,
		}
		if err := e.artifacts.UpsertArtifact(ctx, artifact); err != nil {
			// Artifact persistence is best-effort; the result still stands.
			e.logger.Warn("artifact upsert failed",
				zap.String("tool", req.Tool),
				zap.String("document_id", req.DocumentID),
				zap.Error(err),
			)
		}
	}
	return result
}

func (e *Executor) invoke(ctx context.Context, req Request) run.ToolResult {
	fn, ok := e.funcs[req.Tool]
	if !ok {
		status := "unknown tool"
		if def, inCatalog := e.registry.Lookup(req.Tool); inCatalog {
			status = def.Status + " tool"
		}
		return run.ToolResult{
			Status: run.ToolStatusError,
			Error:  fmt.Sprintf("no implementation for %s %q", status, req.Tool),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan funcOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- funcOutcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		data, meta, err := fn(callCtx, req.Text, req.Params)
		done <- funcOutcome{data: data, meta: meta, err: err}
	}()

	select {
	case <-callCtx.Done():
		e.logger.Warn("tool invocation timed out",
			zap.String("tool", req.Tool),
			zap.String("document_id", req.DocumentID),
			zap.Duration("timeout", e.timeout),
		)
		return run.ToolResult{
			Status: run.ToolStatusTimeout,
			Error:  fmt.Sprintf("tool %q exceeded %s timeout", req.Tool, e.timeout),
		}
	case out := <-done:
		if out.err != nil {
			return run.ToolResult{
				Status: run.ToolStatusError,
				Error:  out.err.Error(),
			}
		}
		meta := out.meta
		if meta == nil {
			meta = map[string]interface{}{}
		}
		meta["run_id"] = req.RunID
		meta["tool"] = req.Tool
		if len(req.Params) > 0 {
			meta["params"] = req.Params
		}
		return run.ToolResult{
			Status:   run.ToolStatusSuccess,
			Data:     out.data,
			Metadata: meta,
		}
	}
}
