package activities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/run"
	"github.com/inkwell-labs/corpusflow/internal/tools"
)

// ExecuteTool runs one (document, tool) invocation through the tool executor.
// Failures are captured in the returned result, never in the error value, so
// one bad pair cannot abort the execute stage.
func (a *Activities) ExecuteTool(ctx context.Context, in ExecuteToolInput) (run.ToolResult, error) {
	doc, err := a.docs.LoadDocument(ctx, in.DocumentID)
	if err != nil {
		a.logger.Warn("Document load failed for tool execution",
			zap.String("run_id", in.RunID),
			zap.String("document_id", in.DocumentID),
			zap.String("tool", in.Tool),
			zap.Error(err),
		)
		now := time.Now().UTC()
		return run.ToolResult{
			Tool:   in.Tool,
			Status: run.ToolStatusError,
			Error:  err.Error(),
			Provenance: run.ProvenanceEntry{
				Tool:      in.Tool,
				StartedAt: now,
				EndedAt:   now,
				Agent:     in.Agent,
				InputNote: "document " + in.DocumentID + " unavailable",
			},
		}, nil
	}

	result := a.executor.Execute(ctx, tools.Request{
		Tool:       in.Tool,
		DocumentID: in.DocumentID,
		RunID:      in.RunID,
		Agent:      in.Agent,
		Text:       doc.Text,
		Params:     in.Params,
	})
	return result, nil
}
