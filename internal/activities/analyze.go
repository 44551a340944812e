package activities

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/llm"
)

const analyzeSystem = `You analyze document collections. Respond with strict JSON only:
{"goal": "<one-paragraph analysis goal for this collection>", "focus_context": "<how the focus subject relates to the collection, or empty>"}`

// Analyze runs the stage-1 LLM call: read the collection, produce a goal
// statement and optional focus context. Retry and timeout policy live in the
// retry executor; Temporal-level retries are disabled for this activity.
func (a *Activities) Analyze(ctx context.Context, in AnalyzeInput) (AnalyzeResult, error) {
	prompt := buildAnalyzePrompt(in)

	var payload struct {
		Goal         string `json:"goal"`
		FocusContext string `json:"focus_context"`
	}
	tokens, err := a.complete(ctx, "analyze", llm.Request{
		System: analyzeSystem,
		Prompt: prompt,
		Metadata: map[string]interface{}{
			"run_id": in.RunID,
			"stage":  "analyze",
		},
	}, &payload)
	if err != nil {
		return AnalyzeResult{}, err
	}
	if strings.TrimSpace(payload.Goal) == "" {
		return AnalyzeResult{}, fmt.Errorf("analyze: model returned no goal statement")
	}

	a.logger.Info("Analyze stage complete",
		zap.String("run_id", in.RunID),
		zap.Int("documents", len(in.Documents)),
		zap.Int("tokens_used", tokens),
	)
	return AnalyzeResult{
		Goal:         strings.TrimSpace(payload.Goal),
		FocusContext: strings.TrimSpace(payload.FocusContext),
		TokensUsed:   tokens,
	}, nil
}

func buildAnalyzePrompt(in AnalyzeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Collection of %d documents", len(in.Documents))
	if in.Subtype != "" {
		fmt.Fprintf(&b, " (run subtype: %s)", in.Subtype)
	}
	b.WriteString(".\n\n")
	for _, d := range in.Documents {
		fmt.Fprintf(&b, "Document %s", d.ID)
		if d.Title != "" {
			fmt.Fprintf(&b, " (%q)", d.Title)
		}
		b.WriteString(":\n")
		b.WriteString(d.Excerpt)
		b.WriteString("\n\n")
	}
	if len(in.FocusTerms) > 0 {
		fmt.Fprintf(&b, "Focus subject terms: %s.\n", strings.Join(in.FocusTerms, ", "))
	}
	b.WriteString("State the single most useful cross-document analysis goal for this collection.")
	return b.String()
}
