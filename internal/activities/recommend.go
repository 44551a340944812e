package activities

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/llm"
	"github.com/inkwell-labs/corpusflow/internal/run"
)

const recommendSystem = `You plan deterministic analysis tooling for document collections. Respond with strict JSON only:
{"strategy": {"<document_id>": ["<tool_name>", ...], ...}, "reasoning": "<why>", "confidence": <0.0-1.0>}
Only use tool names from the provided catalog. Order tools so dependencies come first (e.g. segment before generate_embeddings).`

// RecommendStrategy runs the stage-2 LLM call: given the goal and the
// available-tool catalog, produce a per-document tool strategy with reasoning
// and a confidence score. The raw strategy is returned unfiltered; catalog
// validation happens in the workflow before execution.
func (a *Activities) RecommendStrategy(ctx context.Context, in RecommendInput) (RecommendResult, error) {
	prompt := a.buildRecommendPrompt(in)

	var payload struct {
		Strategy   map[string][]string `json:"strategy"`
		Reasoning  string              `json:"reasoning"`
		Confidence float64             `json:"confidence"`
	}
	tokens, err := a.complete(ctx, "recommend_strategy", llm.Request{
		System: recommendSystem,
		Prompt: prompt,
		Metadata: map[string]interface{}{
			"run_id": in.RunID,
			"stage":  "recommend_strategy",
		},
	}, &payload)
	if err != nil {
		return RecommendResult{}, err
	}
	if len(payload.Strategy) == 0 {
		return RecommendResult{}, fmt.Errorf("recommend_strategy: model returned an empty strategy")
	}

	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	a.logger.Info("RecommendStrategy stage complete",
		zap.String("run_id", in.RunID),
		zap.Int("documents", len(payload.Strategy)),
		zap.Float64("confidence", confidence),
		zap.Int("tokens_used", tokens),
	)
	return RecommendResult{
		Strategy:   run.Strategy(payload.Strategy),
		Reasoning:  strings.TrimSpace(payload.Reasoning),
		Confidence: confidence,
		TokensUsed: tokens,
	}, nil
}

func (a *Activities) buildRecommendPrompt(in RecommendInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis goal: %s\n", in.Goal)
	if in.FocusContext != "" {
		fmt.Fprintf(&b, "Focus context: %s\n", in.FocusContext)
	}

	b.WriteString("\nAvailable tools:\n")
	for _, def := range a.registry.Available(a.cfg().Tools.IncludeStubs) {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}

	b.WriteString("\nDocuments:\n")
	for _, d := range in.Documents {
		fmt.Fprintf(&b, "- %s", d.ID)
		if d.Title != "" {
			fmt.Fprintf(&b, " (%q)", d.Title)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nAssign each document an ordered tool list that serves the goal.")
	return b.String()
}
