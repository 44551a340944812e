package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/llm"
	"github.com/inkwell-labs/corpusflow/internal/run"
)

const synthesizeSystem = `You synthesize cross-document analyses from tool output. Respond with strict JSON only:
{"narrative": "<coherent cross-document analysis serving the stated goal>", "cards": [{"type": "<card type>", "title": "<short title>", "fields": {...}}, ...]}
Omit "cards" unless a card schema was requested.`

// Synthesize runs the stage-5 LLM call over the aggregated tool results and
// produces the cross-document narrative, plus typed cards when the run
// subtype asks for them.
func (a *Activities) Synthesize(ctx context.Context, in SynthesizeInput) (SynthesizeResult, error) {
	prompt := buildSynthesizePrompt(in)

	var payload struct {
		Narrative string     `json:"narrative"`
		Cards     []run.Card `json:"cards"`
	}
	tokens, err := a.complete(ctx, "synthesize", llm.Request{
		System: synthesizeSystem,
		Prompt: prompt,
		Metadata: map[string]interface{}{
			"run_id": in.RunID,
			"stage":  "synthesize",
		},
	}, &payload)
	if err != nil {
		return SynthesizeResult{}, err
	}
	if strings.TrimSpace(payload.Narrative) == "" {
		return SynthesizeResult{}, fmt.Errorf("synthesize: model returned no narrative")
	}

	cards := payload.Cards
	if in.Subtype == "" {
		cards = nil
	}

	a.logger.Info("Synthesize stage complete",
		zap.String("run_id", in.RunID),
		zap.Int("cards", len(cards)),
		zap.Int("tokens_used", tokens),
	)
	return SynthesizeResult{
		Narrative:  strings.TrimSpace(payload.Narrative),
		Cards:      cards,
		TokensUsed: tokens,
	}, nil
}

// summaryBudget bounds how much of one tool's data payload goes into the
// synthesis prompt.
const summaryBudget = 800

func buildSynthesizePrompt(in SynthesizeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis goal: %s\n", in.Goal)
	if in.FocusContext != "" {
		fmt.Fprintf(&b, "Focus context: %s\n", in.FocusContext)
	}
	if in.Subtype != "" {
		fmt.Fprintf(&b, "Run subtype: %s. Produce matching cards alongside the narrative.\n", in.Subtype)
	}

	b.WriteString("\nPer-document tool results:\n")
	docIDs := make([]string, 0, len(in.Results))
	for id := range in.Results {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)
	for _, docID := range docIDs {
		fmt.Fprintf(&b, "\nDocument %s:\n", docID)
		toolNames := make([]string, 0, len(in.Results[docID]))
		for name := range in.Results[docID] {
			toolNames = append(toolNames, name)
		}
		sort.Strings(toolNames)
		for _, name := range toolNames {
			res := in.Results[docID][name]
			if res.Status != run.ToolStatusSuccess {
				fmt.Fprintf(&b, "- %s: %s (%s)\n", name, res.Status, res.Error)
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", name, summarizeData(res.Data))
		}
	}
	b.WriteString("\nWrite one coherent analysis across all documents.")
	return b.String()
}

func summarizeData(data map[string]interface{}) string {
	if len(data) == 0 {
		return "(no data)"
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return "(unserializable data)"
	}
	s := string(blob)
	if len(s) > summaryBudget {
		s = s[:summaryBudget] + "..."
	}
	return s
}
