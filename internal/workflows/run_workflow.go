package workflows

import (
	"sort"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/inkwell-labs/corpusflow/internal/activities"
	"github.com/inkwell-labs/corpusflow/internal/constants"
	"github.com/inkwell-labs/corpusflow/internal/run"
)

// AnalysisRun is the five-stage run workflow. The recommendation phase runs
// on start; when review is requested the workflow suspends on the approval
// signal before the processing phase. Stage failures mark the run failed and
// complete the workflow normally — the run record is the failure surface.
func (d *Definition) AnalysisRun(ctx workflow.Context, in RunInput) (RunOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Analysis run started", "run_id", in.RunID, "review_requested", in.ReviewRequested)

	persistCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    5,
		},
	})
	// The in-activity retry executor owns LLM retry policy; Temporal must
	// not add a second layer.
	llmCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: d.llmBudget,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var rc activities.RunContext
	if err := workflow.ExecuteActivity(persistCtx, constants.LoadRunContextActivity,
		activities.LoadRunContextInput{RunID: in.RunID}).Get(ctx, &rc); err != nil {
		return d.failRun(ctx, persistCtx, in.RunID, "", "load", err)
	}
	subtype := rc.Run.Subtype
	state := rc.Run

	d.emit(persistCtx, in.RunID, string(run.StatusAnalyzing), 5, "")

	// Stage 1: analyze.
	var analysis activities.AnalyzeResult
	if err := workflow.ExecuteActivity(llmCtx, constants.AnalyzeActivity, activities.AnalyzeInput{
		RunID:      in.RunID,
		Subtype:    subtype,
		SubjectID:  rc.Run.SubjectID,
		FocusTerms: in.FocusTerms,
		Documents:  rc.Documents,
	}).Get(ctx, &analysis); err != nil {
		return d.failRun(ctx, persistCtx, in.RunID, subtype, "analyze", err)
	}
	if err := workflow.ExecuteActivity(persistCtx, constants.CommitAnalysisActivity, activities.CommitAnalysisInput{
		RunID: in.RunID, Goal: analysis.Goal, FocusContext: analysis.FocusContext,
	}).Get(ctx, nil); err != nil {
		return d.failRun(ctx, persistCtx, in.RunID, subtype, "analyze", err)
	}
	state.Goal = analysis.Goal
	state.FocusContext = analysis.FocusContext
	if err := state.ValidateForStage(run.StatusRecommending); err != nil {
		return d.failRun(ctx, persistCtx, in.RunID, subtype, "recommend_strategy", err)
	}
	d.emit(persistCtx, in.RunID, string(run.StatusRecommending), 25, "")

	// Stage 2: recommend.
	var rec activities.RecommendResult
	if err := workflow.ExecuteActivity(llmCtx, constants.RecommendStrategyActivity, activities.RecommendInput{
		RunID:        in.RunID,
		Goal:         analysis.Goal,
		FocusContext: analysis.FocusContext,
		Documents:    rc.Documents,
	}).Get(ctx, &rec); err != nil {
		return d.failRun(ctx, persistCtx, in.RunID, subtype, "recommend_strategy", err)
	}

	next := run.StatusExecuting
	if in.ReviewRequested {
		next = run.StatusReviewing
	}
	if err := workflow.ExecuteActivity(persistCtx, constants.CommitStrategyActivity, activities.CommitStrategyInput{
		RunID:      in.RunID,
		Strategy:   rec.Strategy,
		Reasoning:  rec.Reasoning,
		Confidence: rec.Confidence,
		Next:       next,
	}).Get(ctx, nil); err != nil {
		return d.failRun(ctx, persistCtx, in.RunID, subtype, "recommend_strategy", err)
	}
	state.Strategy = rec.Strategy

	// Stage 3: human review gate.
	if in.ReviewRequested {
		decision, err := d.awaitApproval(ctx, persistCtx, in.RunID, rec)
		if err != nil {
			return d.failRun(ctx, persistCtx, in.RunID, subtype, "review", err)
		}
		review := run.Review{
			Approved:         decision.Approved,
			ModifiedStrategy: decision.ModifiedStrategy,
			Notes:            decision.Notes,
			ReviewerID:       decision.ReviewerID,
			ReviewedAt:       decision.Timestamp,
		}
		if review.ReviewedAt.IsZero() {
			review.ReviewedAt = workflow.Now(ctx).UTC()
		}
		if err := workflow.ExecuteActivity(persistCtx, constants.CommitReviewActivity, activities.CommitReviewInput{
			RunID: in.RunID, Subtype: subtype, Review: review,
		}).Get(ctx, nil); err != nil {
			return d.failRun(ctx, persistCtx, in.RunID, subtype, "review", err)
		}
		if !decision.Approved {
			logger.Info("Strategy rejected, run cancelled", "run_id", in.RunID, "reviewer", decision.ReviewerID)
			d.emit(persistCtx, in.RunID, string(run.StatusCancelled), 100, string(run.StatusCancelled))
			return RunOutput{RunID: in.RunID, Status: run.StatusCancelled, Documents: len(rc.Documents)}, nil
		}
		state.Review = &review
	}

	// The reviewer's modified strategy takes precedence; strategies are
	// replaced wholesale, never merged.
	strategy := state.EffectiveStrategy().Clone()
	if err := state.ValidateForStage(run.StatusExecuting); err != nil {
		return d.failRun(ctx, persistCtx, in.RunID, subtype, "execute", err)
	}

	// The filtered strategy, never the raw recommendation, is what executes.
	filtered, report := d.registry.ValidateStrategy(strategy, d.includeStubs)
	if len(report.Warnings) > 0 {
		logger.Warn("Strategy validation dropped tools",
			"run_id", in.RunID, "unknown", report.Unknown, "warnings", report.Warnings)
	}

	d.emit(persistCtx, in.RunID, string(run.StatusExecuting), 50, "")

	// Stage 4: execute.
	results, trace := d.executeStrategy(ctx, persistCtx, in.RunID, rc.Run.SubjectID, filtered)
	if err := workflow.ExecuteActivity(persistCtx, constants.CommitExecutionActivity, activities.CommitExecutionInput{
		RunID: in.RunID, Results: results, Trace: trace,
	}).Get(ctx, nil); err != nil {
		return d.failRun(ctx, persistCtx, in.RunID, subtype, "execute", err)
	}
	state.Results = results
	if err := state.ValidateForStage(run.StatusSynthesizing); err != nil {
		return d.failRun(ctx, persistCtx, in.RunID, subtype, "synthesize", err)
	}
	d.emit(persistCtx, in.RunID, string(run.StatusSynthesizing), 80, "")

	// Stage 5: synthesize.
	var synth activities.SynthesizeResult
	if err := workflow.ExecuteActivity(llmCtx, constants.SynthesizeActivity, activities.SynthesizeInput{
		RunID:        in.RunID,
		Subtype:      subtype,
		Goal:         analysis.Goal,
		FocusContext: analysis.FocusContext,
		Results:      results,
	}).Get(ctx, &synth); err != nil {
		return d.failRun(ctx, persistCtx, in.RunID, subtype, "synthesize", err)
	}
	if err := workflow.ExecuteActivity(persistCtx, constants.CommitSynthesisActivity, activities.CommitSynthesisInput{
		RunID: in.RunID, Subtype: subtype, Narrative: synth.Narrative, Cards: synth.Cards,
	}).Get(ctx, nil); err != nil {
		return d.failRun(ctx, persistCtx, in.RunID, subtype, "synthesize", err)
	}
	d.emit(persistCtx, in.RunID, string(run.StatusCompleted), 100, string(run.StatusCompleted))

	logger.Info("Analysis run completed",
		"run_id", in.RunID, "documents", len(rc.Documents), "trace_entries", len(trace))
	return RunOutput{
		RunID:        in.RunID,
		Status:       run.StatusCompleted,
		Narrative:    synth.Narrative,
		Documents:    len(rc.Documents),
		TraceEntries: len(trace),
		Cards:        len(synth.Cards),
	}, nil
}

// awaitApproval marks the run waiting, then blocks until the approval signal
// or the review timeout. The first signal wins; later ones are drained and
// ignored. Timeout counts as rejection.
func (d *Definition) awaitApproval(ctx workflow.Context, persistCtx workflow.Context, runID string, rec activities.RecommendResult) (activities.ApprovalDecision, error) {
	logger := workflow.GetLogger(ctx)

	var ticket activities.ApprovalTicket
	if err := workflow.ExecuteActivity(persistCtx, constants.RequestApprovalActivity, activities.ApprovalRequest{
		RunID:      runID,
		WorkflowID: workflow.GetInfo(ctx).WorkflowExecution.ID,
		Strategy:   rec.Strategy,
		Reasoning:  rec.Reasoning,
		Confidence: rec.Confidence,
	}).Get(ctx, &ticket); err != nil {
		return activities.ApprovalDecision{}, err
	}
	if err := workflow.ExecuteActivity(persistCtx, constants.MarkWaitingActivity,
		activities.RunIDInput{RunID: runID}).Get(ctx, nil); err != nil {
		return activities.ApprovalDecision{}, err
	}
	d.emit(persistCtx, runID, string(run.StatusReviewing), 40, string(run.StatusWaitingForReview))

	logger.Info("Waiting for human approval", "run_id", runID, "approval_id", ticket.ApprovalID)

	ch := workflow.GetSignalChannel(ctx, SignalApproval)
	sel := workflow.NewSelector(ctx)
	timer := workflow.NewTimer(ctx, d.reviewTimeout)

	var decision activities.ApprovalDecision
	var timedOut bool
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, &decision)
	})
	sel.AddFuture(timer, func(workflow.Future) {
		timedOut = true
	})
	sel.Select(ctx)

	if timedOut {
		logger.Warn("Approval timed out, treating as rejection", "run_id", runID)
		return activities.ApprovalDecision{
			Approved:  false,
			Notes:     "approval timed out",
			Timestamp: workflow.Now(ctx).UTC(),
		}, nil
	}

	// Drain duplicates so a second Approve cannot act later.
	var extra activities.ApprovalDecision
	for ch.ReceiveAsync(&extra) {
		logger.Warn("Duplicate approval signal ignored", "run_id", runID, "reviewer", extra.ReviewerID)
	}
	return decision, nil
}

// executeStrategy fans documents out under the concurrency cap, running each
// document's tools in order. Per-pair failures become error results and trace
// entries; nothing here aborts the batch.
func (d *Definition) executeStrategy(ctx workflow.Context, persistCtx workflow.Context, runID, subjectID string, strategy run.Strategy) (map[string]map[string]run.ToolResult, []run.TraceEntry) {
	logger := workflow.GetLogger(ctx)

	toolCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: d.toolBudget,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	docIDs := make([]string, 0, len(strategy))
	for id := range strategy {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)

	agent := subjectID
	if agent == "" {
		agent = "system"
	}

	results := make(map[string]map[string]run.ToolResult, len(docIDs))
	perDocTrace := make(map[string][]run.TraceEntry, len(docIDs))

	sem := workflow.NewSemaphore(ctx, int64(d.maxConcurrency))
	wg := workflow.NewWaitGroup(ctx)
	completed := 0

	for _, docID := range docIDs {
		docID := docID
		toolNames := strategy[docID]
		wg.Add(1)
		workflow.Go(ctx, func(gctx workflow.Context) {
			defer wg.Done()
			if err := sem.Acquire(gctx, 1); err != nil {
				logger.Error("Semaphore acquire failed", "document_id", docID, "error", err)
				return
			}
			defer sem.Release(1)

			docResults := make(map[string]run.ToolResult, len(toolNames))
			for _, tool := range toolNames {
				res := d.runTool(toolCtx, runID, docID, tool, agent, docResults)
				docResults[tool] = res
				perDocTrace[docID] = append(perDocTrace[docID], traceEntry(docID, res))
			}
			results[docID] = docResults

			completed++
			pct := 50 + (30*completed)/len(docIDs)
			d.emit(persistCtx, runID, string(run.StatusExecuting), pct, "")
		})
	}
	wg.Wait(ctx)

	trace := make([]run.TraceEntry, 0)
	for _, docID := range docIDs {
		trace = append(trace, perDocTrace[docID]...)
	}
	return results, trace
}

// runTool executes one (document, tool) activity, feeding forward the data of
// satisfied catalog dependencies (segments into embeddings, etc.).
func (d *Definition) runTool(toolCtx workflow.Context, runID, docID, tool, agent string, prior map[string]run.ToolResult) run.ToolResult {
	params := make(map[string]interface{})
	if def, ok := d.registry.Lookup(tool); ok {
		for _, dep := range def.Dependencies {
			if depRes, done := prior[dep]; done && depRes.Status == run.ToolStatusSuccess {
				for k, v := range depRes.Data {
					params[k] = v
				}
			}
		}
	}

	var res run.ToolResult
	err := workflow.ExecuteActivity(toolCtx, constants.ExecuteToolActivity, activities.ExecuteToolInput{
		RunID:      runID,
		DocumentID: docID,
		Tool:       tool,
		Agent:      agent,
		Params:     params,
	}).Get(toolCtx, &res)
	if err != nil {
		now := workflow.Now(toolCtx).UTC()
		res = run.ToolResult{
			Tool:   tool,
			Status: run.ToolStatusError,
			Error:  err.Error(),
			Provenance: run.ProvenanceEntry{
				Tool:      tool,
				StartedAt: now,
				EndedAt:   now,
				Agent:     agent,
				InputNote: "activity failure",
			},
		}
	}
	return res
}

func traceEntry(docID string, res run.ToolResult) run.TraceEntry {
	return run.TraceEntry{
		DocumentID: docID,
		Tool:       res.Tool,
		Status:     res.Status,
		Timestamp:  res.Provenance.StartedAt,
		DurationMs: res.Provenance.EndedAt.Sub(res.Provenance.StartedAt).Milliseconds(),
		Error:      res.Error,
	}
}

// failRun marks the run failed with the captured message, emits the terminal
// progress event, and completes the workflow normally.
func (d *Definition) failRun(ctx workflow.Context, persistCtx workflow.Context, runID, subtype, stage string, cause error) (RunOutput, error) {
	workflow.GetLogger(ctx).Error("Stage failed", "run_id", runID, "stage", stage, "error", cause)
	if err := workflow.ExecuteActivity(persistCtx, constants.MarkRunFailedActivity, activities.MarkRunFailedInput{
		RunID:   runID,
		Subtype: subtype,
		Stage:   stage,
		Message: cause.Error(),
	}).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("Failed to record run failure", "run_id", runID, "error", err)
	}
	d.emit(persistCtx, runID, string(run.StatusFailed), 100, string(run.StatusFailed))
	return RunOutput{
		RunID:        runID,
		Status:       run.StatusFailed,
		ErrorMessage: stage + ": " + cause.Error(),
	}, nil
}

// emit publishes a progress event; best-effort.
func (d *Definition) emit(persistCtx workflow.Context, runID, stage string, pct int, status string) {
	_ = workflow.ExecuteActivity(persistCtx, constants.EmitRunUpdateActivity, activities.EmitRunUpdateInput{
		RunID:           runID,
		Stage:           stage,
		ProgressPercent: pct,
		Status:          status,
		Timestamp:       workflow.Now(persistCtx).UTC(),
	}).Get(persistCtx, nil)
}
