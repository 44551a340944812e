// Package registry wires workflows and activities onto a Temporal worker.
package registry

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/activities"
	"github.com/inkwell-labs/corpusflow/internal/constants"
	"github.com/inkwell-labs/corpusflow/internal/workflows"
)

// Registrar registers the analysis run workflow and every activity it calls.
type Registrar struct {
	definition  *workflows.Definition
	stages      *activities.Activities
	persistence *activities.PersistenceActivities
	review      *activities.ReviewActivities
	streaming   *activities.StreamingActivities
	logger      *zap.Logger
}

// NewRegistrar creates a registrar over the fully constructed activity sets.
func NewRegistrar(
	definition *workflows.Definition,
	stages *activities.Activities,
	persistence *activities.PersistenceActivities,
	review *activities.ReviewActivities,
	streaming *activities.StreamingActivities,
	logger *zap.Logger,
) *Registrar {
	return &Registrar{
		definition:  definition,
		stages:      stages,
		persistence: persistence,
		review:      review,
		streaming:   streaming,
		logger:      logger,
	}
}

// Register attaches everything to the worker under the names the workflow
// executes them by.
func (r *Registrar) Register(w worker.Worker) {
	r.definition.Register(w)

	reg := func(name string, fn interface{}) {
		w.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
	}

	reg(constants.AnalyzeActivity, r.stages.Analyze)
	reg(constants.RecommendStrategyActivity, r.stages.RecommendStrategy)
	reg(constants.ExecuteToolActivity, r.stages.ExecuteTool)
	reg(constants.SynthesizeActivity, r.stages.Synthesize)

	reg(constants.LoadRunContextActivity, r.persistence.LoadRunContext)
	reg(constants.CommitAnalysisActivity, r.persistence.CommitAnalysis)
	reg(constants.CommitStrategyActivity, r.persistence.CommitStrategy)
	reg(constants.MarkWaitingActivity, r.persistence.MarkWaitingForReview)
	reg(constants.CommitReviewActivity, r.persistence.CommitReview)
	reg(constants.CommitExecutionActivity, r.persistence.CommitExecution)
	reg(constants.CommitSynthesisActivity, r.persistence.CommitSynthesis)
	reg(constants.MarkRunFailedActivity, r.persistence.MarkRunFailed)

	reg(constants.RequestApprovalActivity, r.review.RequestApproval)
	reg(constants.EmitRunUpdateActivity, r.streaming.EmitRunUpdate)

	r.logger.Info("Workflow and activities registered", zap.String("workflow", workflows.WorkflowName))
}
