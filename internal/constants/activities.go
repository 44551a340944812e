package constants

// Activity names used for workflow registration and execution.
// Using constants eliminates magic strings and ensures consistency.
const (
	// Stage activities
	AnalyzeActivity           = "Analyze"
	RecommendStrategyActivity = "RecommendStrategy"
	ExecuteToolActivity       = "ExecuteTool"
	SynthesizeActivity        = "Synthesize"

	// Persistence activities
	LoadRunContextActivity  = "LoadRunContext"
	CommitAnalysisActivity  = "CommitAnalysis"
	CommitStrategyActivity  = "CommitStrategy"
	CommitReviewActivity    = "CommitReview"
	MarkWaitingActivity     = "MarkWaitingForReview"
	CommitExecutionActivity = "CommitExecution"
	CommitSynthesisActivity = "CommitSynthesis"
	MarkRunFailedActivity   = "MarkRunFailed"

	// Human review activities
	RequestApprovalActivity = "RequestApproval"

	// Streaming activities
	EmitRunUpdateActivity = "EmitRunUpdate"
)

// TaskQueue is the default Temporal task queue for analysis runs.
const TaskQueue = "corpusflow-runs"
