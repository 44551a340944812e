package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corpusflow_runs_started_total",
			Help: "Total number of analysis runs started",
		},
		[]string{"subtype"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corpusflow_runs_completed_total",
			Help: "Total number of analysis runs reaching a terminal status",
		},
		[]string{"subtype", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corpusflow_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Tool metrics
	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corpusflow_tool_executions_total",
			Help: "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)

	ToolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corpusflow_tool_execution_duration_seconds",
			Help:    "Tool invocation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
		[]string{"tool"},
	)

	// LLM metrics
	LLMCallAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corpusflow_llm_call_attempts_total",
			Help: "Total LLM call attempts including retries",
		},
		[]string{"op"},
	)

	LLMCallFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corpusflow_llm_call_failures_total",
			Help: "Total LLM calls that failed terminally",
		},
		[]string{"op", "reason"},
	)

	// Approval metrics
	ApprovalsRequested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "corpusflow_approvals_requested_total",
			Help: "Total human approval requests",
		},
	)

	ApprovalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corpusflow_approval_decisions_total",
			Help: "Total human approval decisions",
		},
		[]string{"decision"},
	)

	// Streaming metrics
	ProgressEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "corpusflow_progress_events_published_total",
			Help: "Total progress events published to subscribers",
		},
	)

	ProgressSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "corpusflow_progress_subscribers",
			Help: "Currently connected progress subscribers",
		},
	)
)
