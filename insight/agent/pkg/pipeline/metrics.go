package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricNameLLMCalls        = "cfu_insight_llm_calls_total"
	MetricNameLLMDuration     = "cfu_insight_llm_call_duration_seconds"
	MetricNameSQLRepairs      = "cfu_insight_sql_repairs_total"
	MetricNameAgentIterations = "cfu_insight_agent_iterations"
	MetricNameInsightTurns    = "cfu_insight_turns_total"
	MetricNameJSONParseErrors = "cfu_insight_llm_json_parse_errors_total"

	MetricLabelPurpose = "purpose"
	MetricLabelStatus  = "status"
	MetricLabelKind    = "kind"
	MetricLabelOutcome = "outcome"
)

var (
	MetricLLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameLLMCalls,
			Help: "Number of LLM completions by purpose and status",
		},
		[]string{MetricLabelPurpose, MetricLabelStatus},
	)

	MetricLLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameLLMDuration,
			Help:    "Duration of LLM completions in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		},
		[]string{MetricLabelPurpose},
	)

	MetricSQLRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameSQLRepairs,
			Help: "Number of SQL repair attempts by kind (empty, error)",
		},
		[]string{MetricLabelKind},
	)

	MetricAgentIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    MetricNameAgentIterations,
			Help:    "Agent loop iterations per insight turn",
			Buckets: []float64{1, 2, 3},
		},
	)

	MetricInsightTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameInsightTurns,
			Help: "Number of insight turns by outcome",
		},
		[]string{MetricLabelOutcome},
	)

	MetricJSONParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameJSONParseErrors,
			Help: "Number of LLM responses that failed JSON parsing, by purpose",
		},
		[]string{MetricLabelPurpose},
	)
)
