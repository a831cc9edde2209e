// Package metrics exposes Prometheus collectors for model calls and spend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Model gateway metrics
	ModelAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costgate_model_attempts_total",
			Help: "Upstream model attempts by model, tier and outcome",
		},
		[]string{"model", "tier", "outcome"},
	)

	ModelAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "costgate_model_attempt_duration_seconds",
			Help:    "Upstream model attempt latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"model", "tier"},
	)

	FallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "costgate_fallbacks_total",
			Help: "Calls that left the primary tier for the fallback chain",
		},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costgate_tokens_total",
			Help: "Tokens consumed by model and type",
		},
		[]string{"model", "type"}, // type: input/output/reasoning
	)

	CostUSDTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costgate_cost_usd_total",
			Help: "Estimated spend in USD by serving model",
		},
		[]string{"model"},
	)

	// Cost governor metrics
	GovernorDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costgate_governor_decisions_total",
			Help: "Cost governor decisions by stage and verdict",
		},
		[]string{"stage", "verdict"},
	)

	DailySpendUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "costgate_daily_spend_usd",
			Help: "Spend recorded for the current UTC day",
		},
	)

	// Pipeline metrics
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costgate_pipeline_runs_total",
			Help: "Pipeline runs by mode and result status",
		},
		[]string{"mode", "status"}, // mode: single/turn/summarize
	)

	ConversationsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "costgate_conversations_live",
			Help: "Conversations currently held in memory",
		},
	)

	ConversationEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "costgate_conversation_evictions_total",
			Help: "Conversations evicted to stay under the capacity limit",
		},
	)
)
