// Package metrics provides Prometheus metrics for the matchmaking pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchesCreatedTotal tracks pending matches created by the pair generator
	MatchesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "midnight",
			Subsystem: "pairing",
			Name:      "matches_created_total",
			Help:      "Total number of pending matches created",
		},
	)

	// MatchesAnalyzedTotal tracks match analyses by resulting status
	MatchesAnalyzedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "midnight",
			Subsystem: "analysis",
			Name:      "matches_total",
			Help:      "Total number of match analyses by resulting status",
		},
		[]string{"status"},
	)

	// AnalysisDuration tracks match analysis duration in seconds
	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "midnight",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Duration of match analyses in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// MatchesScheduledTotal tracks analyzed matches promoted to scheduled
	MatchesScheduledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "midnight",
			Subsystem: "scheduler",
			Name:      "matches_scheduled_total",
			Help:      "Total number of analyzed matches promoted to scheduled",
		},
	)

	// MatchesActivatedTotal tracks matches activated by the scheduler
	MatchesActivatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "midnight",
			Subsystem: "scheduler",
			Name:      "matches_activated_total",
			Help:      "Total number of scheduled matches activated",
		},
	)

	// ConversationsTotal tracks conversation executions by final status
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "midnight",
			Subsystem: "conversation",
			Name:      "conversations_total",
			Help:      "Total number of conversation executions by final status",
		},
		[]string{"status"},
	)

	// ConversationDuration tracks full conversation duration in seconds
	ConversationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "midnight",
			Subsystem: "conversation",
			Name:      "duration_seconds",
			Help:      "Duration of full conversations in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// CompletionTokensTotal tracks LLM token usage by kind
	CompletionTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "midnight",
			Subsystem: "completion",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed by kind (prompt/completion)",
		},
		[]string{"kind"},
	)

	// CompletionRequestsTotal tracks LLM calls by status
	CompletionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "midnight",
			Subsystem: "completion",
			Name:      "requests_total",
			Help:      "Total LLM completion calls by status",
		},
		[]string{"status"},
	)

	// ReportsGeneratedTotal tracks morning reports written by the aggregator
	ReportsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "midnight",
			Subsystem: "report",
			Name:      "generated_total",
			Help:      "Total morning reports written by action (created/merged)",
		},
		[]string{"action"},
	)

	// EmailsSentTotal tracks dispatcher sends by status
	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "midnight",
			Subsystem: "dispatch",
			Name:      "emails_total",
			Help:      "Total report emails by status (sent/failed/rate_limited/dry_run)",
		},
		[]string{"status"},
	)

	// EmailSendDuration tracks provider send duration in seconds
	EmailSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "midnight",
			Subsystem: "dispatch",
			Name:      "send_duration_seconds",
			Help:      "Duration of email provider sends in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// RateLimitWaitTime tracks time spent waiting for the email budget
	RateLimitWaitTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "midnight",
			Subsystem: "dispatch",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for the email rate limit in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// KafkaMessagesPublished tracks pipeline events published to Kafka
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "midnight",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of pipeline events published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordAnalysis records a match analysis metric
func RecordAnalysis(status string, durationSeconds float64) {
	MatchesAnalyzedTotal.WithLabelValues(status).Inc()
	AnalysisDuration.Observe(durationSeconds)
}

// RecordConversation records a conversation execution metric
func RecordConversation(status string, durationSeconds float64) {
	ConversationsTotal.WithLabelValues(status).Inc()
	ConversationDuration.Observe(durationSeconds)
}

// RecordCompletion records an LLM call with its token usage
func RecordCompletion(status string, promptTokens, completionTokens int) {
	CompletionRequestsTotal.WithLabelValues(status).Inc()
	CompletionTokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	CompletionTokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
}

// RecordEmail records a dispatcher send attempt
func RecordEmail(status string, durationSeconds float64) {
	EmailsSentTotal.WithLabelValues(status).Inc()
	EmailSendDuration.Observe(durationSeconds)
}

// RecordKafkaPublish records a pipeline event publish
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
