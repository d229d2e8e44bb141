// Package metrics defines the daemon's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesMerged counts messages processed by the merge engine.
	MessagesMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chirp_messages_merged_total",
		Help: "Total messages reconciled into the local cache",
	})

	// OptimisticReplaced counts optimistic messages replaced by their
	// server-confirmed copies.
	OptimisticReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chirp_optimistic_replaced_total",
		Help: "Total optimistic messages replaced during merge",
	})

	// NotificationsDelivered counts notifications emitted to the sink.
	NotificationsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chirp_notifications_delivered_total",
		Help: "Total notifications delivered",
	})

	// NotificationsSuppressed counts suppressed notifications by reason.
	NotificationsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chirp_notifications_suppressed_total",
		Help: "Total notifications suppressed, by reason",
	}, []string{"reason"})

	// RetryEnqueued counts items accepted by the retry queue.
	RetryEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chirp_retry_enqueued_total",
		Help: "Total items enqueued for retry",
	})

	// RetryAbandoned counts items dropped after exhausting retries.
	RetryAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chirp_retry_abandoned_total",
		Help: "Total retry items abandoned after max attempts",
	})

	// SuggestionsCreated counts suggestions written by the ingestion pipeline.
	SuggestionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chirp_suggestions_created_total",
		Help: "Total suggestions created from analysis responses",
	})

	// SuggestionsFailed counts analysis items rejected or failed per stage.
	SuggestionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chirp_suggestions_failed_total",
		Help: "Total analysis items dropped, by stage",
	}, []string{"stage"})

	// AnalysisRequests counts calls to the external analysis endpoint.
	AnalysisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chirp_analysis_requests_total",
		Help: "Total analysis endpoint requests, by outcome",
	}, []string{"outcome"})

	// IngestDuration observes end-to-end suggestion ingestion latency.
	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chirp_ingest_duration_seconds",
		Help:    "Suggestion ingestion latency distribution",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
	})
)
