// Package metrics provides Prometheus metrics for the clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchRequestsTotal tracks match resolutions by outcome
	MatchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "matching",
			Name:      "requests_total",
			Help:      "Total number of match resolutions by status",
		},
		[]string{"status"},
	)

	// MatchCandidatesReturned tracks how many candidates each resolution returned
	MatchCandidatesReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "matching",
			Name:      "candidates_returned",
			Help:      "Number of candidates returned per match resolution",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 25, 50},
		},
	)

	// MatchPassFailuresTotal tracks exact or fuzzy pass failures that were logged and skipped
	MatchPassFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "matching",
			Name:      "pass_failures_total",
			Help:      "Total number of match pass failures by pass",
		},
		[]string{"pass"},
	)

	// EnrichmentsTotal tracks enrichment calls by outcome (updated, noop, error)
	EnrichmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "enrichment",
			Name:      "requests_total",
			Help:      "Total number of enrichment calls by outcome",
		},
		[]string{"outcome"},
	)

	// EnrichmentConflictRetries tracks optimistic-lock retries during enrichment
	EnrichmentConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "enrichment",
			Name:      "conflict_retries_total",
			Help:      "Total number of enrichment retries caused by concurrent modification",
		},
	)

	// MergesTotal tracks merges by outcome
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "merging",
			Name:      "merges_total",
			Help:      "Total number of merges by outcome",
		},
		[]string{"outcome"},
	)

	// MergeDuration tracks merge transaction duration
	MergeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "merging",
			Name:      "merge_duration_seconds",
			Help:      "Duration of merge operations in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// ChainsCompactedTotal tracks merge pointers shortened by chain compaction
	ChainsCompactedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "merging",
			Name:      "chains_compacted_total",
			Help:      "Total number of merge pointers re-pointed at their root by compaction",
		},
	)

	// AuditWritesTotal tracks audit trail writes by status
	AuditWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "audit",
			Name:      "writes_total",
			Help:      "Total number of audit entry writes by status",
		},
		[]string{"status"},
	)

	// AuditWarningsTotal tracks committed mutations whose audit write failed
	AuditWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "audit",
			Name:      "warnings_total",
			Help:      "Total number of mutations committed without a complete audit trail",
		},
		[]string{"action"},
	)

	// LockAcquireFailuresTotal tracks participant lock acquisition failures
	LockAcquireFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "locking",
			Name:      "acquire_failures_total",
			Help:      "Total number of participant lock acquisition failures by backend",
		},
		[]string{"backend"},
	)

	// EventsPublishedTotal tracks events published to Kafka by type and status
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events published by type and status",
		},
		[]string{"event_type", "status"},
	)

	// BatchEnrichmentsTotal tracks items processed by batch enrichment
	BatchEnrichmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "jobs",
			Name:      "batch_enrichments_total",
			Help:      "Total number of batch enrichment items by status",
		},
		[]string{"status"},
	)

	// MessagesConsumedTotal tracks consumed Kafka messages by topic and handler status
	MessagesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of consumed messages by topic and status",
		},
		[]string{"topic", "status"},
	)
)
