// Package telemetry provides Prometheus metrics for the memory subsystem.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MemoriesFormed counts memories written by the formation engine.
	// Labels: store (factual, experiential), origin (extraction, manual)
	MemoriesFormed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "formation",
			Name:      "memories_formed_total",
			Help:      "Total number of memories written by the formation engine",
		},
		[]string{"store", "origin"},
	)

	// RetrievalQueries counts retrieval requests.
	// Labels: result (hit, empty, error)
	RetrievalQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Total number of retrieval queries",
		},
		[]string{"result"},
	)

	// RetrievalDuration tracks how long retrieval queries take.
	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "retrieval",
			Name:      "query_duration_seconds",
			Help:      "Duration of retrieval queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ConsolidationRuns counts consolidation passes.
	// Labels: result (success, error)
	ConsolidationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "consolidation",
			Name:      "runs_total",
			Help:      "Total number of consolidation passes",
		},
		[]string{"result"},
	)

	// ConsolidationChanges counts records changed by consolidation.
	// Labels: phase (merge, extract, prune)
	ConsolidationChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "consolidation",
			Name:      "changes_total",
			Help:      "Total number of records created, decayed, or deleted by consolidation",
		},
		[]string{"phase"},
	)

	// ActiveSessions tracks live working-memory sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "memoryd",
			Subsystem: "workingmem",
			Name:      "active_sessions",
			Help:      "Number of live working-memory sessions",
		},
	)

	// StoreDegraded indicates whether a backing store has fallen back to the
	// in-memory stub (1=degraded, 0=normal).
	StoreDegraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "degraded",
			Help:      "Whether the backing store is running in degraded local mode (1=degraded)",
		},
		[]string{"store"},
	)
)

// RecordRetrieval records the outcome of one retrieval query.
func RecordRetrieval(results int, err error) {
	switch {
	case err != nil:
		RetrievalQueries.WithLabelValues("error").Inc()
	case results == 0:
		RetrievalQueries.WithLabelValues("empty").Inc()
	default:
		RetrievalQueries.WithLabelValues("hit").Inc()
	}
}

// RecordConsolidation records the outcome of one consolidation pass.
func RecordConsolidation(patterns, decayed, rules, pruned int, err error) {
	if err != nil {
		ConsolidationRuns.WithLabelValues("error").Inc()
		return
	}
	ConsolidationRuns.WithLabelValues("success").Inc()
	ConsolidationChanges.WithLabelValues("merge").Add(float64(patterns + decayed))
	ConsolidationChanges.WithLabelValues("extract").Add(float64(rules))
	ConsolidationChanges.WithLabelValues("prune").Add(float64(pruned))
}
