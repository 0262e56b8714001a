// Package metrics provides Prometheus metrics for the reconciliation engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "graft"

var (
	// Batches counts reconciliation batches by outcome.
	Batches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total reconciliation batches",
		},
		[]string{"outcome"}, // outcome: committed/failed
	)

	// BatchErrors counts failed batches by error code.
	BatchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_errors_total",
			Help:      "Total failed batches by error code",
		},
		[]string{"code"},
	)

	// BatchDuration tracks end-to-end batch latency.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Reconciliation batch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// NodesVisited counts executed operations per entity type.
	NodesVisited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_visited_total",
			Help:      "Total graph nodes visited during execution",
		},
		[]string{"type"},
	)

	// NodesReleased counts cascaded nodes per entity type and policy.
	NodesReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_released_total",
			Help:      "Total graph nodes released during execution",
		},
		[]string{"type", "policy"}, // policy: delete/detach
	)

	// NodesPersisted counts written nodes per entity type and write kind.
	NodesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_persisted_total",
			Help:      "Total graph nodes written during execution",
		},
		[]string{"type", "kind"}, // kind: insert/update
	)
)

// ObserveBatch records one finished batch.
func ObserveBatch(start time.Time, errCode string) {
	BatchDuration.Observe(time.Since(start).Seconds())
	if errCode == "" {
		Batches.WithLabelValues("committed").Inc()
		return
	}
	Batches.WithLabelValues("failed").Inc()
	BatchErrors.WithLabelValues(errCode).Inc()
}
