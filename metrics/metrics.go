// Package metrics exposes the engine's Prometheus instrumentation. The
// segment counters implement columnar.AccessObserver, so the store reports
// every scan and prune decision through the same path tests use to verify
// pruning.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine's collectors.
type Metrics struct {
	QueriesTotal    prometheus.Counter
	QueryErrors     prometheus.Counter
	QuerySeconds    prometheus.Histogram
	RowsAppended    prometheus.Counter
	SegmentsScanned *prometheus.CounterVec
	SegmentsPruned  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil registerer
// leaves them unregistered, which tests use for isolation.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "colstore",
			Name:      "queries_total",
			Help:      "Queries executed.",
		}),
		QueryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "colstore",
			Name:      "query_errors_total",
			Help:      "Queries that ended in an error.",
		}),
		QuerySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "colstore",
			Name:      "query_duration_seconds",
			Help:      "Wall time per query.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		RowsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "colstore",
			Name:      "rows_appended_total",
			Help:      "Rows accepted by Append.",
		}),
		SegmentsScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colstore",
			Name:      "segments_scanned_total",
			Help:      "Segment decodes, per table.",
		}, []string{"table"}),
		SegmentsPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colstore",
			Name:      "segments_pruned_total",
			Help:      "Segments excluded by statistics, per table.",
		}, []string{"table"}),
	}
	if reg != nil {
		reg.MustRegister(m.QueriesTotal, m.QueryErrors, m.QuerySeconds,
			m.RowsAppended, m.SegmentsScanned, m.SegmentsPruned)
	}
	return m
}

// SegmentScanned implements columnar.AccessObserver.
func (m *Metrics) SegmentScanned(table, column string, segment int) {
	m.SegmentsScanned.WithLabelValues(table).Inc()
}

// SegmentPruned implements columnar.AccessObserver.
func (m *Metrics) SegmentPruned(table string, segment int) {
	m.SegmentsPruned.WithLabelValues(table).Inc()
}
