package history

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for history fetches
type Metrics struct {
	// Counters (cumulative values)
	SessionsTotal *prometheus.CounterVec
	QueriesTotal  *prometheus.CounterVec
	RetriesTotal  prometheus.Counter

	// Gauges (last session)
	LastEntries prometheus.Gauge
	LastTarget  prometheus.Gauge

	// Histograms (distributions)
	QueryDuration   prometheus.Histogram
	SessionDuration prometheus.Histogram
}

// NewMetrics creates history metrics and registers them on reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "hellostorage"
	}
	const subsystem = "history"
	factory := promauto.With(reg)

	return &Metrics{
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_total",
			Help:      "Total number of history fetch sessions by outcome",
		}, []string{"outcome"}),
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "range_queries_total",
			Help:      "Total number of ranged event queries by result",
		}, []string{"result"}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retries_total",
			Help:      "Total number of window retries",
		}),
		LastEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_entries",
			Help:      "Number of entries returned by the last session",
		}),
		LastTarget: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_target_height",
			Help:      "Target height of the last session",
		}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "range_query_duration_seconds",
			Help:      "Duration of a single ranged event query",
			Buckets:   prometheus.DefBuckets,
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_duration_seconds",
			Help:      "Duration of a full history fetch, delays included",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

func (m *Metrics) recordQuery(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.QueriesTotal.WithLabelValues(result).Inc()
	m.QueryDuration.Observe(d.Seconds())
}

func (m *Metrics) recordRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

func (m *Metrics) recordSession(outcome string, target uint64, entries int, d time.Duration) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(outcome).Inc()
	m.LastTarget.Set(float64(target))
	m.LastEntries.Set(float64(entries))
	m.SessionDuration.Observe(d.Seconds())
}
