package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PoolMetrics tracks connection pool utilization and acquisition
// outcomes.
type PoolMetrics struct {
	SlotsInUse      prometheus.Gauge
	SlotsCapacity   prometheus.Gauge
	AcquireTotal    *prometheus.CounterVec // outcome: "ok", "timeout", "factory_error"
	AcquireWaitSecs prometheus.Histogram
	Quarantined     prometheus.Gauge
}

func newPoolMetrics(namespace string) *PoolMetrics {
	return &PoolMetrics{
		SlotsInUse: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "slots_in_use",
			Help:      "Number of pooled clients currently checked out.",
		}),
		SlotsCapacity: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "slots_capacity",
			Help:      "Current total effective capacity across all principals.",
		}),
		AcquireTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_total",
			Help:      "Total Acquire calls by outcome.",
		}, []string{"outcome"}),
		AcquireWaitSecs: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a pool slot.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		Quarantined: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "principals_quarantined",
			Help:      "Number of principals currently out of rotation due to repeated faults.",
		}),
	}
}
