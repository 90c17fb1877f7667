package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DispatchMetrics tracks bulk dispatcher throughput and fault
// classification.
type DispatchMetrics struct {
	RecordsProcessed *prometheus.CounterVec // outcome: "success", "failure"
	FaultsByClass    *prometheus.CounterVec // class: throttle, auth, deadlock, connection, other
	SubBatchRetries  *prometheus.CounterVec
	BatchDuration    *prometheus.HistogramVec // operation kind
}

func newDispatchMetrics(namespace string) *DispatchMetrics {
	return &DispatchMetrics{
		RecordsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "records_processed_total",
			Help:      "Total records processed by outcome.",
		}, []string{"outcome"}),
		FaultsByClass: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "faults_total",
			Help:      "Total classified faults by class.",
		}, []string{"class"}),
		SubBatchRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "sub_batch_retries_total",
			Help:      "Total sub-batch retries by reason.",
		}, []string{"reason"}),
		BatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of a full batch job by operation kind.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"operation"}),
	}
}
