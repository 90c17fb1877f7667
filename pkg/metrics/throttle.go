package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ThrottleMetrics tracks the adaptive throttle controller's behavior
// per principal.
type ThrottleMetrics struct {
	CurrentParallelism *prometheus.GaugeVec
	ThrottleEvents     *prometheus.CounterVec
	IncreaseEvents     *prometheus.CounterVec
	IdleResets         *prometheus.CounterVec
}

func newThrottleMetrics(namespace string) *ThrottleMetrics {
	return &ThrottleMetrics{
		CurrentParallelism: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "throttle",
			Name:      "current_parallelism",
			Help:      "Current effective per-principal parallelism ceiling.",
		}, []string{"principal"}),
		ThrottleEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "throttle",
			Name:      "throttle_events_total",
			Help:      "Total RecordThrottle calls by principal.",
		}, []string{"principal"}),
		IncreaseEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "throttle",
			Name:      "increase_events_total",
			Help:      "Total additive-increase steps applied by principal.",
		}, []string{"principal"}),
		IdleResets: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "throttle",
			Name:      "idle_resets_total",
			Help:      "Total idle-period resets to floor by principal.",
		}, []string{"principal"}),
	}
}
