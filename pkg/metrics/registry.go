// Package metrics provides centralized Prometheus metrics for the
// Dataverse Access Core.
//
// All metrics follow the naming convention:
//
//	dataverse_access_core_<category>_<metric_name>_<unit>
//
// Example:
//
//	registry := metrics.DefaultRegistry()
//	registry.Pool().SlotsInUse.Set(12)
//	registry.Throttle().ThrottleEvents.WithLabelValues("principal-a").Inc()
package metrics

import "sync"

// MetricsRegistry is the central registry for all Prometheus metrics.
// Category managers are lazily initialized so a process that only
// touches the SQL frontend never pays for pool/dispatch collectors.
//
// Thread-safe: all Prometheus metrics are thread-safe by design.
// Singleton: use DefaultRegistry() to get the global instance.
type MetricsRegistry struct {
	namespace string

	pool     *PoolMetrics
	throttle *ThrottleMetrics
	dispatch *DispatchMetrics
	sql      *SqlMetrics
	db       *DbMetrics

	poolOnce     sync.Once
	throttleOnce sync.Once
	dispatchOnce sync.Once
	sqlOnce      sync.Once
	dbOnce       sync.Once
}

var (
	defaultRegistry     *MetricsRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the global singleton MetricsRegistry.
func DefaultRegistry() *MetricsRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewMetricsRegistry("dataverse_access_core")
	})
	return defaultRegistry
}

// NewMetricsRegistry creates a new MetricsRegistry with the given
// namespace. Most callers should use DefaultRegistry() instead.
func NewMetricsRegistry(namespace string) *MetricsRegistry {
	if namespace == "" {
		namespace = "dataverse_access_core"
	}
	return &MetricsRegistry{namespace: namespace}
}

// Pool returns the connection pool metrics manager.
func (r *MetricsRegistry) Pool() *PoolMetrics {
	r.poolOnce.Do(func() {
		r.pool = newPoolMetrics(r.namespace)
	})
	return r.pool
}

// Throttle returns the throttle controller metrics manager.
func (r *MetricsRegistry) Throttle() *ThrottleMetrics {
	r.throttleOnce.Do(func() {
		r.throttle = newThrottleMetrics(r.namespace)
	})
	return r.throttle
}

// Dispatch returns the bulk dispatcher metrics manager.
func (r *MetricsRegistry) Dispatch() *DispatchMetrics {
	r.dispatchOnce.Do(func() {
		r.dispatch = newDispatchMetrics(r.namespace)
	})
	return r.dispatch
}

// Sql returns the SQL frontend/executor metrics manager.
func (r *MetricsRegistry) Sql() *SqlMetrics {
	r.sqlOnce.Do(func() {
		r.sql = newSqlMetrics(r.namespace)
	})
	return r.sql
}

// Db returns the backing store connection pool metrics manager.
func (r *MetricsRegistry) Db() *DbMetrics {
	r.dbOnce.Do(func() {
		r.db = newDbMetrics(r.namespace)
	})
	return r.db
}

// Namespace returns the configured namespace for this registry.
func (r *MetricsRegistry) Namespace() string {
	return r.namespace
}
