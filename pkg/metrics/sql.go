package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SqlMetrics tracks the SQL frontend's parse/rewrite/emit pipeline and
// the query executor's paging behavior.
type SqlMetrics struct {
	ParseTotal       *prometheus.CounterVec // outcome: "ok", "parse_error"
	RewriteApplied   *prometheus.CounterVec // kind: date_group
	RewriteFallback  *prometheus.CounterVec
	Untranspilable   prometheus.Counter
	DmlBlocked       *prometheus.CounterVec // reason
	PagesFetched     prometheus.Counter
	MetadataCacheHit *prometheus.CounterVec // result: hit, miss
}

func newSqlMetrics(namespace string) *SqlMetrics {
	return &SqlMetrics{
		ParseTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sql",
			Name:      "parse_total",
			Help:      "Total parse attempts by outcome.",
		}, []string{"outcome"}),
		RewriteApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sql",
			Name:      "rewrite_applied_total",
			Help:      "Total semantic rewrites applied by kind.",
		}, []string{"kind"}),
		RewriteFallback: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sql",
			Name:      "rewrite_fallback_total",
			Help:      "Total rewrites that fell back to the unmodified AST by kind.",
		}, []string{"kind"}),
		Untranspilable: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sql",
			Name:      "untranspilable_total",
			Help:      "Total statements that survived rewriting but could not be emitted.",
		}),
		DmlBlocked: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sql",
			Name:      "dml_blocked_total",
			Help:      "Total DML statements blocked by the safety guard, by reason.",
		}, []string{"reason"}),
		PagesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sql",
			Name:      "pages_fetched_total",
			Help:      "Total result pages fetched by the query executor.",
		}),
		MetadataCacheHit: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sql",
			Name:      "metadata_cache_total",
			Help:      "Total metadata lookups by cache result.",
		}, []string{"result"}),
	}
}
