package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/solventis/dataverse-access-core/pkg/metrics"
)

// mockPoolStatsProvider is a stub PoolStatsProvider for exercising
// PrometheusExporter without a live database connection.
type mockPoolStatsProvider struct {
	stats PoolStats
}

func (m *mockPoolStatsProvider) Stats() PoolStats {
	return m.stats
}

func TestNewPrometheusExporter(t *testing.T) {
	mockPool := &mockPoolStatsProvider{
		stats: PoolStats{
			ActiveConnections:  5,
			IdleConnections:    10,
			ConnectionsCreated: 100,
			ConnectionWaitTime: 50 * time.Millisecond,
			TotalQueries:       1000,
			QueryExecutionTime: 500 * time.Millisecond,
			ConnectionErrors:   2,
			QueryErrors:        5,
			TimeoutErrors:      1,
		},
	}

	registry := metrics.NewMetricsRegistry("test_prom_exporter")
	dbMetrics := registry.Db()

	exporter := NewPrometheusExporter(mockPool, dbMetrics)

	if exporter == nil {
		t.Fatal("NewPrometheusExporter returned nil")
	}
	if exporter.pool != mockPool {
		t.Error("Pool not set correctly")
	}
	if exporter.dbMetrics != dbMetrics {
		t.Error("DBMetrics not set correctly")
	}
}

func TestPrometheusExporter_StartStop(t *testing.T) {
	mockPool := &mockPoolStatsProvider{
		stats: PoolStats{ActiveConnections: 5, IdleConnections: 10, TotalQueries: 1000},
	}

	registry := metrics.NewMetricsRegistry("test_prom_start_stop")
	exporter := NewPrometheusExporter(mockPool, registry.Db())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	exporter.Start(ctx, 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	exporter.Stop()
	time.Sleep(10 * time.Millisecond)
}

func TestPrometheusExporter_ExportMetrics(t *testing.T) {
	mockPool := &mockPoolStatsProvider{
		stats: PoolStats{
			ActiveConnections:  7,
			IdleConnections:    3,
			ConnectionsCreated: 50,
			ConnectionWaitTime: 100 * time.Millisecond,
			TotalQueries:       500,
			QueryExecutionTime: 250 * time.Millisecond,
			ConnectionErrors:   1,
			QueryErrors:        2,
		},
	}

	registry := metrics.NewMetricsRegistry("test_prom_export")
	exporter := NewPrometheusExporter(mockPool, registry.Db())

	// exportMetrics is called directly since it runs unexported and is
	// otherwise only reachable on Start()'s ticker.
	exporter.exportMetrics()

	exporter.pool = nil
	exporter.exportMetrics()

	exporter.pool = mockPool
	exporter.dbMetrics = nil
	exporter.exportMetrics()
}

func TestPrometheusExporter_ConcurrentAccess(t *testing.T) {
	mockPool := &mockPoolStatsProvider{
		stats: PoolStats{ActiveConnections: 5, IdleConnections: 10, TotalQueries: 1000},
	}

	registry := metrics.NewMetricsRegistry("test_prom_concurrent")
	exporter := NewPrometheusExporter(mockPool, registry.Db())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	for i := 0; i < 5; i++ {
		go exporter.Start(ctx, 10*time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	exporter.Stop()
}

func BenchmarkPrometheusExporter_ExportMetrics(b *testing.B) {
	mockPool := &mockPoolStatsProvider{
		stats: PoolStats{ActiveConnections: 5, IdleConnections: 10, TotalQueries: 1000},
	}

	registry := metrics.NewMetricsRegistry("bench_prom_export")
	exporter := NewPrometheusExporter(mockPool, registry.Db())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		exporter.exportMetrics()
	}
}
