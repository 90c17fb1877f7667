// Package postgres wraps pgxpool with the lifecycle, metrics, and
// error-classification conventions PgStore needs to back the fake
// Dataverse-like organization service used by the demo CLI/HTTP
// surface and the integration test suite (see
// internal/fakeservice/pgstore.go). It is not a general-purpose
// database toolkit: its surface is the pool lifecycle plus Exec, Query
// and QueryRow, which PgStore uses, and Begin and PrepareStatement,
// which PgStore does not call.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPool is a pgxpool-backed connection pool that records
// connection/query metrics and classifies driver errors for the fake
// organization backend's fault reporting.
type PostgresPool struct {
	pool     *pgxpool.Pool
	config   *PostgresConfig
	logger   *slog.Logger
	metrics  *PoolMetrics
	isClosed atomic.Bool
	closeCh  chan struct{}
}

// NewPostgresPool builds a pool bound to config. Connect must be
// called before the pool can serve queries.
func NewPostgresPool(config *PostgresConfig, logger *slog.Logger) *PostgresPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresPool{
		config:  config,
		logger:  logger,
		metrics: NewPoolMetrics(),
		closeCh: make(chan struct{}),
	}
}

// Connect validates config, opens the underlying pgxpool, and pings
// the server to confirm connectivity before returning.
func (p *PostgresPool) Connect(ctx context.Context) error {
	if p.isClosed.Load() {
		return ErrConnectionClosed
	}

	if err := p.config.Validate(); err != nil {
		p.logger.Error("invalid database configuration", "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	p.logger.Info("connecting to postgres",
		"host", p.config.Host,
		"port", p.config.Port,
		"database", p.config.Database,
		"ssl_mode", p.config.SSLMode,
		"max_conns", p.config.MaxConns,
		"min_conns", p.config.MinConns)

	poolConfig, err := pgxpool.ParseConfig(p.config.DSN())
	if err != nil {
		p.logger.Error("failed to parse database DSN", "error", err)
		p.metrics.RecordConnectionError()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	poolConfig.MaxConns = p.config.MaxConns
	poolConfig.MinConns = p.config.MinConns
	poolConfig.MaxConnLifetime = p.config.MaxConnLifetime
	poolConfig.MaxConnIdleTime = p.config.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = p.config.HealthCheckPeriod

	connectCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()

	start := time.Now()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		p.logger.Error("failed to create connection pool", "error", err)
		p.metrics.RecordConnectionError()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		p.logger.Error("failed to ping database", "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			p.metrics.RecordTimeoutError()
		}
		p.metrics.RecordConnectionError()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	p.pool = pool
	connectionTime := time.Since(start)
	p.metrics.RecordConnectionWait(connectionTime)
	p.metrics.RecordSuccessfulConnection()

	p.logger.Info("connected to postgres",
		"connection_time", connectionTime,
		"max_conns", p.config.MaxConns,
		"min_conns", p.config.MinConns)

	return nil
}

// Disconnect closes the underlying pgxpool.
func (p *PostgresPool) Disconnect(ctx context.Context) error {
	if p.pool == nil {
		return nil
	}
	if p.isClosed.Load() {
		return ErrConnectionClosed
	}

	p.logger.Info("disconnecting from postgres")

	select {
	case p.closeCh <- struct{}{}:
	default:
	}

	p.pool.Close()
	p.isClosed.Store(true)
	p.logger.Info("disconnected from postgres")
	return nil
}

// IsConnected reports whether the pool currently holds at least one
// live connection.
func (p *PostgresPool) IsConnected() bool {
	if p.isClosed.Load() || p.pool == nil {
		return false
	}
	return p.pool.Stat().TotalConns() > 0
}

// Stats reports a point-in-time snapshot of pool utilization and
// cumulative error counters, consumed by PrometheusExporter.
func (p *PostgresPool) Stats() PoolStats {
	if p.pool == nil {
		return PoolStats{}
	}

	poolStats := p.pool.Stat()
	p.metrics.UpdateConnectionStats(
		poolStats.AcquiredConns(),
		poolStats.IdleConns(),
		int64(poolStats.TotalConns()),
	)

	return p.metrics.Snapshot()
}

// Exec runs sql without returning rows, used by PgStore for inserts,
// updates, and deletes against the records table.
func (p *PostgresPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if p.pool == nil {
		return pgconn.CommandTag{}, ErrNotConnected
	}

	start := time.Now()
	tag, err := p.pool.Exec(ctx, sql, args...)
	duration := time.Since(start)

	if err != nil {
		p.recordQueryFailure(err)
		p.logger.Error("exec failed", "sql", sql, "duration", duration, "error", err)
		return tag, err
	}

	p.metrics.RecordQueryExecution(duration)
	p.logger.Debug("exec succeeded", "sql", sql, "duration", duration, "rows_affected", tag.RowsAffected())
	return tag, nil
}

// Query runs sql and returns the resulting rows, used by PgStore's
// paged record scan.
func (p *PostgresPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if p.pool == nil {
		return nil, ErrNotConnected
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, sql, args...)
	duration := time.Since(start)

	if err != nil {
		p.recordQueryFailure(err)
		p.logger.Error("query failed", "sql", sql, "duration", duration, "error", err)
		return nil, err
	}

	p.metrics.RecordQueryExecution(duration)
	p.logger.Debug("query succeeded", "sql", sql, "duration", duration)
	return rows, nil
}

// QueryRow runs sql and returns a single row, used by PgStore's
// by-ID lookup.
func (p *PostgresPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if p.pool == nil {
		return &errorRow{err: ErrNotConnected}
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, sql, args...)
	duration := time.Since(start)

	p.metrics.RecordQueryExecution(duration)
	p.logger.Debug("query row executed", "sql", sql, "duration", duration)
	return row
}

// recordQueryFailure records a query-level error, distinguishing a
// context deadline from other failures so PrometheusExporter reports
// timeouts separately from generic query errors.
func (p *PostgresPool) recordQueryFailure(err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		p.metrics.RecordTimeoutError()
	}
	p.metrics.RecordQueryError()
}

// Begin starts a new transaction. PgStore does not call it; its goose
// migrations run over a separate database/sql handle.
func (p *PostgresPool) Begin(ctx context.Context) (pgx.Tx, error) {
	if p.pool == nil {
		return nil, ErrNotConnected
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		p.metrics.RecordQueryError()
		p.logger.Error("failed to begin transaction", "error", err)
		return nil, err
	}

	p.logger.Debug("transaction started")
	return tx, nil
}

// PrepareStatement prepares sql under name on a single connection
// acquired from the pool.
func (p *PostgresPool) PrepareStatement(ctx context.Context, name, sql string) error {
	if p.pool == nil {
		return ErrNotConnected
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		p.logger.Error("failed to acquire connection for statement preparation", "name", name, "error", err)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "PREPARE "+name+" AS "+sql); err != nil {
		p.logger.Error("failed to prepare statement", "name", name, "sql", sql, "error", err)
		return fmt.Errorf("%w: %v", ErrPreparedStatementFailed, err)
	}

	p.logger.Info("prepared statement", "name", name)
	return nil
}

// Close is an alias for Disconnect against a background context.
func (p *PostgresPool) Close() error {
	return p.Disconnect(context.Background())
}

// GetConfig returns the pool's configuration.
func (p *PostgresPool) GetConfig() *PostgresConfig {
	return p.config
}

// GetMetrics returns the pool's metrics collector.
func (p *PostgresPool) GetMetrics() *PoolMetrics {
	return p.metrics
}

// Pool returns the underlying pgxpool.Pool for operations PostgresPool
// doesn't wrap directly.
func (p *PostgresPool) Pool() *pgxpool.Pool {
	return p.pool
}

// errorRow implements pgx.Row for the not-connected case, so callers
// can Scan into it and get a consistent error rather than a nil
// pointer dereference.
type errorRow struct {
	err error
}

func (r *errorRow) Scan(dest ...interface{}) error {
	return r.err
}
