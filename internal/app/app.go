// Package app wires the core's components (pool, throttle, dispatcher,
// metadata memoizer, SQL service) against a concrete ServiceInvoker.
// It exists so the demo CLI (cmd/dvctl) and HTTP surface
// (cmd/dvqueryd) share one construction path instead of duplicating
// it; neither cmd package, nor this one, is imported by pkg/.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/solventis/dataverse-access-core/internal/config"
	"github.com/solventis/dataverse-access-core/internal/database/postgres"
	"github.com/solventis/dataverse-access-core/internal/fakeservice"
	"github.com/solventis/dataverse-access-core/pkg/contracts"
	"github.com/solventis/dataverse-access-core/pkg/dispatch"
	"github.com/solventis/dataverse-access-core/pkg/executor"
	"github.com/solventis/dataverse-access-core/pkg/logger"
	"github.com/solventis/dataverse-access-core/pkg/metrics"
	"github.com/solventis/dataverse-access-core/pkg/pool"
	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/dmlguard"
	"github.com/solventis/dataverse-access-core/pkg/sqlservice"
	"github.com/solventis/dataverse-access-core/pkg/throttle"
)

// App bundles the wired core entry points the CLI/HTTP surfaces call
// into: bulk writes, ad-hoc SQL queries, and pool introspection.
type App struct {
	Pool       contracts.ConnectionPool
	Dispatcher contracts.BulkExecutor
	SqlService contracts.SqlQueryService
	Logger     *slog.Logger

	store      fakeservice.Store
	dbExporter *postgres.PrometheusExporter
}

// New wires an App around cfg, backed by a local SQLite fake-service
// store (the CLI's default "no real Dataverse handy" mode). Each
// principal in cfg.Pool.Principals gets its own Invoker bound to the
// same store, so fan-out across principals is visible but the data is
// shared, matching a single organization behind several service
// principals.
func New(cfg *config.Config, sqliteDSN string, faults *fakeservice.FaultSchedule) (*App, error) {
	logger := loggerFrom(cfg)
	reg := metrics.DefaultRegistry()

	store, err := fakeservice.NewSQLiteStore(sqliteDSN)
	if err != nil {
		return nil, err
	}

	throttleCtrl := throttle.New(cfg.Throttle, reg.Throttle())

	factory := func(_ context.Context, principal string) (contracts.PooledClient, error) {
		return &principalClient{Invoker: fakeservice.NewInvoker(store, faults), principal: principal}, nil
	}

	p := pool.New(cfg.Pool, throttleCtrl, factory, logger, reg.Pool())
	dispatcher := dispatch.New(p, logger, reg.Dispatch())
	exec := executor.New(p, nil)
	guard := dmlguard.New(cfg.DmlGuard, nil)
	sqlSvc := sqlservice.New(guard, exec, logger, reg.Sql())

	return &App{Pool: p, Dispatcher: dispatcher, SqlService: sqlSvc, Logger: logger, store: store}, nil
}

// NewWithPostgres wires an App the same way as New, but backs the
// fake organization with a real Postgres instance through
// postgres.PostgresPool instead of the in-process SQLite store. Use
// this for integration tests or demos that want the database pool
// metrics to reflect a genuine database connection.
func NewWithPostgres(ctx context.Context, cfg *config.Config, pgCfg *postgres.PostgresConfig, faults *fakeservice.FaultSchedule) (*App, error) {
	logger := loggerFrom(cfg)
	reg := metrics.DefaultRegistry()

	store, err := fakeservice.NewPgStore(ctx, pgCfg, logger)
	if err != nil {
		return nil, err
	}

	throttleCtrl := throttle.New(cfg.Throttle, reg.Throttle())

	factory := func(_ context.Context, principal string) (contracts.PooledClient, error) {
		return &principalClient{Invoker: fakeservice.NewInvoker(store, faults), principal: principal}, nil
	}

	p := pool.New(cfg.Pool, throttleCtrl, factory, logger, reg.Pool())
	dispatcher := dispatch.New(p, logger, reg.Dispatch())
	exec := executor.New(p, nil)
	guard := dmlguard.New(cfg.DmlGuard, nil)
	sqlSvc := sqlservice.New(guard, exec, logger, reg.Sql())

	dbExporter := postgres.NewPrometheusExporter(store.Pool(), reg.Db())
	dbExporter.Start(ctx, 30*time.Second)

	return &App{Pool: p, Dispatcher: dispatcher, SqlService: sqlSvc, Logger: logger, store: store, dbExporter: dbExporter}, nil
}

// Close releases the backing store and stops the database metrics
// exporter, if one is running.
func (a *App) Close() error {
	if a.dbExporter != nil {
		a.dbExporter.Stop()
	}
	return a.store.Close()
}

func loggerFrom(cfg *config.Config) *slog.Logger {
	return logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
}

// principalClient adapts a fakeservice.Invoker (a bare ServiceInvoker)
// into a contracts.PooledClient by naming the owning principal. The
// pool wraps every factory-produced client in its own handle for
// ConnectionID/MarkInvalid/Invalid bookkeeping, so only Principal
// needs a real implementation here.
type principalClient struct {
	*fakeservice.Invoker
	principal string
}

func (c *principalClient) ConnectionID() string { return "" }
func (c *principalClient) Principal() string    { return c.principal }
func (c *principalClient) MarkInvalid(string)   {}
func (c *principalClient) Invalid() bool        { return false }
