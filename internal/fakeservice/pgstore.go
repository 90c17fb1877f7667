package fakeservice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/solventis/dataverse-access-core/internal/database/postgres"
)

// PgStore is a Store backed by the core's postgres.PostgresPool, used
// by the integration tests (see pgstore_integration_test.go) that spin
// up a real Postgres via testcontainers-go. Migrations run through a
// separate database/sql handle, since goose drives its own connection
// rather than going through pgxpool.
type PgStore struct {
	pool   *postgres.PostgresPool
	logger *slog.Logger
}

// NewPgStore connects to the database described by cfg, runs the
// embedded goose migrations over a parallel database/sql handle, and
// returns a ready Store backed by a postgres.PostgresPool.
func NewPgStore(ctx context.Context, cfg *postgres.PostgresConfig, logger *slog.Logger) (*PgStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	migrateDB, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open migration connection: %w", err)
	}
	defer migrateDB.Close()

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(migrateDB, "migrations"); err != nil {
		return nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	pool := postgres.NewPostgresPool(cfg, logger)
	if err := pool.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect postgres pool: %w", err)
	}

	logger.Info("fakeservice postgres store ready")
	return &PgStore{pool: pool, logger: logger}, nil
}

func (s *PgStore) Close() error {
	return s.pool.Disconnect(context.Background())
}

// Pool exposes the underlying postgres.PostgresPool, for callers that
// want to attach a metrics exporter.
func (s *PgStore) Pool() *postgres.PostgresPool {
	return s.pool
}

func (s *PgStore) Insert(ctx context.Context, rec Record) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (id, entity, attributes, owner, created_at, modified_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Entity, attrs, rec.Owner, rec.CreatedAt.UTC(), rec.ModifiedAt.UTC())
	return err
}

func (s *PgStore) Get(ctx context.Context, entity, id string) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, entity, attributes, owner, created_at, modified_at FROM records WHERE entity = $1 AND id = $2`,
		entity, id)
	rec, err := scanPgRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (s *PgStore) Update(ctx context.Context, entity, id string, attrs map[string]any) error {
	existing, err := s.Get(ctx, entity, id)
	if err != nil {
		return err
	}
	for k, v := range attrs {
		existing.Attributes[k] = v
	}
	merged, err := json.Marshal(existing.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET attributes = $1, modified_at = $2 WHERE entity = $3 AND id = $4`,
		merged, time.Now().UTC(), entity, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) Delete(ctx context.Context, entity, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM records WHERE entity = $1 AND id = $2`, entity, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) Query(ctx context.Context, entity string, filter map[string]any, cookie string, pageSize int) ([]Record, string, error) {
	offset := int64(0)
	if cookie != "" {
		if _, err := fmt.Sscanf(cookie, "%d", &offset); err != nil {
			return nil, "", fmt.Errorf("invalid paging cookie: %w", err)
		}
	}
	if pageSize <= 0 {
		pageSize = 5000
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, entity, attributes, owner, created_at, modified_at FROM records WHERE entity = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		entity, pageSize+1, offset)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []Record
	scanned := 0
	for rows.Next() {
		scanned++
		if scanned > pageSize {
			break // the extra row only signals that another page exists
		}
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, "", err
		}
		if matchesFilter(rec, filter) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCookie := ""
	if scanned > pageSize {
		nextCookie = fmt.Sprintf("%d", offset+int64(pageSize))
	}
	return out, nextCookie, nil
}

func (s *PgStore) Count(ctx context.Context, entity string, filter map[string]any) (int64, error) {
	if len(filter) == 0 {
		var count int64
		err := s.pool.QueryRow(ctx, `SELECT count(*) FROM records WHERE entity = $1`, entity).Scan(&count)
		return count, err
	}
	rows, _, err := s.Query(ctx, entity, filter, "", 1<<20)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

type pgRowScanner interface {
	Scan(dest ...any) error
}

func scanPgRecord(row pgRowScanner) (Record, error) {
	var rec Record
	var attrs []byte
	if err := row.Scan(&rec.ID, &rec.Entity, &attrs, &rec.Owner, &rec.CreatedAt, &rec.ModifiedAt); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
		return Record{}, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return rec, nil
}
