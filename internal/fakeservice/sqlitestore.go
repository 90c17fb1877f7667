package fakeservice

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteStore is a pure-Go Store backed by modernc.org/sqlite, used in
// unit tests and the CLI's local mode where spinning up a real
// Postgres instance would be overkill.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the sqlite database at dsn,
// running the embedded goose migrations before returning. Pass
// "file::memory:?cache=shared" for an ephemeral in-process store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("run sqlite migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Insert(ctx context.Context, rec Record) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, entity, attributes, owner, created_at, modified_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Entity, string(attrs), rec.Owner, rec.CreatedAt.UTC(), rec.ModifiedAt.UTC())
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, entity, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity, attributes, owner, created_at, modified_at FROM records WHERE entity = ? AND id = ?`,
		entity, id)
	return scanRecord(row)
}

func (s *SQLiteStore) Update(ctx context.Context, entity, id string, attrs map[string]any) error {
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET attributes = ?, modified_at = ? WHERE entity = ? AND id = ?`,
		string(merged), time.Now().UTC(), entity, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *SQLiteStore) Delete(ctx context.Context, entity, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE entity = ? AND id = ?`, entity, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// Query paginates records for entity in id order, matching filter
// exactly against top-level JSON attribute values. cookie is an
// opaque row offset, round-tripped as a base-10 string. Each page
// covers pageSize stored records, so with a filter a page can hold
// fewer matches (even none) while a cookie for the next page is still
// returned.
func (s *SQLiteStore) Query(ctx context.Context, entity string, filter map[string]any, cookie string, pageSize int) ([]Record, string, error) {
	offset := 0
	if cookie != "" {
		o, err := strconv.Atoi(cookie)
		if err != nil {
			return nil, "", fmt.Errorf("invalid paging cookie: %w", err)
		}
		offset = o
	}
	if pageSize <= 0 {
		pageSize = 5000
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity, attributes, owner, created_at, modified_at FROM records WHERE entity = ? ORDER BY id LIMIT ? OFFSET ?`,
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
		rec, err := scanRecord(rows)
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
		nextCookie = strconv.Itoa(offset + pageSize)
	}
	return out, nextCookie, nil
}

func (s *SQLiteStore) Count(ctx context.Context, entity string, filter map[string]any) (int64, error) {
	rows, _, err := s.Query(ctx, entity, filter, "", 1<<30)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	var attrs string
	if err := row.Scan(&rec.ID, &rec.Entity, &attrs, &rec.Owner, &rec.CreatedAt, &rec.ModifiedAt); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
		return Record{}, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return rec, nil
}

func matchesFilter(rec Record, filter map[string]any) bool {
	for k, v := range filter {
		if rec.Attributes[k] != v {
			return false
		}
	}
	return true
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
