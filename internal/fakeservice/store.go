// Package fakeservice implements contracts.ServiceInvoker against a
// small relational schema, for local exploration and for the demo
// CLI/HTTP surface. It is never imported by the core packages: the
// core depends only on contracts.ServiceInvoker, never on how a
// particular Service is backed.
package fakeservice

import (
	"context"
	"time"
)

// Record is one row of the fake organization's single "records" table:
// every entity is stored generically with its attributes as JSON.
type Record struct {
	ID         string
	Entity     string
	Attributes map[string]any
	Owner      string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Store is the storage backend the invoker drives. Two implementations
// exist: sqlitestore (pure Go, single-process) and pgstore (pgx/v5,
// for integration tests against a real Postgres instance).
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, entity, id string) (Record, error)
	Update(ctx context.Context, entity, id string, attrs map[string]any) error
	Delete(ctx context.Context, entity, id string) error
	Query(ctx context.Context, entity string, filter map[string]any, cookie string, pageSize int) (rows []Record, nextCookie string, err error)
	Count(ctx context.Context, entity string, filter map[string]any) (int64, error)
	Close() error
}

// ErrNotFound is returned by Get/Update/Delete when no matching record exists.
var ErrNotFound = &storeError{"record not found"}

type storeError struct{ msg string }

func (e *storeError) Error() string { return e.msg }
