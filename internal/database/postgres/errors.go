package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors returned by PostgresPool's own lifecycle and query
// methods, independent of whatever the underlying driver reports.
var (
	// ErrNotConnected indicates that the pool is not connected to the database.
	ErrNotConnected = errors.New("database pool is not connected")

	// ErrConnectionFailed indicates that connection to database failed.
	ErrConnectionFailed = errors.New("failed to connect to database")

	// ErrConnectionClosed indicates that the connection pool is closed.
	ErrConnectionClosed = errors.New("database connection pool is closed")

	// ErrInvalidConfig indicates that configuration is invalid.
	ErrInvalidConfig = errors.New("invalid database configuration")

	// ErrPreparedStatementFailed indicates that prepared statement creation failed.
	ErrPreparedStatementFailed = errors.New("prepared statement creation failed")
)

// deadlockSQLState is the PostgreSQL SQLSTATE for deadlock_detected,
// raised when the server's deadlock detector aborts one of the
// transactions in a cycle.
const deadlockSQLState = "40P01"

// connectionSQLStates are the SQLSTATE class-08 codes (plus
// too_many_connections) PgStore's fake-service backend can see when
// the server drops or refuses a connection mid-operation.
var connectionSQLStates = map[string]bool{
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
	"08001": true, // sqlclient_unable_to_establish_sqlconnection
	"08004": true, // sqlserver_rejected_establishment_of_sqlconnection
	"08007": true, // transaction_resolution_unknown
	"53300": true, // too_many_connections
}

// IsDeadlock reports whether err is a PostgreSQL deadlock_detected
// error, letting callers distinguish it from an ordinary connection
// failure. Used by the fake Dataverse-like backend to classify a
// batch-write fault precisely instead of collapsing every storage
// error into one generic connection fault.
func IsDeadlock(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == deadlockSQLState
	}
	return false
}

// IsConnectionFailure reports whether err is one of the PostgreSQL
// SQLSTATE codes that indicate a dropped or refused connection, as
// opposed to a statement-level failure (constraint violation, syntax
// error, and so on).
func IsConnectionFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return connectionSQLStates[pgErr.Code]
	}
	return false
}
