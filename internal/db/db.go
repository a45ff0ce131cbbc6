package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"

	"github.com/outcomeops/outcomeops-analytics/internal/logger"
)

var tracer = otel.Tracer("analytics/db")

// DB wraps a PostgreSQL database connection
type DB struct {
	conn  *sql.DB
	retry RetryPolicy
}

// Connect establishes a connection to PostgreSQL
func Connect(dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Every invocation is short and stateless; a modest pool is enough.
	conn.SetMaxOpenConns(50)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(20 * time.Minute)

	return &DB{conn: conn, retry: DefaultRetryPolicy}, nil
}

// ConnectWithRetry calls Connect until it succeeds or ctx is done.
// Useful at startup when the database container may still be booting.
func ConnectWithRetry(ctx context.Context, dsn string) (*DB, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryWithData(func() (*DB, error) {
		attempt++
		database, err := Connect(dsn)
		if err != nil {
			logger.Warn("database not ready", "attempt", attempt, "error", err)
			return nil, err
		}
		return database, nil
	}, backoff.WithContext(b, ctx))
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Exec executes a query without returning rows (for testing/migrations)
func (db *DB) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.conn.ExecContext(ctx, query, args...)
}

// Conn returns the underlying *sql.DB connection.
// Used by the migrate command and testutil.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping checks the connection; used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// SetRetryPolicy overrides the transient-error retry policy.
func (db *DB) SetRetryPolicy(p RetryPolicy) {
	db.retry = p
}
