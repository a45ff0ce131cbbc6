package db

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors for type-safe error checking
// Use errors.Is() instead of string comparison
var (
	// Store errors
	ErrItemNotFound  = errors.New("item not found")
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
	ErrUnknownTable  = errors.New("unknown table")

	// ErrTransient marks throttling, timeouts and dropped connections.
	// Callers may retry; the store already has by the time they see it.
	ErrTransient = errors.New("transient store error")

	// Admin user errors
	ErrAdminUserNotFound = errors.New("admin user not found")
	ErrMagicTokenInvalid = errors.New("magic link token invalid or expired")
)

// transientCodes are SQLSTATEs worth retrying.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement_timeout)
	"53300": true, // too_many_connections
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
}

// isTransient classifies a driver error.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	// The caller's own cancellation is final, not transient.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientCodes[pgErr.Code]
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}
