package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/outcomeops/outcomeops-analytics/internal/models"
)

// AdminUsers is the admin-user record store used by the auth gate.
type AdminUsers interface {
	UpsertAdminUser(ctx context.Context, email, name string, active bool) error
	GetAdminUser(ctx context.Context, email string) (*models.AdminUser, error)
	// SetMagicToken replaces any outstanding token for the user.
	SetMagicToken(ctx context.Context, email, tokenHash string, expiresAt time.Time) error
	// ConsumeMagicToken atomically clears a live token and returns its owner.
	// A token can be consumed once; expired or unknown tokens yield
	// ErrMagicTokenInvalid.
	ConsumeMagicToken(ctx context.Context, tokenHash string, now time.Time) (*models.AdminUser, error)
}

var _ AdminUsers = (*DB)(nil)

// UpsertAdminUser creates or updates an admin user from configuration.
// Token fields are left untouched.
func (db *DB) UpsertAdminUser(ctx context.Context, email, name string, active bool) error {
	query := `
		INSERT INTO admin_users (email, name, active, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			updated_at = NOW()`
	if _, err := db.conn.ExecContext(ctx, query, email, name, active); err != nil {
		return fmt.Errorf("failed to upsert admin user: %w", err)
	}
	return nil
}

// GetAdminUser retrieves an admin user by email
func (db *DB) GetAdminUser(ctx context.Context, email string) (*models.AdminUser, error) {
	query := `
		SELECT email, name, active, magic_token_hash, magic_token_expires_at, created_at, updated_at
		FROM admin_users WHERE email = $1`
	user, err := scanAdminUser(db.conn.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAdminUserNotFound
		}
		return nil, fmt.Errorf("failed to get admin user: %w", err)
	}
	return user, nil
}

// SetMagicToken stores the hash of a freshly issued magic-link token.
func (db *DB) SetMagicToken(ctx context.Context, email, tokenHash string, expiresAt time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE admin_users
		SET magic_token_hash = $2, magic_token_expires_at = $3, updated_at = NOW()
		WHERE email = $1`, email, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to set magic token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAdminUserNotFound
	}
	return nil
}

// ConsumeMagicToken clears the token in the same statement that checks it,
// so two concurrent verifications cannot both succeed.
func (db *DB) ConsumeMagicToken(ctx context.Context, tokenHash string, now time.Time) (*models.AdminUser, error) {
	query := `
		UPDATE admin_users
		SET magic_token_hash = NULL, magic_token_expires_at = NULL, updated_at = NOW()
		WHERE magic_token_hash = $1 AND magic_token_expires_at > $2
		RETURNING email, name, active, magic_token_hash, magic_token_expires_at, created_at, updated_at`
	user, err := scanAdminUser(db.conn.QueryRowContext(ctx, query, tokenHash, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMagicTokenInvalid
		}
		return nil, fmt.Errorf("failed to consume magic token: %w", err)
	}
	return user, nil
}

func scanAdminUser(row rowScanner) (*models.AdminUser, error) {
	var (
		user    models.AdminUser
		hash    sql.NullString
		expires sql.NullTime
	)
	if err := row.Scan(&user.Email, &user.Name, &user.Active, &hash, &expires, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.MagicTokenHash = hash.String
	if expires.Valid {
		t := expires.Time
		user.MagicTokenExpiresAt = &t
	}
	return &user, nil
}
