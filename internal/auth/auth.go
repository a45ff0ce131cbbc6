// Package auth gates the dashboard API behind magic-link login. Admins
// request a one-time link by email, exchange it for a signed access token,
// and present that token as a Bearer credential on every analytics call.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/outcomeops/outcomeops-analytics/internal/logger"
)

var (
	// ErrInvalidToken covers every reason a credential is refused: bad
	// signature, expiry, replay, unknown or deactivated admin.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrMissingEmail is returned when a login link is requested without a
	// usable address.
	ErrMissingEmail = errors.New("missing email")
)

type contextKey string

const adminContextKey contextKey = "admin"

// GenerateToken generates a random URL-safe token.
// Returns both the raw token (to give to the user) and the hash (to store).
func GenerateToken() (string, string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(bytes)
	return raw, HashToken(raw), nil
}

// HashToken hashes a raw token for storage and lookup
func HashToken(raw string) string {
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", hash)
}

// Middleware returns an HTTP middleware that requires a valid access token.
// Every failure produces the same 401 body.
func Middleware(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}

			claims, err := tokens.Parse(raw)
			if err != nil {
				logger.Ctx(r.Context()).Debug("access token rejected", "error", err)
				unauthorized(w)
				return
			}

			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("admin.email", claims.Email))
			ctx := context.WithValue(r.Context(), adminContextKey, claims)
			ctx = logger.WithLogger(ctx, logger.Ctx(ctx).With("admin", claims.Email))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdmin extracts the authenticated admin's claims from request context
func GetAdmin(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(adminContextKey).(*Claims)
	return claims, ok
}

// Expected format: "Bearer <token>"
func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}
