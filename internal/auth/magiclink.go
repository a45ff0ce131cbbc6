package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/email"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
	"github.com/outcomeops/outcomeops-analytics/internal/models"
	"github.com/outcomeops/outcomeops-analytics/internal/validation"
)

var tracer = otel.Tracer("analytics/auth")

// DefaultMagicLinkTTL is how long an emailed login link stays usable.
const DefaultMagicLinkTTL = 15 * time.Minute

// RequestMessage is the only answer a login-link request ever gets, so the
// endpoint cannot be used to discover admin addresses.
const RequestMessage = "If you are an admin, check your email"

// Session is the result of a successful magic-link exchange.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
	User        models.AdminUser
}

// MagicLinks implements the request/verify halves of the login flow.
type MagicLinks struct {
	users        db.AdminUsers
	sender       email.Service
	tokens       *Tokens
	dashboardURL string
	ttl          time.Duration
	now          func() time.Time
}

// NewMagicLinks wires the login flow. dashboardURL is the dashboard origin;
// links point at its /login page.
func NewMagicLinks(users db.AdminUsers, sender email.Service, tokens *Tokens, dashboardURL string, ttl time.Duration) *MagicLinks {
	if ttl <= 0 {
		ttl = DefaultMagicLinkTTL
	}
	return &MagicLinks{
		users:        users,
		sender:       sender,
		tokens:       tokens,
		dashboardURL: strings.TrimRight(dashboardURL, "/"),
		ttl:          ttl,
		now:          time.Now,
	}
}

// SetClock overrides the time source.
func (m *MagicLinks) SetClock(now func() time.Time) { m.now = now }

// Request emails a login link when addr belongs to an active admin. Unknown
// and inactive addresses succeed silently. Only a malformed address or a
// failed admin lookup is reported.
func (m *MagicLinks) Request(ctx context.Context, addr string) error {
	ctx, span := tracer.Start(ctx, "auth.request_magic_link")
	defer span.End()
	log := logger.Ctx(ctx)

	addr = validation.NormalizeEmail(addr)
	if addr == "" || !validation.IsValidEmail(addr) {
		return ErrMissingEmail
	}

	user, err := m.users.GetAdminUser(ctx, addr)
	if errors.Is(err, db.ErrAdminUserNotFound) {
		log.Info("magic link requested for non-admin")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "admin lookup failed")
		return fmt.Errorf("failed to look up admin: %w", err)
	}
	if !user.Active {
		log.Info("magic link requested for inactive admin", "email", user.Email)
		return nil
	}
	span.SetAttributes(attribute.String("admin.email", user.Email))

	raw, hash, err := GenerateToken()
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := m.users.SetMagicToken(ctx, user.Email, hash, m.now().Add(m.ttl)); err != nil {
		// Reporting this would reveal that the address is an admin.
		span.RecordError(err)
		log.Error("failed to store magic link token", "email", user.Email, "error", err)
		return nil
	}

	params := email.MagicLinkParams{
		ToEmail:   user.Email,
		Name:      user.Name,
		LoginURL:  m.dashboardURL + "/login?token=" + url.QueryEscape(raw),
		ExpiresIn: m.ttl,
	}
	if err := m.sender.SendMagicLink(ctx, params); err != nil {
		span.RecordError(err)
		log.Error("failed to send magic link", "email", user.Email, "error", err)
		return nil
	}
	log.Info("magic link sent", "email", user.Email)
	return nil
}

// Verify exchanges a raw magic-link token for an access token. A token is
// accepted at most once.
func (m *MagicLinks) Verify(ctx context.Context, raw string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "auth.verify_magic_link")
	defer span.End()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}

	user, err := m.users.ConsumeMagicToken(ctx, HashToken(raw), m.now())
	if errors.Is(err, db.ErrMagicTokenInvalid) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token lookup failed")
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}
	if !user.Active {
		logger.Ctx(ctx).Warn("magic link used by inactive admin", "email", user.Email)
		return nil, ErrInvalidToken
	}

	access, expiresAt, err := m.tokens.Issue(*user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token issue failed")
		return nil, err
	}
	logger.Ctx(ctx).Info("admin logged in", "email", user.Email)
	return &Session{AccessToken: access, ExpiresAt: expiresAt, User: *user}, nil
}
