package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
	"github.com/outcomeops/outcomeops-analytics/internal/validation"
)

// AdminSpec is one configured admin.
type AdminSpec struct {
	Email  string
	Name   string
	Active bool
}

// ParseAdmins parses the ADMIN_USERS setting: a comma-separated list of
// "email:Name" entries. A leading "!" marks the admin inactive. The name
// defaults to the email's local part.
func ParseAdmins(raw string) ([]AdminSpec, error) {
	var specs []AdminSpec
	seen := make(map[string]bool)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		active := true
		if strings.HasPrefix(entry, "!") {
			active = false
			entry = strings.TrimPrefix(entry, "!")
		}
		addr, name, _ := strings.Cut(entry, ":")
		addr = validation.NormalizeEmail(addr)
		if !validation.IsValidEmail(addr) {
			return nil, fmt.Errorf("invalid admin email %q", addr)
		}
		if seen[addr] {
			return nil, fmt.Errorf("duplicate admin email %q", addr)
		}
		seen[addr] = true
		name = strings.TrimSpace(name)
		if name == "" {
			name, _, _ = strings.Cut(addr, "@")
		}
		specs = append(specs, AdminSpec{Email: addr, Name: name, Active: active})
	}
	return specs, nil
}

// BootstrapAdmins upserts the configured admins. It is idempotent and safe
// to run on every start.
func BootstrapAdmins(ctx context.Context, users db.AdminUsers, specs []AdminSpec) error {
	for _, s := range specs {
		if err := users.UpsertAdminUser(ctx, s.Email, s.Name, s.Active); err != nil {
			return fmt.Errorf("failed to upsert admin %s: %w", s.Email, err)
		}
		logger.Info("admin user configured", "email", s.Email, "active", s.Active)
	}
	return nil
}
