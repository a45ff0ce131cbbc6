package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation limits for beacon fields and URL parameters
const (
	MaxSessionIDLength = 256  // Max client-generated session ID length
	MaxPathLength      = 2048 // Max tracked path length
	MaxDomainLength    = 253  // DNS limit
)

// domainRegex matches a lower-case DNS hostname with at least one dot.
var domainRegex = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)+$`)

// ValidateSessionID validates a client-supplied session ID
func ValidateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session_id is required")
	}
	if len(sessionID) > MaxSessionIDLength {
		return fmt.Errorf("session_id must be at most %d characters", MaxSessionIDLength)
	}
	if !utf8.ValidString(sessionID) {
		return fmt.Errorf("session_id must be valid UTF-8")
	}
	return nil
}

// ValidatePath validates a tracked page path
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must start with /")
	}
	if len(path) > MaxPathLength {
		return fmt.Errorf("path must be at most %d characters", MaxPathLength)
	}
	if !utf8.ValidString(path) {
		return fmt.Errorf("path must be valid UTF-8")
	}
	return nil
}

// NormalizeDomain lower-cases and trims a domain name.
func NormalizeDomain(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}

// IsValidDomain reports whether domain is a syntactically valid hostname.
func IsValidDomain(domain string) bool {
	if len(domain) == 0 || len(domain) > MaxDomainLength {
		return false
	}
	return domainRegex.MatchString(domain)
}
