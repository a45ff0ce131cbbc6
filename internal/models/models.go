// Package models holds the record types shared by ingestion, storage and
// the query engine.
package models

import "time"

// Event is one recorded server-side HTTP request, parsed from an access log
// line. Events are written once and never mutated.
type Event struct {
	Domain         string    `json:"domain"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id"`
	ClientIP       string    `json:"client_ip,omitempty"`
	Method         string    `json:"method,omitempty"`
	Path           string    `json:"path"`
	Status         int       `json:"status"`
	Referrer       string    `json:"referrer,omitempty"`
	ReferrerDomain string    `json:"referrer_domain,omitempty"`
	Country        string    `json:"country,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
}

// Date returns the UTC calendar day of the event (YYYY-MM-DD).
func (e Event) Date() string {
	return e.Timestamp.UTC().Format(DateLayout)
}

// Session event types recognised by the query engine. Other types are
// stored verbatim.
const (
	EventTypePageview   = "pageview"
	EventTypeNavigation = "navigation"
	EventTypeScroll     = "scroll"
	EventTypeTimeOnPage = "time_on_page"
	EventTypeStart      = "session_start"
	EventTypeEnd        = "session_end"
	EventTypeNotFound   = "not_found"
)

// KnownEventTypes lists every event type the server understands.
var KnownEventTypes = map[string]bool{
	EventTypePageview:   true,
	EventTypeNavigation: true,
	EventTypeScroll:     true,
	EventTypeTimeOnPage: true,
	EventTypeStart:      true,
	EventTypeEnd:        true,
	EventTypeNotFound:   true,
}

// IsPageEvent reports whether the event type counts as a page visit.
func IsPageEvent(eventType string) bool {
	return eventType == EventTypePageview || eventType == EventTypeNavigation
}

// DateLayout is the partition date format.
const DateLayout = "2006-01-02"

// TrackingEvent is the wire shape of one client-side beacon.
type TrackingEvent struct {
	SessionID      string   `json:"session_id"`
	EventID        string   `json:"event_id,omitempty"`
	EventType      string   `json:"event_type"`
	Domain         string   `json:"domain"`
	Path           string   `json:"path"`
	Timestamp      string   `json:"timestamp"`
	Referrer       string   `json:"referrer,omitempty"`
	PreviousPath   string   `json:"previous_path,omitempty"`
	ScrollDepth    *float64 `json:"scroll_depth,omitempty"`
	TimeOnPage     *float64 `json:"time_on_page,omitempty"`
	UserAgent      string   `json:"user_agent,omitempty"`
	ScreenWidth    *int     `json:"screen_width,omitempty"`
	ScreenHeight   *int     `json:"screen_height,omitempty"`
	ViewportWidth  *int     `json:"viewport_width,omitempty"`
	ViewportHeight *int     `json:"viewport_height,omitempty"`
	IsAIPattern    *bool    `json:"is_ai_pattern,omitempty"`
	MatchedPattern string   `json:"matched_pattern,omitempty"`
}

// SessionEvent is one stored client-side beacon after validation and
// normalisation. Session aggregates are always derived from these.
type SessionEvent struct {
	SessionID      string    `json:"session_id"`
	EventKey       string    `json:"event_key"`
	EventType      string    `json:"event_type"`
	Domain         string    `json:"domain"`
	Path           string    `json:"path"`
	Timestamp      time.Time `json:"timestamp"`
	Referrer       string    `json:"referrer,omitempty"`
	PreviousPath   string    `json:"previous_path,omitempty"`
	ScrollDepth    *int      `json:"scroll_depth,omitempty"`
	TimeOnPage     *int      `json:"time_on_page,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	ScreenWidth    *int      `json:"screen_width,omitempty"`
	ScreenHeight   *int      `json:"screen_height,omitempty"`
	ViewportWidth  *int      `json:"viewport_width,omitempty"`
	ViewportHeight *int      `json:"viewport_height,omitempty"`
	IsAIPattern    *bool     `json:"is_ai_pattern,omitempty"`
	MatchedPattern string    `json:"matched_pattern,omitempty"`
}

// Date returns the UTC calendar day of the event (YYYY-MM-DD).
func (e SessionEvent) Date() string {
	return e.Timestamp.UTC().Format(DateLayout)
}

// AdminUser is a dashboard operator. Admin users come from configuration;
// the auth flow only touches the magic-link token fields.
type AdminUser struct {
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	Active              bool       `json:"active"`
	MagicTokenHash      string     `json:"-"`
	MagicTokenExpiresAt *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
