// Package tracking validates client-side beacons and stores them as
// Session Events. Nothing here aggregates; sessions are derived at read
// time.
package tracking

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/outcomeops/outcomeops-analytics/internal/models"
	"github.com/outcomeops/outcomeops-analytics/internal/validation"
)

// TimestampLayout is the fixed-width UTC form used in sort keys, so that
// lexical order equals time order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// MaxFutureSkew is how far ahead of the server clock a client timestamp
// may be.
const MaxFutureSkew = 24 * time.Hour

// ValidationError is a rejected beacon. Its message is safe to return to
// the client.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Normalize validates one beacon against the allowed domains and converts
// it to a SessionEvent. Unknown event types are kept verbatim.
func Normalize(ev models.TrackingEvent, allowed map[string]bool, now time.Time) (models.SessionEvent, error) {
	switch {
	case ev.SessionID == "":
		return models.SessionEvent{}, invalid("Missing required field: session_id")
	case ev.EventType == "":
		return models.SessionEvent{}, invalid("Missing required field: event_type")
	case ev.Domain == "":
		return models.SessionEvent{}, invalid("Missing required field: domain")
	case ev.Path == "":
		return models.SessionEvent{}, invalid("Missing required field: path")
	case ev.Timestamp == "":
		return models.SessionEvent{}, invalid("Missing required field: timestamp")
	}

	domain := validation.NormalizeDomain(ev.Domain)
	if !allowed[domain] {
		return models.SessionEvent{}, invalid("Domain not allowed: %s", ev.Domain)
	}
	if err := validation.ValidateSessionID(ev.SessionID); err != nil {
		return models.SessionEvent{}, invalid("%v", err)
	}
	if err := validation.ValidatePath(ev.Path); err != nil {
		return models.SessionEvent{}, invalid("%v", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
	if err != nil {
		return models.SessionEvent{}, invalid("Invalid timestamp: %s", ev.Timestamp)
	}
	ts = ts.UTC().Truncate(time.Millisecond)
	if ts.After(now.Add(MaxFutureSkew)) {
		return models.SessionEvent{}, invalid("Timestamp too far in the future: %s", ev.Timestamp)
	}

	eventType := strings.TrimSpace(ev.EventType)
	out := models.SessionEvent{
		SessionID:      ev.SessionID,
		EventKey:       eventKey(ev.EventID, eventType),
		EventType:      eventType,
		Domain:         domain,
		Path:           ev.Path,
		Timestamp:      ts,
		Referrer:       ev.Referrer,
		PreviousPath:   ev.PreviousPath,
		ScrollDepth:    roundPtr(ev.ScrollDepth),
		TimeOnPage:     roundPtr(ev.TimeOnPage),
		UserAgent:      ev.UserAgent,
		ScreenWidth:    ev.ScreenWidth,
		ScreenHeight:   ev.ScreenHeight,
		ViewportWidth:  ev.ViewportWidth,
		ViewportHeight: ev.ViewportHeight,
		IsAIPattern:    ev.IsAIPattern,
		MatchedPattern: ev.MatchedPattern,
	}
	if out.ScrollDepth != nil {
		d := min(max(*out.ScrollDepth, 0), 100)
		out.ScrollDepth = &d
	}
	return out, nil
}

// keyEscaper percent-encodes the key separator. '%' is encoded too so
// distinct ids never map to the same key.
var keyEscaper = strings.NewReplacer("%", "%25", "#", "%23")

// eventKey is the client event_id when present, else the event type.
func eventKey(eventID, eventType string) string {
	key := strings.TrimSpace(eventID)
	if key == "" {
		key = eventType
	}
	return keyEscaper.Replace(key)
}

func roundPtr(f *float64) *int {
	if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) {
		return nil
	}
	v := int(math.Round(*f))
	if v < 0 {
		v = 0
	}
	return &v
}
