package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/keys"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
	"github.com/outcomeops/outcomeops-analytics/internal/models"
	"github.com/outcomeops/outcomeops-analytics/internal/validation"
)

var tracer = otel.Tracer("analytics/tracking")

// MaxBatchEvents is the most events one batch request may carry.
const MaxBatchEvents = 100

// Result summarises one ingest call.
type Result struct {
	Written int      `json:"written"`
	Dropped int      `json:"-"`
	Errors  []string `json:"-"`
}

// Ingester writes validated beacons to the session store.
type Ingester struct {
	store     db.Store
	allowed   map[string]bool
	retention time.Duration
	now       func() time.Time
}

// NewIngester creates an Ingester for the given allowed domains.
func NewIngester(store db.Store, allowedDomains []string, retention time.Duration) *Ingester {
	allowed := make(map[string]bool, len(allowedDomains))
	for _, d := range allowedDomains {
		allowed[validation.NormalizeDomain(d)] = true
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &Ingester{store: store, allowed: allowed, retention: retention, now: time.Now}
}

// SetClock replaces the clock used to reject far-future timestamps.
func (in *Ingester) SetClock(now func() time.Time) {
	in.now = now
}

// Allowed reports whether domain is tracked.
func (in *Ingester) Allowed(domain string) bool {
	return in.allowed[validation.NormalizeDomain(domain)]
}

// Ingest validates and stores events. Invalid events are reported in
// Errors; store failures are logged and counted as Dropped but never
// returned, since tracking must not break the tracked site.
func (in *Ingester) Ingest(ctx context.Context, events []models.TrackingEvent) Result {
	ctx, span := tracer.Start(ctx, "tracking.ingest")
	defer span.End()

	var res Result
	now := in.now()
	items := make([]db.Item, 0, len(events))
	for _, ev := range events {
		se, err := Normalize(ev, in.allowed, now)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		item, err := SessionEventItem(se, in.retention)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		items = append(items, item)
	}

	for start := 0; start < len(items); start += db.MaxBatchSize {
		end := min(start+db.MaxBatchSize, len(items))
		chunk := items[start:end]
		unprocessed, err := in.store.PutItems(ctx, db.TableSessions, chunk)
		if err != nil {
			logger.Ctx(ctx).Warn("session event write failed", "items", len(chunk), "error", err)
		}
		res.Dropped += len(unprocessed)
		res.Written += len(chunk) - len(unprocessed)
	}

	span.SetAttributes(
		attribute.Int("events.received", len(events)),
		attribute.Int("events.written", res.Written),
		attribute.Int("events.invalid", len(res.Errors)),
		attribute.Int("events.dropped", res.Dropped),
	)
	return res
}

// SessionEventItem renders a SessionEvent into its store item.
func SessionEventItem(se models.SessionEvent, retention time.Duration) (db.Item, error) {
	ts := se.Timestamp.UTC().Format(TimestampLayout)
	vals := keys.Values{
		"session_id": se.SessionID,
		"timestamp":  ts,
		"event_key":  se.EventKey,
		"domain":     se.Domain,
		"date":       se.Date(),
		"path":       se.Path,
	}

	var it db.Item
	var err error
	if it.PK, it.SK, err = keys.Build(keys.EntitySessionEvent, keys.Primary, vals); err != nil {
		return db.Item{}, err
	}
	if it.GSI1PK, it.GSI1SK, err = keys.Build(keys.EntitySessionEvent, keys.GSI1, vals); err != nil {
		return db.Item{}, err
	}
	if it.GSI2PK, it.GSI2SK, err = keys.Build(keys.EntitySessionEvent, keys.GSI2, vals); err != nil {
		return db.Item{}, err
	}
	if it.Data, err = json.Marshal(se); err != nil {
		return db.Item{}, err
	}
	it.ExpiresAt = se.Timestamp.Add(retention).UTC()
	return it, nil
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
