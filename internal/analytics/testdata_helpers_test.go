package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/logparser"
	"github.com/outcomeops/outcomeops-analytics/internal/models"
	"github.com/outcomeops/outcomeops-analytics/internal/tracking"
)

const testDomain = "example.com"

var testNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func at(d, h, m, s int) time.Time {
	return time.Date(2025, 1, d, h, m, s, 0, time.UTC)
}

func testRequest() Request {
	return Request{Domain: testDomain, Range: Range{From: day(13), To: day(15)}}
}

func newTestEngine(t *testing.T) (*Engine, *db.MemoryStore) {
	t.Helper()
	store := db.NewMemoryStore()
	store.SetClock(fixedClock)
	e := NewEngine(store, DefaultConfig([]string{testDomain, "other.com"}))
	e.SetClock(fixedClock)
	return e, store
}

// eventBuilder produces Events with unique request ids.
type eventBuilder struct {
	seq int
}

func (b *eventBuilder) event(ts time.Time, path string, status int, ip string) models.Event {
	b.seq++
	return models.Event{
		Domain:    testDomain,
		Timestamp: ts,
		RequestID: fmt.Sprintf("req-%03d", b.seq),
		ClientIP:  ip,
		Method:    "GET",
		Path:      path,
		Status:    status,
	}
}

func putEvents(t *testing.T, store db.Store, events ...models.Event) {
	t.Helper()
	items := make([]db.Item, 0, len(events))
	for _, ev := range events {
		it, err := logparser.EventItem(ev, 90*24*time.Hour)
		require.NoError(t, err)
		items = append(items, it)
	}
	for start := 0; start < len(items); start += db.MaxBatchSize {
		end := min(start+db.MaxBatchSize, len(items))
		_, err := store.PutItems(context.Background(), db.TableEvents, items[start:end])
		require.NoError(t, err)
	}
}

func beacon(session, eventType, path string, ts time.Time) models.TrackingEvent {
	return models.TrackingEvent{
		SessionID: session,
		EventType: eventType,
		Domain:    testDomain,
		Path:      path,
		Timestamp: ts.Format(time.RFC3339),
	}
}

func withReferrer(ev models.TrackingEvent, referrer string) models.TrackingEvent {
	ev.Referrer = referrer
	return ev
}

// track stores beacons through the real ingest path.
func track(t *testing.T, store db.Store, events ...models.TrackingEvent) {
	t.Helper()
	in := tracking.NewIngester(store, []string{testDomain, "other.com"}, 0)
	in.SetClock(fixedClock)
	res := in.Ingest(context.Background(), events)
	require.Empty(t, res.Errors)
	require.Equal(t, len(events), res.Written)
}
