package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
)

func newTestPrecomputer(e *Engine, store db.Store, domains ...string) *Precomputer {
	p := NewPrecomputer(e, store, DefaultPrecomputeConfig(domains))
	p.SetClock(fixedClock)
	return p
}

func TestPrecomputer_BuildDomainWritesEveryMetric(t *testing.T) {
	e, store := newTestEngine(t)
	var b eventBuilder
	putEvents(t, store,
		b.event(at(15, 9, 0, 0), "/", 200, "1.1.1.1"),
		b.event(at(10, 9, 0, 0), "/old", 200, "2.2.2.2"),
	)
	p := newTestPrecomputer(e, store, testDomain)

	n, err := p.BuildDomain(context.Background(), testDomain)
	require.NoError(t, err)
	assert.Equal(t, len(CachedMetrics), n)
	assert.Equal(t, len(CachedMetrics), store.Len(db.TableCache))

	window := p.Window()
	assert.Equal(t, "2025-01-09", window.FromDate())
	assert.Equal(t, "2025-01-15", window.ToDate())

	// A query for exactly the cached window is served from the cache,
	// even after more raw data arrives.
	putEvents(t, store, b.event(at(15, 10, 0, 0), "/late", 200, "3.3.3.3"))
	req := Request{Domain: testDomain, Range: window}
	stats, err := e.Stats(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRequests)

	pages, err := e.Pages(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, pages.Pages, 2)

	// Any other window is computed from raw data.
	stats, err = e.Stats(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRequests)
}

func TestPrecomputer_BuildAllContinuesPastFailures(t *testing.T) {
	e, store := newTestEngine(t)
	p := newTestPrecomputer(e, store, "unknown.com", testDomain, "other.com")

	results := p.BuildAll(context.Background())
	require.Len(t, results, 3)
	assert.True(t, errors.Is(results[0].Err, ErrDomainNotAllowed))
	assert.NoError(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, 2*len(CachedMetrics), store.Len(db.TableCache))
}

func TestPrecomputer_CancelledContext(t *testing.T) {
	e, store := newTestEngine(t)
	p := newTestPrecomputer(e, store, testDomain)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := p.BuildAll(ctx)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestPrecomputer_PurgeRemovesExpiredItems(t *testing.T) {
	e, store := newTestEngine(t)
	p := newTestPrecomputer(e, store, testDomain)
	_, err := p.BuildDomain(context.Background(), testDomain)
	require.NoError(t, err)

	later := testNow.Add(3 * time.Hour)
	p.SetClock(func() time.Time { return later })
	n, err := p.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(len(CachedMetrics)), n)
	assert.Zero(t, store.Len(db.TableCache))
}
