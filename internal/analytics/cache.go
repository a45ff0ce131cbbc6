package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/keys"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
)

// Cached metric names.
const (
	MetricStats     = "stats"
	MetricPages     = "pages"
	MetricReferrers = "referrers"
	MetricHours     = "hours"
)

// CachedMetrics lists every metric the Precomputer writes.
var CachedMetrics = []string{MetricStats, MetricPages, MetricReferrers, MetricHours}

// cacheEntry is the stored form of one cached rollup.
type cacheEntry struct {
	Metric  string          `json:"metric"`
	BuiltAt time.Time       `json:"built_at"`
	Limit   int             `json:"limit,omitempty"`
	Result  json.RawMessage `json:"result"`
}

func cacheKey(domain, metric string, r Range) (string, string, error) {
	return keys.Build(keys.EntityCache, keys.Primary, keys.Values{
		"domain": domain,
		"metric": metric,
		"from":   r.FromDate(),
		"to":     r.ToDate(),
	})
}

// CacheItem renders a computed rollup into its cache item. limit records
// how many rows a list result holds; zero means the result is not a list.
func CacheItem(domain, metric string, r Range, builtAt time.Time, limit int, result any, ttl time.Duration) (db.Item, error) {
	pk, sk, err := cacheKey(domain, metric, r)
	if err != nil {
		return db.Item{}, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return db.Item{}, err
	}
	data, err := json.Marshal(cacheEntry{Metric: metric, BuiltAt: builtAt.UTC(), Limit: limit, Result: raw})
	if err != nil {
		return db.Item{}, err
	}
	return db.Item{PK: pk, SK: sk, Data: data, ExpiresAt: builtAt.Add(ttl).UTC()}, nil
}

// readCache decodes a cached rollup into out. It reports false when the
// entry is absent, older than CacheMaxAge, built with fewer rows than
// limit, or unreadable; the caller then computes from raw data. Cache
// failures never fail a query.
func (e *Engine) readCache(ctx context.Context, req Request, metric string, limit int, out any) bool {
	if e.cfg.CacheMaxAge <= 0 {
		return false
	}
	pk, sk, err := cacheKey(req.Domain, metric, req.Range)
	if err != nil {
		return false
	}
	item, err := e.store.GetItem(ctx, db.TableCache, pk, sk)
	if err != nil {
		if !errors.Is(err, db.ErrItemNotFound) {
			logger.Ctx(ctx).Warn("cache read failed", "metric", metric, "domain", req.Domain, "error", err)
		}
		return false
	}

	var entry cacheEntry
	if err := json.Unmarshal(item.Data, &entry); err != nil {
		logger.Ctx(ctx).Warn("cache entry unreadable", "metric", metric, "domain", req.Domain, "error", err)
		return false
	}
	if e.now().Sub(entry.BuiltAt) >= e.cfg.CacheMaxAge {
		return false
	}
	if limit > 0 && entry.Limit < limit {
		return false
	}
	if err := json.Unmarshal(entry.Result, out); err != nil {
		return false
	}
	return true
}
