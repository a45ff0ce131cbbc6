package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
)

// PrecomputeConfig holds configuration for the cache builder.
type PrecomputeConfig struct {
	Domains []string
	// WindowDays is the rolling window, ending today, that gets cached.
	WindowDays int
	// TTL is how long a cache item lives in the store.
	TTL time.Duration
	// ListLimit is the number of rows cached for list metrics.
	ListLimit int
}

// DefaultPrecomputeConfig caches 7 days for 2 hours, 50 rows per list.
func DefaultPrecomputeConfig(domains []string) PrecomputeConfig {
	return PrecomputeConfig{Domains: domains, WindowDays: 7, TTL: 2 * time.Hour, ListLimit: 50}
}

// Precomputer rebuilds the cache namespace from raw data. It is the only
// writer of cache items.
type Precomputer struct {
	engine *Engine
	store  db.Store
	config PrecomputeConfig
	now    func() time.Time
}

// BuildResult reports the outcome for one domain.
type BuildResult struct {
	Domain  string
	Metrics int
	Err     error
}

// NewPrecomputer creates a new Precomputer.
func NewPrecomputer(engine *Engine, store db.Store, config PrecomputeConfig) *Precomputer {
	if config.WindowDays < 1 {
		config.WindowDays = 7
	}
	if config.ListLimit < 1 {
		config.ListLimit = 50
	}
	return &Precomputer{engine: engine, store: store, config: config, now: time.Now}
}

// SetClock replaces the precomputer's clock.
func (p *Precomputer) SetClock(now func() time.Time) {
	p.now = now
}

// Window returns the range the next build will cache.
func (p *Precomputer) Window() Range {
	return DayRange(p.now(), p.config.WindowDays)
}

// BuildDomain recomputes every cached metric for one domain and writes
// them in a single batch. The metrics are computed in parallel.
func (p *Precomputer) BuildDomain(ctx context.Context, domain string) (int, error) {
	ctx, span := tracer.Start(ctx, "precompute.domain",
		trace.WithAttributes(attribute.String("domain", domain)))
	defer span.End()

	builtAt := p.now().UTC()
	req := Request{Domain: domain, Range: DayRange(builtAt, p.config.WindowDays)}
	if err := p.engine.check(req); err != nil {
		return 0, fail(span, err)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	errChan := make(chan error, len(CachedMetrics))
	items := make([]db.Item, 0, len(CachedMetrics))

	runAgg := func(metric string, limit int, fn func() (any, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := fn()
			if err != nil {
				errChan <- fmt.Errorf("%s: %w", metric, err)
				return
			}
			item, err := CacheItem(domain, metric, req.Range, builtAt, limit, result, p.config.TTL)
			if err != nil {
				errChan <- fmt.Errorf("%s: %w", metric, err)
				return
			}
			mu.Lock()
			items = append(items, item)
			mu.Unlock()
		}()
	}

	limit := p.config.ListLimit
	runAgg(MetricStats, 0, func() (any, error) { return p.engine.computeStats(ctx, req) })
	runAgg(MetricPages, limit, func() (any, error) { return p.engine.computePages(ctx, req, limit) })
	runAgg(MetricReferrers, limit, func() (any, error) { return p.engine.computeReferrers(ctx, req, limit) })
	runAgg(MetricHours, 0, func() (any, error) { return p.engine.computeHours(ctx, req) })

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return 0, fail(span, err)
		}
	}

	unprocessed, err := p.store.PutItems(ctx, db.TableCache, items)
	if err != nil {
		return len(items) - len(unprocessed), fail(span, fmt.Errorf("write cache: %w", err))
	}
	span.SetAttributes(attribute.Int("metrics.written", len(items)))
	return len(items), nil
}

// BuildAll rebuilds every configured domain. A failure in one domain is
// logged and does not stop the others.
func (p *Precomputer) BuildAll(ctx context.Context) []BuildResult {
	ctx, span := tracer.Start(ctx, "precompute.all",
		trace.WithAttributes(attribute.Int("domains", len(p.config.Domains))))
	defer span.End()

	results := make([]BuildResult, 0, len(p.config.Domains))
	failed := 0
	for _, domain := range p.config.Domains {
		if ctx.Err() != nil {
			results = append(results, BuildResult{Domain: domain, Err: ctx.Err()})
			failed++
			continue
		}
		start := time.Now()
		n, err := p.BuildDomain(ctx, domain)
		results = append(results, BuildResult{Domain: domain, Metrics: n, Err: err})
		if err != nil {
			failed++
			logger.Error("cache build failed", "domain", domain, "error", err)
			continue
		}
		logger.Info("cache built", "domain", domain, "metrics", n, "duration", time.Since(start))
	}

	span.SetAttributes(attribute.Int("domains.failed", failed))
	return results
}

// Purge deletes store items whose TTL has passed.
func (p *Precomputer) Purge(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "precompute.purge")
	defer span.End()

	n, err := p.store.DeleteExpired(ctx, p.now())
	if err != nil {
		return 0, fail(span, err)
	}
	span.SetAttributes(attribute.Int64("items.deleted", n))
	return n, nil
}
