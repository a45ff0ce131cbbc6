// Package analytics is the read side of the platform: every dashboard
// metric is derived here from raw Events and Session Events. Nothing in
// this package writes Events or Session Events; the only write is the
// cache namespace, done by the Precomputer.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/keys"
	"github.com/outcomeops/outcomeops-analytics/internal/models"
)

var tracer = otel.Tracer("analytics/analytics")

var (
	ErrInvalidRange     = errors.New("invalid date range")
	ErrDomainNotAllowed = errors.New("domain not allowed")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Default list sizes.
const (
	DefaultTopLimit     = 10
	DefaultSessionLimit = 50
	topNotFoundPaths    = 20
	recentHallucination = 10
)

// DirectReferrer labels sessions without an external referrer.
const DirectReferrer = "(direct)"

// DefaultBlogPattern matches entry pages under /blog or /blogs.
var DefaultBlogPattern = regexp.MustCompile(`^/blogs?(/|$)`)

// Config holds the query policy. Thresholds are configuration, not code.
type Config struct {
	Domains           []string
	SessionTimeout    time.Duration
	BounceMaxSeconds  int
	EngagedMinSeconds int
	BlogPattern       *regexp.Regexp
	Patterns          *PatternSet
	// WindowDays is the default query range and the cache builder window.
	WindowDays   int
	MaxRangeDays int
	// CacheMaxAge bounds how old a cached rollup may be. Zero disables
	// cache reads.
	CacheMaxAge time.Duration
}

// DefaultConfig returns the standard policy for the given domains.
func DefaultConfig(domains []string) Config {
	return Config{
		Domains:           domains,
		SessionTimeout:    30 * time.Minute,
		BounceMaxSeconds:  10,
		EngagedMinSeconds: 30,
		BlogPattern:       DefaultBlogPattern,
		Patterns:          DefaultPatterns(),
		WindowDays:        7,
		MaxRangeDays:      92,
		CacheMaxAge:       2 * time.Hour,
	}
}

// Engine answers the dashboard queries.
type Engine struct {
	store   db.Store
	cfg     Config
	domains map[string]bool
	now     func() time.Time
}

// NewEngine creates an Engine over the store.
func NewEngine(store db.Store, cfg Config) *Engine {
	if cfg.BlogPattern == nil {
		cfg.BlogPattern = DefaultBlogPattern
	}
	if cfg.Patterns == nil {
		cfg.Patterns = DefaultPatterns()
	}
	if cfg.WindowDays < 1 {
		cfg.WindowDays = 7
	}
	domains := make(map[string]bool, len(cfg.Domains))
	for _, d := range cfg.Domains {
		domains[d] = true
	}
	return &Engine{store: store, cfg: cfg, domains: domains, now: time.Now}
}

// SetClock replaces the engine's clock.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Config returns the engine's policy.
func (e *Engine) Config() Config {
	return e.cfg
}

// Allowed reports whether domain is a tracked domain.
func (e *Engine) Allowed(domain string) bool {
	return e.domains[domain]
}

// ParseRange parses from/to query values with the engine's defaults.
func (e *Engine) ParseRange(from, to string) (Range, error) {
	return ParseRange(from, to, e.now(), e.cfg.WindowDays, e.cfg.MaxRangeDays)
}

func (e *Engine) check(req Request) error {
	if !e.Allowed(req.Domain) {
		return fmt.Errorf("%w: %s", ErrDomainNotAllowed, req.Domain)
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || req.Range.From.After(req.Range.To) {
		return ErrInvalidRange
	}
	return nil
}

// begin validates the request and opens the span for one query.
func (e *Engine) begin(ctx context.Context, name string, req Request) (context.Context, trace.Span, error) {
	ctx, span := tracer.Start(ctx, "analytics."+name,
		trace.WithAttributes(
			attribute.String("domain", req.Domain),
			attribute.String("from", req.Range.FromDate()),
			attribute.String("to", req.Range.ToDate()),
		))
	if err := e.check(req); err != nil {
		return ctx, span, fail(span, err)
	}
	return ctx, span, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// loadEvents reads every Event of the domain in the range from the
// per-day partitions.
func (e *Engine) loadEvents(ctx context.Context, domain string, r Range) ([]models.Event, error) {
	parts := make([]string, 0, r.Days())
	for _, date := range r.Dates() {
		pk, err := keys.Partition(keys.EntityEvent, keys.Primary, keys.Values{"domain": domain, "date": date})
		if err != nil {
			return nil, err
		}
		parts = append(parts, pk)
	}
	items, err := e.store.Query(ctx, db.Query{Table: db.TableEvents, Index: keys.Primary, Partitions: parts})
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return decodeItems[models.Event](items)
}

// loadSessionEvents reads every Session Event of the domain in the range
// through the domain/date index.
func (e *Engine) loadSessionEvents(ctx context.Context, domain string, r Range) ([]models.SessionEvent, error) {
	parts := make([]string, 0, r.Days())
	for _, date := range r.Dates() {
		pk, err := keys.Partition(keys.EntitySessionEvent, keys.GSI1, keys.Values{"domain": domain, "date": date})
		if err != nil {
			return nil, err
		}
		parts = append(parts, pk)
	}
	items, err := e.store.Query(ctx, db.Query{Table: db.TableSessions, Index: keys.GSI1, Partitions: parts})
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	return decodeItems[models.SessionEvent](items)
}

func (e *Engine) loadSessions(ctx context.Context, domain string, r Range) ([]Session, error) {
	events, err := e.loadSessionEvents(ctx, domain, r)
	if err != nil {
		return nil, err
	}
	return Reconstruct(events, e.cfg.SessionTimeout), nil
}

func decodeItems[T any](items []db.Item) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, it := range items {
		var v T
		if err := json.Unmarshal(it.Data, &v); err != nil {
			return nil, fmt.Errorf("decode item %s/%s: %w", it.PK, it.SK, err)
		}
		out = append(out, v)
	}
	return out, nil
}

type keyCount struct {
	key   string
	count int
}

// rank orders counts descending (ties by key) and keeps at most limit.
func rank(counts map[string]int, limit int) []keyCount {
	out := make([]keyCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, keyCount{k, c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func pathCounts(counts map[string]int, limit int) []PathCount {
	ranked := rank(counts, limit)
	out := make([]PathCount, 0, len(ranked))
	for _, kc := range ranked {
		out = append(out, PathCount{Path: kc.key, Count: kc.count})
	}
	return out
}

// percent is part/whole as a percentage rounded to one decimal place.
// A zero whole yields 0.
func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	v, _ := decimal.NewFromInt(int64(part)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(whole))).
		Round(1).
		Float64()
	return v
}

// ratio is a/b rounded to places decimals; 0 when b is 0.
func ratio(a, b int, places int32) float64 {
	if b == 0 {
		return 0
	}
	v, _ := decimal.NewFromInt(int64(a)).Div(decimal.NewFromInt(int64(b))).Round(places).Float64()
	return v
}

// meanSeconds is total/n rounded to whole seconds.
func meanSeconds(total, n int) int {
	if n == 0 {
		return 0
	}
	return int(decimal.NewFromInt(int64(total)).Div(decimal.NewFromInt(int64(n))).Round(0).IntPart())
}
