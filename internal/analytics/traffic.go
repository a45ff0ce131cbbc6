package analytics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/keys"
	"github.com/outcomeops/outcomeops-analytics/internal/models"
	"github.com/outcomeops/outcomeops-analytics/internal/validation"
)

// UnknownCountry groups Events without a country.
const UnknownCountry = "Unknown"

// Stats returns total requests, distinct client IPs and a per-day
// histogram covering every day of the range.
func (e *Engine) Stats(ctx context.Context, req Request) (*StatsResult, error) {
	ctx, span, err := e.begin(ctx, "stats", req)
	defer span.End()
	if err != nil {
		return nil, err
	}

	var cached StatsResult
	if e.readCache(ctx, req, MetricStats, 0, &cached) {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return &cached, nil
	}

	res, err := e.computeStats(ctx, req)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("total_requests", res.TotalRequests))
	return res, nil
}

func (e *Engine) computeStats(ctx context.Context, req Request) (*StatsResult, error) {
	events, err := e.loadEvents(ctx, req.Domain, req.Range)
	if err != nil {
		return nil, err
	}

	daily := make(map[string]int, req.Range.Days())
	for _, date := range req.Range.Dates() {
		daily[date] = 0
	}
	visitors := make(map[string]struct{})
	for _, ev := range events {
		daily[ev.Date()]++
		if ev.ClientIP != "" {
			visitors[ev.ClientIP] = struct{}{}
		}
	}

	return &StatsResult{
		Window:         windowOf(req),
		TotalRequests:  len(events),
		UniqueVisitors: len(visitors),
		Daily:          daily,
	}, nil
}

// Pages returns the most requested paths.
func (e *Engine) Pages(ctx context.Context, req Request) (*PagesResult, error) {
	ctx, span, err := e.begin(ctx, "pages", req)
	defer span.End()
	if err != nil {
		return nil, err
	}
	limit := req.limit(DefaultTopLimit)

	var cached PagesResult
	if e.readCache(ctx, req, MetricPages, limit, &cached) {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		if len(cached.Pages) > limit {
			cached.Pages = cached.Pages[:limit]
		}
		return &cached, nil
	}

	res, err := e.computePages(ctx, req, limit)
	if err != nil {
		return nil, fail(span, err)
	}
	return res, nil
}

func (e *Engine) computePages(ctx context.Context, req Request, limit int) (*PagesResult, error) {
	events, err := e.loadEvents(ctx, req.Domain, req.Range)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, ev := range events {
		counts[ev.Path]++
	}
	return &PagesResult{Window: windowOf(req), Pages: pathCounts(counts, limit)}, nil
}

// Referrers returns the external referrer domains sending the most
// requests. Requests without a referrer domain are not counted.
func (e *Engine) Referrers(ctx context.Context, req Request) (*ReferrersResult, error) {
	ctx, span, err := e.begin(ctx, "referrers", req)
	defer span.End()
	if err != nil {
		return nil, err
	}
	limit := req.limit(DefaultTopLimit)

	var cached ReferrersResult
	if e.readCache(ctx, req, MetricReferrers, limit, &cached) {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		if len(cached.Referrers) > limit {
			cached.Referrers = cached.Referrers[:limit]
		}
		return &cached, nil
	}

	res, err := e.computeReferrers(ctx, req, limit)
	if err != nil {
		return nil, fail(span, err)
	}
	return res, nil
}

func (e *Engine) computeReferrers(ctx context.Context, req Request, limit int) (*ReferrersResult, error) {
	events, err := e.loadEvents(ctx, req.Domain, req.Range)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, ev := range events {
		if ev.ReferrerDomain != "" {
			counts[ev.ReferrerDomain]++
		}
	}
	ranked := rank(counts, limit)
	out := make([]ReferrerCount, 0, len(ranked))
	for _, kc := range ranked {
		out = append(out, ReferrerCount{Domain: kc.key, Count: kc.count})
	}
	return &ReferrersResult{Window: windowOf(req), Referrers: out}, nil
}

// Hours groups requests by UTC hour of day regardless of date.
func (e *Engine) Hours(ctx context.Context, req Request) (*HoursResult, error) {
	ctx, span, err := e.begin(ctx, "hours", req)
	defer span.End()
	if err != nil {
		return nil, err
	}

	var cached HoursResult
	if e.readCache(ctx, req, MetricHours, 0, &cached) {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return &cached, nil
	}

	res, err := e.computeHours(ctx, req)
	if err != nil {
		return nil, fail(span, err)
	}
	return res, nil
}

func (e *Engine) computeHours(ctx context.Context, req Request) (*HoursResult, error) {
	events, err := e.loadEvents(ctx, req.Domain, req.Range)
	if err != nil {
		return nil, err
	}

	var counts [24]int
	for _, ev := range events {
		counts[ev.Timestamp.UTC().Hour()]++
	}

	hourly := make(map[string]int, 24)
	peak := 0
	for h, c := range counts {
		hourly[hourLabel(h)] = c
		if c > counts[peak] {
			peak = h
		}
	}
	return &HoursResult{
		Window:   windowOf(req),
		Hourly:   hourly,
		PeakHour: hourLabel(peak),
		Total:    len(events),
	}, nil
}

func hourLabel(h int) string {
	return fmt.Sprintf("%02d", h)
}

// Countries groups requests by the edge-reported country.
func (e *Engine) Countries(ctx context.Context, req Request) (*CountriesResult, error) {
	ctx, span, err := e.begin(ctx, "countries", req)
	defer span.End()
	if err != nil {
		return nil, err
	}

	events, err := e.loadEvents(ctx, req.Domain, req.Range)
	if err != nil {
		return nil, fail(span, err)
	}
	counts := make(map[string]int)
	for _, ev := range events {
		c := ev.Country
		if c == "" {
			c = UnknownCountry
		}
		counts[c]++
	}
	ranked := rank(counts, req.limit(DefaultTopLimit))
	out := make([]CountryCount, 0, len(ranked))
	for _, kc := range ranked {
		out = append(out, CountryCount{Country: kc.key, Count: kc.count})
	}
	return &CountriesResult{Window: windowOf(req), Countries: out}, nil
}

// endOfDay is an inclusive sort-key bound for a date; '~' sorts after any
// time suffix.
func endOfDay(date string) string {
	return date + "~"
}

// PathHits returns per-day hits for one path using the path index.
func (e *Engine) PathHits(ctx context.Context, req Request, path string) (*PathHitsResult, error) {
	ctx, span, err := e.begin(ctx, "path_hits", req)
	defer span.End()
	if err != nil {
		return nil, err
	}
	if err := validation.ValidatePath(path); err != nil {
		return nil, fail(span, fmt.Errorf("%w: %v", ErrInvalidParameter, err))
	}
	span.SetAttributes(attribute.String("path", path))

	pk, err := keys.Partition(keys.EntityEvent, keys.GSI1, keys.Values{"domain": req.Domain, "path": path})
	if err != nil {
		return nil, fail(span, err)
	}
	items, err := e.store.Query(ctx, db.Query{
		Table:      db.TableEvents,
		Index:      keys.GSI1,
		Partitions: []string{pk},
		SortFrom:   req.Range.FromDate(),
		SortTo:     endOfDay(req.Range.ToDate()),
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("query path hits: %w", err))
	}
	events, err := decodeItems[models.Event](items)
	if err != nil {
		return nil, fail(span, err)
	}

	daily := make(map[string]int, req.Range.Days())
	for _, date := range req.Range.Dates() {
		daily[date] = 0
	}
	for _, ev := range events {
		daily[ev.Date()]++
	}
	return &PathHitsResult{Window: windowOf(req), Path: path, Total: len(events), Daily: daily}, nil
}

// ReferrerLandings returns the paths visitors from one referrer domain
// landed on, using the referrer index.
func (e *Engine) ReferrerLandings(ctx context.Context, req Request, referrer string) (*LandingsResult, error) {
	ctx, span, err := e.begin(ctx, "referrer_landings", req)
	defer span.End()
	if err != nil {
		return nil, err
	}
	referrer = validation.NormalizeHost(referrer)
	if referrer == "" {
		return nil, fail(span, fmt.Errorf("%w: referrer is required", ErrInvalidParameter))
	}
	span.SetAttributes(attribute.String("referrer", referrer))

	pk, err := keys.Partition(keys.EntityEvent, keys.GSI2, keys.Values{"domain": req.Domain, "referrer_domain": referrer})
	if err != nil {
		return nil, fail(span, err)
	}
	items, err := e.store.Query(ctx, db.Query{
		Table:      db.TableEvents,
		Index:      keys.GSI2,
		Partitions: []string{pk},
		SortFrom:   req.Range.FromDate(),
		SortTo:     endOfDay(req.Range.ToDate()),
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("query referrer landings: %w", err))
	}
	events, err := decodeItems[models.Event](items)
	if err != nil {
		return nil, fail(span, err)
	}

	counts := make(map[string]int)
	for _, ev := range events {
		counts[ev.Path]++
	}
	return &LandingsResult{
		Window:   windowOf(req),
		Referrer: referrer,
		Total:    len(events),
		Landings: pathCounts(counts, req.limit(DefaultTopLimit)),
	}, nil
}
