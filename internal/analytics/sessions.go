package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/keys"
	"github.com/outcomeops/outcomeops-analytics/internal/models"
	"github.com/outcomeops/outcomeops-analytics/internal/validation"
)

// Session is the aggregate derived from one browser session's events.
// A session_id whose events contain a gap longer than the session timeout
// yields one Session per segment, numbered from 0.
type Session struct {
	SessionID string
	Segment   int
	Domain    string
	// Events are ordered by timestamp.
	Events    []models.SessionEvent
	Start     time.Time
	End       time.Time
	EntryPage string
	ExitPage  string
	PageCount int
	// Duration is End - Start in whole seconds.
	Duration int
	// Referrer is the raw referrer of the first page event.
	Referrer string
}

// Pages returns the pageview and navigation events in order.
func (s Session) Pages() []models.SessionEvent {
	var out []models.SessionEvent
	for _, ev := range s.Events {
		if models.IsPageEvent(ev.EventType) {
			out = append(out, ev)
		}
	}
	return out
}

// Reconstruct groups events by session_id, orders each group by
// timestamp and splits it where consecutive events are more than timeout
// apart. A zero timeout never splits. Sessions are returned ordered by
// start time.
func Reconstruct(events []models.SessionEvent, timeout time.Duration) []Session {
	groups := make(map[string][]models.SessionEvent)
	for _, ev := range events {
		groups[ev.SessionID] = append(groups[ev.SessionID], ev)
	}

	var out []Session
	for id, evs := range groups {
		sort.SliceStable(evs, func(i, j int) bool {
			if !evs[i].Timestamp.Equal(evs[j].Timestamp) {
				return evs[i].Timestamp.Before(evs[j].Timestamp)
			}
			return evs[i].EventKey < evs[j].EventKey
		})

		segment := 0
		start := 0
		for i := 1; i <= len(evs); i++ {
			if i < len(evs) && (timeout <= 0 || evs[i].Timestamp.Sub(evs[i-1].Timestamp) <= timeout) {
				continue
			}
			out = append(out, buildSession(id, segment, evs[start:i]))
			segment++
			start = i
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].Segment < out[j].Segment
	})
	return out
}

func buildSession(id string, segment int, evs []models.SessionEvent) Session {
	s := Session{
		SessionID: id,
		Segment:   segment,
		Domain:    evs[0].Domain,
		Events:    evs,
		Start:     evs[0].Timestamp,
		End:       evs[len(evs)-1].Timestamp,
	}
	s.Duration = int(s.End.Sub(s.Start) / time.Second)

	for _, ev := range evs {
		if !models.IsPageEvent(ev.EventType) {
			continue
		}
		if s.PageCount == 0 {
			s.EntryPage = ev.Path
			s.Referrer = ev.Referrer
		}
		s.ExitPage = ev.Path
		s.PageCount++
	}
	return s
}

func (e *Engine) isBounce(s Session) bool {
	return s.PageCount == 1 && s.Duration < e.cfg.BounceMaxSeconds
}

func (e *Engine) isEngaged(s Session) bool {
	return s.Duration > e.cfg.EngagedMinSeconds || s.PageCount > 1
}

// referrerLabel is the session's external referrer domain, or
// DirectReferrer when it has none.
func referrerLabel(s Session, domain string) string {
	if d := validation.ReferrerDomain(s.Referrer, domain); d != "" {
		return d
	}
	return DirectReferrer
}

func (e *Engine) summarize(s Session, domain string) SessionSummary {
	return SessionSummary{
		SessionID: s.SessionID,
		Segment:   s.Segment,
		Timestamp: s.Start,
		Referrer:  referrerLabel(s, domain),
		EntryPage: s.EntryPage,
		ExitPage:  s.ExitPage,
		PageCount: s.PageCount,
		Duration:  s.Duration,
		Bounce:    e.isBounce(s),
		Engaged:   e.isEngaged(s),
	}
}

// withPages drops sessions that never viewed a page.
func withPages(sessions []Session) []Session {
	out := sessions[:0:0]
	for _, s := range sessions {
		if s.PageCount > 0 {
			out = append(out, s)
		}
	}
	return out
}

// newestFirst orders sessions by start time descending.
func newestFirst(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Start.After(sessions[j].Start)
	})
}

// Journeys summarises session behaviour: volume, depth, duration, bounce
// and engagement, plus the sessions that entered on a blog page.
func (e *Engine) Journeys(ctx context.Context, req Request) (*JourneysResult, error) {
	ctx, span, err := e.begin(ctx, "journeys", req)
	defer span.End()
	if err != nil {
		return nil, err
	}

	all, err := e.loadSessions(ctx, req.Domain, req.Range)
	if err != nil {
		return nil, fail(span, err)
	}
	sessions := withPages(all)

	res := &JourneysResult{Window: windowOf(req), TotalSessions: len(sessions)}
	var totalDuration, bounces, blogDuration int
	for _, s := range sessions {
		res.TotalPageviews += s.PageCount
		totalDuration += s.Duration
		if e.isBounce(s) {
			bounces++
		}
		if e.isEngaged(s) {
			res.EngagedSessions++
		}
		if e.cfg.BlogPattern.MatchString(s.EntryPage) {
			res.BlogSessions++
			blogDuration += s.Duration
		}
	}
	res.AvgPagesPerSession = ratio(res.TotalPageviews, res.TotalSessions, 1)
	res.AvgSessionDuration = meanSeconds(totalDuration, res.TotalSessions)
	res.BounceRate = percent(bounces, res.TotalSessions)
	res.EngagedRate = percent(res.EngagedSessions, res.TotalSessions)
	res.AvgBlogTime = meanSeconds(blogDuration, res.BlogSessions)

	span.SetAttributes(attribute.Int("sessions", res.TotalSessions))
	return res, nil
}

// Sessions lists sessions newest first, optionally filtered by referrer
// label and entry page. With a page filter the result also carries a
// rollup of referrers among the matching sessions.
func (e *Engine) Sessions(ctx context.Context, req Request) (*SessionsResult, error) {
	ctx, span, err := e.begin(ctx, "sessions", req)
	defer span.End()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("filter.referrer", req.Referrer),
		attribute.String("filter.page", req.Page),
	)

	all, err := e.loadSessions(ctx, req.Domain, req.Range)
	if err != nil {
		return nil, fail(span, err)
	}
	sessions := withPages(all)
	newestFirst(sessions)

	res := &SessionsResult{
		Window:         windowOf(req),
		PageFilter:     optionalString(req.Page),
		ReferrerFilter: optionalString(req.Referrer),
		Rollup:         []ReferrerRollup{},
		Sessions:       []SessionSummary{},
	}
	rollup := make(map[string]int)
	limit := req.limit(DefaultSessionLimit)
	for _, s := range sessions {
		sum := e.summarize(s, req.Domain)
		if req.Referrer != "" && sum.Referrer != req.Referrer {
			continue
		}
		if req.Page != "" && sum.EntryPage != req.Page {
			continue
		}
		if req.Page != "" {
			rollup[sum.Referrer]++
		}
		if len(res.Sessions) < limit {
			res.Sessions = append(res.Sessions, sum)
		}
	}
	for _, kc := range rank(rollup, 0) {
		res.Rollup = append(res.Rollup, ReferrerRollup{Referrer: kc.key, Count: kc.count})
	}
	return res, nil
}

// Referrals lists sessions whose first page came from an external site,
// newest first, optionally filtered by entry page.
func (e *Engine) Referrals(ctx context.Context, req Request) (*ReferralsResult, error) {
	ctx, span, err := e.begin(ctx, "referrals", req)
	defer span.End()
	if err != nil {
		return nil, err
	}

	all, err := e.loadSessions(ctx, req.Domain, req.Range)
	if err != nil {
		return nil, fail(span, err)
	}
	sessions := withPages(all)
	newestFirst(sessions)

	res := &ReferralsResult{
		Window:     windowOf(req),
		PageFilter: optionalString(req.Page),
		Referrals:  []Referral{},
	}
	limit := req.limit(DefaultSessionLimit)
	for _, s := range sessions {
		if len(res.Referrals) >= limit {
			break
		}
		if validation.ReferrerDomain(s.Referrer, req.Domain) == "" {
			continue
		}
		if req.Page != "" && s.EntryPage != req.Page {
			continue
		}
		res.Referrals = append(res.Referrals, Referral{
			SessionSummary: e.summarize(s, req.Domain),
			ReferrerURL:    s.Referrer,
		})
	}
	return res, nil
}

// SessionDetail returns every page of one session in order. Segments of
// the same session_id are not split here. Sessions belonging to another
// domain are reported as not found.
func (e *Engine) SessionDetail(ctx context.Context, domain, sessionID string) (*SessionDetail, error) {
	ctx, span := tracer.Start(ctx, "analytics.session_detail",
		trace.WithAttributes(
			attribute.String("domain", domain),
			attribute.String("session.id", sessionID),
		))
	defer span.End()

	if !e.Allowed(domain) {
		return nil, fail(span, fmt.Errorf("%w: %s", ErrDomainNotAllowed, domain))
	}
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return nil, fail(span, fmt.Errorf("%w: %v", ErrInvalidParameter, err))
	}

	pk, err := keys.Partition(keys.EntitySessionEvent, keys.Primary, keys.Values{"session_id": sessionID})
	if err != nil {
		return nil, fail(span, err)
	}
	items, err := e.store.Query(ctx, db.Query{Table: db.TableSessions, Index: keys.Primary, Partitions: []string{pk}})
	if err != nil {
		return nil, fail(span, fmt.Errorf("query session: %w", err))
	}
	decoded, err := decodeItems[models.SessionEvent](items)
	if err != nil {
		return nil, fail(span, err)
	}

	var events []models.SessionEvent
	for _, ev := range decoded {
		if ev.Domain == domain {
			events = append(events, ev)
		}
	}
	if len(events) == 0 {
		return nil, fail(span, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID))
	}

	s := Reconstruct(events, 0)[0]
	detail := &SessionDetail{
		SessionID:  sessionID,
		Domain:     domain,
		StartTime:  s.Start,
		EndTime:    s.End,
		Duration:   s.Duration,
		PageCount:  s.PageCount,
		EventCount: len(s.Events),
		Pages:      pageVisits(s.Events),
	}
	return detail, nil
}

// pageVisits turns an ordered event list into page visits. Scroll and
// time-on-page events attach to the page visit they follow on the same
// path.
func pageVisits(events []models.SessionEvent) []PageVisit {
	pages := []PageVisit{}
	for _, ev := range events {
		if models.IsPageEvent(ev.EventType) {
			pages = append(pages, PageVisit{Path: ev.Path, Timestamp: ev.Timestamp, Referrer: ev.Referrer})
			continue
		}
		if len(pages) == 0 {
			continue
		}
		cur := &pages[len(pages)-1]
		if cur.Path != ev.Path {
			continue
		}
		switch ev.EventType {
		case models.EventTypeScroll:
			if ev.ScrollDepth != nil && (cur.ScrollDepth == nil || *ev.ScrollDepth > *cur.ScrollDepth) {
				v := *ev.ScrollDepth
				cur.ScrollDepth = &v
			}
		case models.EventTypeTimeOnPage:
			if ev.TimeOnPage != nil {
				v := *ev.TimeOnPage
				cur.TimeOnPage = &v
			}
		}
	}
	return pages
}

// Flows counts entry pages, exit pages and page-to-page transitions.
// Transitions from a page to itself are ignored.
func (e *Engine) Flows(ctx context.Context, req Request) (*FlowsResult, error) {
	ctx, span, err := e.begin(ctx, "flows", req)
	defer span.End()
	if err != nil {
		return nil, err
	}

	sessions, err := e.loadSessions(ctx, req.Domain, req.Range)
	if err != nil {
		return nil, fail(span, err)
	}

	entries := make(map[string]int)
	exits := make(map[string]int)
	transitions := make(map[string]int)
	for _, s := range sessions {
		pages := s.Pages()
		if len(pages) == 0 {
			continue
		}
		entries[pages[0].Path]++
		exits[pages[len(pages)-1].Path]++
		for i := 1; i < len(pages); i++ {
			from, to := pages[i-1].Path, pages[i].Path
			if from != to {
				transitions[from+" -> "+to]++
			}
		}
	}

	limit := req.limit(DefaultTopLimit)
	res := &FlowsResult{
		Window:      windowOf(req),
		EntryPages:  pathCounts(entries, limit),
		ExitPages:   pathCounts(exits, limit),
		Transitions: []FlowCount{},
	}
	for _, kc := range rank(transitions, limit) {
		res.Transitions = append(res.Transitions, FlowCount{Flow: kc.key, Count: kc.count})
	}
	return res, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
