package analytics

import "time"

// Request carries the parameters shared by every query.
type Request struct {
	Domain string
	Range  Range
	Limit  int
	// Referrer filters session lists by referrer domain; "(direct)"
	// selects sessions without an external referrer.
	Referrer string
	// Page filters session lists by entry page.
	Page string
}

func (r Request) limit(def int) int {
	if r.Limit > 0 {
		return r.Limit
	}
	return def
}

// Window echoes the queried domain and range in every response.
type Window struct {
	Domain   string `json:"domain"`
	FromDate string `json:"from_date"`
	ToDate   string `json:"to_date"`
}

func windowOf(req Request) Window {
	return Window{Domain: req.Domain, FromDate: req.Range.FromDate(), ToDate: req.Range.ToDate()}
}

// =============================================================================
// Traffic (Events)
// =============================================================================

type StatsResult struct {
	Window
	TotalRequests  int            `json:"total_requests"`
	UniqueVisitors int            `json:"unique_visitors"`
	Daily          map[string]int `json:"daily"`
}

type PathCount struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

type PagesResult struct {
	Window
	Pages []PathCount `json:"pages"`
}

type ReferrerCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

type ReferrersResult struct {
	Window
	Referrers []ReferrerCount `json:"referrers"`
}

type HoursResult struct {
	Window
	Hourly   map[string]int `json:"hourly"`
	PeakHour string         `json:"peak_hour"`
	Total    int            `json:"total"`
}

type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

type CountriesResult struct {
	Window
	Countries []CountryCount `json:"countries"`
}

// PathHitsResult is the per-day hit count of one path.
type PathHitsResult struct {
	Window
	Path  string         `json:"path"`
	Total int            `json:"total"`
	Daily map[string]int `json:"daily"`
}

// LandingsResult lists the pages visitors from one referrer landed on.
type LandingsResult struct {
	Window
	Referrer string      `json:"referrer"`
	Total    int         `json:"total"`
	Landings []PathCount `json:"landings"`
}

// =============================================================================
// Journeys (Session Events)
// =============================================================================

type JourneysResult struct {
	Window
	TotalSessions      int     `json:"total_sessions"`
	TotalPageviews     int     `json:"total_pageviews"`
	AvgPagesPerSession float64 `json:"avg_pages_per_session"`
	AvgSessionDuration int     `json:"avg_session_duration"`
	BounceRate         float64 `json:"bounce_rate"`
	EngagedSessions    int     `json:"engaged_sessions"`
	EngagedRate        float64 `json:"engaged_rate"`
	BlogSessions       int     `json:"blog_sessions"`
	AvgBlogTime        int     `json:"avg_blog_time"`
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	Segment   int       `json:"segment"`
	Timestamp time.Time `json:"timestamp"`
	Referrer  string    `json:"referrer"`
	EntryPage string    `json:"entry_page"`
	ExitPage  string    `json:"exit_page"`
	PageCount int       `json:"page_count"`
	Duration  int       `json:"duration"`
	Bounce    bool      `json:"bounce"`
	Engaged   bool      `json:"engaged"`
}

type ReferrerRollup struct {
	Referrer string `json:"referrer"`
	Count    int    `json:"count"`
}

type SessionsResult struct {
	Window
	PageFilter     *string          `json:"page_filter"`
	ReferrerFilter *string          `json:"referrer_filter"`
	Rollup         []ReferrerRollup `json:"rollup"`
	Sessions       []SessionSummary `json:"sessions"`
}

// Referral is a session that arrived from an external site.
type Referral struct {
	SessionSummary
	ReferrerURL string `json:"referrer_url"`
}

type ReferralsResult struct {
	Window
	PageFilter *string    `json:"page_filter"`
	Referrals  []Referral `json:"referrals"`
}

type PageVisit struct {
	Path        string    `json:"path"`
	Timestamp   time.Time `json:"timestamp"`
	Referrer    string    `json:"referrer,omitempty"`
	ScrollDepth *int      `json:"scroll_depth,omitempty"`
	TimeOnPage  *int      `json:"time_on_page,omitempty"`
}

type SessionDetail struct {
	SessionID  string      `json:"session_id"`
	Domain     string      `json:"domain"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    time.Time   `json:"end_time"`
	Duration   int         `json:"duration"`
	PageCount  int         `json:"page_count"`
	EventCount int         `json:"event_count"`
	Pages      []PageVisit `json:"pages"`
}

type FlowCount struct {
	Flow  string `json:"flow"`
	Count int    `json:"count"`
}

type FlowsResult struct {
	Window
	EntryPages  []PathCount `json:"entry_pages"`
	ExitPages   []PathCount `json:"exit_pages"`
	Transitions []FlowCount `json:"transitions"`
}

// =============================================================================
// Hallucinations (404 Events)
// =============================================================================

type PatternCount struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

type NotFoundPath struct {
	Path           string  `json:"path"`
	Count          int     `json:"count"`
	IsAIPattern    bool    `json:"is_ai_pattern"`
	MatchedPattern *string `json:"matched_pattern"`
}

type Hallucination struct {
	Path           string    `json:"path"`
	Timestamp      time.Time `json:"timestamp"`
	Referrer       string    `json:"referrer"`
	MatchedPattern string    `json:"matched_pattern"`
}

type HallucinationsResult struct {
	Window
	Total404s            int             `json:"total_404s"`
	AIHallucinations     int             `json:"ai_hallucinations"`
	AIPercentage         float64         `json:"ai_percentage"`
	Patterns             []PatternCount  `json:"patterns"`
	TopPaths             []NotFoundPath  `json:"top_paths"`
	RecentHallucinations []Hallucination `json:"recent_hallucinations"`
}
