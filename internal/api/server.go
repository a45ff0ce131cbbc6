// Package api is the HTTP surface: the authenticated analytics query API,
// the magic-link auth endpoints, the public tracking beacons and the log
// ingestion webhook.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/outcomeops/outcomeops-analytics/internal/analytics"
	"github.com/outcomeops/outcomeops-analytics/internal/auth"
	"github.com/outcomeops/outcomeops-analytics/internal/clientip"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
	"github.com/outcomeops/outcomeops-analytics/internal/logparser"
	"github.com/outcomeops/outcomeops-analytics/internal/ratelimit"
	"github.com/outcomeops/outcomeops-analytics/internal/tracking"
)

// Request body limits
const (
	maxAuthBodyBytes         = 16 * 1024
	maxTrackBodyBytes        = 512 * 1024
	maxNotificationBodyBytes = 1024 * 1024
)

// ObjectProcessor parses one stored access-log object.
type ObjectProcessor interface {
	ProcessObject(ctx context.Context, bucket, key string) (logparser.Result, error)
}

// Config holds the optional parts of the HTTP surface.
type Config struct {
	// ExtraOrigins are CORS origins accepted on tracking endpoints in
	// addition to the tracked domains and their subdomains.
	ExtraOrigins []string
	// IngestSecret enables POST /ingest/notifications when set.
	IngestSecret string
	// TrackLimiter and AuthLimiter throttle the public endpoints per client.
	// Nil disables limiting.
	TrackLimiter ratelimit.RateLimiter
	AuthLimiter  ratelimit.RateLimiter
	// InvocationTimeout bounds each analytics query and each log object a
	// notification names. Zero means no bound.
	InvocationTimeout time.Duration
	// ObjectSuffix restricts which notified keys are processed, e.g. ".gz".
	// Empty accepts every key.
	ObjectSuffix string
	Version      string
}

// Server holds dependencies for API handlers
type Server struct {
	engine    *analytics.Engine
	ingester  *tracking.Ingester
	links     *auth.MagicLinks
	tokens    *auth.Tokens
	processor ObjectProcessor
	cfg       Config
}

// NewServer creates a new API server. processor may be nil when the
// ingestion webhook is not served by this process.
func NewServer(engine *analytics.Engine, ingester *tracking.Ingester, links *auth.MagicLinks, tokens *auth.Tokens, processor ObjectProcessor, cfg Config) *Server {
	return &Server{
		engine:    engine,
		ingester:  ingester,
		links:     links,
		tokens:    tokens,
		processor: processor,
		cfg:       cfg,
	}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(clientip.Middleware)
	r.Use(accessLog)
	r.Use(logger.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(spanEnricher)
	r.Use(responseCompressor())

	r.Get("/health", s.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Use(limit(s.cfg.AuthLimiter, "auth"))
		r.Use(bodyLimit(maxAuthBodyBytes))
		r.Use(validateContentType("application/json"))
		r.Post("/magic-link", s.handleRequestMagicLink)
		r.Post("/verify", s.handleVerifyMagicLink)
	})

	// Tracking beacons come from the tracked sites' browsers.
	r.Route("/t", func(r chi.Router) {
		r.Use(s.trackingCORS())
		r.Use(limit(s.cfg.TrackLimiter, "track"))
		r.Use(bodyLimit(maxTrackBodyBytes))
		r.Use(decompressMiddleware(maxTrackBodyBytes))
		r.Use(validateContentType("application/json", "text/plain"))
		r.Use(debugLoggingMiddleware())
		r.Post("/", s.handleTrackEvent)
		r.Post("/batch", s.handleTrackBatch)
	})

	r.Route("/analytics", func(r chi.Router) {
		r.Use(auth.Middleware(s.tokens))
		r.Use(middleware.NoCache)
		r.Use(invocationTimeout(s.cfg.InvocationTimeout))

		r.Get("/stats/{domain}", queryHandler(s, s.engine.Stats))
		r.Get("/pages/{domain}", queryHandler(s, s.engine.Pages))
		r.Get("/pages/{domain}/hits", s.handlePathHits)
		r.Get("/referrers/{domain}", queryHandler(s, s.engine.Referrers))
		r.Get("/referrers/{domain}/landings", s.handleReferrerLandings)
		r.Get("/hours/{domain}", queryHandler(s, s.engine.Hours))
		r.Get("/countries/{domain}", queryHandler(s, s.engine.Countries))
		r.Get("/journeys/{domain}", queryHandler(s, s.engine.Journeys))
		r.Get("/sessions/{domain}", queryHandler(s, s.engine.Sessions))
		r.Get("/sessions/{domain}/{sessionID}", s.handleSessionDetail)
		r.Get("/flows/{domain}", queryHandler(s, s.engine.Flows))
		r.Get("/referrals/{domain}", queryHandler(s, s.engine.Referrals))
		r.Get("/hallucinations/{domain}", queryHandler(s, s.engine.Hallucinations))
	})

	if s.cfg.IngestSecret != "" && s.processor != nil {
		r.With(bodyLimit(maxNotificationBodyBytes)).Post("/ingest/notifications", s.handleNotification)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "Route not found: "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}

// invocationTimeout puts a deadline on the request context. Handlers map
// the resulting context.DeadlineExceeded to their own error response, so
// unlike middleware.Timeout nothing is written here.
func invocationTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok"}
	if s.cfg.Version != "" {
		body["version"] = s.cfg.Version
	}
	respondJSON(w, http.StatusOK, body)
}

func limit(l ratelimit.RateLimiter, scope string) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimit.MiddlewareWithKey(l, ratelimit.PrefixKey(scope))
}

func bodyLimit(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error JSON response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
