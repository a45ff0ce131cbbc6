package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/outcomeops/outcomeops-analytics/internal/analytics"
	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
	"github.com/outcomeops/outcomeops-analytics/internal/validation"
)

// maxQueryLimit caps the limit query parameter of list endpoints
const maxQueryLimit = 500

// queryHandler adapts one engine query to an HTTP handler that parses the
// shared domain/from/to/limit/referrer/page parameters.
func queryHandler[T any](s *Server, run func(context.Context, analytics.Request) (*T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := s.parseQuery(w, r)
		if !ok {
			return
		}
		res, err := run(r.Context(), req)
		if err != nil {
			respondQueryError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

// parseQuery validates the domain and query string. It writes the error
// response itself and reports whether the handler should continue.
func (s *Server) parseQuery(w http.ResponseWriter, r *http.Request) (analytics.Request, bool) {
	domain := validation.NormalizeDomain(chi.URLParam(r, "domain"))
	if !s.engine.Allowed(domain) {
		respondError(w, http.StatusBadRequest, "Invalid domain: "+domain)
		return analytics.Request{}, false
	}

	q := r.URL.Query()
	rng, err := s.engine.ParseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return analytics.Request{}, false
	}

	req := analytics.Request{
		Domain:   domain,
		Range:    rng,
		Referrer: q.Get("referrer"),
		Page:     q.Get("page"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxQueryLimit {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("limit must be an integer between 1 and %d", maxQueryLimit))
			return analytics.Request{}, false
		}
		req.Limit = n
	}
	return req, true
}

func (s *Server) handlePathHits(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseQuery(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	res, err := s.engine.PathHits(r.Context(), req, path)
	if err != nil {
		respondQueryError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleReferrerLandings(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseQuery(w, r)
	if !ok {
		return
	}
	referrer := r.URL.Query().Get("referrer")
	if referrer == "" {
		respondError(w, http.StatusBadRequest, "referrer is required")
		return
	}
	res, err := s.engine.ReferrerLandings(r.Context(), req, referrer)
	if err != nil {
		respondQueryError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	domain := validation.NormalizeDomain(chi.URLParam(r, "domain"))
	if !s.engine.Allowed(domain) {
		respondError(w, http.StatusBadRequest, "Invalid domain: "+domain)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "Session ID required")
		return
	}

	res, err := s.engine.SessionDetail(r.Context(), domain, sessionID)
	if errors.Is(err, analytics.ErrSessionNotFound) {
		respondError(w, http.StatusNotFound, "Session not found: "+sessionID)
		return
	}
	if err != nil {
		respondQueryError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// respondQueryError maps engine errors to responses. Query callers are
// operators, so validation messages are passed through verbatim; store
// failures fail the request rather than returning partial aggregates.
func respondQueryError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.Ctx(r.Context())
	switch {
	case errors.Is(err, analytics.ErrDomainNotAllowed):
		respondError(w, http.StatusBadRequest, "Invalid domain: "+chi.URLParam(r, "domain"))
	case errors.Is(err, analytics.ErrInvalidRange), errors.Is(err, analytics.ErrInvalidParameter):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, analytics.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, db.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		log.Warn("query failed on transient store error", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusServiceUnavailable, "Analytics store temporarily unavailable, retry shortly")
	default:
		log.Error("query failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
