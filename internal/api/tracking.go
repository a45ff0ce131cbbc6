package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/cors"

	"github.com/outcomeops/outcomeops-analytics/internal/logger"
	"github.com/outcomeops/outcomeops-analytics/internal/models"
	"github.com/outcomeops/outcomeops-analytics/internal/tracking"
	"github.com/outcomeops/outcomeops-analytics/internal/validation"
)

type trackBatchRequest struct {
	Events []models.TrackingEvent `json:"events"`
}

type trackBatchResponse struct {
	Status  string `json:"status"`
	Written int    `json:"written"`
	Errors  int    `json:"errors"`
}

// trackingCORS admits browser requests from the tracked sites (and their
// subdomains) plus any explicitly configured extra origins.
func (s *Server) trackingCORS() func(http.Handler) http.Handler {
	extra := make(map[string]bool, len(s.cfg.ExtraOrigins))
	for _, o := range s.cfg.ExtraOrigins {
		extra[strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")] = true
	}
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return extra[strings.ToLower(origin)] || s.trackedOrigin(origin)
		},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Content-Encoding"},
		MaxAge:         3600,
	})
}

func (s *Server) trackedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return false
	}
	host := validation.NormalizeHost(u.Hostname())
	for host != "" {
		if s.ingester.Allowed(host) {
			return true
		}
		_, parent, found := strings.Cut(host, ".")
		if !found || !strings.Contains(parent, ".") {
			return false
		}
		host = parent
	}
	return false
}

// handleTrackEvent stores one beacon. Invalid beacons are rejected with the
// validation message; store failures are logged and still acknowledged.
func (s *Server) handleTrackEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.TrackingEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	res := s.ingester.Ingest(r.Context(), []models.TrackingEvent{ev})
	if len(res.Errors) > 0 {
		respondError(w, http.StatusBadRequest, res.Errors[0])
		return
	}
	if res.Dropped > 0 {
		logger.Ctx(r.Context()).Warn("tracking event dropped", "domain", ev.Domain)
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTrackBatch stores up to tracking.MaxBatchEvents beacons. Invalid
// events are counted, not fatal to the batch.
func (s *Server) handleTrackBatch(w http.ResponseWriter, r *http.Request) {
	var req trackBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.Events) == 0 {
		respondError(w, http.StatusBadRequest, "No events provided")
		return
	}
	if len(req.Events) > tracking.MaxBatchEvents {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Maximum %d events per batch", tracking.MaxBatchEvents))
		return
	}

	res := s.ingester.Ingest(r.Context(), req.Events)
	if len(res.Errors) > 0 || res.Dropped > 0 {
		logger.Ctx(r.Context()).Info("tracking batch partially stored",
			"events", len(req.Events),
			"written", res.Written,
			"invalid", len(res.Errors),
			"dropped", res.Dropped,
		)
	}
	respondJSON(w, http.StatusOK, trackBatchResponse{
		Status:  "ok",
		Written: res.Written,
		Errors:  len(res.Errors),
	})
}
