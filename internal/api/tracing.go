package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/outcomeops/outcomeops-analytics/internal/clientip"
)

// spanEnricher adds the matched route, queried domain and viewer country to
// the request span. The attributes are read after the handler returns, once
// chi has resolved the route.
func spanEnricher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		span := trace.SpanFromContext(r.Context())
		if !span.IsRecording() {
			return
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				span.SetAttributes(attribute.String("http.route", pattern))
			}
			if domain := rctx.URLParam("domain"); domain != "" {
				span.SetAttributes(attribute.String("analytics.domain", domain))
			}
		}
		if country := clientip.FromRequest(r).Country; country != "" {
			span.SetAttributes(attribute.String("client.country", country))
		}
	})
}
