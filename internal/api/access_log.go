package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/outcomeops/outcomeops-analytics/internal/clientip"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
)

// Maximum length for error messages and user agents in logs
const (
	maxErrorMessageLength = 200
	maxUserAgentLength    = 100
)

// accessLog writes one structured line per request. Requires
// clientip.Middleware and middleware.RequestID to run first.
//
// Besides method, path, status, size and duration it records:
//   - the real client IP and CDN viewer country
//   - the CloudFront edge location (X-Amz-Cf-Pop) when present
//   - the error message of 4xx responses (truncated)
//   - the User-Agent (truncated)
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(lrw, r)

		info := clientip.FromRequest(r)
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", lrw.statusCode,
			"bytes", lrw.bytesWritten,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", info.Primary,
		}
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			attrs = append(attrs, "req_id", reqID)
		}
		if info.Country != "" {
			attrs = append(attrs, "country", info.Country)
		}
		if pop := r.Header.Get("X-Amz-Cf-Pop"); pop != "" {
			attrs = append(attrs, "edge", truncate(pop, 32))
		}
		// 5xx bodies may carry internal details and are not logged.
		if lrw.statusCode >= 400 && lrw.statusCode < 500 && len(lrw.body) > 0 {
			if msg := extractErrorMessage(lrw.body); msg != "" {
				attrs = append(attrs, "err", msg)
			}
		}
		if ua := r.Header.Get("User-Agent"); ua != "" {
			attrs = append(attrs, "ua", truncate(ua, maxUserAgentLength))
		}

		switch {
		case lrw.statusCode >= 500:
			logger.Error("request", attrs...)
		default:
			logger.Info("request", attrs...)
		}
	})
}

func truncate(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return s
}

// extractErrorMessage extracts the error message from a response body.
// Handles JSON format {"error": "message"} and plain text.
func extractErrorMessage(body []byte) string {
	var jsonErr struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &jsonErr); err == nil && jsonErr.Error != "" {
		msg = jsonErr.Error
	}
	return truncate(msg, maxErrorMessageLength)
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code,
// bytes written, and the start of 4xx bodies.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	body         []byte
	wroteHeader  bool
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	if !lrw.wroteHeader {
		lrw.statusCode = code
		lrw.wroteHeader = true
	}
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.wroteHeader = true
	if lrw.statusCode >= 400 && lrw.statusCode < 500 {
		maxCapture := maxErrorMessageLength + 50
		if remaining := maxCapture - len(lrw.body); remaining > 0 {
			lrw.body = append(lrw.body, b[:min(len(b), remaining)]...)
		}
	}

	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesWritten += n
	return n, err
}

// Flush implements http.Flusher
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for middleware compatibility
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}
