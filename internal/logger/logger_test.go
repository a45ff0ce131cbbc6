package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMiddlewareAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutputForTest(&buf)
	defer restore()

	handler := middleware.RequestID(Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Ctx(r.Context()).Info("handled")
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log output is not JSON: %v (%s)", err, buf.String())
	}
	if line["msg"] != "handled" {
		t.Errorf("expected msg 'handled', got %v", line["msg"])
	}
	if id, _ := line["req_id"].(string); id == "" {
		t.Errorf("expected req_id in log line, got %v", line)
	}
}

func TestCtxFallsBackToPackageLogger(t *testing.T) {
	if Ctx(context.Background()) == nil {
		t.Fatal("expected non-nil logger")
	}
}
