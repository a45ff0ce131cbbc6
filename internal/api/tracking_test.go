package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/models"
)

func testBeacon(session, path string) models.TrackingEvent {
	return models.TrackingEvent{
		SessionID: session,
		EventType: models.EventTypePageview,
		Domain:    testDomain,
		Path:      path,
		Timestamp: testNow.Add(-time.Minute).Format(time.RFC3339),
	}
}

func TestTrackEvent(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.postJSON("/t", testBeacon("s1", "/"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w.Body)["status"])
	assert.Equal(t, 1, ts.store.Len(db.TableSessions))
}

func TestTrackEvent_Rejections(t *testing.T) {
	ts := newTestServer(t, Config{})

	bad := testBeacon("s1", "/")
	bad.Domain = "evil.com"
	w := ts.postJSON("/t", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Domain not allowed: evil.com", decodeBody(t, w.Body)["error"])

	missing := testBeacon("", "/")
	w = ts.postJSON("/t", missing)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required field: session_id", decodeBody(t, w.Body)["error"])

	req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w = ts.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid JSON body", decodeBody(t, w.Body)["error"])

	assert.Zero(t, ts.store.Len(db.TableSessions))
}

func TestTrackEvent_SendBeaconTextPlain(t *testing.T) {
	ts := newTestServer(t, Config{})
	body, _ := json.Marshal(testBeacon("s1", "/"))
	req := httptest.NewRequest(http.MethodPost, "/t", bytes.NewReader(body))
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	w := ts.do(req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTrackBatch(t *testing.T) {
	ts := newTestServer(t, Config{})

	invalid := testBeacon("s1", "no-slash")
	w := ts.postJSON("/t/batch", map[string]any{"events": []models.TrackingEvent{
		testBeacon("s1", "/"),
		testBeacon("s1", "/about"),
		invalid,
	}})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w.Body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["written"])
	assert.Equal(t, float64(1), body["errors"])
}

func TestTrackBatch_Limits(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.postJSON("/t/batch", map[string]any{"events": []models.TrackingEvent{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No events provided", decodeBody(t, w.Body)["error"])

	events := make([]models.TrackingEvent, 101)
	for i := range events {
		events[i] = testBeacon("s1", "/")
	}
	w = ts.postJSON("/t/batch", map[string]any{"events": events})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Maximum 100 events per batch", decodeBody(t, w.Body)["error"])
}

func TestTrackBatch_ZstdBody(t *testing.T) {
	ts := newTestServer(t, Config{})

	payload, _ := json.Marshal(map[string]any{"events": []models.TrackingEvent{testBeacon("s1", "/")}})
	enc, _ := zstd.NewWriter(nil)
	compressed := enc.EncodeAll(payload, nil)

	req := httptest.NewRequest(http.MethodPost, "/t/batch", bytes.NewReader(compressed))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "zstd")
	w := ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w.Body)["written"])
}

func TestTrackingCORS(t *testing.T) {
	ts := newTestServer(t, Config{ExtraOrigins: []string{"http://localhost:3000/"}})

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://example.com", true},
		{"https://www.example.com", true},
		{"https://blog.other.com", true},
		{"http://localhost:3000", true},
		{"https://notexample.com", false},
		{"https://example.com.evil.net", false},
		{"ftp://example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/t/batch", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "Content-Type")
			w := ts.do(req)

			got := w.Header().Get("Access-Control-Allow-Origin")
			if tt.allowed {
				assert.Equal(t, tt.origin, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestTrackingCORS_SimpleRequest(t *testing.T) {
	ts := newTestServer(t, Config{})
	body, _ := json.Marshal(testBeacon("s1", "/"))
	req := httptest.NewRequest(http.MethodPost, "/t", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://www.example.com")
	w := ts.do(req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://www.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
