package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomeops/outcomeops-analytics/internal/analytics"
	"github.com/outcomeops/outcomeops-analytics/internal/auth"
	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/email"
	"github.com/outcomeops/outcomeops-analytics/internal/logparser"
	"github.com/outcomeops/outcomeops-analytics/internal/models"
	"github.com/outcomeops/outcomeops-analytics/internal/tracking"
)

const (
	testDomain = "example.com"
	testSecret = "0123456789abcdef0123456789abcdef"
	testAdmin  = "admin@example.com"
)

var testNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// fakeProcessor records the objects it is asked to process. With hang set
// it blocks until its context ends and records why.
type fakeProcessor struct {
	calls  []string
	result logparser.Result
	fail   map[string]error
	hang   bool
	ended  []error
}

func (p *fakeProcessor) ProcessObject(ctx context.Context, bucket, key string) (logparser.Result, error) {
	p.calls = append(p.calls, bucket+"/"+key)
	if p.hang {
		<-ctx.Done()
		p.ended = append(p.ended, ctx.Err())
		return logparser.Result{}, ctx.Err()
	}
	if err := p.fail[key]; err != nil {
		return logparser.Result{Lines: 1, Malformed: 1}, err
	}
	return p.result, nil
}

type testServer struct {
	store     *db.MemoryStore
	mail      *email.MockService
	tokens    *auth.Tokens
	processor *fakeProcessor
	handler   http.Handler
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	ts := &testServer{
		store:     db.NewMemoryStore(),
		mail:      email.NewMockService(),
		processor: &fakeProcessor{fail: map[string]error{}},
	}
	ts.store.SetClock(fixedClock)

	domains := []string{testDomain, "other.com"}
	engine := analytics.NewEngine(ts.store, analytics.DefaultConfig(domains))
	engine.SetClock(fixedClock)
	ingester := tracking.NewIngester(ts.store, domains, 0)
	ingester.SetClock(fixedClock)

	tokens, err := auth.NewTokens(testSecret, time.Hour)
	require.NoError(t, err)
	tokens.SetClock(fixedClock)
	ts.tokens = tokens

	links := auth.NewMagicLinks(ts.store, ts.mail, tokens, "https://dash.example.com", 0)
	links.SetClock(fixedClock)

	require.NoError(t, ts.store.UpsertAdminUser(context.Background(), testAdmin, "Ada", true))

	ts.handler = NewServer(engine, ingester, links, tokens, ts.processor, cfg).SetupRoutes()
	return ts
}

// adminToken issues an access token for the seeded admin.
func (ts *testServer) adminToken(t *testing.T) string {
	t.Helper()
	tok, _, err := ts.tokens.Issue(models.AdminUser{Email: testAdmin, Name: "Ada", Active: true})
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func (ts *testServer) get(t *testing.T, path string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer "+ts.adminToken(t))
	}
	return ts.do(req)
}

func (ts *testServer) postJSON(path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return ts.do(req)
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(r).Decode(&m))
	return m
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Config{Version: "1.2.3"})
	w := ts.get(t, "/health", false)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w.Body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.get(t, "/nope", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Route not found: GET /nope", decodeBody(t, w.Body)["error"])

	w = ts.get(t, "/auth/verify", false)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestIngestRouteDisabledWithoutSecret(t *testing.T) {
	ts := newTestServer(t, Config{})
	w := ts.postJSON("/ingest/notifications", map[string]any{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
