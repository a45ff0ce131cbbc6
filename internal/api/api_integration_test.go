package api_test

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/outcomeops/outcomeops-analytics/internal/analytics"
	"github.com/outcomeops/outcomeops-analytics/internal/api"
	"github.com/outcomeops/outcomeops-analytics/internal/auth"
	"github.com/outcomeops/outcomeops-analytics/internal/email"
	"github.com/outcomeops/outcomeops-analytics/internal/logparser"
	"github.com/outcomeops/outcomeops-analytics/internal/models"
	"github.com/outcomeops/outcomeops-analytics/internal/testutil"
	"github.com/outcomeops/outcomeops-analytics/internal/tracking"
)

const ingestSecret = "integration-hook-secret"

func TestEndToEnd_IngestLoginAndQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := testutil.SetupTestEnvironment(t)
	domains := []string{"example.com"}
	testutil.CreateTestAdmin(t, env, "admin@example.com", "Ada")

	mail := email.NewMockService()
	tokens, err := auth.NewTokens("0123456789abcdef0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("NewTokens failed: %v", err)
	}
	links := auth.NewMagicLinks(env.DB, mail, tokens, "https://dash.example.com", 0)
	processor := logparser.NewProcessor(env.DB, env.Storage, nil, logparser.Config{AllowedDomains: domains})

	server := api.NewServer(
		analytics.NewEngine(env.DB, analytics.DefaultConfig(domains)),
		tracking.NewIngester(env.DB, domains, 0),
		links, tokens, processor,
		api.Config{IngestSecret: ingestSecret},
	)
	ts := testutil.StartTestServer(t, env, server.SetupRoutes())
	client := testutil.NewTestClient(t, ts)

	// 1. A log object lands and the webhook ingests it.
	now := time.Now().UTC().Add(-time.Minute)
	date, clock := now.Format("2006-01-02"), now.Format("15:04:05")
	key := "example.com/E2ABC." + now.Format("2006-01-02-15") + ".a1b2c3d4.gz"
	testutil.UploadLogObject(t, env, key,
		"#Version: 1.0",
		testutil.LogLine(date, clock, "198.51.100.1", "GET", "/", 200, "", "Mozilla/5.0", "req-1"),
		testutil.LogLine(date, clock, "198.51.100.1", "GET", "/pricing", 200, "https://www.google.com/", "Mozilla/5.0", "req-2"),
		testutil.LogLine(date, clock, "198.51.100.2", "GET", "/docs/made-up-page", 404, "", "Mozilla/5.0", "req-3"),
	)

	resp, err := client.RequestWithHeaders(http.MethodPost, "/ingest/notifications", testutil.Notification(key),
		map[string]string{api.IngestSecretHeader: ingestSecret})
	if err != nil {
		t.Fatalf("notification request failed: %v", err)
	}
	testutil.RequireStatus(t, resp, http.StatusOK)
	var ingest struct {
		Objects int              `json:"objects"`
		Failed  int              `json:"failed"`
		Result  logparser.Result `json:"result"`
	}
	testutil.ParseJSON(t, resp, &ingest)
	if ingest.Objects != 1 || ingest.Failed != 0 || ingest.Result.Written != 3 {
		t.Fatalf("unexpected ingest result: %+v", ingest)
	}

	// 2. A browser on the tracked site sends beacons.
	browser := client.WithOrigin("https://www.example.com")
	resp, err = browser.Post("/t/batch", map[string]any{"events": []models.TrackingEvent{
		testutil.Beacon("example.com", "sess-1", "/", now.Add(-time.Minute)),
		testutil.Beacon("example.com", "sess-1", "/pricing", now),
	}})
	if err != nil {
		t.Fatalf("batch request failed: %v", err)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://www.example.com" {
		t.Errorf("expected CORS origin echo, got %q", got)
	}
	testutil.RequireStatus(t, resp, http.StatusOK)
	var batch struct {
		Written int `json:"written"`
	}
	testutil.ParseJSON(t, resp, &batch)
	if batch.Written != 2 {
		t.Fatalf("expected 2 written, got %d", batch.Written)
	}

	// 3. The admin logs in with a magic link.
	resp, err = client.Post("/auth/magic-link", map[string]string{"email": "admin@example.com"})
	if err != nil {
		t.Fatalf("magic-link request failed: %v", err)
	}
	testutil.RequireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	sent := mail.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sent))
	}
	link, err := url.Parse(sent[0].LoginURL)
	if err != nil {
		t.Fatalf("bad login URL: %v", err)
	}
	resp, err = client.Post("/auth/verify", map[string]string{"token": link.Query().Get("token")})
	if err != nil {
		t.Fatalf("verify request failed: %v", err)
	}
	testutil.RequireStatus(t, resp, http.StatusOK)
	var session struct {
		AccessToken string `json:"access_token"`
	}
	testutil.ParseJSON(t, resp, &session)

	// 4. Authenticated queries see both data sources.
	admin := client.WithToken(session.AccessToken)

	resp, err = admin.Get("/analytics/stats/example.com")
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	testutil.RequireStatus(t, resp, http.StatusOK)
	var stats analytics.StatsResult
	testutil.ParseJSON(t, resp, &stats)
	if stats.TotalRequests != 3 || stats.UniqueVisitors != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	resp, err = admin.Get("/analytics/journeys/example.com")
	if err != nil {
		t.Fatalf("journeys request failed: %v", err)
	}
	testutil.RequireStatus(t, resp, http.StatusOK)
	var journeys analytics.JourneysResult
	testutil.ParseJSON(t, resp, &journeys)
	if journeys.TotalSessions != 1 || journeys.TotalPageviews != 2 {
		t.Errorf("unexpected journeys: %+v", journeys)
	}

	resp, err = client.Get("/analytics/stats/example.com")
	if err != nil {
		t.Fatalf("unauthenticated request failed: %v", err)
	}
	testutil.RequireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}
