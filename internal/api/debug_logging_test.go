package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomeops/outcomeops-analytics/internal/logger"
)

func TestDebugLogging_Disabled(t *testing.T) {
	defer logger.SetDebugForTest(false)()
	var buf bytes.Buffer
	defer logger.SetOutputForTest(&buf)()

	var got string
	h := debugLoggingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := new(bytes.Buffer)
		b.ReadFrom(r.Body)
		got = b.String()
		w.Write([]byte(`{"status":"ok"}`))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/t", strings.NewReader(`{"a":1}`)))

	assert.Equal(t, `{"a":1}`, got)
	assert.Empty(t, logLines(t, &buf, "request body"))
	assert.Empty(t, logLines(t, &buf, "response body"))
}

func TestDebugLogging_LogsBodies(t *testing.T) {
	defer logger.SetDebugForTest(true)()
	var buf bytes.Buffer
	defer logger.SetOutputForTest(&buf)()

	var got string
	h := debugLoggingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := new(bytes.Buffer)
		b.ReadFrom(r.Body)
		got = b.String()
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/t", strings.NewReader(`{"a":1}`)))

	assert.Equal(t, `{"a":1}`, got, "handler still sees the full body")
	assert.Equal(t, http.StatusCreated, w.Code)

	var lines []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "request body", lines[0]["msg"])
	assert.Equal(t, `{"a":1}`, lines[0]["body"])
	assert.Equal(t, "response body", lines[1]["msg"])
	assert.Equal(t, float64(http.StatusCreated), lines[1]["status"])
	assert.Equal(t, `{"status":"ok"}`, lines[1]["body"])
}

func TestDebugLogging_TruncatesLargeBodies(t *testing.T) {
	defer logger.SetDebugForTest(true)()
	var buf bytes.Buffer
	defer logger.SetOutputForTest(&buf)()

	large := strings.Repeat("x", maxDebugBodySize+100)
	var got int
	h := debugLoggingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := new(bytes.Buffer)
		b.ReadFrom(r.Body)
		got = b.Len()
		w.Write([]byte(large))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/t", strings.NewReader(large)))
	assert.Equal(t, len(large), got)

	req := logLines(t, bytes.NewBuffer(buf.Bytes()), "request body")
	require.Len(t, req, 1)
	assert.Equal(t, true, req[0]["truncated"])
	assert.Len(t, req[0]["body"], maxDebugBodySize)

	resp := logLines(t, bytes.NewBuffer(buf.Bytes()), "response body")
	require.Len(t, resp, 1)
	assert.Equal(t, true, resp[0]["truncated"])
}
