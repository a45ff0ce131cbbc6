package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"
)

// TestClient makes requests against a TestServer, optionally carrying an
// admin bearer token.
type TestClient struct {
	*http.Client
	t      *testing.T
	ts     *TestServer
	token  string
	origin string
}

// NewTestClient creates a new unauthenticated client for the given server.
func NewTestClient(t *testing.T, ts *TestServer) *TestClient {
	t.Helper()
	return &TestClient{
		Client: &http.Client{Timeout: 10 * time.Second},
		t:      t,
		ts:     ts,
	}
}

// WithToken returns a client that sends the access token as a Bearer
// credential.
func (c *TestClient) WithToken(token string) *TestClient {
	cp := *c
	cp.token = token
	return &cp
}

// WithOrigin returns a client that sends an Origin header, as a browser on
// a tracked site would.
func (c *TestClient) WithOrigin(origin string) *TestClient {
	cp := *c
	cp.origin = origin
	return &cp
}

// Request makes an HTTP request to the test server.
// Body can be nil, a struct (will be JSON encoded), []byte, string or an io.Reader.
func (c *TestClient) Request(method, path string, body interface{}) (*http.Response, error) {
	return c.RequestWithHeaders(method, path, body, nil)
}

// RequestWithHeaders makes an HTTP request with custom headers.
func (c *TestClient) RequestWithHeaders(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		switch v := body.(type) {
		case io.Reader:
			bodyReader = v
		case []byte:
			bodyReader = bytes.NewReader(v)
		case string:
			bodyReader = bytes.NewReader([]byte(v))
		default:
			jsonBytes, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal body: %w", err)
			}
			bodyReader = bytes.NewReader(jsonBytes)
		}
	}

	req, err := http.NewRequest(method, c.ts.URL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return c.Client.Do(req)
}

// Get makes a GET request to the test server.
func (c *TestClient) Get(path string) (*http.Response, error) {
	return c.Request(http.MethodGet, path, nil)
}

// Post makes a POST request to the test server with a JSON body.
func (c *TestClient) Post(path string, body interface{}) (*http.Response, error) {
	return c.Request(http.MethodPost, path, body)
}

// ParseJSON decodes the response body as JSON into v and closes the body.
func ParseJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("failed to decode response JSON: %v. Body: %s", err, string(body))
	}
}

// RequireStatus checks that the response has the expected status code.
// If not, it fails the test with the response body for debugging.
func RequireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d. Body: %s", expected, resp.StatusCode, string(body))
	}
}
