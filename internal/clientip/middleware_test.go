package clientip

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func beaconRequest(remoteAddr string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/t", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestExtract(t *testing.T) {
	const edge = "172.16.29.234:54686"

	tests := []struct {
		name        string
		remoteAddr  string
		headers     map[string]string
		wantPrimary string
		wantKey     string
	}{
		{
			name:        "viewer address wins over every proxy header",
			remoteAddr:  edge,
			headers:     map[string]string{"CloudFront-Viewer-Address": "203.0.113.45:443", "CF-Connecting-IP": "198.51.100.1", "X-Forwarded-For": "10.0.0.1"},
			wantPrimary: "203.0.113.45",
			wantKey:     "10.0.0.1|172.16.29.234|198.51.100.1|203.0.113.45",
		},
		{
			name:        "cf connecting ip",
			remoteAddr:  edge,
			headers:     map[string]string{"CF-Connecting-IP": "198.51.100.1", "X-Real-IP": "192.0.2.1"},
			wantPrimary: "198.51.100.1",
			wantKey:     "172.16.29.234|192.0.2.1|198.51.100.1",
		},
		{
			name:        "true client ip",
			remoteAddr:  edge,
			headers:     map[string]string{"True-Client-IP": "198.51.100.2", "X-Real-IP": "192.0.2.1"},
			wantPrimary: "198.51.100.2",
			wantKey:     "172.16.29.234|192.0.2.1|198.51.100.2",
		},
		{
			name:        "first forwarded hop only",
			remoteAddr:  edge,
			headers:     map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"},
			wantPrimary: "10.0.0.1",
			wantKey:     "10.0.0.1|172.16.29.234",
		},
		{
			name:        "empty viewer address is ignored",
			remoteAddr:  "192.168.1.100:12345",
			headers:     map[string]string{"CloudFront-Viewer-Address": "", "X-Real-IP": "192.0.2.1"},
			wantPrimary: "192.0.2.1",
			wantKey:     "192.0.2.1|192.168.1.100",
		},
		{
			name:        "duplicates collapse",
			remoteAddr:  "192.168.1.100:12345",
			headers:     map[string]string{"CloudFront-Viewer-Address": "192.168.1.100:443", "X-Real-IP": "192.168.1.100"},
			wantPrimary: "192.168.1.100",
			wantKey:     "192.168.1.100",
		},
		{
			name:        "ipv6 viewer address",
			remoteAddr:  edge,
			headers:     map[string]string{"CloudFront-Viewer-Address": "  2001:db8::1:443 "},
			wantPrimary: "2001:db8::1",
			wantKey:     "172.16.29.234|2001:db8::1",
		},
		{
			name:        "remote addr fallback",
			remoteAddr:  "[2001:db8::1]:8080",
			wantPrimary: "2001:db8::1",
			wantKey:     "2001:db8::1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := extract(beaconRequest(tt.remoteAddr, tt.headers))
			assert.Equal(t, tt.wantPrimary, info.Primary)
			assert.Equal(t, tt.wantKey, info.RateLimitKey)
		})
	}
}

func TestExtractIPFromAddr(t *testing.T) {
	for addr, want := range map[string]string{
		"192.168.1.100:12345": "192.168.1.100",
		"192.168.1.100":       "192.168.1.100",
		"[2001:db8::1]:8080":  "2001:db8::1",
		"[2001:db8::1]":       "2001:db8::1",
		"2001:db8::1":         "2001:db8::1",
		"":                    "",
	} {
		assert.Equal(t, want, extractIPFromAddr(addr), addr)
	}
}

func TestViewerAddress(t *testing.T) {
	for in, want := range map[string]string{
		"203.0.113.45:51234": "203.0.113.45",
		"2001:db8::1:443":    "2001:db8::1",
		"[2001:db8::1]:443":  "2001:db8::1",
		"203.0.113.45":       "203.0.113.45",
		"":                   "",
	} {
		assert.Equal(t, want, viewerAddress(in), in)
	}
}

func TestExtract_Country(t *testing.T) {
	req := beaconRequest("10.0.0.1:1", map[string]string{"CloudFront-Viewer-Country": "de"})
	assert.Equal(t, "DE", extract(req).Country)

	req = beaconRequest("10.0.0.1:1", map[string]string{"CF-IPCountry": "US"})
	assert.Equal(t, "US", extract(req).Country)
}

func TestMiddleware(t *testing.T) {
	var remote string
	var info Info
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remote = r.RemoteAddr
		info = FromRequest(r)
	}))

	req := beaconRequest("172.16.29.234:54686", map[string]string{"CloudFront-Viewer-Address": "203.0.113.45:51234"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.45", remote, "RemoteAddr is rewritten to the viewer")
	assert.Equal(t, "203.0.113.45", info.Primary)
	assert.Equal(t, "172.16.29.234|203.0.113.45", info.RateLimitKey)
}

func TestFromContext_ZeroWithoutMiddleware(t *testing.T) {
	req := beaconRequest("192.168.1.100:12345", nil)
	assert.Equal(t, Info{}, FromContext(req.Context()))
	assert.Equal(t, "192.168.1.100", FromRequest(req).Primary)
}
