// Package clientip extracts the real client IP behind the CDN and reverse
// proxies that front the tracking and dashboard endpoints.
package clientip

import (
	"context"
	"net/http"
	"sort"
	"strings"
)

// contextKey is unexported to prevent collisions
type contextKey struct{}

var clientIPKey = contextKey{}

// Info contains extracted client IP information
type Info struct {
	// Primary is the most trusted single IP (for logging, display)
	// Priority: CloudFront-Viewer-Address > CF-Connecting-IP > True-Client-IP > X-Real-IP > XFF[0] > RemoteAddr
	Primary string

	// RateLimitKey is composite of all IPs for anti-spoofing
	// Even if some headers are spoofed, RemoteAddr anchors the key
	RateLimitKey string

	// Country is the viewer country reported by the CDN, if any
	Country string
}

// Middleware extracts client IPs from various headers and:
// 1. Updates r.RemoteAddr to the primary (most trusted) IP
// 2. Stores Info in context for downstream use
//
// Trusted header priority (highest first):
//   - CloudFront-Viewer-Address: set by CloudFront as "ip:port"
//   - CF-Connecting-IP: Set by Cloudflare edge
//   - True-Client-IP: Akamai/Cloudflare Enterprise
//   - X-Real-IP: nginx reverse proxy
//   - X-Forwarded-For[0]: First hop (partially trusted)
//   - RemoteAddr: TCP connection (always available)
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := extract(r)
		r.RemoteAddr = info.Primary
		ctx := context.WithValue(r.Context(), clientIPKey, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext retrieves Info from context
// Returns zero Info if not present
func FromContext(ctx context.Context) Info {
	if info, ok := ctx.Value(clientIPKey).(Info); ok {
		return info
	}
	return Info{}
}

// FromRequest is a convenience wrapper around FromContext. Requests that
// skipped the middleware are extracted on the fly.
func FromRequest(r *http.Request) Info {
	if info, ok := r.Context().Value(clientIPKey).(Info); ok {
		return info
	}
	return extract(r)
}

// extract pulls IPs from all known headers and computes Primary + RateLimitKey
func extract(r *http.Request) Info {
	allIPs := make(map[string]bool)
	var primary string
	add := func(ip string) {
		if ip == "" {
			return
		}
		allIPs[ip] = true
		if primary == "" {
			primary = ip
		}
	}

	// RemoteAddr - ALWAYS TRUSTED (actual TCP connection); it anchors the
	// key but is only primary when nothing else is present.
	remoteIP := extractIPFromAddr(r.RemoteAddr)
	if remoteIP != "" {
		allIPs[remoteIP] = true
	}

	add(viewerAddress(r.Header.Get("CloudFront-Viewer-Address")))
	add(strings.TrimSpace(r.Header.Get("CF-Connecting-IP")))
	add(strings.TrimSpace(r.Header.Get("True-Client-IP")))
	add(strings.TrimSpace(r.Header.Get("X-Real-IP")))
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		add(strings.TrimSpace(first))
	}

	if primary == "" {
		primary = remoteIP
	}

	ipList := make([]string, 0, len(allIPs))
	for ip := range allIPs {
		ipList = append(ipList, ip)
	}
	sort.Strings(ipList)

	country := strings.TrimSpace(r.Header.Get("CloudFront-Viewer-Country"))
	if country == "" {
		country = strings.TrimSpace(r.Header.Get("CF-IPCountry"))
	}

	return Info{
		Primary:      primary,
		RateLimitKey: strings.Join(ipList, "|"),
		Country:      strings.ToUpper(country),
	}
}

// viewerAddress strips the port CloudFront appends to both IPv4 and
// unbracketed IPv6 viewer addresses.
func viewerAddress(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if strings.HasPrefix(v, "[") {
		return extractIPFromAddr(v)
	}
	if idx := strings.LastIndex(v, ":"); idx > 0 {
		return v[:idx]
	}
	return v
}

// extractIPFromAddr extracts IP from address that may include port
// Handles formats: "IP:port", "[IPv6]:port", "IP", "IPv6"
func extractIPFromAddr(addr string) string {
	if addr == "" {
		return ""
	}

	if strings.HasPrefix(addr, "[") {
		if idx := strings.LastIndex(addr, "]:"); idx != -1 {
			return strings.Trim(addr[:idx+1], "[]")
		}
		return strings.Trim(addr, "[]")
	}

	// IPv4:port has exactly one colon
	if strings.Count(addr, ":") == 1 {
		return addr[:strings.LastIndex(addr, ":")]
	}

	return addr
}
