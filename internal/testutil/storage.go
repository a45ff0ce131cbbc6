package testutil

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// GzipLines joins lines with newlines and gzips the result, producing an
// object shaped like a delivered access-log file.
func GzipLines(t *testing.T, lines ...string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		t.Fatalf("failed to gzip lines: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close gzip writer: %v", err)
	}
	return buf.Bytes()
}

// UploadLogObject gzips lines and stores them under key in the test bucket.
func UploadLogObject(t *testing.T, env *TestEnvironment, key string, lines ...string) {
	t.Helper()

	if err := env.Storage.Upload(env.Ctx, key, GzipLines(t, lines...), "application/gzip"); err != nil {
		t.Fatalf("failed to upload log object %s: %v", key, err)
	}
}

// LogLine builds a CloudFront standard log line. Unset fields are "-".
// Fields: date, time, edge, bytes, ip, method, host, path, status,
// referrer, user agent, query, cookie, result type, request id.
func LogLine(date, clock, ip, method, path string, status int, referrer, userAgent, requestID string) string {
	fields := []string{
		date, clock, "IAD89-C1", "1234", ip, method, "d111111abcdef8.cloudfront.net", path,
		strconv.Itoa(status), dash(referrer), dash(userAgent), "-", "-", "Hit", dash(requestID),
		"example.com", "https", "512", "0.002", "-", "TLSv1.3", "TLS_AES_128_GCM_SHA256", "Hit", "HTTP/2.0",
	}
	return strings.Join(fields, "\t")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
