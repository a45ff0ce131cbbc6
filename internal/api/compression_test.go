package api

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCompression(t *testing.T) {
	ts := newTestServer(t, Config{})

	tests := []struct {
		name           string
		acceptEncoding string
		wantEncoding   string
	}{
		{"gzip", "gzip", "gzip"},
		{"brotli preferred", "gzip, deflate, br", "br"},
		{"brotli only", "br", "br"},
		{"none", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			w := ts.do(req)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantEncoding, w.Header().Get("Content-Encoding"))

			var r io.Reader = w.Body
			switch tt.wantEncoding {
			case "gzip":
				gz, err := gzip.NewReader(w.Body)
				require.NoError(t, err)
				defer gz.Close()
				r = gz
			case "br":
				r = brotli.NewReader(w.Body)
			}
			body, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Contains(t, string(body), `"status":"ok"`)
		})
	}
}

func TestResponseCompression_ErrorResponses(t *testing.T) {
	ts := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/analytics/stats/example.com", nil)
	req.Header.Set("Accept-Encoding", "br")
	w := ts.do(req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "br", w.Header().Get("Content-Encoding"))
	body, err := io.ReadAll(brotli.NewReader(w.Body))
	require.NoError(t, err)
	assert.Contains(t, string(body), "Unauthorized")
}

func TestDecompressMiddleware(t *testing.T) {
	var received []byte
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		received, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := decompressMiddleware(1024)(capture)
	payload := []byte(`{"events":[{"session_id":"s1"}]}`)

	t.Run("zstd", func(t *testing.T) {
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(enc.EncodeAll(payload, nil)))
		req.Header.Set("Content-Encoding", "zstd")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, payload, received)
	})

	t.Run("gzip", func(t *testing.T) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write(payload)
		gz.Close()
		req := httptest.NewRequest(http.MethodPost, "/", &buf)
		req.Header.Set("Content-Encoding", "GZIP")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, payload, received)
	})

	t.Run("identity passes through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, payload, received)
	})

	t.Run("unsupported encoding", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
		req.Header.Set("Content-Encoding", "deflate")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	})

	t.Run("corrupt gzip", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not gzip"))
		req.Header.Set("Content-Encoding", "gzip")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("decoded size is bounded", func(t *testing.T) {
		big := bytes.Repeat([]byte("a"), 4096)
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(enc.EncodeAll(big, nil)))
		req.Header.Set("Content-Encoding", "zstd")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}
