package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// compressionLevel is used for both gzip and brotli responses
const compressionLevel = 5

// responseCompressor compresses JSON responses with br or gzip, following
// the client's Accept-Encoding.
func responseCompressor() func(http.Handler) http.Handler {
	c := middleware.NewCompressor(compressionLevel, "application/json", "text/plain")
	c.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, level)
	})
	return c.Handler
}

// decompressMiddleware decodes request bodies sent with Content-Encoding
// zstd or gzip. Uncompressed bodies pass through untouched. maxBytes bounds
// the decoded size.
func decompressMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			encoding := strings.TrimSpace(r.Header.Get("Content-Encoding"))

			var decoded io.ReadCloser
			switch {
			case encoding == "" || strings.EqualFold(encoding, "identity"):
				next.ServeHTTP(w, r)
				return
			case strings.EqualFold(encoding, "zstd"):
				decoder, err := zstd.NewReader(r.Body, zstd.WithDecoderMaxMemory(uint64(maxBytes)))
				if err != nil {
					respondError(w, http.StatusBadRequest, "Failed to create zstd decoder")
					return
				}
				decoded = decoder.IOReadCloser()
			case strings.EqualFold(encoding, "gzip"):
				reader, err := gzip.NewReader(r.Body)
				if err != nil {
					respondError(w, http.StatusBadRequest, "Invalid gzip body")
					return
				}
				decoded = reader
			default:
				respondError(w, http.StatusUnsupportedMediaType, "Unsupported Content-Encoding: "+encoding)
				return
			}
			defer decoded.Close()

			// Downstream handlers see an uncompressed body of unknown length.
			r.Body = http.MaxBytesReader(w, decoded, maxBytes)
			r.Header.Del("Content-Encoding")
			r.Header.Del("Content-Length")
			r.ContentLength = -1

			next.ServeHTTP(w, r)
		})
	}
}
