package api

import (
	"mime"
	"net/http"

	"github.com/outcomeops/outcomeops-analytics/internal/logger"
)

// validateContentType ensures POST/PUT/PATCH requests declare one of the
// allowed media types. navigator.sendBeacon posts text/plain, so tracking
// routes allow it alongside application/json.
func validateContentType(allowed ...string) func(http.Handler) http.Handler {
	if len(allowed) == 0 {
		allowed = []string{"application/json"}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
			default:
				next.ServeHTTP(w, r)
				return
			}

			log := logger.Ctx(r.Context())
			contentType := r.Header.Get("Content-Type")
			if contentType == "" {
				log.Info("request missing Content-Type header", "method", r.Method, "path", r.URL.Path)
				respondError(w, http.StatusUnsupportedMediaType, "Content-Type header required")
				return
			}

			// Ignore charset and other parameters
			mediaType, _, err := mime.ParseMediaType(contentType)
			if err == nil {
				for _, a := range allowed {
					if mediaType == a {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			log.Info("request with invalid Content-Type", "method", r.Method, "path", r.URL.Path, "content_type", contentType)
			respondError(w, http.StatusUnsupportedMediaType, "Content-Type must be "+allowed[0])
		})
	}
}
