package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/outcomeops/outcomeops-analytics/internal/logger"
	"github.com/outcomeops/outcomeops-analytics/internal/logparser"
)

// IngestSecretHeader carries the shared secret of the ingestion webhook.
const IngestSecretHeader = "X-Ingest-Secret"

type notificationResponse struct {
	Objects int              `json:"objects"`
	Ignored int              `json:"ignored"`
	Failed  int              `json:"failed"`
	Result  logparser.Result `json:"result"`
}

// handleNotification processes the log objects named by an object-created
// notification. Keys without the configured suffix are ignored. Each
// object gets its own invocation deadline, and one failing object does not
// stop the others; the response reports per-invocation counters.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	log := logger.Ctx(r.Context())

	got := r.Header.Get(IngestSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.IngestSecret)) != 1 {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read body")
		return
	}
	refs, err := logparser.DecodeNotification(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid notification body")
		return
	}

	var resp notificationResponse
	for _, ref := range refs {
		if s.cfg.ObjectSuffix != "" && !strings.HasSuffix(ref.Key, s.cfg.ObjectSuffix) {
			resp.Ignored++
			log.Debug("ignoring notified object", "bucket", ref.Bucket, "key", ref.Key, "suffix", s.cfg.ObjectSuffix)
			continue
		}
		res, err := s.processObject(r.Context(), ref.Bucket, ref.Key)
		resp.Result.Add(res)
		resp.Objects++
		if err != nil {
			resp.Failed++
			level := log.Error
			if errors.Is(err, logparser.ErrDomainNotAllowed) || errors.Is(err, logparser.ErrNoDomain) {
				level = log.Warn
			}
			level("log object processing failed", "bucket", ref.Bucket, "key", ref.Key, "error", err)
		}
	}

	log.Info("notification processed",
		"objects", resp.Objects,
		"ignored", resp.Ignored,
		"failed", resp.Failed,
		"lines", resp.Result.Lines,
		"parsed", resp.Result.Parsed,
		"malformed", resp.Result.Malformed,
		"skipped", resp.Result.Skipped,
		"written", resp.Result.Written,
		"lost", resp.Result.Lost,
	)
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) processObject(ctx context.Context, bucket, key string) (logparser.Result, error) {
	if s.cfg.InvocationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.InvocationTimeout)
		defer cancel()
	}
	return s.processor.ProcessObject(ctx, bucket, key)
}
