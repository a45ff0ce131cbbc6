package logparser

import (
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/outcomeops/outcomeops-analytics/internal/storage"
)

// DecodeNotification decodes an S3-style event notification body
// ({"Records": [...]}) into object references.
func DecodeNotification(body []byte) ([]storage.ObjectRef, error) {
	var info notification.Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("invalid notification: %w", err)
	}
	return storage.RefsFromInfo(info), nil
}
