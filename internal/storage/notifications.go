package storage

import (
	"context"
	"net/url"

	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/outcomeops/outcomeops-analytics/internal/logger"
)

// ObjectRef identifies one object named by a storage notification.
type ObjectRef struct {
	Bucket string
	Key    string
	Size   int64
}

// ObjectCreatedEvents is the event filter for new objects.
var ObjectCreatedEvents = []string{string(notification.ObjectCreatedAll)}

// RefsFromInfo extracts object-created references from a notification.
// Keys arrive URL-encoded; undecodable keys are used verbatim.
func RefsFromInfo(info notification.Info) []ObjectRef {
	refs := make([]ObjectRef, 0, len(info.Records))
	for _, rec := range info.Records {
		key := rec.S3.Object.Key
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if key == "" {
			continue
		}
		refs = append(refs, ObjectRef{
			Bucket: rec.S3.Bucket.Name,
			Key:    key,
			Size:   rec.S3.Object.Size,
		})
	}
	return refs
}

// ListenObjectCreated subscribes to object-created notifications for keys
// ending in suffix and calls handle for each referenced object. It blocks
// until ctx is done or the notification stream fails.
func (s *S3Storage) ListenObjectCreated(ctx context.Context, prefix, suffix string, handle func(context.Context, ObjectRef)) error {
	ch := s.client.ListenBucketNotification(ctx, s.bucket, prefix, suffix, ObjectCreatedEvents)
	logger.Info("listening for object notifications", "bucket", s.bucket, "prefix", prefix, "suffix", suffix)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case info, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return classifyStorageError(errNotificationStreamClosed, "listen")
			}
			if info.Err != nil {
				return classifyStorageError(info.Err, "listen")
			}
			for _, ref := range RefsFromInfo(info) {
				handle(ctx, ref)
			}
		}
	}
}
