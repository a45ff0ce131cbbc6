// Package storage reads access-log objects from S3-compatible object
// storage and listens for object-created notifications.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("analytics/storage")

// Sentinel errors for storage operations
var (
	// ErrObjectNotFound indicates the requested object does not exist
	ErrObjectNotFound = errors.New("object not found")

	// ErrAccessDenied indicates insufficient permissions for the operation
	ErrAccessDenied = errors.New("access denied")

	// ErrNetworkError indicates a network connectivity issue
	ErrNetworkError = errors.New("network error")

	// ErrTooManyObjects indicates a listing exceeded MaxListedObjects
	ErrTooManyObjects = errors.New("too many objects")
)

// MaxListedObjects bounds a single ListKeys call.
const MaxListedObjects = 100000

// S3Config holds S3/MinIO configuration
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
}

// S3Storage handles object storage operations against one default bucket.
type S3Storage struct {
	client *minio.Client
	bucket string
}

// NewS3Storage creates a new S3/MinIO storage client
func NewS3Storage(config S3Config) (*S3Storage, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	// Verify bucket exists (bucket must be created out-of-band)
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, config.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist: create it before starting the server", config.BucketName)
	}

	return &S3Storage{
		client: client,
		bucket: config.BucketName,
	}, nil
}

// Bucket returns the default bucket name.
func (s *S3Storage) Bucket() string {
	return s.bucket
}

func (s *S3Storage) bucketOr(bucket string) string {
	if bucket == "" {
		return s.bucket
	}
	return bucket
}

// Open streams an object. The caller must close the reader. An empty
// bucket means the default bucket.
func (s *S3Storage) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	bucket = s.bucketOr(bucket)
	ctx, span := tracer.Start(ctx, "storage.open",
		trace.WithAttributes(
			attribute.String("storage.bucket", bucket),
			attribute.String("storage.key", key),
		))
	defer span.End()

	object, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classifyStorageError(err, "open")
	}
	// GetObject is lazy; Stat surfaces a missing key before the first read.
	info, err := object.Stat()
	if err != nil {
		object.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classifyStorageError(err, "open")
	}
	span.SetAttributes(attribute.Int64("file.size", info.Size))
	return object, nil
}

// Download retrieves a whole object from the default bucket.
func (s *S3Storage) Download(ctx context.Context, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "storage.download",
		trace.WithAttributes(attribute.String("storage.key", key)))
	defer span.End()

	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classifyStorageError(err, "download")
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classifyStorageError(err, "download")
	}

	span.SetAttributes(attribute.Int("file.size", len(data)))
	return data, nil
}

// Upload writes an object to the default bucket.
func (s *S3Storage) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, span := tracer.Start(ctx, "storage.upload",
		trace.WithAttributes(
			attribute.String("storage.key", key),
			attribute.Int("file.size", len(data)),
		))
	defer span.End()

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return classifyStorageError(err, "upload")
	}
	return nil
}

// Delete removes an object from the default bucket.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "storage.delete",
		trace.WithAttributes(attribute.String("storage.key", key)))
	defer span.End()

	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// ListKeys lists object keys under prefix that end with suffix, in
// lexicographic order. Used to backfill logs that predate the listener.
func (s *S3Storage) ListKeys(ctx context.Context, prefix, suffix string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "storage.list_keys",
		trace.WithAttributes(
			attribute.String("storage.prefix", prefix),
			attribute.String("storage.suffix", suffix),
		))
	defer span.End()

	var keys []string
	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for obj := range objectCh {
		if obj.Err != nil {
			span.RecordError(obj.Err)
			span.SetStatus(codes.Error, obj.Err.Error())
			return nil, classifyStorageError(obj.Err, "list")
		}
		if suffix != "" && !strings.HasSuffix(obj.Key, suffix) {
			continue
		}
		keys = append(keys, obj.Key)

		if len(keys) > MaxListedObjects {
			err := fmt.Errorf("list: %w (limit: %d)", ErrTooManyObjects, MaxListedObjects)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	span.SetAttributes(attribute.Int("objects.count", len(keys)))
	return keys, nil
}

// classifyStorageError examines a storage error and returns an appropriate sentinel error
func classifyStorageError(err error, operation string) error {
	if err == nil {
		return nil
	}

	// Check for MinIO error response
	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) {
		switch minioErr.Code {
		case "NoSuchKey", "NoSuchBucket":
			return fmt.Errorf("%s: %w", operation, ErrObjectNotFound)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%s: %w", operation, ErrAccessDenied)
		}
	}

	// Check for network/connection errors
	if containsAny(err.Error(), []string{"connection", "timeout", "network", "dial", "refused"}) {
		return fmt.Errorf("%s network issue: %w", operation, ErrNetworkError)
	}

	// Return wrapped generic error for unknown cases
	return fmt.Errorf("%s failed: %w", operation, err)
}

// containsAny checks if a string contains any of the given substrings
func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

var errNotificationStreamClosed = errors.New("notification stream closed")
