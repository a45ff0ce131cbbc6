package storage_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/outcomeops/outcomeops-analytics/internal/storage"
	"github.com/outcomeops/outcomeops-analytics/internal/testutil"
)

func TestS3Storage_OpenListAndMissing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := testutil.SetupTestEnvironment(t)
	ctx := context.Background()

	keys := []string{"example.com/a.gz", "example.com/b.gz", "example.com/skip.txt"}
	for _, k := range keys {
		if err := env.Storage.Upload(ctx, k, []byte("payload "+k), "application/gzip"); err != nil {
			t.Fatalf("Upload(%s) failed: %v", k, err)
		}
	}

	rc, err := env.Storage.Open(ctx, "", "example.com/a.gz")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "payload example.com/a.gz" {
		t.Errorf("unexpected content %q", data)
	}

	listed, err := env.Storage.ListKeys(ctx, "example.com/", ".gz")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(listed) != 2 || listed[0] != "example.com/a.gz" || listed[1] != "example.com/b.gz" {
		t.Errorf("unexpected listing: %v", listed)
	}

	_, err = env.Storage.Open(ctx, "", "example.com/missing.gz")
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}
