package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/testcontainers/testcontainers-go"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/storage"
)

// TestBucket is the access-log bucket created in the MinIO container.
const TestBucket = "analytics-logs-test"

// TestEnvironment holds test infrastructure (PostgreSQL + MinIO containers)
type TestEnvironment struct {
	DB                *db.DB
	Storage           *storage.S3Storage
	PostgresContainer *postgres.PostgresContainer
	MinioContainer    *tcminio.MinioContainer
	Ctx               context.Context
}

// SetupTestEnvironment starts PostgreSQL and MinIO containers for integration
// testing. Cleanup is registered with t.Cleanup.
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	ctx := context.Background()

	t.Log("Starting PostgreSQL container...")
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("analytics_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get postgres connection string: %v", err)
	}

	database, err := db.Connect(connStr)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	t.Log("Running database migrations...")
	if err := db.RunMigrations(database.Conn()); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Log("Starting MinIO container...")
	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	if err != nil {
		t.Fatalf("Failed to start minio container: %v", err)
	}

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get minio endpoint: %v", err)
	}

	// NewS3Storage expects the bucket to exist already.
	createBucket(t, ctx, minioEndpoint)

	t.Log("Initializing S3 storage...")
	var s3Storage *storage.S3Storage
	maxRetries := 10
	for i := 0; i < maxRetries; i++ {
		s3Storage, err = storage.NewS3Storage(storage.S3Config{
			Endpoint:        minioEndpoint,
			AccessKeyID:     "minioadmin",
			SecretAccessKey: "minioadmin",
			BucketName:      TestBucket,
			UseSSL:          false,
		})
		if err == nil {
			break
		}
		if i == maxRetries-1 {
			t.Fatalf("Failed to create S3 storage after %d retries: %v", maxRetries, err)
		}
		t.Logf("MinIO not ready yet, retrying... (%d/%d)", i+1, maxRetries)
		time.Sleep(500 * time.Millisecond)
	}

	env := &TestEnvironment{
		DB:                database,
		Storage:           s3Storage,
		PostgresContainer: postgresContainer,
		MinioContainer:    minioContainer,
		Ctx:               ctx,
	}

	t.Cleanup(func() {
		env.Cleanup(t)
	})

	t.Log("Test environment ready!")
	return env
}

func createBucket(t *testing.T, ctx context.Context, endpoint string) {
	t.Helper()
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Fatalf("Failed to create minio client: %v", err)
	}
	for i := 0; i < 10; i++ {
		err = client.MakeBucket(ctx, TestBucket, minio.MakeBucketOptions{})
		if err == nil {
			return
		}
		if exists, _ := client.BucketExists(ctx, TestBucket); exists {
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("Failed to create bucket %s: %v", TestBucket, err)
}

// Cleanup stops containers and closes connections
func (e *TestEnvironment) Cleanup(t *testing.T) {
	t.Helper()
	t.Log("Cleaning up test environment...")

	if e.DB != nil {
		if err := e.DB.Close(); err != nil {
			t.Logf("Warning: failed to close database: %v", err)
		}
		e.DB = nil
	}

	if e.PostgresContainer != nil {
		if err := e.PostgresContainer.Terminate(e.Ctx); err != nil {
			t.Logf("Warning: failed to terminate postgres container: %v", err)
		}
		e.PostgresContainer = nil
	}

	if e.MinioContainer != nil {
		if err := e.MinioContainer.Terminate(e.Ctx); err != nil {
			t.Logf("Warning: failed to terminate minio container: %v", err)
		}
		e.MinioContainer = nil
	}

	t.Log("Test environment cleaned up")
}

// CleanDB truncates all tables to provide clean state for each test
func (e *TestEnvironment) CleanDB(t *testing.T) {
	t.Helper()

	for _, table := range []string{"kv_items", "admin_users"} {
		if _, err := e.DB.Exec(context.Background(), "TRUNCATE TABLE "+table); err != nil {
			t.Fatalf("Failed to truncate table %s: %v", table, err)
		}
	}
}
