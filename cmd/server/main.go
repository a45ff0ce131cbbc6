// Command server runs the analytics platform: the HTTP API, the cache
// builder worker, the access-log ingestion listener and schema migrations.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
	"github.com/outcomeops/outcomeops-analytics/internal/logparser"
	"github.com/outcomeops/outcomeops-analytics/internal/storage"
)

var version string

var rootCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Multi-tenant web analytics server",
	Long: `analytics ingests CDN access logs and browser tracking beacons for a set
of sites and serves aggregated traffic, session and AI-hallucination
metrics to authenticated admins.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A .env file is optional; real deployments use the environment.
		if err := godotenv.Load(); err == nil {
			logger.Debug("loaded .env file")
		}
	},
	// No subcommand: serve the API, matching the container entrypoint.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.Version = version
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupTracing configures OpenTelemetry from OTEL_* env vars. Tracing is
// optional: without configuration the returned shutdown is a no-op.
func setupTracing() func() {
	shutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		logger.Warn("failed to configure OpenTelemetry", "error", err)
		return func() {}
	}
	return shutdown
}

// storeBackend is what every subcommand needs from persistence.
type storeBackend interface {
	db.Store
	db.AdminUsers
}

// openStore connects the configured store. The returned close func is
// always non-nil.
func openStore(ctx context.Context, cfg Config) (storeBackend, func(), error) {
	if cfg.StoreBackend == backendMemory {
		return db.NewMemoryStore(), func() {}, nil
	}
	database, err := db.ConnectWithRetry(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.RunMigrations(database.Conn()); err != nil {
		database.Close()
		return nil, nil, err
	}
	return database, func() { database.Close() }, nil
}

// newProcessor wires the access-log processor. It returns nil when object
// storage is not configured.
func newProcessor(cfg Config, store db.Store) (*logparser.Processor, *storage.S3Storage, error) {
	if cfg.S3Config == nil {
		return nil, nil, nil
	}
	objects, err := storage.NewS3Storage(*cfg.S3Config)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize storage: %w", err)
	}
	processor := logparser.NewProcessor(store, objects, cfg.Filter.Classifier(), logparser.Config{
		AllowedDomains: cfg.Domains,
		Retention:      cfg.Retention,
	})
	return processor, objects, nil
}

// startPprofServer starts a pprof debug server on localhost:6060.
// This server is only accessible locally (127.0.0.1).
//
// Available endpoints:
//   - /debug/pprof/heap      - heap memory profile
//   - /debug/pprof/goroutine - goroutine stack traces
//   - /debug/pprof/profile   - CPU profile (30s default)
func startPprofServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	addr := "127.0.0.1:6060"
	logger.Info("pprof debug server starting", "addr", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("pprof server failed", "error", err)
	}
}
