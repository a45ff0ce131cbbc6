package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/outcomeops/outcomeops-analytics/internal/analytics"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
)

var workerTracer = otel.Tracer("analytics/worker")

var workerDryRun bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Rebuild cached rollups and purge expired items on a schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd.Context())
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerDryRun, "dry-run", false, "log the domains that would be rebuilt without writing")
	rootCmd.AddCommand(workerCmd)
}

// WorkerConfig holds configuration for the cache builder worker.
type WorkerConfig struct {
	PollInterval time.Duration
	// CycleTimeout bounds one rebuild cycle.
	CycleTimeout time.Duration
	DryRun       bool
}

// cacheBuilder is the part of analytics.Precomputer the worker drives.
type cacheBuilder interface {
	BuildAll(ctx context.Context) []analytics.BuildResult
	Purge(ctx context.Context) (int64, error)
	Window() analytics.Range
}

// Worker is the background cache builder.
type Worker struct {
	builder cacheBuilder
	domains []string
	config  WorkerConfig
}

func runWorker(ctx context.Context) error {
	logger.Info("starting cache builder worker")
	defer setupTracing()()

	config := loadConfig()
	workerConfig := WorkerConfig{
		PollInterval: config.PollInterval,
		CycleTimeout: config.InvocationTimeout * time.Duration(max(len(config.Domains), 1)),
		DryRun:       workerDryRun,
	}
	logger.Info("worker configuration loaded",
		"poll_interval", workerConfig.PollInterval,
		"cycle_timeout", workerConfig.CycleTimeout,
		"domains", config.Domains,
		"dry_run", workerConfig.DryRun,
	)
	if workerConfig.DryRun {
		logger.Info("DRY-RUN MODE ENABLED - no cache items will be written")
	}

	store, closeStore, err := openStore(ctx, config)
	if err != nil {
		logger.Fatal("failed to open store", "error", err)
	}
	defer closeStore()

	engine := analytics.NewEngine(store, config.Engine)
	worker := &Worker{
		builder: analytics.NewPrecomputer(engine, store, config.Precompute),
		domains: config.Domains,
		config:  workerConfig,
	}

	worker.Run(ctx)
	logger.Info("worker stopped")
	return nil
}

// Run executes the main worker loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on startup
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// runOnce rebuilds every domain's cache and purges expired items. A failing
// domain is logged and retried next cycle; existing cache items stay
// readable until their TTL.
func (w *Worker) runOnce(ctx context.Context) {
	ctx, span := workerTracer.Start(ctx, "worker.run_once")
	defer span.End()

	if w.config.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.CycleTimeout)
		defer cancel()
	}

	log := logger.Component("worker")
	window := w.builder.Window()

	if w.config.DryRun {
		for _, d := range w.domains {
			log.Info("[DRY-RUN] would rebuild cache", "domain", d, "from", window.FromDate(), "to", window.ToDate())
		}
		return
	}

	start := time.Now()
	results := w.builder.BuildAll(ctx)
	var built, failed, metrics int
	for _, r := range results {
		if r.Err != nil {
			failed++
			span.RecordError(r.Err)
			log.Error("cache rebuild failed", "domain", r.Domain, "error", r.Err)
			continue
		}
		built++
		metrics += r.Metrics
	}

	purged, err := w.builder.Purge(ctx)
	if err != nil {
		log.Error("purge of expired items failed", "error", err)
		span.RecordError(err)
	}

	span.SetAttributes(
		attribute.Int("domains.built", built),
		attribute.Int("domains.failed", failed),
		attribute.Int("metrics.written", metrics),
		attribute.Int64("items.purged", purged),
	)
	if failed > 0 || err != nil {
		span.SetStatus(codes.Error, "cycle completed with errors")
	}

	log.Info("cache cycle completed",
		"window_from", window.FromDate(),
		"window_to", window.ToDate(),
		"domains_built", built,
		"domains_failed", failed,
		"metrics_written", metrics,
		"items_purged", purged,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
