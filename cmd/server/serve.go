package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/outcomeops/outcomeops-analytics/internal/analytics"
	"github.com/outcomeops/outcomeops-analytics/internal/api"
	"github.com/outcomeops/outcomeops-analytics/internal/auth"
	"github.com/outcomeops/outcomeops-analytics/internal/email"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
	"github.com/outcomeops/outcomeops-analytics/internal/ratelimit"
	"github.com/outcomeops/outcomeops-analytics/internal/tracking"
)

// Per-client limits on the public endpoints
const (
	trackRequestsPerMinute = 300
	trackBurst             = 60
	authRequestsPerMinute  = 10
	authBurst              = 5
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	// Start pprof debug server if enabled (for memory/CPU profiling)
	if os.Getenv("ENABLE_PPROF") == "true" {
		go startPprofServer()
	}

	defer setupTracing()()

	config := loadConfig()

	store, closeStore, err := openStore(ctx, config)
	if err != nil {
		logger.Fatal("failed to open store", "error", err)
	}
	defer closeStore()

	if len(config.Admins) > 0 {
		if err := auth.BootstrapAdmins(ctx, store, config.Admins); err != nil {
			logger.Fatal("failed to bootstrap admin users", "error", err)
		}
		logger.Info("admin users bootstrapped", "count", len(config.Admins))
	}

	var sender email.Service = email.LogService{}
	if config.EmailConfig.Enabled {
		resend := email.NewResendService(
			config.EmailConfig.APIKey,
			config.EmailConfig.FromAddress,
			config.EmailConfig.FromName,
		)
		sender = email.NewRateLimitedService(resend, config.EmailConfig.RateLimitPerHour)
		logger.Info("email service configured", "provider", "resend", "rate_limit_per_hour", config.EmailConfig.RateLimitPerHour)
	} else {
		logger.Info("email service disabled (RESEND_API_KEY or EMAIL_FROM_ADDRESS not set); login links are logged at debug level")
	}

	tokens, err := auth.NewTokens(config.JWTSecret, config.AccessTokenTTL)
	if err != nil {
		logger.Fatal("invalid token configuration", "error", err)
	}
	links := auth.NewMagicLinks(store, sender, tokens, config.DashboardURL, config.MagicLinkTTL)

	engine := analytics.NewEngine(store, config.Engine)
	ingester := tracking.NewIngester(store, config.Domains, config.Retention)

	apiConfig := api.Config{
		ExtraOrigins:      config.ExtraOrigins,
		InvocationTimeout: config.InvocationTimeout,
		ObjectSuffix:      config.ObjectSuffix,
		Version:           version,
	}
	// Webhook ingestion needs both a secret and object storage.
	processor, _, err := newProcessor(config, store)
	if err != nil {
		logger.Fatal("failed to configure log ingestion", "error", err)
	}
	var objectProcessor api.ObjectProcessor
	if processor != nil && config.IngestSecret != "" {
		objectProcessor = processor
		apiConfig.IngestSecret = config.IngestSecret
		logger.Info("ingestion webhook enabled", "bucket", config.S3Config.BucketName)
	}

	trackLimiter := ratelimit.NewInMemoryRateLimiter(ratelimit.PerMinute(trackRequestsPerMinute), trackBurst)
	defer trackLimiter.Stop()
	authLimiter := ratelimit.NewInMemoryRateLimiter(ratelimit.PerMinute(authRequestsPerMinute), authBurst)
	defer authLimiter.Stop()
	apiConfig.TrackLimiter = trackLimiter
	apiConfig.AuthLimiter = authLimiter

	server := api.NewServer(engine, ingester, links, tokens, objectProcessor, apiConfig)
	router := server.SetupRoutes()

	// Wrap router with OpenTelemetry HTTP instrumentation
	handler := otelhttp.NewHandler(router, "analytics-api")

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", config.Port, "version", version, "domains", config.Domains)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	select {
	case err := <-errCh:
		logger.Fatal("server failed", "error", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
