package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/outcomeops/outcomeops-analytics/internal/analytics"
	"github.com/outcomeops/outcomeops-analytics/internal/auth"
	"github.com/outcomeops/outcomeops-analytics/internal/filter"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
	"github.com/outcomeops/outcomeops-analytics/internal/storage"
	"github.com/outcomeops/outcomeops-analytics/internal/validation"
)

// Store backends
const (
	backendPostgres = "postgres"
	backendMemory   = "memory"
)

type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	StoreBackend string
	DatabaseURL  string

	// S3Config is nil when object storage is not configured; ingestion
	// is then unavailable.
	S3Config     *storage.S3Config
	ObjectSuffix string

	Domains      []string
	ExtraOrigins []string
	Filter       FilterConfig

	Engine     analytics.Config
	Precompute analytics.PrecomputeConfig
	Retention  time.Duration

	PollInterval      time.Duration
	InvocationTimeout time.Duration

	JWTSecret      string
	AccessTokenTTL time.Duration
	MagicLinkTTL   time.Duration
	Admins         []auth.AdminSpec
	DashboardURL   string

	EmailConfig EmailConfig

	IngestSecret string
}

type FilterConfig struct {
	Extensions []string
	Paths      []string
	BotAgents  []string
}

func (f FilterConfig) Classifier() *filter.Classifier {
	return filter.NewClassifier(f.Extensions, f.Paths, f.BotAgents)
}

type EmailConfig struct {
	Enabled          bool
	APIKey           string
	FromAddress      string
	FromName         string
	RateLimitPerHour int
}

// loadConfig reads the environment. Configuration errors are fatal.
func loadConfig() Config {
	cfg, err := parseConfig(os.Getenv)
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	return cfg
}

// env reads typed settings, remembering the first malformed value.
type env struct {
	get func(string) string
	err error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) require(key, hint string) string {
	v := strings.TrimSpace(e.get(key))
	if v == "" && e.err == nil {
		e.err = fmt.Errorf("missing required env var %s (%s)", key, hint)
	}
	return v
}

func (e *env) number(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if (err != nil || n < 0) && e.err == nil {
		e.err = fmt.Errorf("%s must be a non-negative integer, got %q", key, v)
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if (err != nil || d < 0) && e.err == nil {
		e.err = fmt.Errorf("%s must be a duration like 30s or 2h, got %q", key, v)
		return def
	}
	return d
}

func (e *env) list(key string) []string {
	return filter.ParseList(e.get(key))
}

func (e *env) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func parseConfig(getenv func(string) string) (Config, error) {
	e := &env{get: getenv}

	cfg := Config{
		Port:              e.number("PORT", 8080),
		ReadTimeout:       e.duration("HTTP_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:      e.duration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		StoreBackend:      strings.ToLower(e.str("STORE_BACKEND", backendPostgres)),
		ObjectSuffix:      e.str("LOG_OBJECT_SUFFIX", ".gz"),
		ExtraOrigins:      e.list("EXTRA_ALLOWED_ORIGINS"),
		Retention:         time.Duration(e.number("RETENTION_DAYS", 90)) * 24 * time.Hour,
		PollInterval:      e.duration("WORKER_POLL_INTERVAL", time.Hour),
		InvocationTimeout: e.duration("INVOCATION_TIMEOUT", 60*time.Second),
		AccessTokenTTL:    e.duration("ACCESS_TOKEN_TTL", 24*time.Hour),
		MagicLinkTTL:      e.duration("MAGIC_LINK_TTL", auth.DefaultMagicLinkTTL),
		IngestSecret:      e.str("INGEST_WEBHOOK_SECRET", ""),
		Filter: FilterConfig{
			Extensions: e.list("EXCLUDED_EXTENSIONS"),
			Paths:      e.list("EXCLUDED_PATHS"),
			BotAgents:  e.list("BOT_USER_AGENTS"),
		},
	}

	switch cfg.StoreBackend {
	case backendPostgres:
		cfg.DatabaseURL = e.require("DATABASE_URL", "postgres DSN")
	case backendMemory:
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		e.fail(fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", backendPostgres, backendMemory, cfg.StoreBackend))
	}

	for _, d := range e.list("ALLOWED_DOMAINS") {
		d = validation.NormalizeDomain(d)
		if !validation.IsValidDomain(d) {
			e.fail(fmt.Errorf("ALLOWED_DOMAINS contains invalid domain %q", d))
			continue
		}
		cfg.Domains = append(cfg.Domains, d)
	}
	if len(cfg.Domains) == 0 {
		e.fail(errors.New("missing required env var ALLOWED_DOMAINS (comma-separated tracked domains)"))
	}

	if endpoint := e.str("S3_ENDPOINT", ""); endpoint != "" {
		cfg.S3Config = &storage.S3Config{
			Endpoint:        endpoint,
			AccessKeyID:     e.require("AWS_ACCESS_KEY_ID", "object storage credentials"),
			SecretAccessKey: e.require("AWS_SECRET_ACCESS_KEY", "object storage credentials"),
			BucketName:      e.require("LOG_BUCKET", "bucket holding access logs"),
			UseSSL:          e.get("S3_USE_SSL") != "false", // Default true
		}
	}

	engine := analytics.DefaultConfig(cfg.Domains)
	engine.SessionTimeout = time.Duration(e.number("SESSION_TIMEOUT_MINUTES", 30)) * time.Minute
	engine.BounceMaxSeconds = e.number("BOUNCE_MAX_SECONDS", engine.BounceMaxSeconds)
	engine.EngagedMinSeconds = e.number("ENGAGED_MIN_SECONDS", engine.EngagedMinSeconds)
	engine.MaxRangeDays = e.number("MAX_RANGE_DAYS", engine.MaxRangeDays)
	engine.WindowDays = e.number("CACHE_WINDOW_DAYS", engine.WindowDays)
	engine.CacheMaxAge = e.duration("CACHE_MAX_AGE", engine.CacheMaxAge)
	if raw := e.str("BLOG_PATH_PATTERN", ""); raw != "" {
		re, err := regexp.Compile(raw)
		if err != nil {
			e.fail(fmt.Errorf("BLOG_PATH_PATTERN: %w", err))
		}
		engine.BlogPattern = re
	}
	patterns, err := analytics.LoadPatterns(e.str("HALLUCINATION_PATTERNS_FILE", ""))
	if err != nil {
		e.fail(fmt.Errorf("HALLUCINATION_PATTERNS_FILE: %w", err))
	}
	engine.Patterns = patterns
	cfg.Engine = engine

	cfg.Precompute = analytics.DefaultPrecomputeConfig(cfg.Domains)
	cfg.Precompute.WindowDays = engine.WindowDays
	if engine.CacheMaxAge > 0 {
		cfg.Precompute.TTL = engine.CacheMaxAge
	}

	cfg.JWTSecret = e.require("JWT_SECRET", fmt.Sprintf("at least %d characters", auth.MinSecretLength))
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < auth.MinSecretLength {
		e.fail(fmt.Errorf("JWT_SECRET must be at least %d characters", auth.MinSecretLength))
	}
	cfg.DashboardURL = strings.TrimRight(e.require("DASHBOARD_URL", "base URL for login links"), "/")

	admins, err := auth.ParseAdmins(e.get("ADMIN_USERS"))
	if err != nil {
		e.fail(fmt.Errorf("ADMIN_USERS: %w", err))
	}
	cfg.Admins = admins

	// Email is enabled only if both API key and from address are set
	apiKey := e.str("RESEND_API_KEY", "")
	from := e.str("EMAIL_FROM_ADDRESS", "")
	cfg.EmailConfig = EmailConfig{
		Enabled:          apiKey != "" && from != "",
		APIKey:           apiKey,
		FromAddress:      from,
		FromName:         e.str("EMAIL_FROM_NAME", "OutcomeOps Analytics"),
		RateLimitPerHour: e.number("EMAIL_RATE_LIMIT_PER_HOUR", 10),
	}

	if e.err != nil {
		return Config{}, e.err
	}
	return cfg, nil
}
