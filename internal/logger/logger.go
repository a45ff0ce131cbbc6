package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var log *slog.Logger
var logLevel = new(slog.LevelVar)

func init() {
	// Supports: debug, info, warn, error (case-insensitive)
	logLevel.Set(parseLevel(os.Getenv("LOG_LEVEL")))
	log = newJSONLogger(os.Stdout)

	// Set as default so any code using slog directly gets JSON output
	slog.SetDefault(log)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newJSONLogger(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler)
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return logLevel.Level() == slog.LevelDebug
}

// SetDebugForTest toggles debug logging and returns a function restoring
// the previous level.
func SetDebugForTest(enabled bool) func() {
	original := logLevel.Level()
	if enabled {
		logLevel.Set(slog.LevelDebug)
	} else {
		logLevel.Set(slog.LevelInfo)
	}
	return func() {
		logLevel.Set(original)
	}
}

// Component returns a logger tagged with the given component name.
// Used by long-running loops (worker, ingest listener) so every line
// carries its origin.
func Component(name string) *slog.Logger {
	return log.With("component", name)
}

// Debug logs a debug message with structured fields
func Debug(msg string, args ...any) {
	log.Debug(msg, args...)
}

// Info logs an informational message with structured fields
func Info(msg string, args ...any) {
	log.Info(msg, args...)
}

// Warn logs a warning message with structured fields
func Warn(msg string, args ...any) {
	log.Warn(msg, args...)
}

// Error logs an error message with structured fields
func Error(msg string, args ...any) {
	log.Error(msg, args...)
}

// Fatal logs an error message and exits with status 1.
// Reserved for configuration errors at startup.
func Fatal(msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}

// SetOutputForTest redirects log output to a custom writer for testing.
// Returns a cleanup function that restores the original output.
func SetOutputForTest(w io.Writer) func() {
	original := log
	log = newJSONLogger(w)
	slog.SetDefault(log)
	return func() {
		log = original
		slog.SetDefault(log)
	}
}
