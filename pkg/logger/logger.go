// Package logger provides production-grade structured logging using Go's standard library
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Level represents log levels
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format represents log output formats
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// ValidLevel reports whether l is one of the supported levels
func ValidLevel(l Level) bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// ValidFormat reports whether f is one of the supported formats
func ValidFormat(f Format) bool {
	return f == FormatJSON || f == FormatPretty
}

// Config holds logging configuration with sensible defaults
type Config struct {
	Level      Level  // Log level (debug, info, warn, error)
	Format     Format // Output format (json, pretty)
	Output     io.Writer
	ShowCaller bool // Include file:line in logs
	TimeFormat string
}

// DefaultConfig returns production-ready logging configuration
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     FormatJSON,
		Output:     os.Stderr,
		ShowCaller: false,
		TimeFormat: time.RFC3339,
	}
}

// Logger wraps slog.Logger with domain-specific logging methods
type Logger struct {
	logger *slog.Logger
}

// New creates a new production-ready structured logger
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler

	if cfg.Format == FormatPretty {
		timeFormat := cfg.TimeFormat
		if timeFormat == "" {
			timeFormat = "2006-01-02 15:04:05.000"
		}

		handler = tint.NewHandler(output, &tint.Options{
			Level:      level,
			TimeFormat: timeFormat,
			AddSource:  cfg.ShowCaller,
		})
	} else {
		opts := &slog.HandlerOptions{
			Level:     level,
			AddSource: cfg.ShowCaller,
		}
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{
		logger: slog.New(handler).With("service", "portserver"),
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return &Logger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithComponent creates a child logger with component context for modularity
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		logger: l.logger.With("component", component),
	}
}

// WithPID creates a child logger tagged with the requesting client pid
func (l *Logger) WithPID(pid int64) *Logger {
	return &Logger{
		logger: l.logger.With("pid", pid),
	}
}

// Debug logs debug level message with optional key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithFields(slog.LevelDebug, msg, keysAndValues...)
}

// Info logs info level message with optional key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithFields(slog.LevelInfo, msg, keysAndValues...)
}

// Warn logs warning level message with optional key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithFields(slog.LevelWarn, msg, keysAndValues...)
}

// Error logs error level message with error and optional key-value pairs
func (l *Logger) Error(msg string, err error, keysAndValues ...interface{}) {
	if err != nil {
		keysAndValues = append([]interface{}{"error", err.Error(), "error_type", fmt.Sprintf("%T", err)}, keysAndValues...)
	}
	l.logWithFields(slog.LevelError, msg, keysAndValues...)
}

// Allocation logs a granted lease
func (l *Logger) Allocation(pid int64, port uint16, scanDepth int) {
	l.logger.Info("port allocated", "pid", pid, "port", port, "scan_depth", scanDepth)
}

// Denied logs a request that was dropped without a response
func (l *Logger) Denied(pid int64, reason string) {
	l.logger.Info("allocation denied", "pid", pid, "reason", reason)
}

// Stats logs a snapshot of the server counters
func (l *Logger) Stats(total, denied, clientErrors uint64, poolSize, lastScanDepth int) {
	l.logger.Info("server stats",
		"total_allocations", total,
		"denied_allocations", denied,
		"client_request_errors", clientErrors,
		"pool_size", poolSize,
		"last_scan_depth", lastScanDepth)
}

// HealthCheck logs the result of one readiness probe against the admin API
func (l *Logger) HealthCheck(attempt, maxAttempts int, url string, success bool, latency time.Duration, err error) {
	msg := "health check succeeded"
	if !success {
		msg = "health check failed"
	}
	args := []any{"attempt", attempt, "max_attempts", maxAttempts, "url", url, "success", success, "latency", latency}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.logger.Info(msg, args...)
}

// StartupBanner logs a concise startup message with configuration
func (l *Logger) StartupBanner(version string, config map[string]interface{}) {
	l.logger.Info("portserver starting", "version", version, "config", config)
}

// ShutdownBanner logs a clear shutdown message
func (l *Logger) ShutdownBanner(reason string) {
	l.logger.Info("==================================================")
	l.logger.Info("Shutting down portserver", "reason", reason)
	l.logger.Info("==================================================")
}

// logWithFields is a helper to add key-value pairs to log events
func (l *Logger) logWithFields(level slog.Level, msg string, keysAndValues ...interface{}) {
	if len(keysAndValues)%2 != 0 {
		l.logger.Warn("odd number of key-value pairs provided to logger", "args_count", len(keysAndValues))
		keysAndValues = append(keysAndValues, "<missing_value>")
	}

	l.logger.Log(context.Background(), level, msg, keysAndValues...)
}

// GetSlog returns the underlying slog.Logger for advanced use cases
func (l *Logger) GetSlog() *slog.Logger {
	return l.logger
}

// parseLevel converts string level to slog.Level
func parseLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
