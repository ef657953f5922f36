// Package logging provides the structured logger used across mudgate.
//
// Records are slog records. Two attributes are significant: "component"
// names the subsystem and "device" names the device a run is for. The
// console handler lifts both into the line prefix.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"grimm.is/mudgate/internal/clock"
)

// Level represents log severity levels.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError

	// LevelAudit sits above error so audit records pass any level filter.
	LevelAudit = slog.LevelError + 4
)

// Attribute keys with special handling.
const (
	KeyComponent = "component"
	KeyDevice    = "device"
	KeyRunID     = "run_id"
)

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(DefaultConfig())
)

// Logger wraps slog with run-scoped helpers.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config holds logger configuration.
type Config struct {
	Level     Level
	Output    io.Writer
	JSON      bool
	AddSource bool
}

// DefaultConfig logs info and above to stderr on the console handler.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// New creates a new Logger with the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = NewConsoleHandler(cfg.Output, opts)
	}

	return &Logger{Logger: slog.New(handler), level: levelVar}
}

// ParseLevel maps a config string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Default returns the process logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// SetLevel changes the log level of l and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level)
}

// With returns a logger with additional key/value pairs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// WithComponent returns a logger with a component field.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(KeyComponent, name)
}

// WithRun returns a logger for one pipeline run of device.
func (l *Logger) WithRun(runID, device string) *Logger {
	return l.With(KeyRunID, runID, KeyDevice, device)
}

// Audit records a firewall change. Audit records are never filtered.
func (l *Logger) Audit(action, device string, args ...any) {
	attrs := append([]any{
		"audit", true,
		"action", action,
		KeyDevice, device,
		"timestamp", clock.Now().UTC().Format(time.RFC3339),
	}, args...)
	l.Logger.Log(context.Background(), LevelAudit, "AUDIT "+action, attrs...)
}

// WithComponent returns a component-scoped logger from the process logger.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}
