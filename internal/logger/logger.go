// Package logger provides the process-wide structured logger.
//
// Every package logs through the functions here with key/value pairs
// ("job_id", "stage", "file", "error") so that text and JSON output carry
// the same fields.
package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	current = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	mu      sync.RWMutex
)

// Options configures the logger.
type Options struct {
	Debug  bool         // Enable debug level logging
	Quiet  bool         // Only show errors; wins over Debug
	JSON   bool         // Output as JSON
	Output io.Writer    // Output destination (default: stderr)
	Logger *slog.Logger // Custom logger (overrides all other options)
}

// Init replaces the logger. The result also becomes the slog default so
// library code logging through slog ends up in the same stream.
func Init(opts Options) {
	l := opts.Logger
	if l == nil {
		l = slog.New(newHandler(opts))
	}

	mu.Lock()
	current = l
	mu.Unlock()
	slog.SetDefault(l)
}

func newHandler(opts Options) slog.Handler {
	level := slog.LevelInfo
	switch {
	case opts.Quiet:
		level = slog.LevelError
	case opts.Debug:
		level = slog.LevelDebug
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	hopts := &slog.HandlerOptions{Level: level}
	if opts.JSON {
		return slog.NewJSONHandler(out, hopts)
	}
	return slog.NewTextHandler(out, hopts)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

// With returns a logger that adds args to every record.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}
