// Package log configures the process-wide structured logger.
package log

import (
	"io"
	"log/slog"
	"os"
)

func Setup(logLevel, format string) {
	slog.SetDefault(New(os.Stderr, logLevel, format))
}

// New builds a logger writing text (default) or JSON records to w.
func New(w io.Writer, logLevel, format string) *slog.Logger {
	options := &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, options))
	}

	return slog.New(slog.NewTextHandler(w, options))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}

func parseLevel(logLevel string) slog.Level {
	switch logLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
