// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Logger is the application-wide structured logger instance.
var Logger = slog.Default()

// InitLogger initializes the global logger with the specified level and format.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
func InitLogger(level, format string) {
	InitLoggerTo(os.Stdout, level, format)
}

// InitLoggerTo is InitLogger with an explicit destination.
func InitLoggerTo(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewConnID returns a fresh identifier for one accepted connection.
func NewConnID() string {
	return uuid.NewString()
}

// WithConn returns a logger with conn_id field.
func WithConn(l *slog.Logger, connID string) *slog.Logger {
	return orDefault(l).With("conn_id", connID)
}

// WithChannel returns a logger with channel field.
func WithChannel(l *slog.Logger, channel string) *slog.Logger {
	return orDefault(l).With("channel", channel)
}

// WithError returns a logger with error field.
func WithError(l *slog.Logger, err error) *slog.Logger {
	return orDefault(l).With("error", err)
}

// orDefault falls back to the package logger.
func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Logger
	}
	return l
}
