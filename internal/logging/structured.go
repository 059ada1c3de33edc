// Package logging provides structured logging for the server, built on slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// LogLevel represents logging levels
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Format     string // "json" or "text"
	AddSource  bool
	TimeFormat string
}

// Logger wraps slog.Logger with server-specific methods
type Logger struct {
	*slog.Logger
	config Config
}

// NewLogger creates a new structured logger
func NewLogger(config Config) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     parseLevel(config.Level),
		AddSource: config.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Custom time format
			if a.Key == slog.TimeKey && config.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(config.TimeFormat))
				}
			}
			return a
		},
	}

	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: config,
	}
}

// NewTestLogger returns a logger that discards all output.
func NewTestLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		config: Config{Level: LevelError},
	}
}

// WithContext returns a logger with context values
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	// Add trace information if available
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		logger = logger.With(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}

	return &Logger{Logger: logger, config: l.config}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}

	return &Logger{Logger: l.Logger.With(attrs...), config: l.config}
}

// WithError returns a logger with an error field
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("error", err.Error())),
		config: l.config,
	}
}

// WithComponent returns a logger tagged with a component name
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("component", name)),
		config: l.config,
	}
}

// Request logs an inbound request
func (l *Logger) Request(ctx context.Context, method string, id interface{}, channel, connID string) {
	l.WithContext(ctx).Info("request received",
		slog.String("method", method),
		slog.Any("id", id),
		slog.String("channel", channel),
		slog.String("connection_id", connID),
		slog.String("component", "dispatch"),
	)
}

// Response logs a completed dispatch
func (l *Logger) Response(ctx context.Context, method string, id interface{}, duration time.Duration) {
	l.WithContext(ctx).Info("response sent",
		slog.String("method", method),
		slog.Any("id", id),
		slog.Duration("duration", duration),
		slog.String("component", "dispatch"),
	)
}

// ResponseError logs a dispatch that produced an error response
func (l *Logger) ResponseError(ctx context.Context, method string, id interface{}, err error, duration time.Duration) {
	l.WithContext(ctx).Error("error response",
		slog.String("method", method),
		slog.Any("id", id),
		slog.String("error", err.Error()),
		slog.Duration("duration", duration),
		slog.String("component", "dispatch"),
	)
}

// ConnectionEvent logs a connection lifecycle event on a channel
func (l *Logger) ConnectionEvent(event, channel, connID string) {
	l.Info("connection event",
		slog.String("event", event),
		slog.String("channel", channel),
		slog.String("connection_id", connID),
		slog.String("component", "transport"),
	)
}

// DroppedFrame logs a malformed inbound frame that was discarded
func (l *Logger) DroppedFrame(channel, connID string, err error) {
	l.Warn("malformed frame dropped",
		slog.String("channel", channel),
		slog.String("connection_id", connID),
		slog.String("error", err.Error()),
		slog.String("component", "transport"),
	)
}

// parseLevel converts LogLevel to slog.Level
func parseLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Global logger instance
var defaultLogger = NewLogger(Config{
	Level:  LevelInfo,
	Format: "json",
})

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	defaultLogger = logger
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}
