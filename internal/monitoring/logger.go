// Package monitoring - logger.go provides structured logging via zerolog.
//
// DESIGN: Thin wrapper around zerolog with:
//   - Configurable level, format (json/console/auto), output (stdout/stderr/file)
//   - "auto" format picks console output when writing to a terminal
//   - Global() sets the default logger for the entire application
//   - Context helpers carrying the request id and X-Gateway-Meta correlation
package monitoring

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Context keys for request tracking.
type contextKey string

const (
	RequestIDKey   contextKey = "request_id"
	CorrelationKey contextKey = "correlation"
)

// Logger wraps zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

// New creates a new Logger with the given configuration.
func New(cfg LoggerConfig) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var (
		writer io.Writer
		fd     = -1
	)
	switch cfg.Output {
	case "stdout", "":
		writer, fd = os.Stdout, int(os.Stdout.Fd())
	case "stderr":
		writer, fd = os.Stderr, int(os.Stderr.Fd())
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			writer, fd = os.Stdout, int(os.Stdout.Fd())
		} else {
			writer = f
		}
	}

	console := cfg.Format == "console" || (cfg.Format == "auto" && fd >= 0 && term.IsTerminal(fd))
	if console {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}
	}

	return NewWithWriter(writer, level)
}

// NewWithWriter creates a Logger writing JSON to w. Tests use it to
// capture output.
func NewWithWriter(w io.Writer, level zerolog.Level) *Logger {
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Global sets the global zerolog logger.
func Global(cfg LoggerConfig) {
	logger := New(cfg)
	log.Logger = logger.zl
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

// Debug returns a debug event.
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }

// Info returns an info event.
func (l *Logger) Info() *zerolog.Event { return l.zl.Info() }

// Warn returns a warn event.
func (l *Logger) Warn() *zerolog.Event { return l.zl.Warn() }

// Error returns an error event.
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// Fatal returns a fatal event.
func (l *Logger) Fatal() *zerolog.Event { return l.zl.Fatal() }

// RequestIDFromContext retrieves the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestIDContext returns a new context with the request ID.
func WithRequestIDContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithCorrelationContext returns a new context carrying correlation ids.
func WithCorrelationContext(ctx context.Context, c Correlation) context.Context {
	return context.WithValue(ctx, CorrelationKey, c)
}

// CorrelationFromContext retrieves correlation ids; zero value if absent.
func CorrelationFromContext(ctx context.Context) Correlation {
	c, _ := ctx.Value(CorrelationKey).(Correlation)
	return c
}

// FromContext returns the global logger enriched with the request id and
// correlation ids found in ctx.
func FromContext(ctx context.Context) *zerolog.Logger {
	lc := log.Logger.With()
	if id := RequestIDFromContext(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	lc = CorrelationFromContext(ctx).fields(lc)
	l := lc.Logger()
	return &l
}
