package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by the logger
type ContextKey string

const (
	// LoggerKey is the context key for the logger instance
	LoggerKey ContextKey = "logger"
)

// Output formats accepted by Open.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New creates a console logger at debug level on stdout.
func New() zerolog.Logger {
	return Open("debug", FormatConsole, os.Stdout)
}

// NewWithLevel creates a console logger filtered at the named level.
// Unknown or empty level names fall back to info.
func NewWithLevel(level string) zerolog.Logger {
	return Open(level, FormatConsole, os.Stdout)
}

// Open builds the process logger. format is "console" for humans or "json"
// for log collectors; anything else is treated as console.
func Open(level, format string, out io.Writer) zerolog.Logger {
	var w io.Writer = out
	if !strings.EqualFold(strings.TrimSpace(format), FormatJSON) {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Caller().Logger()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// NewWithWriter creates a JSON logger writing to w. Tests use it to inspect output.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Caller().Logger()
}

// Component returns a child logger tagged with the component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// WithContext adds the logger to the context
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from the context or returns a default logger
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return New()
}
