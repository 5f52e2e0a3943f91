// Package logging provides the structured logger shared by all three
// services (orderbook, autopilot, driver).
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger so callers get WithField/WithFields without
// importing logrus directly.
type Logger struct {
	*logrus.Logger
}

// Config controls level, format and destination.
type Config struct {
	Level  string
	Format string // "json" or "text"
	Output io.Writer
}

// New builds a Logger from Config, defaulting to info/text/stdout.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	} else {
		l.SetOutput(os.Stdout)
	}

	return &Logger{Logger: l}
}

// NewDefault returns an info-level text logger tagged with a component name.
func NewDefault(component string) *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stdout)
	return l.WithField("component", component)
}

type traceIDKey struct{}

// NewTraceID generates a fresh correlation id for a single inbound request
// or outbound driver call, so its log lines can be grepped together across
// orderbook, autopilot and driver.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID attaches traceID to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFrom retrieves the trace id stashed by WithTraceID, if any.
func TraceIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traceIDKey{}).(string)
	return id, ok
}
