// Package logging provides structured logging with correlation/actor/cycle
// context propagation, generalizing the teacher's pkg/logger and
// infrastructure/logging trace-id wrapper to this domain's identifiers.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried into log entries.
type ContextKey string

const (
	CorrelationIDKey ContextKey = "correlation_id"
	ActorIDKey       ContextKey = "actor_id"
	ActorKindKey     ContextKey = "actor_kind"
	CycleIDKey       ContextKey = "cycle_id"
)

// Logger wraps logrus.Logger with service-name tagging.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a Logger with the given service name, level, and format
// ("json" or "text").
func New(service, level, format string) *Logger {
	l := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, service: service}
}

// NewFromEnv builds a Logger from LOG_LEVEL/LOG_FORMAT, defaulting to
// info/json.
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext returns a logrus.Entry enriched with whatever correlation,
// actor, and cycle identifiers are present on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if v := ctx.Value(CorrelationIDKey); v != nil {
		entry = entry.WithField("correlation_id", v)
	}
	if v := ctx.Value(ActorIDKey); v != nil {
		entry = entry.WithField("actor_id", v)
	}
	if v := ctx.Value(ActorKindKey); v != nil {
		entry = entry.WithField("actor_kind", v)
	}
	if v := ctx.Value(CycleIDKey); v != nil {
		entry = entry.WithField("cycle_id", v)
	}
	return entry
}

// WithCommand augments a context with the identifiers common to every
// command invocation (§6 of the spec).
func WithCommand(ctx context.Context, correlationID, actorID, actorKind string) context.Context {
	ctx = context.WithValue(ctx, CorrelationIDKey, correlationID)
	ctx = context.WithValue(ctx, ActorIDKey, actorID)
	ctx = context.WithValue(ctx, ActorKindKey, actorKind)
	return ctx
}

// WithCycle augments a context with a cycle id for log correlation.
func WithCycle(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, CycleIDKey, cycleID)
}
