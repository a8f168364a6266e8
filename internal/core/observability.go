package core

import (
	"context"
	"log/slog"
	"time"
)

// MetricsRecorder observes the outcome and latency of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span around a service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

// AuditStatus is the outcome recorded in an audit entry.
type AuditStatus string

// Audit outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one completed service operation.
type AuditEntry struct {
	Operation string
	Record    string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives an entry for every service operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// SlogAuditRecorder writes audit entries to a structured logger.
type SlogAuditRecorder struct {
	logger *slog.Logger
}

// NewSlogAuditRecorder returns an audit recorder logging at info level, or
// warn for failed operations.
func NewSlogAuditRecorder(logger *slog.Logger) *SlogAuditRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditRecorder{logger: logger}
}

// Record implements AuditRecorder.
func (r *SlogAuditRecorder) Record(ctx context.Context, entry AuditEntry) {
	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("operation", entry.Operation),
		slog.String("status", string(entry.Status)),
		slog.Duration("duration", entry.Duration),
		slog.Time("at", entry.Timestamp),
	}
	if entry.Record != "" {
		attrs = append(attrs, slog.String("record", entry.Record))
	}
	if entry.Error != "" {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", entry.Error))
	}
	r.logger.LogAttrs(ctx, level, "audit", attrs...)
}
