// Package observability implements the logging, metrics, and tracing plane
// (C10): a slog JSON logger with the gateway's fixed field set, a chi
// middleware stack that attaches request/tenant/user/trace identifiers to
// both the logger and the response, and Prometheus counters/histograms
// exported on GET /metrics.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/opsgateway/issuegateway/internal/redact"
)

// NewLogger builds the gateway's root logger: JSON to stderr, matching the
// teacher's cmd/specmcp/main.go logger setup, wrapped so every record runs
// through the same redaction rules as the audit log writer (spec.md §6)
// before it reaches the underlying JSON handler.
func NewLogger(level string) *slog.Logger {
	return slog.New(&redactingHandler{
		inner: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)}),
	})
}

func parseLevel(s string) slog.Level {
	switch s {
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

// redactingHandler implements slog.Handler, scrubbing sensitive attribute
// values before delegating to inner. An attribute under a sensitive key is
// replaced outright; group attributes are walked, and map/slice values are
// passed through redact.Value so nested sensitive keys are masked too.
type redactingHandler struct {
	inner slog.Handler
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	redacted := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, redacted)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &redactingHandler{inner: h.inner.WithAttrs(redacted)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if redact.IsSensitiveKey(a.Key) {
		return slog.String(a.Key, redact.Placeholder)
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := v.Group()
		out := make([]slog.Attr, len(group))
		for i, g := range group {
			out[i] = redactAttr(g)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	case slog.KindAny:
		return slog.Any(a.Key, redact.Value(v.Any()))
	}
	return a
}
