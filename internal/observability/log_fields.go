package observability

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

// LogFields wraps the root logger to emit the gateway's fixed request-log
// field set (spec.md §4.10): timestamp, level, logger, message, request_id,
// tenant_id, user_id, trace_id, span_id. The redaction pass already runs
// inside the logger's handler (see logging.go), so this type only needs to
// assemble the fields, not scrub them again.
type LogFields struct {
	logger *slog.Logger
	name   string
}

// NewLogFields names the logical component ("tool_surface", "sql_surface")
// these log lines come from, attached as the fixed `logger` field.
func NewLogFields(logger *slog.Logger, name string) *LogFields {
	return &LogFields{logger: logger, name: name}
}

func (l *LogFields) RequestCompleted(ctx context.Context, r *http.Request, status int, bytesWritten int64, elapsed time.Duration, sc trace.SpanContext) {
	attrs := []any{
		"logger", l.name,
		"request_id", middleware.GetReqID(ctx),
		"tenant_id", TenantID(ctx),
		"user_id", UserID(ctx),
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"bytes_written", bytesWritten,
		"duration_ms", elapsed.Milliseconds(),
	}
	if sc.HasTraceID() {
		attrs = append(attrs, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	l.logger.InfoContext(ctx, "request completed", attrs...)
}
