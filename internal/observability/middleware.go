package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const (
	tenantIDKey ctxKey = iota
	userIDKey
)

// WithTenantUser returns a context carrying tenantID/userID, for callers
// (tests, the webhook receiver) that need to set them outside the HTTP
// middleware chain.
func WithTenantUser(ctx context.Context, tenantID, userID string) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, tenantID)
	return context.WithValue(ctx, userIDKey, userID)
}

// TenantID returns the request's tenant id, or "" if unset.
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}

// UserID returns the request's user id, or "" if unset.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// TenantUser extracts the tenant and user identity headers and attaches
// them to the request context (spec.md §4.10 step b). The transport's
// authentication scheme is header-based (`X-Tenant-ID`, `X-User-ID`);
// an empty tenant or user is left for the dispatcher's own authenticate
// step to reject, not this middleware.
func TenantUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithTenantUser(r.Context(), r.Header.Get("X-Tenant-ID"), r.Header.Get("X-User-ID"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Tracing opens an OTel span per request with HTTP attributes (spec.md
// §4.10 step c), named for the tracer given.
func Tracing(tracerName string) func(http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
				attribute.String("request_id", middleware.GetReqID(ctx)),
			))
			defer span.End()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MetricsMiddleware records the start time and the in-flight gauge on entry
// and status/latency on exit, and logs a structured "request completed" line
// via logger, with the fixed field set and the response size. Request size
// is not recorded.
func MetricsMiddleware(m *Metrics, logger *LogFields) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.InFlight.Inc()
			defer m.InFlight.Dec()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			m.RequestDuration.WithLabelValues(r.URL.Path, r.Method).Observe(elapsed.Seconds())
			m.RequestsTotal.WithLabelValues(r.URL.Path, r.Method, statusClass(ww.Status())).Inc()

			span := trace.SpanFromContext(r.Context())
			logger.RequestCompleted(r.Context(), r, ww.Status(), ww.BytesWritten(), elapsed, span.SpanContext())
		})
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
