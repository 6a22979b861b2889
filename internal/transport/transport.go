// Package transport implements the gateway's two HTTP surfaces (C9): the
// tool-invocation surface (default port 8055) fronting internal/dispatcher,
// and the SQL-template surface (default port 8056) fronting internal/query.
// Both share the same middleware stack, health/metrics/SSE endpoints, and
// JSON envelope conventions; only their POST body and catalog listing
// differ.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/observability"
)

// errorEnvelope is the §6 wire shape for a failed call: a flat
// {code, message, details?, retry_after?, request_id, timestamp} object,
// keyed off the closed apierrors.Kind taxonomy.
type errorEnvelope struct {
	Code       apierrors.Kind `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	RetryAfter int            `json:"retry_after,omitempty"`
	RequestID  string         `json:"request_id"`
	Timestamp  time.Time      `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, requestID string, err error) {
	apiErr, ok := apierrors.As(err)
	if !ok {
		apiErr = apierrors.Internal(err)
	}
	if apiErr.RequestID == "" {
		apiErr = apiErr.WithRequestID(requestID)
	}
	env := errorEnvelope{
		Code:       apiErr.Kind,
		Message:    apiErr.Message,
		Details:    apiErr.Details,
		RetryAfter: apiErr.RetryAfter,
		RequestID:  apiErr.RequestID,
		Timestamp:  time.Now().UTC(),
	}
	writeJSON(w, apiErr.Kind.HTTPStatus(), env)
}

// ServerIdentity names the process, reported in the SSE `connected` frame
// (spec.md §6).
type ServerIdentity struct {
	Name    string
	Version string
}

// baseRouter builds the middleware and endpoints common to both surfaces:
// request-id, tenant/user extraction, tracing, metrics+structured logging,
// CORS, health, metrics exposition, and SSE.
func baseRouter(name string, corsOrigins string, logger *observability.LogFields, metrics *observability.Metrics, server ServerIdentity) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(observability.TenantUser)
	r.Use(observability.Tracing(name))
	r.Use(observability.MetricsMiddleware(metrics, logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(corsOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Tenant-ID", "X-User-ID", "X-Request-ID"},
		AllowCredentials: false,
	}))

	r.Get("/health", handleHealth)
	r.Get("/metrics", handleMetrics(metrics))
	r.Get("/sse", handleSSE(server))

	return r
}

func splitOrigins(s string) []string {
	if s == "" {
		return []string{"*"}
	}
	return []string{s}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSSE streams a heartbeat every 30s, per spec.md §6: first frame
// `event: connected` carrying `{server, version, tenant, timestamp}`, then
// periodic keep-alives until the client disconnects.
func handleSSE(server ServerIdentity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, `{"error":"streaming not supported"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		writeSSEEvent(w, "connected", map[string]any{
			"server":    server.Name,
			"version":   server.Version,
			"tenant":    observability.TenantID(r.Context()),
			"timestamp": time.Now().UTC(),
		})
		flusher.Flush()

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeSSEEvent(w, "heartbeat", map[string]int64{"ts": time.Now().Unix()})
				flusher.Flush()
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("event: " + event + "\ndata: " + string(b) + "\n\n"))
}

// requestIdentity pulls the tenant/user/request-id triple a handler needs
// to build a dispatcher or query-engine call.
func requestIdentity(ctx context.Context) (tenantID, userID, requestID string) {
	return observability.TenantID(ctx), observability.UserID(ctx), middleware.GetReqID(ctx)
}
