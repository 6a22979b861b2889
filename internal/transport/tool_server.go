package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/dispatcher"
	"github.com/opsgateway/issuegateway/internal/observability"
)

// ToolServer is the tool-invocation HTTP surface (default port 8055).
type ToolServer struct {
	router *chi.Mux
}

// NewToolServer builds the tool surface router.
func NewToolServer(d *dispatcher.Dispatcher, tools *dispatcher.Registry, corsOrigins string, logger *observability.LogFields, metrics *observability.Metrics, server ServerIdentity) *ToolServer {
	r := baseRouter("tool_surface", corsOrigins, logger, metrics, server)

	r.Get("/tools", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"tools": tools.List()})
	})

	r.Post("/tools/invoke", handleInvoke(d, metrics))

	return &ToolServer{router: r}
}

func (s *ToolServer) Handler() http.Handler { return s.router }

// Router exposes the underlying chi.Mux so cmd/gateway can mount
// additional routes (the webhook receiver) onto the tool surface.
func (s *ToolServer) Router() chi.Router { return s.router }

// invokeRequestBody is the §6 POST /tools/invoke body: {"name", "arguments"}.
type invokeRequestBody struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// invokeResponseBody is the §6 success envelope: {"result", "request_id",
// "timestamp"}.
type invokeResponseBody struct {
	Result    any       `json:"result"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func handleInvoke(d *dispatcher.Dispatcher, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, userID, requestID := requestIdentity(r.Context())

		var body invokeRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, requestID, apierrors.Validation("malformed request body", map[string]any{"error": err.Error()}))
			return
		}

		resp, err := d.Invoke(r.Context(), dispatcher.InvokeRequest{
			TenantID:  tenantID,
			UserID:    userID,
			RequestID: requestID,
			ToolName:  body.Name,
			Arguments: body.Arguments,
		})
		if err != nil {
			metrics.ToolInvocations.WithLabelValues(body.Name, "error").Inc()
			writeError(w, requestID, err)
			return
		}
		metrics.ToolInvocations.WithLabelValues(body.Name, "success").Inc()
		writeJSON(w, http.StatusOK, invokeResponseBody{
			Result:    resp.Data,
			RequestID: resp.RequestID,
			Timestamp: time.Now().UTC(),
		})
	}
}
