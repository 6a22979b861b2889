package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/observability"
	"github.com/opsgateway/issuegateway/internal/query"
)

// SQLServer is the SQL-template query HTTP surface (default port 8056).
type SQLServer struct {
	router *chi.Mux
}

// templateNames is the fixed catalog GET /templates reports; kept local to
// transport since the query package deliberately exposes no registry type
// of its own (the whitelist is a private map, not something to iterate
// generically outside the package that enforces it).
var templateNames = []string{
	query.SearchIssuesByProject,
	query.GetProjectMetrics,
	query.SearchIssuesByText,
	query.GetIssueHistory,
	query.GetUserWorkload,
	query.LeadTimeMetrics,
}

// NewSQLServer builds the SQL surface router.
func NewSQLServer(e *query.Engine, corsOrigins string, logger *observability.LogFields, metrics *observability.Metrics, server ServerIdentity) *SQLServer {
	r := baseRouter("sql_surface", corsOrigins, logger, metrics, server)

	r.Get("/templates", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"templates": templateNames})
	})

	r.Post("/query", handleQuery(e, metrics))

	return &SQLServer{router: r}
}

func (s *SQLServer) Handler() http.Handler { return s.router }

type queryRequestBody struct {
	TemplateName string          `json:"template_name"`
	Params       json.RawMessage `json:"params"`
}

func handleQuery(e *query.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, requestID := requestIdentity(r.Context())

		var body queryRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, requestID, apierrors.Validation("malformed request body", map[string]any{"error": err.Error()}))
			return
		}

		result, err := e.Execute(r.Context(), body.TemplateName, tenantID, body.Params)
		if err != nil {
			metrics.TemplateExecutes.WithLabelValues(body.TemplateName, "error").Inc()
			writeError(w, requestID, err)
			return
		}
		metrics.TemplateExecutes.WithLabelValues(body.TemplateName, "success").Inc()
		writeJSON(w, http.StatusOK, result)
	}
}
