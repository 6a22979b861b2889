package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/model"
)

// Server mounts POST /webhooks/{backend} against a Receiver per backend
// kind. Unknown backends get a not_found response rather than a generic
// 404, so the wire error shape stays consistent with every other surface.
type Server struct {
	receivers map[model.BackendKind]*Receiver
}

// NewServer builds a webhook Server from one Receiver per backend kind it
// should accept.
func NewServer(receivers map[model.BackendKind]*Receiver) *Server {
	return &Server{receivers: receivers}
}

// Mount attaches the webhook route to r under /webhooks.
func (s *Server) Mount(r chi.Router) {
	r.Post("/webhooks/{backend}", s.handleWebhook)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	backend := model.BackendKind(chi.URLParam(r, "backend"))
	receiver, ok := s.receivers[backend]
	if !ok {
		writeWebhookError(w, apierrors.NotFound("unknown webhook backend", map[string]any{"backend": string(backend)}))
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeWebhookError(w, apierrors.Validation("failed to read request body", map[string]any{"error": err.Error()}))
		return
	}

	signature := r.Header.Get("X-Hub-Signature")
	result, err := receiver.Dispatch(rawBody, signature)
	if err != nil {
		writeWebhookError(w, err)
		return
	}

	writeWebhookJSON(w, http.StatusOK, result)
}

func writeWebhookJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeWebhookError(w http.ResponseWriter, err error) {
	apiErr, ok := apierrors.As(err)
	if !ok {
		apiErr = apierrors.Internal(err)
	}
	writeWebhookJSON(w, apiErr.Kind.HTTPStatus(), map[string]any{
		"error": map[string]any{
			"kind":    apiErr.Kind,
			"message": apiErr.Message,
			"details": apiErr.Details,
		},
	})
}
