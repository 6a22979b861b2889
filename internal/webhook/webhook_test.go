package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgateway/issuegateway/internal/model"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestDispatchRejectsInvalidSignature(t *testing.T) {
	registry := NewRegistry()
	r := NewReceiver(model.BackendJira, "shared-secret", registry)

	body := []byte(`{"webhookEvent":"jira:issue_created"}`)
	_, err := r.Dispatch(body, "sha256=bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid webhook signature")
}

func TestDispatchRunsAllHandlersAndCollectsErrors(t *testing.T) {
	registry := NewRegistry()
	secret := "shared-secret"
	r := NewReceiver(model.BackendJira, secret, registry)

	var calls int
	var mu sync.Mutex
	registry.Register(JiraIssueCreated, func(payload map[string]any) (any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return map[string]any{"issue_key": payload["issue"]}, nil
	})
	registry.Register(JiraIssueCreated, func(payload map[string]any) (any, error) {
		return nil, errors.New("boom")
	})

	body := []byte(`{"webhookEvent":"jira:issue_created","issue":"PROJ-1"}`)
	result, err := r.Dispatch(body, sign(secret, body))
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 2, result.HandlersExecuted)
	assert.Equal(t, 1, calls)
	require.Len(t, result.Results, 2)
	assert.Empty(t, result.Results[0].Error)
	assert.Equal(t, "boom", result.Results[1].Error)
}

func TestDispatchIgnoresEventWithNoRegisteredHandlers(t *testing.T) {
	registry := NewRegistry()
	secret := "shared-secret"
	r := NewReceiver(model.BackendJira, secret, registry)

	body := []byte(`{"webhookEvent":"sprint_started"}`)
	result, err := r.Dispatch(body, sign(secret, body))
	require.NoError(t, err)

	assert.Equal(t, "ignored", result.Status)
	assert.Equal(t, EventType("sprint_started"), result.EventType)
}

func TestDispatchSkipsVerificationWhenSecretUnconfigured(t *testing.T) {
	registry := NewRegistry()
	r := NewReceiver(model.BackendJira, "", registry)

	body := []byte(`{"webhookEvent":"jira:issue_created"}`)
	result, err := r.Dispatch(body, "sha256=irrelevant")
	require.NoError(t, err)
	assert.Equal(t, "ignored", result.Status)
}

func TestRegistryRegisterIsConcurrencySafe(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			registry.Register(JiraIssueUpdated, func(payload map[string]any) (any, error) { return nil, nil })
		}()
	}
	wg.Wait()
	assert.Len(t, registry.Get(JiraIssueUpdated), 50)
}

func TestServerHandlesWebhookPostAndUnknownBackend(t *testing.T) {
	secret := "shared-secret"
	registry := NewRegistry()
	registry.Register(JiraIssueCreated, func(payload map[string]any) (any, error) { return "ok", nil })

	srv := NewServer(map[model.BackendKind]*Receiver{
		model.BackendJira: NewReceiver(model.BackendJira, secret, registry),
	})

	router := chi.NewRouter()
	srv.Mount(router)

	body := []byte(`{"webhookEvent":"jira:issue_created"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/jira", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature", sign(secret, body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success"`)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/unknown-backend", strings.NewReader("{}"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
