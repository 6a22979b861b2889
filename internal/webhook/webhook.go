// Package webhook implements the webhook receiver (C12): signature
// verification and event dispatch for inbound backend callbacks. Per
// spec, webhook semantics beyond verification and dispatch are a
// non-goal — there is no domain processing here, only routing a verified
// payload to whatever handlers a caller has registered for its event
// type.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/model"
)

// EventType identifies a backend event, keyed verbatim off the field the
// backend itself uses (Jira's "webhookEvent", e.g. "jira:issue_created").
type EventType string

// Jira event types, ported from the original's WebhookEventType enum.
const (
	JiraIssueCreated EventType = "jira:issue_created"
	JiraIssueUpdated EventType = "jira:issue_updated"
	JiraIssueDeleted EventType = "jira:issue_deleted"

	CommentCreated EventType = "comment_created"
	CommentUpdated EventType = "comment_updated"
	CommentDeleted EventType = "comment_deleted"

	ProjectCreated EventType = "project_created"
	ProjectUpdated EventType = "project_updated"
	ProjectDeleted EventType = "project_deleted"

	UserCreated EventType = "user_created"
	UserUpdated EventType = "user_updated"
	UserDeleted EventType = "user_deleted"

	SprintCreated EventType = "sprint_created"
	SprintUpdated EventType = "sprint_updated"
	SprintDeleted EventType = "sprint_deleted"
	SprintStarted EventType = "sprint_started"
	SprintClosed  EventType = "sprint_closed"

	VersionCreated    EventType = "jira:version_created"
	VersionUpdated    EventType = "jira:version_updated"
	VersionDeleted    EventType = "jira:version_deleted"
	VersionReleased   EventType = "jira:version_released"
	VersionUnreleased EventType = "jira:version_unreleased"
)

// eventFieldByBackend names the JSON field each backend's webhook payload
// carries its event type under. Jira's is verbatim from the original;
// the rest are the field names each backend documents for its own
// webhook payloads.
var eventFieldByBackend = map[model.BackendKind]string{
	model.BackendJira:   "webhookEvent",
	model.BackendGitHub: "action",
	model.BackendAsana:  "action",
	model.BackendLinear: "action",
	model.BackendClickUp: "event",
}

// HandlerResult is one handler's outcome, folded into the response's
// results array. Error is set when the handler failed; otherwise Data holds
// whatever the handler returned, which may be nil.
type HandlerResult struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Handler processes one verified webhook payload for the event type it
// was registered under.
type Handler func(payload map[string]any) (any, error)

// DispatchResult is the receiver's response body, matching spec.md
// Scenario E: status is "success" once at least one handler ran (even if
// some failed), "ignored" if no handler was registered.
type DispatchResult struct {
	Status            string          `json:"status"`
	Message           string          `json:"message,omitempty"`
	EventType         EventType       `json:"event_type,omitempty"`
	HandlersExecuted  int             `json:"handlers_executed"`
	Results           []HandlerResult `json:"results,omitempty"`
}

// Receiver verifies and dispatches webhooks for one backend kind.
type Receiver struct {
	backend  model.BackendKind
	secret   string
	registry *Registry
}

// NewReceiver builds a Receiver for one backend kind. secret is the
// shared HMAC-SHA256 key used to verify X-Hub-Signature; an empty secret
// disables verification (logged, matching the original's permissive
// default — acceptable only for local development).
func NewReceiver(backend model.BackendKind, secret string, registry *Registry) *Receiver {
	return &Receiver{backend: backend, secret: secret, registry: registry}
}

// VerifySignature checks rawBody's HMAC-SHA256 under the receiver's
// secret against the X-Hub-Signature header value (with or without the
// "sha256=" prefix). A receiver with no configured secret always passes,
// matching the original's "skip verification if unconfigured" behavior.
func (r *Receiver) VerifySignature(rawBody []byte, signature string) bool {
	if r.secret == "" {
		slog.Warn("webhook secret not configured, skipping signature verification", "backend", r.backend)
		return true
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(r.secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// Dispatch verifies rawBody's signature, extracts the event type, and
// runs every handler registered for it. Handler errors are caught and
// folded into the results array rather than aborting the dispatch — a
// failing handler never blocks the others, matching spec.md Scenario E.
func (r *Receiver) Dispatch(rawBody []byte, signature string) (*DispatchResult, error) {
	if !r.VerifySignature(rawBody, signature) {
		return nil, apierrors.Unauthorized("invalid webhook signature")
	}

	var payload map[string]any
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, apierrors.Validation("malformed webhook payload", map[string]any{"error": err.Error()})
	}

	field := eventFieldByBackend[r.backend]
	raw, ok := payload[field]
	if !ok {
		return &DispatchResult{Status: "error", Message: "missing " + field}, nil
	}
	eventStr, ok := raw.(string)
	if !ok {
		return &DispatchResult{Status: "error", Message: "missing " + field}, nil
	}
	eventType := EventType(eventStr)

	handlers := r.registry.Get(eventType)
	if len(handlers) == 0 {
		return &DispatchResult{Status: "ignored", Message: "no handlers for " + eventStr, EventType: eventType}, nil
	}

	results := make([]HandlerResult, 0, len(handlers))
	for _, h := range handlers {
		data, err := h(payload)
		if err != nil {
			slog.Error("webhook handler failed", "backend", r.backend, "event_type", eventType, "error", err)
			results = append(results, HandlerResult{Error: err.Error()})
			continue
		}
		results = append(results, HandlerResult{Data: data})
	}

	return &DispatchResult{
		Status:           "success",
		EventType:        eventType,
		HandlersExecuted: len(handlers),
		Results:          results,
	}, nil
}
