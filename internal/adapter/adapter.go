// Package adapter defines the source-adapter contract (C2): the trait that
// turns five different backend APIs (Jira, GitHub, Asana, Linear, ClickUp)
// into one normalized surface the dispatcher can call uniformly.
package adapter

import (
	"context"
	"time"

	"github.com/opsgateway/issuegateway/internal/model"
)

// CreateFields describes the fields accepted by Adapter.CreateWorkItem.
type CreateFields struct {
	Project     string
	Title       string
	Description *string
	Type        model.WorkItemType
	Priority    model.WorkItemPriority
	AssigneeID  *string
	Extras      map[string]any
}

// UpdateFields is a partial field update; nil pointers mean "leave as is".
type UpdateFields struct {
	Title       *string
	Description *string
	Priority    *model.WorkItemPriority
	Type        *model.WorkItemType
	AssigneeID  *string
}

// Adapter is the capability set every backend-specific implementation
// provides. An adapter owns its own HTTP client with instance-scoped auth
// headers and performs no internal retries — retry policy belongs to the
// caller (the dispatcher), per spec.
type Adapter interface {
	BackendKind() model.BackendKind

	TestConnection(ctx context.Context) error

	FetchWorkItems(ctx context.Context, project string, updatedSince *time.Time, limit int) ([]model.NormalizedWorkItem, error)
	FetchWorkItem(ctx context.Context, id string) (model.NormalizedWorkItem, error)
	CreateWorkItem(ctx context.Context, fields CreateFields) (model.NormalizedWorkItem, error)
	UpdateWorkItem(ctx context.Context, id string, fields UpdateFields) (model.NormalizedWorkItem, error)
	TransitionWorkItem(ctx context.Context, id string, toStatus model.WorkItemStatus, comment *string) (model.NormalizedWorkItem, error)
	AddComment(ctx context.Context, id string, body string) (model.NormalizedComment, error)
	FetchComments(ctx context.Context, id string) ([]model.NormalizedComment, error)
	FetchTransitions(ctx context.Context, id string) ([]model.NormalizedTransition, error)

	// NormalizeStatus/NormalizePriority/NormalizeType translate a raw
	// backend string into the closed normalized enum. They are total:
	// unrecognized input collapses to the adapter's documented default.
	NormalizeStatus(raw string) model.WorkItemStatus
	NormalizePriority(raw string) model.WorkItemPriority
	NormalizeType(raw string) model.WorkItemType

	// DenormalizeStatus/DenormalizePriority/DenormalizeType translate a
	// normalized enum value back into the backend's native representation.
	DenormalizeStatus(s model.WorkItemStatus) string
	DenormalizePriority(p model.WorkItemPriority) string
	DenormalizeType(t model.WorkItemType) string
}

// AuthKind is the authentication mechanism configured for a BackendInstance.
type AuthKind string

const (
	AuthAPIToken AuthKind = "api_token"
	AuthOAuth    AuthKind = "oauth"
	AuthBasic    AuthKind = "basic"
)

// AuthConfig is the decrypted credential material handed to a factory. It
// never crosses a component boundary except into an adapter's own header
// builder; callers must never log it.
type AuthConfig struct {
	Kind     AuthKind
	APIToken string
	Email    string // for Jira basic auth (email + token)
	OAuth    *OAuthConfig
}

// OAuthConfig is the minimal bearer-token state needed to authenticate an
// outbound request; token refresh is handled upstream of the adapter.
type OAuthConfig struct {
	AccessToken string
}

// Construction lives in internal/adapters (plural), not here: this package
// defines the contract that jira/githubadapter/asana/linear/clickup
// implement, and those packages import this one for the shared Transport
// and types, so the dispatch factory cannot also live in this package
// without an import cycle.
