// Package adapters wires the backend-specific implementations
// (jira, githubadapter, asana, linear, clickup) to the adapter.Adapter
// contract. It exists separately from internal/adapter so the contract
// package can be imported by each backend package without creating an
// import cycle back through a factory.
package adapters

import (
	"fmt"

	"github.com/opsgateway/issuegateway/internal/adapter"
	"github.com/opsgateway/issuegateway/internal/adapter/asana"
	"github.com/opsgateway/issuegateway/internal/adapter/clickup"
	"github.com/opsgateway/issuegateway/internal/adapter/githubadapter"
	"github.com/opsgateway/issuegateway/internal/adapter/jira"
	"github.com/opsgateway/issuegateway/internal/adapter/linear"
	"github.com/opsgateway/issuegateway/internal/model"
)

// New constructs an adapter for the given backend kind. Each returned
// adapter owns its own HTTP client and circuit breaker; this function holds
// no state of its own.
func New(kind model.BackendKind, instanceID, baseURL string, auth adapter.AuthConfig) (adapter.Adapter, error) {
	switch kind {
	case model.BackendJira:
		return jira.New(instanceID, baseURL, auth)
	case model.BackendGitHub:
		return githubadapter.New(instanceID, baseURL, auth)
	case model.BackendAsana:
		return asana.New(instanceID, baseURL, auth)
	case model.BackendLinear:
		return linear.New(instanceID, baseURL, auth)
	case model.BackendClickUp:
		return clickup.New(instanceID, baseURL, auth)
	default:
		return nil, fmt.Errorf("adapters: unsupported backend kind %q", kind)
	}
}
