package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/opsgateway/issuegateway/internal/audit"
)

// Params is the capability every tool's parameter struct provides so the
// dispatcher can drive steps 4-6 of the pipeline without knowing the
// concrete parameter shape.
type Params interface {
	// InstanceID names the backend instance this invocation targets.
	InstanceID() string
	// IdempotencyKey returns the client-supplied dedup key, or "" if the
	// caller omitted it (read tools, and write tools invoked without one,
	// both skip the idempotency pre-check).
	IdempotencyKey() string
}

// BaseParams is embedded by every concrete tool parameter struct to supply
// the common Params behavior; fields are tagged for go-playground/validator.
type BaseParams struct {
	Instance    string `json:"instance_id" validate:"required"`
	Idempotency string `json:"idempotency_key,omitempty"`
}

func (p BaseParams) InstanceID() string     { return p.Instance }
func (p BaseParams) IdempotencyKey() string { return p.Idempotency }

// ToolResult is what a Tool hands back to the dispatcher: the payload to
// return to the client, plus (for write tools) the audit action and the
// before/after images the audit step needs.
type ToolResult struct {
	Data         any
	Action       audit.Action
	ResourceType string
	ResourceID   string
	Before       any
	After        any
}

// Tool is a named, typed operation in the dispatcher's registry (spec.md's
// "Tool" glossary entry), mirroring the shape of the teacher's mcp.Tool
// interface (Name/Description/InputSchema/Execute) but parameterized on a
// typed Params value instead of raw JSON, since every tool here is a
// struct-shaped domain operation rather than a free-form MCP call.
type Tool interface {
	Name() string
	Description() string
	// Write reports whether this tool mutates backend or local state; only
	// write tools participate in the idempotency pre-check/post-store
	// steps and only write tools produce an audit record.
	Write() bool
	// NewParams returns a fresh, zero-valued pointer to this tool's
	// parameter struct, ready for json.Unmarshal followed by validator
	// struct-tag validation.
	NewParams() Params
	Execute(ctx context.Context, rc *RequestContext, params Params) (*ToolResult, error)
}

// Registry holds the static, compile-time-populated set of dispatcher
// tools, grounded on the teacher's internal/mcp.Registry (mutex-guarded
// map plus a registration-order slice for stable listing).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics if the name is already registered, since
// tool registration happens once at startup from a fixed catalog, never
// from request-driven code paths.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic(fmt.Sprintf("dispatcher: tool %q already registered", t.Name()))
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
}

// Get returns a tool by name, or nil if unregistered.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// ToolSummary is the shape reported by GET /tools.
type ToolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Write       bool   `json:"write"`
}

// List returns every registered tool's summary in registration order.
func (r *Registry) List() []ToolSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSummary, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, ToolSummary{Name: t.Name(), Description: t.Description(), Write: t.Write()})
	}
	return out
}
