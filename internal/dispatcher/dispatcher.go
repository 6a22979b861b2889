// Package dispatcher implements the tool dispatcher (C7): a static
// registry of named tools and the ten-step pipeline (authenticate, resolve
// tool, validate parameters, resolve instance, rate-limit, idempotency
// pre-check, adapter call, audit, idempotency post-store, commit) every
// invocation runs through.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/opsgateway/issuegateway/internal/adapter"
	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/audit"
	"github.com/opsgateway/issuegateway/internal/config"
	"github.com/opsgateway/issuegateway/internal/idempotency"
	"github.com/opsgateway/issuegateway/internal/ratelimit"
)

// InstanceResolver resolves a tenant-scoped backend instance to a live
// adapter; satisfied by *registry.Registry (step 4 of the pipeline).
type InstanceResolver interface {
	Resolve(ctx context.Context, tenantID, instanceID string) (adapter.Adapter, error)
}

// RequestContext carries everything a Tool needs to execute: the
// authenticated tenant/user, the request id middleware assigned, and the
// already-resolved backend adapter for the requested instance.
type RequestContext struct {
	TenantID   string
	UserID     string
	RequestID  string
	InstanceID string
	Adapter    adapter.Adapter
}

// InvokeRequest is one client tool invocation, already parsed off the
// transport layer (C9) but not yet authenticated.
type InvokeRequest struct {
	TenantID  string
	UserID    string
	RequestID string
	ToolName  string
	Arguments json.RawMessage
}

// InvokeResponse is the dispatcher's result for a tool invocation.
type InvokeResponse struct {
	Data      any    `json:"data"`
	RequestID string `json:"request_id"`
}

// Dispatcher wires together the registry, backend registry, rate limiter,
// idempotency store, and audit log into the C7 pipeline.
type Dispatcher struct {
	tools     *Registry
	backends  InstanceResolver
	limiter   ratelimit.Limiter
	idemp     *idempotency.Store
	auditLog  *audit.Log
	validate  *validator.Validate
	rateLimit config.RateLimitConfig
}

// New builds a Dispatcher.
func New(tools *Registry, backends InstanceResolver, limiter ratelimit.Limiter, idemp *idempotency.Store, auditLog *audit.Log, rateLimit config.RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		tools:     tools,
		backends:  backends,
		limiter:   limiter,
		idemp:     idemp,
		auditLog:  auditLog,
		validate:  validator.New(),
		rateLimit: rateLimit,
	}
}

// Invoke runs the full ten-step pipeline for one tool call.
func (d *Dispatcher) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error) {
	// 1. Authenticate.
	if req.TenantID == "" || req.UserID == "" {
		return nil, apierrors.Unauthorized("missing tenant or user identity").WithRequestID(req.RequestID)
	}

	// 2. Resolve tool.
	tool := d.tools.Get(req.ToolName)
	if tool == nil {
		return nil, apierrors.NotFound("unknown tool", map[string]any{"tool": req.ToolName}).WithRequestID(req.RequestID)
	}

	// 3. Validate parameters.
	params := tool.NewParams()
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, params); err != nil {
			return nil, apierrors.Validation("malformed parameters", map[string]any{"error": err.Error()}).WithRequestID(req.RequestID)
		}
	}
	if err := d.validate.Struct(params); err != nil {
		return nil, apierrors.Validation("parameter validation failed", fieldErrors(err)).WithRequestID(req.RequestID)
	}

	// 4. Resolve instance.
	a, err := d.backends.Resolve(ctx, req.TenantID, params.InstanceID())
	if err != nil {
		return nil, stampRequestID(err, req.RequestID)
	}

	// 5. Rate-limit, keyed by instance id.
	if err := d.limiter.Check(ctx, params.InstanceID(), d.rateLimit.DefaultCeiling, d.rateLimit.DefaultWindowSeconds); err != nil {
		return nil, stampRequestID(err, req.RequestID)
	}

	rc := &RequestContext{
		TenantID:   req.TenantID,
		UserID:     req.UserID,
		RequestID:  req.RequestID,
		InstanceID: params.InstanceID(),
		Adapter:    a,
	}

	usesIdempotency := tool.Write() && params.IdempotencyKey() != ""

	// 6. Idempotency pre-check (write tools carrying an idempotency_key only).
	if usesIdempotency {
		claimed, existing, err := d.idemp.CheckAndClaim(ctx, req.TenantID, req.ToolName, params.IdempotencyKey(), req.RequestID)
		if err != nil {
			return nil, fmt.Errorf("idempotency pre-check: %w", err)
		}
		if !claimed {
			return d.respondFromExisting(existing, req.RequestID)
		}
	}

	// 7. Execute adapter call.
	result, toolErr := tool.Execute(ctx, rc, params)

	if usesIdempotency {
		d.storeIdempotencyOutcome(ctx, req, params, result, toolErr)
	}

	if toolErr != nil {
		return nil, stampRequestID(toolErr, req.RequestID)
	}

	// 8. Audit the mutation, dispatched to the action the tool itself
	// recorded (Scenario A expects exactly one audit row with
	// action=create for create_work_item, not "update" for every write).
	if tool.Write() && result != nil {
		if err := d.logAudit(ctx, req, result); err != nil {
			// Audit failure must not mask a successful mutation, but it
			// must be visible: log it with the request id, then return
			// the tool's result as usual.
			slog.Error("audit write failed", "request_id", req.RequestID, "tool", req.ToolName, "error", err)
			return &InvokeResponse{Data: result.Data, RequestID: req.RequestID}, nil
		}
	}

	// 9/10. Idempotency post-store already ran above; commit is implicit
	// once every prior step has returned without error (no cross-service
	// distributed transaction spans C3/C4/C5/C2/C6 — each is its own
	// durable write, and steps 4-6 never mutate state, so there is nothing
	// left to roll back once step 7 has returned successfully).
	return &InvokeResponse{Data: result.Data, RequestID: req.RequestID}, nil
}

// logAudit writes the audit row for a successful write tool, dispatching
// to the action-specific helper the tool reported via ToolResult.Action.
func (d *Dispatcher) logAudit(ctx context.Context, req InvokeRequest, result *ToolResult) error {
	switch result.Action {
	case audit.ActionCreate:
		return d.auditLog.LogCreate(ctx, req.TenantID, req.UserID, result.ResourceType, result.ResourceID, result.After, req.RequestID)
	case audit.ActionTransition:
		return d.auditLog.LogTransition(ctx, req.TenantID, req.UserID, result.ResourceType, result.ResourceID, result.Before, result.After, req.RequestID)
	case audit.ActionComment:
		return d.auditLog.LogComment(ctx, req.TenantID, req.UserID, result.ResourceType, result.ResourceID, result.After, req.RequestID)
	case audit.ActionLink:
		return d.auditLog.LogLink(ctx, req.TenantID, req.UserID, result.ResourceType, result.ResourceID, result.After, req.RequestID)
	case audit.ActionDelete:
		return d.auditLog.LogDelete(ctx, req.TenantID, req.UserID, result.ResourceType, result.ResourceID, result.Before, req.RequestID)
	default: // ActionUpdate, or unset — treat as an update diff
		return d.auditLog.LogUpdate(ctx, req.TenantID, req.UserID, result.ResourceType, result.ResourceID, result.Before, result.After, req.RequestID)
	}
}

func (d *Dispatcher) storeIdempotencyOutcome(ctx context.Context, req InvokeRequest, params Params, result *ToolResult, toolErr error) {
	var resultJSON json.RawMessage
	if toolErr == nil && result != nil {
		if b, err := json.Marshal(result.Data); err == nil {
			resultJSON = b
		}
	}
	if err := d.idemp.Store(ctx, req.TenantID, req.ToolName, params.IdempotencyKey(), resultJSON, toolErr); err != nil {
		// Best-effort: the mutation already happened. A failure to record
		// its idempotency outcome means a retry with the same key may
		// re-execute, which is the documented fallback behavior, not a
		// silent data-loss bug.
		_ = err
	}
}

// respondFromExisting turns a found (non-claimed) idempotency record into
// the appropriate dispatcher outcome per spec.md §4.7 step 6 and
// DESIGN.md's Open Question decision for the "processing" case.
func (d *Dispatcher) respondFromExisting(existing *idempotency.Record, requestID string) (*InvokeResponse, error) {
	if existing == nil {
		// CheckAndClaim lost the insert race against a row that has since
		// expired (expires_at <= now) but not yet been swept by
		// CleanupExpired: the re-query that found the winner filters on
		// expires_at > now too, so it comes back empty. Treat it the same
		// as an in-flight conflict rather than dereferencing a nil record.
		return nil, apierrors.Conflict("a request with this idempotency key is already in flight", nil).WithRequestID(requestID)
	}
	switch existing.Status {
	case idempotency.StatusCompleted:
		var data any
		if len(existing.Result) > 0 {
			if err := json.Unmarshal(existing.Result, &data); err != nil {
				return nil, fmt.Errorf("decoding stored idempotency result: %w", err)
			}
		}
		return &InvokeResponse{Data: data, RequestID: requestID}, nil
	case idempotency.StatusFailed:
		var stored struct {
			Kind    apierrors.Kind `json:"kind"`
			Message string         `json:"message"`
		}
		if len(existing.Error) > 0 {
			_ = json.Unmarshal(existing.Error, &stored)
		}
		kind := stored.Kind
		if kind == "" {
			kind = apierrors.KindUpstream5xx
		}
		return nil, (&apierrors.Error{Kind: kind, Message: stored.Message}).WithRequestID(requestID)
	default: // processing: a concurrent invocation is still in flight
		details := map[string]any{}
		if existing.RequestID != nil {
			details["request_id"] = *existing.RequestID
		}
		return nil, apierrors.Conflict("a request with this idempotency key is already in flight", details).WithRequestID(requestID)
	}
}

func stampRequestID(err error, requestID string) error {
	if apiErr, ok := apierrors.As(err); ok {
		return apiErr.WithRequestID(requestID)
	}
	return err
}

func fieldErrors(err error) map[string]any {
	out := map[string]any{}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			out[fe.Field()] = fmt.Sprintf("failed %q validation", fe.Tag())
		}
		return out
	}
	out["error"] = err.Error()
	return out
}
