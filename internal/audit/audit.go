// Package audit implements the audit log (C6): every dispatcher write
// (create/update/transition/comment) is recorded with a before/after diff,
// redacted, and persisted for later review.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opsgateway/issuegateway/internal/redact"
	"github.com/opsgateway/issuegateway/internal/store"
)

// Action is the closed set of operations the audit log records.
type Action string

const (
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionTransition Action = "transition"
	ActionComment    Action = "comment"
	ActionDelete     Action = "delete"
	ActionLink       Action = "link"
)

// Entry is one row written to audit_logs.
type Entry struct {
	TenantID     string
	UserID       string
	Action       Action
	ResourceType string
	ResourceID   string
	Before       any
	After        any
	RequestID    string
	IPAddress    string
	UserAgent    string
	Metadata     map[string]any
}

// Log writes entries to the audit_logs table, redacting sensitive fields
// from the before/after diff before it is ever serialized.
type Log struct {
	db *store.DB
}

// New builds a Log.
func New(db *store.DB) *Log {
	return &Log{db: db}
}

// Write records a single audit entry. A failure here must never block the
// caller's underlying operation from succeeding — callers should log and
// continue rather than propagate this error as a request failure.
func (l *Log) Write(ctx context.Context, e Entry) error {
	changes := map[string]any{}
	if e.Before != nil {
		changes["before"] = redact.Value(toMap(e.Before))
	}
	if e.After != nil {
		changes["after"] = redact.Value(toMap(e.After))
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshaling audit changes: %w", err)
	}

	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(redact.Value(metadata))
	if err != nil {
		return fmt.Errorf("marshaling audit metadata: %w", err)
	}

	const q = `
		INSERT INTO audit_logs (id, tenant_id, user_id, action, resource_type, resource_id, changes, request_id, ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = l.db.ExecContext(ctx, q,
		uuid.NewString(), e.TenantID, nullableString(e.UserID), string(e.Action), e.ResourceType, e.ResourceID,
		changesJSON, nullableString(e.RequestID), nullableString(e.IPAddress), nullableString(e.UserAgent),
		metadataJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing audit log entry: %w", err)
	}
	return nil
}

// LogCreate is a convenience wrapper for the common create case (no
// before-state).
func (l *Log) LogCreate(ctx context.Context, tenantID, userID, resourceType, resourceID string, after any, requestID string) error {
	return l.Write(ctx, Entry{
		TenantID: tenantID, UserID: userID, Action: ActionCreate,
		ResourceType: resourceType, ResourceID: resourceID, After: after, RequestID: requestID,
	})
}

// LogUpdate records a before/after diff for an update.
func (l *Log) LogUpdate(ctx context.Context, tenantID, userID, resourceType, resourceID string, before, after any, requestID string) error {
	return l.Write(ctx, Entry{
		TenantID: tenantID, UserID: userID, Action: ActionUpdate,
		ResourceType: resourceType, ResourceID: resourceID, Before: before, After: after, RequestID: requestID,
	})
}

// LogDelete records a removal.
func (l *Log) LogDelete(ctx context.Context, tenantID, userID, resourceType, resourceID string, before any, requestID string) error {
	return l.Write(ctx, Entry{
		TenantID: tenantID, UserID: userID, Action: ActionDelete,
		ResourceType: resourceType, ResourceID: resourceID, Before: before, RequestID: requestID,
	})
}

// LogTransition records a before/after diff for a status transition.
func (l *Log) LogTransition(ctx context.Context, tenantID, userID, resourceType, resourceID string, before, after any, requestID string) error {
	return l.Write(ctx, Entry{
		TenantID: tenantID, UserID: userID, Action: ActionTransition,
		ResourceType: resourceType, ResourceID: resourceID, Before: before, After: after, RequestID: requestID,
	})
}

// LogComment is a convenience wrapper for a comment addition (no
// before-state).
func (l *Log) LogComment(ctx context.Context, tenantID, userID, resourceType, resourceID string, after any, requestID string) error {
	return l.Write(ctx, Entry{
		TenantID: tenantID, UserID: userID, Action: ActionComment,
		ResourceType: resourceType, ResourceID: resourceID, After: after, RequestID: requestID,
	})
}

// LogLink is a convenience wrapper for a cross-instance link record (no
// before-state).
func (l *Log) LogLink(ctx context.Context, tenantID, userID, resourceType, resourceID string, after any, requestID string) error {
	return l.Write(ctx, Entry{
		TenantID: tenantID, UserID: userID, Action: ActionLink,
		ResourceType: resourceType, ResourceID: resourceID, After: after, RequestID: requestID,
	})
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// toMap round-trips v through JSON so redact.Value (which only understands
// map[string]any/[]any) can walk arbitrary structs.
func toMap(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
