// Package model defines the normalized data model shared by every source
// adapter: the closed enum domains and the three record types (WorkItem,
// Comment, Transition) that let the dispatcher treat five different
// backends as one.
package model

import (
	"encoding/json"
	"time"
)

// BackendKind identifies a configured third-party backend.
type BackendKind string

const (
	BackendJira    BackendKind = "jira"
	BackendGitHub  BackendKind = "github"
	BackendAsana   BackendKind = "asana"
	BackendLinear  BackendKind = "linear"
	BackendClickUp BackendKind = "clickup"
)

// WorkItemStatus is the closed, backend-agnostic status enum.
type WorkItemStatus string

const (
	StatusTodo       WorkItemStatus = "todo"
	StatusInProgress WorkItemStatus = "in_progress"
	StatusBlocked    WorkItemStatus = "blocked"
	StatusInReview   WorkItemStatus = "in_review"
	StatusDone       WorkItemStatus = "done"
	StatusCancelled  WorkItemStatus = "cancelled"
)

// WorkItemPriority is the closed, backend-agnostic priority enum.
type WorkItemPriority string

const (
	PriorityCritical WorkItemPriority = "critical"
	PriorityHigh     WorkItemPriority = "high"
	PriorityMedium   WorkItemPriority = "medium"
	PriorityLow      WorkItemPriority = "low"
	PriorityNone     WorkItemPriority = "none"
)

// WorkItemType is the closed, backend-agnostic type enum.
type WorkItemType string

const (
	TypeEpic    WorkItemType = "epic"
	TypeStory   WorkItemType = "story"
	TypeTask    WorkItemType = "task"
	TypeBug     WorkItemType = "bug"
	TypeSubtask WorkItemType = "subtask"
	TypeFeature WorkItemType = "feature"
)

// IsClosed reports whether a status is one of the terminal statuses
// (done, cancelled). NormalizedWorkItem.ClosedAt must be non-nil only when
// IsClosed(Status) is true.
func (s WorkItemStatus) IsClosed() bool {
	return s == StatusDone || s == StatusCancelled
}

// NormalizedWorkItem is the backend-agnostic view of an issue/task/ticket.
type NormalizedWorkItem struct {
	SourceID   string      `json:"source_id"`
	SourceKey  string      `json:"source_key"`
	SourceKind BackendKind `json:"source_kind"`
	Tenant     string      `json:"tenant"`
	Instance   string      `json:"instance"`

	Title       string           `json:"title"`
	Description *string          `json:"description,omitempty"`
	Status      WorkItemStatus   `json:"status"`
	Priority    WorkItemPriority `json:"priority"`
	Type        WorkItemType     `json:"type"`

	ParentID   *string `json:"parent_id,omitempty"`
	ProjectID  string  `json:"project_id,omitempty"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	ReporterID *string `json:"reporter_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	URL            string          `json:"url,omitempty"`
	RawPayload     json.RawMessage `json:"raw_payload,omitempty"`
	CustomFields   map[string]any  `json:"custom_fields,omitempty"`
}

// NormalizedComment is a backend-agnostic comment on a work item.
type NormalizedComment struct {
	SourceID   string          `json:"source_id"`
	WorkItemID string          `json:"work_item_id"`
	AuthorID   string          `json:"author_id"`
	Body       string          `json:"body"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}

// NormalizedTransition is a backend-agnostic status change, derived from an
// upstream changelog or synthesized from completion events.
type NormalizedTransition struct {
	WorkItemID string          `json:"work_item_id"`
	FromStatus WorkItemStatus  `json:"from_status"`
	ToStatus   WorkItemStatus  `json:"to_status"`
	ActorID    string          `json:"actor_id"`
	Timestamp  time.Time       `json:"timestamp"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}
