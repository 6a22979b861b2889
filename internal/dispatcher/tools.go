package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opsgateway/issuegateway/internal/adapter"
	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/audit"
	"github.com/opsgateway/issuegateway/internal/model"
	"github.com/opsgateway/issuegateway/internal/store"
)

// --- search ---

type SearchParams struct {
	BaseParams
	Project      string     `json:"project" validate:"required"`
	UpdatedSince *time.Time `json:"updated_since,omitempty"`
	Limit        int        `json:"limit,omitempty"`
}

func (p *SearchParams) applyDefaults() {
	if p.Limit <= 0 {
		p.Limit = 50
	}
}

// Search implements the read-only `search` tool: a JQL-like project query,
// translated to each backend's own listing call by the resolved adapter.
type Search struct{}

func NewSearch() *Search { return &Search{} }

func (t *Search) Name() string        { return "search" }
func (t *Search) Description() string { return "Search work items in a project, adapter-translated per backend." }
func (t *Search) Write() bool         { return false }
func (t *Search) NewParams() Params   { return &SearchParams{} }

func (t *Search) Execute(ctx context.Context, rc *RequestContext, p Params) (*ToolResult, error) {
	params := p.(*SearchParams)
	params.applyDefaults()
	items, err := rc.Adapter.FetchWorkItems(ctx, params.Project, params.UpdatedSince, params.Limit)
	if err != nil {
		return nil, err
	}
	return &ToolResult{Data: map[string]any{"work_items": items, "count": len(items)}}, nil
}

// --- get_work_item ---

type GetWorkItemParams struct {
	BaseParams
	ID string `json:"id" validate:"required"`
}

type GetWorkItem struct{}

func NewGetWorkItem() *GetWorkItem { return &GetWorkItem{} }

func (t *GetWorkItem) Name() string        { return "get_work_item" }
func (t *GetWorkItem) Description() string { return "Fetch a single work item by its backend-native key." }
func (t *GetWorkItem) Write() bool         { return false }
func (t *GetWorkItem) NewParams() Params   { return &GetWorkItemParams{} }

func (t *GetWorkItem) Execute(ctx context.Context, rc *RequestContext, p Params) (*ToolResult, error) {
	params := p.(*GetWorkItemParams)
	item, err := rc.Adapter.FetchWorkItem(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return &ToolResult{Data: item}, nil
}

// --- create_work_item ---

type CreateWorkItemParams struct {
	BaseParams
	Project     string                 `json:"project" validate:"required"`
	Title       string                 `json:"title" validate:"required"`
	Description *string                `json:"description,omitempty"`
	Type        model.WorkItemType     `json:"type" validate:"required"`
	Priority    model.WorkItemPriority `json:"priority,omitempty"`
	AssigneeID  *string                `json:"assignee_id,omitempty"`
	Extras      map[string]any         `json:"extras,omitempty"`
}

type CreateWorkItem struct{}

func NewCreateWorkItem() *CreateWorkItem { return &CreateWorkItem{} }

func (t *CreateWorkItem) Name() string        { return "create_work_item" }
func (t *CreateWorkItem) Description() string { return "Create a work item. Supply an idempotency_key for at-most-once creation." }
func (t *CreateWorkItem) Write() bool         { return true }
func (t *CreateWorkItem) NewParams() Params   { return &CreateWorkItemParams{} }

func (t *CreateWorkItem) Execute(ctx context.Context, rc *RequestContext, p Params) (*ToolResult, error) {
	params := p.(*CreateWorkItemParams)
	priority := params.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	fields := adapter.CreateFields{
		Project:     params.Project,
		Title:       params.Title,
		Description: params.Description,
		Type:        params.Type,
		Priority:    priority,
		AssigneeID:  params.AssigneeID,
		Extras:      params.Extras,
	}
	created, err := rc.Adapter.CreateWorkItem(ctx, fields)
	if err != nil {
		return nil, err
	}
	return &ToolResult{
		Data:         created,
		Action:       audit.ActionCreate,
		ResourceType: "work_item",
		ResourceID:   created.SourceID,
		After:        created,
	}, nil
}

// --- update_work_item ---

type UpdateWorkItemParams struct {
	BaseParams
	ID          string                  `json:"id" validate:"required"`
	Title       *string                 `json:"title,omitempty"`
	Description *string                 `json:"description,omitempty"`
	Priority    *model.WorkItemPriority `json:"priority,omitempty"`
	Type        *model.WorkItemType     `json:"type,omitempty"`
	AssigneeID  *string                 `json:"assignee_id,omitempty"`
}

type UpdateWorkItem struct{}

func NewUpdateWorkItem() *UpdateWorkItem { return &UpdateWorkItem{} }

func (t *UpdateWorkItem) Name() string        { return "update_work_item" }
func (t *UpdateWorkItem) Description() string { return "Partially update a work item's fields." }
func (t *UpdateWorkItem) Write() bool         { return true }
func (t *UpdateWorkItem) NewParams() Params   { return &UpdateWorkItemParams{} }

func (t *UpdateWorkItem) Execute(ctx context.Context, rc *RequestContext, p Params) (*ToolResult, error) {
	params := p.(*UpdateWorkItemParams)

	before, err := rc.Adapter.FetchWorkItem(ctx, params.ID)
	if err != nil {
		return nil, err
	}

	fields := adapter.UpdateFields{
		Title:       params.Title,
		Description: params.Description,
		Priority:    params.Priority,
		Type:        params.Type,
		AssigneeID:  params.AssigneeID,
	}
	after, err := rc.Adapter.UpdateWorkItem(ctx, params.ID, fields)
	if err != nil {
		return nil, err
	}
	return &ToolResult{
		Data:         after,
		Action:       audit.ActionUpdate,
		ResourceType: "work_item",
		ResourceID:   params.ID,
		Before:       before,
		After:        after,
	}, nil
}

// --- transition_work_item ---

type TransitionWorkItemParams struct {
	BaseParams
	ID      string               `json:"id" validate:"required"`
	Status  model.WorkItemStatus `json:"status" validate:"required"`
	Comment *string              `json:"comment,omitempty"`
}

type TransitionWorkItem struct{}

func NewTransitionWorkItem() *TransitionWorkItem { return &TransitionWorkItem{} }

func (t *TransitionWorkItem) Name() string { return "transition_work_item" }
func (t *TransitionWorkItem) Description() string {
	return "Move a work item to a new normalized status (two-phase lookup in Jira/Linear, boolean in Asana)."
}
func (t *TransitionWorkItem) Write() bool       { return true }
func (t *TransitionWorkItem) NewParams() Params { return &TransitionWorkItemParams{} }

func (t *TransitionWorkItem) Execute(ctx context.Context, rc *RequestContext, p Params) (*ToolResult, error) {
	params := p.(*TransitionWorkItemParams)

	before, err := rc.Adapter.FetchWorkItem(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	after, err := rc.Adapter.TransitionWorkItem(ctx, params.ID, params.Status, params.Comment)
	if err != nil {
		return nil, err
	}
	return &ToolResult{
		Data:         after,
		Action:       audit.ActionTransition,
		ResourceType: "work_item",
		ResourceID:   params.ID,
		Before:       before,
		After:        after,
	}, nil
}

// --- add_comment ---

type AddCommentParams struct {
	BaseParams
	ID   string `json:"id" validate:"required"`
	Body string `json:"body" validate:"required"`
}

type AddComment struct{}

func NewAddComment() *AddComment { return &AddComment{} }

func (t *AddComment) Name() string        { return "add_comment" }
func (t *AddComment) Description() string { return "Add a comment to a work item." }
func (t *AddComment) Write() bool         { return true }
func (t *AddComment) NewParams() Params   { return &AddCommentParams{} }

func (t *AddComment) Execute(ctx context.Context, rc *RequestContext, p Params) (*ToolResult, error) {
	params := p.(*AddCommentParams)
	comment, err := rc.Adapter.AddComment(ctx, params.ID, params.Body)
	if err != nil {
		return nil, err
	}
	return &ToolResult{
		Data:         comment,
		Action:       audit.ActionComment,
		ResourceType: "comment",
		ResourceID:   comment.SourceID,
		After:        comment,
	}, nil
}

// --- list_transitions ---

type ListTransitionsParams struct {
	BaseParams
	ID string `json:"id" validate:"required"`
}

type ListTransitions struct{}

func NewListTransitions() *ListTransitions { return &ListTransitions{} }

func (t *ListTransitions) Name() string        { return "list_transitions" }
func (t *ListTransitions) Description() string { return "List a work item's recorded status transitions." }
func (t *ListTransitions) Write() bool         { return false }
func (t *ListTransitions) NewParams() Params   { return &ListTransitionsParams{} }

func (t *ListTransitions) Execute(ctx context.Context, rc *RequestContext, p Params) (*ToolResult, error) {
	params := p.(*ListTransitionsParams)
	transitions, err := rc.Adapter.FetchTransitions(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return &ToolResult{Data: map[string]any{"transitions": transitions, "count": len(transitions)}}, nil
}

// --- link_work_items ---

// LinkWorkItemsParams targets the source work item via BaseParams.Instance
// (the source instance) and names a second, possibly different, target
// instance explicitly since a link can cross backend instances.
type LinkWorkItemsParams struct {
	BaseParams
	SourceWorkItemID string `json:"source_work_item_id" validate:"required"`
	TargetInstanceID string `json:"target_instance_id" validate:"required"`
	TargetWorkItemID string `json:"target_work_item_id" validate:"required"`
	LinkType         string `json:"link_type" validate:"required"`
}

// LinkWorkItems implements `link_work_items`, supplemented beyond the
// original Python implementation (which has no equivalent): none of the
// five backends expose a uniform cross-instance link primitive, so a link
// is recorded as a normalized local record rather than round-tripped to
// any backend, per SPEC_FULL.md §3.7.
type LinkWorkItems struct {
	db *store.DB
}

func NewLinkWorkItems(db *store.DB) *LinkWorkItems {
	return &LinkWorkItems{db: db}
}

func (t *LinkWorkItems) Name() string        { return "link_work_items" }
func (t *LinkWorkItems) Description() string { return "Record a typed link between two work items, possibly across backend instances." }
func (t *LinkWorkItems) Write() bool         { return true }
func (t *LinkWorkItems) NewParams() Params   { return &LinkWorkItemsParams{} }

func (t *LinkWorkItems) Execute(ctx context.Context, rc *RequestContext, p Params) (*ToolResult, error) {
	params := p.(*LinkWorkItemsParams)

	if params.TargetInstanceID == rc.InstanceID && params.TargetWorkItemID == params.SourceWorkItemID {
		return nil, apierrors.Validation("cannot link a work item to itself", nil)
	}

	id := uuid.NewString()
	const q = `
		INSERT INTO work_item_links (id, tenant_id, source_instance_id, source_work_item_id, target_instance_id, target_work_item_id, link_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := t.db.ExecContext(ctx, q, id, rc.TenantID, rc.InstanceID, params.SourceWorkItemID, params.TargetInstanceID, params.TargetWorkItemID, params.LinkType)
	if err != nil {
		return nil, fmt.Errorf("recording work item link: %w", err)
	}

	link := map[string]any{
		"id":                  id,
		"source_instance_id":  rc.InstanceID,
		"source_work_item_id": params.SourceWorkItemID,
		"target_instance_id":  params.TargetInstanceID,
		"target_work_item_id": params.TargetWorkItemID,
		"link_type":           params.LinkType,
	}
	return &ToolResult{
		Data:         link,
		Action:       audit.ActionLink,
		ResourceType: "work_item_link",
		ResourceID:   id,
		After:        link,
	}, nil
}
