// Package asana implements the adapter.Adapter contract for Asana, which
// models completion as a boolean "completed" flag rather than a status
// enum, and has no generic transition history API.
package asana

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opsgateway/issuegateway/internal/adapter"
	"github.com/opsgateway/issuegateway/internal/model"
)

var priorityMap = map[string]model.WorkItemPriority{
	"urgent": model.PriorityCritical,
	"high":   model.PriorityHigh,
	"medium": model.PriorityMedium,
	"low":    model.PriorityLow,
}

var typeMap = map[string]model.WorkItemType{
	"bug":     model.TypeBug,
	"feature": model.TypeFeature,
	"task":    model.TypeTask,
	"epic":    model.TypeEpic,
}

// Adapter talks to one Asana workspace via a personal access token.
type Adapter struct {
	transport   *adapter.Transport
	token       string
	workspaceID string
}

// New constructs an Asana adapter. instanceID is the workspace GID.
func New(instanceID, baseURL string, auth adapter.AuthConfig) (adapter.Adapter, error) {
	if auth.Kind != adapter.AuthAPIToken && auth.Kind != adapter.AuthOAuth {
		return nil, fmt.Errorf("asana: unsupported auth kind %q", auth.Kind)
	}
	token := auth.APIToken
	if auth.OAuth != nil {
		token = auth.OAuth.AccessToken
	}
	return &Adapter{
		transport:   adapter.NewTransport(instanceID, baseURL),
		token:       token,
		workspaceID: instanceID,
	}, nil
}

func (a *Adapter) BackendKind() model.BackendKind { return model.BackendAsana }

func (a *Adapter) authHeader(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.token)
}

func (a *Adapter) TestConnection(ctx context.Context) error {
	_, _, err := a.transport.Do(ctx, http.MethodGet, "/workspaces/"+a.workspaceID, nil, a.authHeader)
	return err
}

// taskFields is the field set requested via opt_fields; Asana returns a
// minimal record by default.
const taskFields = "name,notes,completed,created_at,modified_at,completed_at,assignee,assignee.gid,custom_fields,permalink_url,projects,parent,tags.name"

type asanaTask struct {
	GID          string `json:"gid"`
	Name         string `json:"name"`
	Notes        string `json:"notes"`
	Completed    bool   `json:"completed"`
	CreatedAt    string `json:"created_at"`
	ModifiedAt   string `json:"modified_at"`
	CompletedAt  string `json:"completed_at"`
	PermalinkURL string `json:"permalink_url"`
	Assignee     *struct {
		GID string `json:"gid"`
	} `json:"assignee"`
	Parent *struct {
		GID string `json:"gid"`
	} `json:"parent"`
	Projects []struct {
		GID string `json:"gid"`
	} `json:"projects"`
	Tags []struct {
		Name string `json:"name"`
	} `json:"tags"`
	CustomFields []struct {
		Name        string `json:"name"`
		EnumValue   *struct {
			Name string `json:"name"`
		} `json:"enum_value"`
	} `json:"custom_fields"`
}

func (a *Adapter) toNormalized(t asanaTask) model.NormalizedWorkItem {
	w := model.NormalizedWorkItem{
		SourceID:   t.GID,
		SourceKey:  t.GID,
		SourceKind: model.BackendAsana,
		Instance:   a.workspaceID,
		Title:      t.Name,
		Status:     a.statusFromCompleted(t.Completed),
		URL:        t.PermalinkURL,
	}
	if t.Notes != "" {
		w.Description = &t.Notes
	}
	if t.Assignee != nil {
		w.AssigneeID = &t.Assignee.GID
	}
	if t.Parent != nil {
		w.ParentID = &t.Parent.GID
	}
	if len(t.Projects) > 0 {
		w.ProjectID = t.Projects[0].GID
	}

	tagNames := make([]string, 0, len(t.Tags))
	for _, tag := range t.Tags {
		tagNames = append(tagNames, strings.ToLower(tag.Name))
	}
	w.Priority = priorityFromCustomFieldsOrTags(t.CustomFields, tagNames)
	w.Type = typeFromTags(tagNames)

	if ts, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
		w.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, t.ModifiedAt); err == nil {
		w.UpdatedAt = ts
	}
	if t.CompletedAt != "" {
		if ts, err := time.Parse(time.RFC3339, t.CompletedAt); err == nil {
			w.ClosedAt = &ts
		}
	}
	return w
}

func priorityFromCustomFieldsOrTags(fields []struct {
	Name      string `json:"name"`
	EnumValue *struct {
		Name string `json:"name"`
	} `json:"enum_value"`
}, tags []string) model.WorkItemPriority {
	for _, f := range fields {
		if strings.EqualFold(f.Name, "priority") && f.EnumValue != nil {
			if p, ok := priorityMap[strings.ToLower(f.EnumValue.Name)]; ok {
				return p
			}
		}
	}
	for _, tag := range tags {
		if p, ok := priorityMap[tag]; ok {
			return p
		}
	}
	return model.PriorityNone
}

func typeFromTags(tags []string) model.WorkItemType {
	for _, tag := range tags {
		if t, ok := typeMap[tag]; ok {
			return t
		}
	}
	return model.TypeTask
}

func (a *Adapter) statusFromCompleted(completed bool) model.WorkItemStatus {
	if completed {
		return model.StatusDone
	}
	return model.StatusTodo
}

func (a *Adapter) FetchWorkItems(ctx context.Context, project string, updatedSince *time.Time, limit int) ([]model.NormalizedWorkItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := url.Values{}
	q.Set("project", project)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("opt_fields", taskFields)
	if updatedSince != nil {
		q.Set("modified_since", updatedSince.UTC().Format(time.RFC3339))
	}

	var resp struct {
		Data []asanaTask `json:"data"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, "/tasks?"+q.Encode(), nil, a.authHeader, &resp); err != nil {
		return nil, err
	}

	items := make([]model.NormalizedWorkItem, 0, len(resp.Data))
	for _, t := range resp.Data {
		items = append(items, a.toNormalized(t))
	}
	return items, nil
}

func (a *Adapter) FetchWorkItem(ctx context.Context, id string) (model.NormalizedWorkItem, error) {
	var resp struct {
		Data asanaTask `json:"data"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id)+"?opt_fields="+url.QueryEscape(taskFields), nil, a.authHeader, &resp); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	return a.toNormalized(resp.Data), nil
}

func (a *Adapter) CreateWorkItem(ctx context.Context, fields adapter.CreateFields) (model.NormalizedWorkItem, error) {
	data := map[string]any{
		"name":       fields.Title,
		"workspace":  a.workspaceID,
		"projects":   []string{fields.Project},
	}
	if fields.Description != nil {
		data["notes"] = *fields.Description
	}
	if fields.AssigneeID != nil {
		data["assignee"] = *fields.AssigneeID
	}

	var resp struct {
		Data asanaTask `json:"data"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodPost, "/tasks", map[string]any{"data": data}, a.authHeader, &resp); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	return a.toNormalized(resp.Data), nil
}

func (a *Adapter) UpdateWorkItem(ctx context.Context, id string, fields adapter.UpdateFields) (model.NormalizedWorkItem, error) {
	data := map[string]any{}
	if fields.Title != nil {
		data["name"] = *fields.Title
	}
	if fields.Description != nil {
		data["notes"] = *fields.Description
	}
	if fields.AssigneeID != nil {
		data["assignee"] = *fields.AssigneeID
	}

	if len(data) > 0 {
		var resp struct {
			Data asanaTask `json:"data"`
		}
		if _, _, err := a.transport.DoJSON(ctx, http.MethodPut, "/tasks/"+url.PathEscape(id), map[string]any{"data": data}, a.authHeader, &resp); err != nil {
			return model.NormalizedWorkItem{}, err
		}
	}
	return a.FetchWorkItem(ctx, id)
}

// TransitionWorkItem maps onto Asana's single completed boolean: Done
// marks the task complete, any other status (Cancelled included) reopens it.
func (a *Adapter) TransitionWorkItem(ctx context.Context, id string, toStatus model.WorkItemStatus, comment *string) (model.NormalizedWorkItem, error) {
	if comment != nil && *comment != "" {
		if _, err := a.AddComment(ctx, id, *comment); err != nil {
			return model.NormalizedWorkItem{}, err
		}
	}

	data := map[string]any{"completed": toStatus == model.StatusDone}
	var resp struct {
		Data asanaTask `json:"data"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodPut, "/tasks/"+url.PathEscape(id), map[string]any{"data": data}, a.authHeader, &resp); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	return a.toNormalized(resp.Data), nil
}

func (a *Adapter) AddComment(ctx context.Context, id string, body string) (model.NormalizedComment, error) {
	var resp struct {
		Data struct {
			GID       string `json:"gid"`
			CreatedAt string `json:"created_at"`
			CreatedBy struct {
				GID string `json:"gid"`
			} `json:"created_by"`
		} `json:"data"`
	}
	data := map[string]any{"text": body}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/stories", map[string]any{"data": data}, a.authHeader, &resp); err != nil {
		return model.NormalizedComment{}, err
	}
	c := model.NormalizedComment{
		SourceID:   resp.Data.GID,
		WorkItemID: id,
		AuthorID:   resp.Data.CreatedBy.GID,
		Body:       body,
	}
	if t, err := time.Parse(time.RFC3339, resp.Data.CreatedAt); err == nil {
		c.CreatedAt = t
	}
	return c, nil
}

func (a *Adapter) FetchComments(ctx context.Context, id string) ([]model.NormalizedComment, error) {
	stories, err := a.fetchStories(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]model.NormalizedComment, 0, len(stories))
	for _, s := range stories {
		if s.ResourceSubtype != "comment_added" {
			continue
		}
		nc := model.NormalizedComment{
			SourceID:   s.GID,
			WorkItemID: id,
			AuthorID:   s.CreatedBy.GID,
			Body:       s.Text,
		}
		if t, err := time.Parse(time.RFC3339, s.CreatedAt); err == nil {
			nc.CreatedAt = t
		}
		out = append(out, nc)
	}
	return out, nil
}

type asanaStory struct {
	GID             string `json:"gid"`
	ResourceSubtype string `json:"resource_subtype"`
	Text            string `json:"text"`
	CreatedAt       string `json:"created_at"`
	CreatedBy       struct {
		GID string `json:"gid"`
	} `json:"created_by"`
}

func (a *Adapter) fetchStories(ctx context.Context, id string) ([]asanaStory, error) {
	var resp struct {
		Data []asanaStory `json:"data"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id)+"/stories", nil, a.authHeader, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// FetchTransitions has no native equivalent in Asana; it is synthesized by
// scanning the task's story feed for text that looks like a completion
// marker, mirroring how the system this gateway replaces inferred history.
func (a *Adapter) FetchTransitions(ctx context.Context, id string) ([]model.NormalizedTransition, error) {
	stories, err := a.fetchStories(ctx, id)
	if err != nil {
		return nil, err
	}

	var out []model.NormalizedTransition
	prev := model.StatusTodo
	for _, s := range stories {
		if !strings.Contains(strings.ToLower(s.Text), "completed") {
			continue
		}
		tr := model.NormalizedTransition{
			WorkItemID: id,
			FromStatus: prev,
			ToStatus:   model.StatusDone,
			ActorID:    s.CreatedBy.GID,
		}
		if t, err := time.Parse(time.RFC3339, s.CreatedAt); err == nil {
			tr.Timestamp = t
		}
		out = append(out, tr)
		prev = model.StatusDone
	}
	return out, nil
}

func (a *Adapter) NormalizeStatus(raw string) model.WorkItemStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "completed", "done":
		return model.StatusDone
	default:
		return model.StatusTodo
	}
}

func (a *Adapter) NormalizePriority(raw string) model.WorkItemPriority {
	if v, ok := priorityMap[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return v
	}
	return model.PriorityNone
}

func (a *Adapter) NormalizeType(raw string) model.WorkItemType {
	if v, ok := typeMap[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return v
	}
	return model.TypeTask
}

func (a *Adapter) DenormalizeStatus(s model.WorkItemStatus) string {
	if s == model.StatusDone {
		return "true"
	}
	return "false"
}

func (a *Adapter) DenormalizePriority(p model.WorkItemPriority) string {
	switch p {
	case model.PriorityCritical:
		return "Urgent"
	case model.PriorityHigh:
		return "High"
	case model.PriorityMedium:
		return "Medium"
	case model.PriorityLow:
		return "Low"
	default:
		return ""
	}
}

func (a *Adapter) DenormalizeType(t model.WorkItemType) string {
	switch t {
	case model.TypeBug:
		return "bug"
	case model.TypeFeature:
		return "feature"
	case model.TypeEpic:
		return "epic"
	default:
		return "task"
	}
}
