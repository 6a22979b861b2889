// Package clickup implements the adapter.Adapter contract for ClickUp,
// whose status taxonomy is entirely per-list custom text, so normalization
// is necessarily best-effort string matching rather than a fixed map.
package clickup

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

// statusKeywords is checked in order; the first keyword found as a
// substring of the lowercased custom status name wins. ClickUp lists define
// arbitrary status names, so this is deliberately approximate.
var statusKeywords = []struct {
	keyword string
	status  model.WorkItemStatus
}{
	{"blocked", model.StatusBlocked},
	{"impediment", model.StatusBlocked},
	{"review", model.StatusInReview},
	{"progress", model.StatusInProgress},
	{"doing", model.StatusInProgress},
	{"cancel", model.StatusCancelled},
	{"closed", model.StatusDone},
	{"done", model.StatusDone},
	{"complete", model.StatusDone},
	{"to do", model.StatusTodo},
	{"open", model.StatusTodo},
	{"backlog", model.StatusTodo},
}

var priorityMap = map[string]model.WorkItemPriority{
	"urgent": model.PriorityCritical,
	"high":   model.PriorityHigh,
	"normal": model.PriorityMedium,
	"low":    model.PriorityLow,
}

var priorityToNumber = map[model.WorkItemPriority]int{
	model.PriorityCritical: 1,
	model.PriorityHigh:     2,
	model.PriorityMedium:   3,
	model.PriorityLow:      4,
}

var typeMap = map[string]model.WorkItemType{
	"bug":     model.TypeBug,
	"feature": model.TypeFeature,
	"task":    model.TypeTask,
	"epic":    model.TypeEpic,
}

// Adapter talks to one ClickUp list via a personal API token.
type Adapter struct {
	transport *adapter.Transport
	token     string
	listID    string
}

// New constructs a ClickUp adapter. instanceID is the ClickUp list id;
// ClickUp's hierarchy (workspace > space > folder > list) is flattened to
// this one scoping concept for the gateway's purposes.
func New(instanceID, baseURL string, auth adapter.AuthConfig) (adapter.Adapter, error) {
	if auth.Kind != adapter.AuthAPIToken {
		return nil, fmt.Errorf("clickup: unsupported auth kind %q", auth.Kind)
	}
	return &Adapter{
		transport: adapter.NewTransport(instanceID, baseURL),
		token:     auth.APIToken,
		listID:    instanceID,
	}, nil
}

func (a *Adapter) BackendKind() model.BackendKind { return model.BackendClickUp }

func (a *Adapter) authHeader(req *http.Request) {
	req.Header.Set("Authorization", a.token)
}

func (a *Adapter) TestConnection(ctx context.Context) error {
	_, _, err := a.transport.Do(ctx, http.MethodGet, "/list/"+a.listID, nil, a.authHeader)
	return err
}

type clickupTask struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Text   string `json:"text_content"`
	URL    string `json:"url"`
	Status struct {
		Status string `json:"status"`
	} `json:"status"`
	Priority *struct {
		ID string `json:"id"`
	} `json:"priority"`
	Assignees []struct {
		ID int `json:"id"`
	} `json:"assignees"`
	Creator struct {
		ID int `json:"id"`
	} `json:"creator"`
	Parent     string `json:"parent"`
	ListObj    struct {
		ID string `json:"id"`
	} `json:"list"`
	DateCreated string `json:"date_created"`
	DateUpdated string `json:"date_updated"`
	DateClosed  string `json:"date_closed"`
	Tags        []struct {
		Name string `json:"name"`
	} `json:"tags"`
}

func (a *Adapter) toNormalized(t clickupTask) model.NormalizedWorkItem {
	w := model.NormalizedWorkItem{
		SourceID:   t.ID,
		SourceKey:  t.ID,
		SourceKind: model.BackendClickUp,
		Instance:   a.listID,
		Title:      t.Name,
		Status:     a.NormalizeStatus(t.Status.Status),
		ProjectID:  t.ListObj.ID,
		URL:        t.URL,
		ReporterID: intPtrToString(t.Creator.ID),
	}
	if t.Text != "" {
		w.Description = &t.Text
	}
	if len(t.Assignees) > 0 {
		w.AssigneeID = intPtrToString(t.Assignees[0].ID)
	}
	if t.Parent != "" {
		w.ParentID = &t.Parent
	}
	if t.Priority != nil {
		if n, err := strconv.Atoi(t.Priority.ID); err == nil {
			w.Priority = priorityFromNumber(n)
		}
	}

	tagNames := make([]string, 0, len(t.Tags))
	for _, tag := range t.Tags {
		tagNames = append(tagNames, strings.ToLower(tag.Name))
	}
	w.Type = typeFromTags(tagNames)

	if ms, err := strconv.ParseInt(t.DateCreated, 10, 64); err == nil {
		w.CreatedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(t.DateUpdated, 10, 64); err == nil {
		w.UpdatedAt = time.UnixMilli(ms)
	}
	if t.DateClosed != "" {
		if ms, err := strconv.ParseInt(t.DateClosed, 10, 64); err == nil {
			closed := time.UnixMilli(ms)
			w.ClosedAt = &closed
		}
	}
	return w
}

func intPtrToString(id int) *string {
	if id == 0 {
		return nil
	}
	s := strconv.Itoa(id)
	return &s
}

func priorityFromNumber(n int) model.WorkItemPriority {
	switch n {
	case 1:
		return model.PriorityCritical
	case 2:
		return model.PriorityHigh
	case 3:
		return model.PriorityMedium
	case 4:
		return model.PriorityLow
	default:
		return model.PriorityNone
	}
}

func typeFromTags(tags []string) model.WorkItemType {
	for _, tag := range tags {
		if t, ok := typeMap[tag]; ok {
			return t
		}
	}
	return model.TypeTask
}

func (a *Adapter) FetchWorkItems(ctx context.Context, project string, updatedSince *time.Time, limit int) ([]model.NormalizedWorkItem, error) {
	q := url.Values{}
	q.Set("include_closed", "true")
	if updatedSince != nil {
		q.Set("date_updated_gt", strconv.FormatInt(updatedSince.UnixMilli(), 10))
	}

	var resp struct {
		Tasks []clickupTask `json:"tasks"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, "/list/"+a.listID+"/task?"+q.Encode(), nil, a.authHeader, &resp); err != nil {
		return nil, err
	}

	items := make([]model.NormalizedWorkItem, 0, len(resp.Tasks))
	for i, t := range resp.Tasks {
		if limit > 0 && i >= limit {
			break
		}
		items = append(items, a.toNormalized(t))
	}
	return items, nil
}

func (a *Adapter) FetchWorkItem(ctx context.Context, id string) (model.NormalizedWorkItem, error) {
	var t clickupTask
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, "/task/"+url.PathEscape(id), nil, a.authHeader, &t); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	return a.toNormalized(t), nil
}

func (a *Adapter) CreateWorkItem(ctx context.Context, fields adapter.CreateFields) (model.NormalizedWorkItem, error) {
	body := map[string]any{
		"name":     fields.Title,
		"priority": priorityToNumber[fields.Priority],
	}
	if fields.Description != nil {
		body["description"] = *fields.Description
	}
	if fields.AssigneeID != nil {
		if id, err := strconv.Atoi(*fields.AssigneeID); err == nil {
			body["assignees"] = []int{id}
		}
	}

	var created clickupTask
	if _, _, err := a.transport.DoJSON(ctx, http.MethodPost, "/list/"+a.listID+"/task", body, a.authHeader, &created); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	return a.toNormalized(created), nil
}

func (a *Adapter) UpdateWorkItem(ctx context.Context, id string, fields adapter.UpdateFields) (model.NormalizedWorkItem, error) {
	body := map[string]any{}
	if fields.Title != nil {
		body["name"] = *fields.Title
	}
	if fields.Description != nil {
		body["description"] = *fields.Description
	}
	if fields.Priority != nil {
		body["priority"] = priorityToNumber[*fields.Priority]
	}
	if fields.AssigneeID != nil {
		if id64, err := strconv.Atoi(*fields.AssigneeID); err == nil {
			body["assignees"] = map[string]any{"add": []int{id64}}
		}
	}

	if len(body) > 0 {
		if _, _, err := a.transport.DoJSON(ctx, http.MethodPut, "/task/"+url.PathEscape(id), body, a.authHeader, nil); err != nil {
			return model.NormalizedWorkItem{}, err
		}
	}
	return a.FetchWorkItem(ctx, id)
}

// TransitionWorkItem looks up the list's configured statuses and picks the
// one whose keyword classification matches toStatus, since ClickUp has no
// fixed status enum to target directly.
func (a *Adapter) TransitionWorkItem(ctx context.Context, id string, toStatus model.WorkItemStatus, comment *string) (model.NormalizedWorkItem, error) {
	var list struct {
		Statuses []struct {
			Status string `json:"status"`
		} `json:"statuses"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, "/list/"+a.listID, nil, a.authHeader, &list); err != nil {
		return model.NormalizedWorkItem{}, err
	}

	target := ""
	for _, s := range list.Statuses {
		if a.NormalizeStatus(s.Status) == toStatus {
			target = s.Status
			break
		}
	}
	if target == "" && len(list.Statuses) > 0 {
		target = list.Statuses[0].Status
	}

	if comment != nil && *comment != "" {
		if _, err := a.AddComment(ctx, id, *comment); err != nil {
			return model.NormalizedWorkItem{}, err
		}
	}

	body := map[string]any{"status": target}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodPut, "/task/"+url.PathEscape(id), body, a.authHeader, nil); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	return a.FetchWorkItem(ctx, id)
}

func (a *Adapter) AddComment(ctx context.Context, id string, body string) (model.NormalizedComment, error) {
	var resp struct {
		ID   string `json:"id"`
		Date string `json:"date"`
		User struct {
			ID int `json:"id"`
		} `json:"user"`
	}
	req := map[string]any{"comment_text": body}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodPost, "/task/"+url.PathEscape(id)+"/comment", req, a.authHeader, &resp); err != nil {
		return model.NormalizedComment{}, err
	}
	c := model.NormalizedComment{
		SourceID:   resp.ID,
		WorkItemID: id,
		AuthorID:   strconv.Itoa(resp.User.ID),
		Body:       body,
	}
	if ms, err := strconv.ParseInt(resp.Date, 10, 64); err == nil {
		c.CreatedAt = time.UnixMilli(ms)
	}
	return c, nil
}

func (a *Adapter) FetchComments(ctx context.Context, id string) ([]model.NormalizedComment, error) {
	var resp struct {
		Comments []struct {
			ID      string `json:"id"`
			Comment []struct {
				Text string `json:"text"`
			} `json:"comment"`
			CommentText string `json:"comment_text"`
			Date        string `json:"date"`
			User        struct {
				ID int `json:"id"`
			} `json:"user"`
		} `json:"comments"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, "/task/"+url.PathEscape(id)+"/comment", nil, a.authHeader, &resp); err != nil {
		return nil, err
	}
	out := make([]model.NormalizedComment, 0, len(resp.Comments))
	for _, c := range resp.Comments {
		nc := model.NormalizedComment{
			SourceID:   c.ID,
			WorkItemID: id,
			AuthorID:   strconv.Itoa(c.User.ID),
			Body:       c.CommentText,
		}
		if ms, err := strconv.ParseInt(c.Date, 10, 64); err == nil {
			nc.CreatedAt = time.UnixMilli(ms)
		}
		out = append(out, nc)
	}
	return out, nil
}

// FetchTransitions is unavailable: ClickUp's public API has no
// status-history endpoint for most plan tiers, so this returns an empty
// slice rather than a partial/guessed history.
func (a *Adapter) FetchTransitions(ctx context.Context, id string) ([]model.NormalizedTransition, error) {
	return nil, nil
}

func (a *Adapter) NormalizeStatus(raw string) model.WorkItemStatus {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, k := range statusKeywords {
		if strings.Contains(lower, k.keyword) {
			return k.status
		}
	}
	return model.StatusTodo
}

func (a *Adapter) NormalizePriority(raw string) model.WorkItemPriority {
	if v, ok := priorityMap[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return v
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return priorityFromNumber(n)
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
	for _, k := range statusKeywords {
		if k.status == s {
			return k.keyword
		}
	}
	return "to do"
}

func (a *Adapter) DenormalizePriority(p model.WorkItemPriority) string {
	return strconv.Itoa(priorityToNumber[p])
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
