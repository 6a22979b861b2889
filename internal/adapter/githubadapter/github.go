// Package githubadapter implements the adapter.Adapter contract for GitHub
// Issues, using a personal access token or GitHub App installation token and
// the REST v3 API. GitHub has no native status/priority/type taxonomy, so
// this adapter derives priority and type from issue labels.
package githubadapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opsgateway/issuegateway/internal/adapter"
	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/model"
)

var statusMap = map[string]model.WorkItemStatus{
	"open":   model.StatusTodo,
	"closed": model.StatusDone,
}

// priorityLabels maps a label (lowercased) to a normalized priority. Aliases
// like "p0"-"p3" are the common GitHub convention for severity shorthand.
var priorityLabels = map[string]model.WorkItemPriority{
	"priority: critical": model.PriorityCritical,
	"priority: high":     model.PriorityHigh,
	"priority: medium":   model.PriorityMedium,
	"priority: low":      model.PriorityLow,
	"p0":                 model.PriorityCritical,
	"p1":                 model.PriorityHigh,
	"p2":                 model.PriorityMedium,
	"p3":                 model.PriorityLow,
}

var typeLabels = map[string]model.WorkItemType{
	"bug":         model.TypeBug,
	"enhancement": model.TypeFeature,
	"feature":     model.TypeFeature,
	"task":        model.TypeTask,
	"story":       model.TypeStory,
	"epic":        model.TypeEpic,
}

// Adapter talks to one owner/repo via a GitHub personal access token.
type Adapter struct {
	transport *adapter.Transport
	token     string
	owner     string
	repo      string
}

// New constructs a GitHub adapter. instanceID is expected in "owner/repo"
// form; baseURL is normally "https://api.github.com" but may point at a
// GitHub Enterprise Server host.
func New(instanceID, baseURL string, auth adapter.AuthConfig) (adapter.Adapter, error) {
	if auth.Kind != adapter.AuthAPIToken && auth.Kind != adapter.AuthOAuth {
		return nil, fmt.Errorf("githubadapter: unsupported auth kind %q", auth.Kind)
	}
	owner, repo, ok := strings.Cut(instanceID, "/")
	if !ok {
		return nil, fmt.Errorf("githubadapter: instance id %q must be owner/repo", instanceID)
	}
	token := auth.APIToken
	if auth.OAuth != nil {
		token = auth.OAuth.AccessToken
	}
	return &Adapter{
		transport: adapter.NewTransport(instanceID, baseURL),
		token:     token,
		owner:     owner,
		repo:      repo,
	}, nil
}

func (a *Adapter) BackendKind() model.BackendKind { return model.BackendGitHub }

func (a *Adapter) authHeader(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

func (a *Adapter) TestConnection(ctx context.Context) error {
	_, _, err := a.transport.Do(ctx, http.MethodGet, "/repos/"+a.owner+"/"+a.repo, nil, a.authHeader)
	return err
}

type ghIssue struct {
	Number    int    `json:"number"`
	NodeID    string `json:"node_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	HTMLURL   string `json:"html_url"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	ClosedAt  string `json:"closed_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
	Assignee *struct {
		Login string `json:"login"`
	} `json:"assignee"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	PullRequest any `json:"pull_request"`
}

func (a *Adapter) issueID(number int) string {
	return fmt.Sprintf("%s/%s#%d", a.owner, a.repo, number)
}

func (a *Adapter) toNormalized(issue ghIssue) model.NormalizedWorkItem {
	w := model.NormalizedWorkItem{
		SourceID:   fmt.Sprintf("%d", issue.Number),
		SourceKey:  a.issueID(issue.Number),
		SourceKind: model.BackendGitHub,
		Instance:   a.owner + "/" + a.repo,
		Title:      issue.Title,
		Status:     a.NormalizeStatus(issue.State),
		ProjectID:  a.owner + "/" + a.repo,
		URL:        issue.HTMLURL,
		ReporterID: &issue.User.Login,
	}
	if issue.Body != "" {
		w.Description = &issue.Body
	}
	if issue.Assignee != nil {
		w.AssigneeID = &issue.Assignee.Login
	}

	labelNames := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labelNames = append(labelNames, strings.ToLower(l.Name))
	}
	w.Priority = priorityFromLabels(labelNames)
	w.Type = typeFromLabels(labelNames)

	if t, err := time.Parse(time.RFC3339, issue.CreatedAt); err == nil {
		w.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, issue.UpdatedAt); err == nil {
		w.UpdatedAt = t
	}
	if issue.ClosedAt != "" {
		if t, err := time.Parse(time.RFC3339, issue.ClosedAt); err == nil {
			w.ClosedAt = &t
		}
	}
	return w
}

func priorityFromLabels(labels []string) model.WorkItemPriority {
	for _, l := range labels {
		if p, ok := priorityLabels[l]; ok {
			return p
		}
	}
	return model.PriorityNone
}

func typeFromLabels(labels []string) model.WorkItemType {
	for _, l := range labels {
		if typeLabels[l] == model.TypeBug {
			return model.TypeBug
		}
	}
	for _, l := range labels {
		if t, ok := typeLabels[l]; ok {
			return t
		}
	}
	return model.TypeTask
}

func (a *Adapter) FetchWorkItems(ctx context.Context, project string, updatedSince *time.Time, limit int) ([]model.NormalizedWorkItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := url.Values{}
	q.Set("state", "all")
	q.Set("per_page", strconv.Itoa(limit))
	q.Set("sort", "updated")
	q.Set("direction", "desc")
	if updatedSince != nil {
		q.Set("since", updatedSince.UTC().Format(time.RFC3339))
	}

	var issues []ghIssue
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, "/repos/"+a.owner+"/"+a.repo+"/issues?"+q.Encode(), nil, a.authHeader, &issues); err != nil {
		return nil, err
	}

	items := make([]model.NormalizedWorkItem, 0, len(issues))
	for _, issue := range issues {
		if issue.PullRequest != nil {
			continue // GitHub's issues endpoint also returns pull requests
		}
		items = append(items, a.toNormalized(issue))
	}
	return items, nil
}

func (a *Adapter) FetchWorkItem(ctx context.Context, id string) (model.NormalizedWorkItem, error) {
	number, err := parseIssueNumber(id)
	if err != nil {
		return model.NormalizedWorkItem{}, err
	}
	var issue ghIssue
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues/%d", a.owner, a.repo, number), nil, a.authHeader, &issue); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	return a.toNormalized(issue), nil
}

func parseIssueNumber(id string) (int, error) {
	s := id
	if idx := strings.LastIndex(id, "#"); idx >= 0 {
		s = id[idx+1:]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, apierrors.Validation("invalid github issue id", map[string]any{"id": id})
	}
	return n, nil
}

func (a *Adapter) CreateWorkItem(ctx context.Context, fields adapter.CreateFields) (model.NormalizedWorkItem, error) {
	labels := labelsFor(fields.Priority, fields.Type)
	body := map[string]any{
		"title":  fields.Title,
		"labels": labels,
	}
	if fields.Description != nil {
		body["body"] = *fields.Description
	}
	if fields.AssigneeID != nil {
		body["assignees"] = []string{*fields.AssigneeID}
	}

	var created ghIssue
	if _, _, err := a.transport.DoJSON(ctx, http.MethodPost, "/repos/"+a.owner+"/"+a.repo+"/issues", body, a.authHeader, &created); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	return a.toNormalized(created), nil
}

func labelsFor(p model.WorkItemPriority, t model.WorkItemType) []string {
	var labels []string
	switch p {
	case model.PriorityCritical:
		labels = append(labels, "priority: critical")
	case model.PriorityHigh:
		labels = append(labels, "priority: high")
	case model.PriorityMedium:
		labels = append(labels, "priority: medium")
	case model.PriorityLow:
		labels = append(labels, "priority: low")
	}
	switch t {
	case model.TypeBug:
		labels = append(labels, "bug")
	case model.TypeFeature:
		labels = append(labels, "enhancement")
	case model.TypeTask:
		labels = append(labels, "task")
	}
	return labels
}

func (a *Adapter) UpdateWorkItem(ctx context.Context, id string, fields adapter.UpdateFields) (model.NormalizedWorkItem, error) {
	number, err := parseIssueNumber(id)
	if err != nil {
		return model.NormalizedWorkItem{}, err
	}

	upd := map[string]any{}
	if fields.Title != nil {
		upd["title"] = *fields.Title
	}
	if fields.Description != nil {
		upd["body"] = *fields.Description
	}
	if fields.AssigneeID != nil {
		upd["assignees"] = []string{*fields.AssigneeID}
	}
	if fields.Priority != nil || fields.Type != nil {
		current, ferr := a.FetchWorkItem(ctx, id)
		if ferr != nil {
			return model.NormalizedWorkItem{}, ferr
		}
		priority, typ := current.Priority, current.Type
		if fields.Priority != nil {
			priority = *fields.Priority
		}
		if fields.Type != nil {
			typ = *fields.Type
		}
		upd["labels"] = labelsFor(priority, typ)
	}

	if len(upd) > 0 {
		if _, _, err := a.transport.DoJSON(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/%s/issues/%d", a.owner, a.repo, number), upd, a.authHeader, nil); err != nil {
			return model.NormalizedWorkItem{}, err
		}
	}
	return a.FetchWorkItem(ctx, id)
}

// TransitionWorkItem supports only the two states GitHub issues natively
// have: open and closed. Any normalized status other than Done maps to
// reopening the issue.
func (a *Adapter) TransitionWorkItem(ctx context.Context, id string, toStatus model.WorkItemStatus, comment *string) (model.NormalizedWorkItem, error) {
	number, err := parseIssueNumber(id)
	if err != nil {
		return model.NormalizedWorkItem{}, err
	}

	if comment != nil && *comment != "" {
		if _, err := a.AddComment(ctx, id, *comment); err != nil {
			return model.NormalizedWorkItem{}, err
		}
	}

	state := "open"
	if toStatus == model.StatusDone {
		state = "closed"
	}
	upd := map[string]any{"state": state}
	if state == "closed" {
		upd["state_reason"] = "completed"
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/%s/issues/%d", a.owner, a.repo, number), upd, a.authHeader, nil); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	return a.FetchWorkItem(ctx, id)
}

func (a *Adapter) AddComment(ctx context.Context, id string, body string) (model.NormalizedComment, error) {
	number, err := parseIssueNumber(id)
	if err != nil {
		return model.NormalizedComment{}, err
	}
	var resp struct {
		ID        int64  `json:"id"`
		CreatedAt string `json:"created_at"`
		User      struct {
			Login string `json:"login"`
		} `json:"user"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/issues/%d/comments", a.owner, a.repo, number), map[string]any{"body": body}, a.authHeader, &resp); err != nil {
		return model.NormalizedComment{}, err
	}
	c := model.NormalizedComment{
		SourceID:   fmt.Sprintf("%d", resp.ID),
		WorkItemID: id,
		AuthorID:   resp.User.Login,
		Body:       body,
	}
	if t, err := time.Parse(time.RFC3339, resp.CreatedAt); err == nil {
		c.CreatedAt = t
	}
	return c, nil
}

func (a *Adapter) FetchComments(ctx context.Context, id string) ([]model.NormalizedComment, error) {
	number, err := parseIssueNumber(id)
	if err != nil {
		return nil, err
	}
	var resp []struct {
		ID        int64  `json:"id"`
		Body      string `json:"body"`
		CreatedAt string `json:"created_at"`
		User      struct {
			Login string `json:"login"`
		} `json:"user"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues/%d/comments", a.owner, a.repo, number), nil, a.authHeader, &resp); err != nil {
		return nil, err
	}
	out := make([]model.NormalizedComment, 0, len(resp))
	for _, c := range resp {
		nc := model.NormalizedComment{
			SourceID:   fmt.Sprintf("%d", c.ID),
			WorkItemID: id,
			AuthorID:   c.User.Login,
			Body:       c.Body,
		}
		if t, err := time.Parse(time.RFC3339, c.CreatedAt); err == nil {
			nc.CreatedAt = t
		}
		out = append(out, nc)
	}
	return out, nil
}

// FetchTransitions derives open/close transitions from the issue's timeline
// events, since GitHub has no generic workflow-history API like Jira's.
func (a *Adapter) FetchTransitions(ctx context.Context, id string) ([]model.NormalizedTransition, error) {
	number, err := parseIssueNumber(id)
	if err != nil {
		return nil, err
	}
	var events []struct {
		Event     string `json:"event"`
		CreatedAt string `json:"created_at"`
		Actor     struct {
			Login string `json:"login"`
		} `json:"actor"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues/%d/events", a.owner, a.repo, number), nil, a.authHeader, &events); err != nil {
		return nil, err
	}

	var out []model.NormalizedTransition
	prev := model.StatusTodo
	for _, e := range events {
		var next model.WorkItemStatus
		switch e.Event {
		case "closed":
			next = model.StatusDone
		case "reopened":
			next = model.StatusTodo
		default:
			continue
		}
		tr := model.NormalizedTransition{
			WorkItemID: id,
			FromStatus: prev,
			ToStatus:   next,
			ActorID:    e.Actor.Login,
		}
		if t, err := time.Parse(time.RFC3339, e.CreatedAt); err == nil {
			tr.Timestamp = t
		}
		out = append(out, tr)
		prev = next
	}
	return out, nil
}

func (a *Adapter) NormalizeStatus(raw string) model.WorkItemStatus {
	if v, ok := statusMap[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return v
	}
	return model.StatusTodo
}

func (a *Adapter) NormalizePriority(raw string) model.WorkItemPriority {
	if v, ok := priorityLabels[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return v
	}
	return model.PriorityNone
}

func (a *Adapter) NormalizeType(raw string) model.WorkItemType {
	if v, ok := typeLabels[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return v
	}
	return model.TypeTask
}

func (a *Adapter) DenormalizeStatus(s model.WorkItemStatus) string {
	if s == model.StatusDone {
		return "closed"
	}
	return "open"
}

func (a *Adapter) DenormalizePriority(p model.WorkItemPriority) string {
	switch p {
	case model.PriorityCritical:
		return "priority: critical"
	case model.PriorityHigh:
		return "priority: high"
	case model.PriorityMedium:
		return "priority: medium"
	case model.PriorityLow:
		return "priority: low"
	default:
		return ""
	}
}

func (a *Adapter) DenormalizeType(t model.WorkItemType) string {
	switch t {
	case model.TypeBug:
		return "bug"
	case model.TypeFeature:
		return "enhancement"
	default:
		return "task"
	}
}
