// Package jira implements the adapter.Adapter contract for Atlassian Jira
// Cloud, using basic auth (email + API token) and the REST v3 API.
package jira

import (
	"context"
	"encoding/base64"
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
	"to do":    model.StatusTodo,
	"open":     model.StatusTodo,
	"backlog":  model.StatusTodo,

	"in progress":    model.StatusInProgress,
	"in development": model.StatusInProgress,

	"blocked":   model.StatusBlocked,
	"impediment": model.StatusBlocked,

	"in review":   model.StatusInReview,
	"code review": model.StatusInReview,

	"done":     model.StatusDone,
	"closed":   model.StatusDone,
	"resolved": model.StatusDone,

	"cancelled": model.StatusCancelled,
	"rejected":  model.StatusCancelled,
}

var priorityMap = map[string]model.WorkItemPriority{
	"highest":  model.PriorityCritical,
	"critical": model.PriorityCritical,
	"high":     model.PriorityHigh,
	"medium":   model.PriorityMedium,
	"low":      model.PriorityLow,
	"lowest":   model.PriorityLow,
}

var typeMap = map[string]model.WorkItemType{
	"epic":     model.TypeEpic,
	"story":    model.TypeStory,
	"task":     model.TypeTask,
	"bug":      model.TypeBug,
	"sub-task": model.TypeSubtask,
	"subtask":  model.TypeSubtask,
	"feature":  model.TypeFeature,
}

// denormalization targets: the first backend string a normalizeMap's value
// maps to, chosen to round-trip through a real Jira project's default
// workflow scheme.
var (
	statusOut = map[model.WorkItemStatus]string{
		model.StatusTodo:       "To Do",
		model.StatusInProgress: "In Progress",
		model.StatusBlocked:    "Blocked",
		model.StatusInReview:   "In Review",
		model.StatusDone:       "Done",
		model.StatusCancelled:  "Cancelled",
	}
	priorityOut = map[model.WorkItemPriority]string{
		model.PriorityCritical: "Highest",
		model.PriorityHigh:     "High",
		model.PriorityMedium:   "Medium",
		model.PriorityLow:      "Low",
		model.PriorityNone:     "Medium",
	}
	typeOut = map[model.WorkItemType]string{
		model.TypeEpic:    "Epic",
		model.TypeStory:   "Story",
		model.TypeTask:    "Task",
		model.TypeBug:     "Bug",
		model.TypeSubtask: "Sub-task",
		model.TypeFeature: "Story",
	}
)

// Adapter talks to one Jira Cloud instance via basic auth.
type Adapter struct {
	transport  *adapter.Transport
	instanceID string
	email      string
	apiToken   string
}

// New constructs a Jira adapter that authenticates with HTTP basic auth
// (account email plus API token). It accepts the api_token and basic auth
// kinds and rejects every other kind; OAuth is not supported.
func New(instanceID, baseURL string, auth adapter.AuthConfig) (adapter.Adapter, error) {
	if auth.Kind != adapter.AuthAPIToken && auth.Kind != adapter.AuthBasic {
		return nil, fmt.Errorf("jira: unsupported auth kind %q", auth.Kind)
	}
	return &Adapter{
		transport:  adapter.NewTransport(instanceID, baseURL),
		instanceID: instanceID,
		email:      auth.Email,
		apiToken:   auth.APIToken,
	}, nil
}

func (a *Adapter) BackendKind() model.BackendKind { return model.BackendJira }

func (a *Adapter) authHeader(req *http.Request) {
	token := base64.StdEncoding.EncodeToString([]byte(a.email + ":" + a.apiToken))
	req.Header.Set("Authorization", "Basic "+token)
	req.Header.Set("Accept", "application/json")
}

func (a *Adapter) TestConnection(ctx context.Context) error {
	_, _, err := a.transport.Do(ctx, http.MethodGet, "/rest/api/3/myself", nil, a.authHeader)
	return err
}

type jiraIssue struct {
	Key    string `json:"key"`
	ID     string `json:"id"`
	Fields struct {
		Summary     string `json:"summary"`
		Description any    `json:"description"`
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
		Priority struct {
			Name string `json:"name"`
		} `json:"priority"`
		IssueType struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
		Assignee *struct {
			AccountID string `json:"accountId"`
		} `json:"assignee"`
		Reporter *struct {
			AccountID string `json:"accountId"`
		} `json:"reporter"`
		Parent *struct {
			Key string `json:"key"`
		} `json:"parent"`
		Created string `json:"created"`
		Updated string `json:"updated"`
		Resolutiondate string `json:"resolutiondate"`
	} `json:"fields"`
}

func (a *Adapter) toNormalized(issue jiraIssue, baseURL string) model.NormalizedWorkItem {
	w := model.NormalizedWorkItem{
		SourceID:   issue.ID,
		SourceKey:  issue.Key,
		SourceKind: model.BackendJira,
		Instance:   a.instanceID,
		Title:      issue.Fields.Summary,
		Status:     a.NormalizeStatus(issue.Fields.Status.Name),
		Priority:   a.NormalizePriority(issue.Fields.Priority.Name),
		Type:       a.NormalizeType(issue.Fields.IssueType.Name),
		ProjectID:  issue.Fields.Project.Key,
		URL:        strings.TrimRight(baseURL, "/") + "/browse/" + issue.Key,
	}
	if desc := adfToPlainText(issue.Fields.Description); desc != "" {
		w.Description = &desc
	}
	if issue.Fields.Assignee != nil {
		w.AssigneeID = &issue.Fields.Assignee.AccountID
	}
	if issue.Fields.Reporter != nil {
		w.ReporterID = &issue.Fields.Reporter.AccountID
	}
	if issue.Fields.Parent != nil {
		w.ParentID = &issue.Fields.Parent.Key
	}
	if t, err := time.Parse(time.RFC3339, normalizeJiraTime(issue.Fields.Created)); err == nil {
		w.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, normalizeJiraTime(issue.Fields.Updated)); err == nil {
		w.UpdatedAt = t
	}
	if issue.Fields.Resolutiondate != "" {
		if t, err := time.Parse(time.RFC3339, normalizeJiraTime(issue.Fields.Resolutiondate)); err == nil {
			w.ClosedAt = &t
		}
	}
	return w
}

// normalizeJiraTime converts Jira's "2024-01-02T15:04:05.000+0000" timestamp
// into a Go-parseable RFC3339 string by inserting the missing colon in the
// zone offset.
func normalizeJiraTime(s string) string {
	if len(s) < 5 {
		return s
	}
	tail := s[len(s)-5:]
	if (tail[0] == '+' || tail[0] == '-') && !strings.Contains(tail, ":") {
		return s[:len(s)-5] + tail[:3] + ":" + tail[3:]
	}
	return s
}

// adfToPlainText extracts a best-effort plain-text rendering out of Jira's
// Atlassian Document Format description field, which may also arrive as a
// plain string on older API versions.
func adfToPlainText(desc any) string {
	if desc == nil {
		return ""
	}
	if s, ok := desc.(string); ok {
		return s
	}
	doc, ok := desc.(map[string]any)
	if !ok {
		return ""
	}
	var sb strings.Builder
	var walk func(node any)
	walk = func(node any) {
		m, ok := node.(map[string]any)
		if !ok {
			return
		}
		if t, ok := m["type"].(string); ok && t == "text" {
			if txt, ok := m["text"].(string); ok {
				sb.WriteString(txt)
			}
		}
		if content, ok := m["content"].([]any); ok {
			for _, c := range content {
				walk(c)
			}
			if t, _ := m["type"].(string); t == "paragraph" {
				sb.WriteString("\n")
			}
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String())
}

func plainTextToADF(text string) map[string]any {
	return map[string]any{
		"type":    "doc",
		"version": 1,
		"content": []any{
			map[string]any{
				"type": "paragraph",
				"content": []any{
					map[string]any{"type": "text", "text": text},
				},
			},
		},
	}
}

func (a *Adapter) FetchWorkItems(ctx context.Context, project string, updatedSince *time.Time, limit int) ([]model.NormalizedWorkItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	jql := fmt.Sprintf("project = %q", project)
	if updatedSince != nil {
		jql += fmt.Sprintf(" AND updated >= \"%s\"", updatedSince.Format("2006/01/02 15:04"))
	}
	jql += " ORDER BY updated DESC"

	q := url.Values{}
	q.Set("jql", jql)
	q.Set("maxResults", strconv.Itoa(limit))

	var resp struct {
		Issues []jiraIssue `json:"issues"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, "/rest/api/3/search?"+q.Encode(), nil, a.authHeader, &resp); err != nil {
		return nil, err
	}

	items := make([]model.NormalizedWorkItem, 0, len(resp.Issues))
	for _, issue := range resp.Issues {
		items = append(items, a.toNormalized(issue, a.transport.BaseURL()))
	}
	return items, nil
}

func (a *Adapter) FetchWorkItem(ctx context.Context, id string) (model.NormalizedWorkItem, error) {
	var issue jiraIssue
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(id), nil, a.authHeader, &issue); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	return a.toNormalized(issue, a.transport.BaseURL()), nil
}

func (a *Adapter) CreateWorkItem(ctx context.Context, fields adapter.CreateFields) (model.NormalizedWorkItem, error) {
	body := map[string]any{
		"fields": map[string]any{
			"project":   map[string]any{"key": fields.Project},
			"summary":   fields.Title,
			"issuetype": map[string]any{"name": a.DenormalizeType(fields.Type)},
			"priority":  map[string]any{"name": a.DenormalizePriority(fields.Priority)},
		},
	}
	if fields.Description != nil {
		body["fields"].(map[string]any)["description"] = plainTextToADF(*fields.Description)
	}
	if fields.AssigneeID != nil {
		body["fields"].(map[string]any)["assignee"] = map[string]any{"accountId": *fields.AssigneeID}
	}

	var created struct {
		Key string `json:"key"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodPost, "/rest/api/3/issue", body, a.authHeader, &created); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	return a.FetchWorkItem(ctx, created.Key)
}

func (a *Adapter) UpdateWorkItem(ctx context.Context, id string, fields adapter.UpdateFields) (model.NormalizedWorkItem, error) {
	upd := map[string]any{}
	if fields.Title != nil {
		upd["summary"] = *fields.Title
	}
	if fields.Description != nil {
		upd["description"] = plainTextToADF(*fields.Description)
	}
	if fields.Priority != nil {
		upd["priority"] = map[string]any{"name": a.DenormalizePriority(*fields.Priority)}
	}
	if fields.Type != nil {
		upd["issuetype"] = map[string]any{"name": a.DenormalizeType(*fields.Type)}
	}
	if fields.AssigneeID != nil {
		upd["assignee"] = map[string]any{"accountId": *fields.AssigneeID}
	}

	if len(upd) > 0 {
		body := map[string]any{"fields": upd}
		if _, _, err := a.transport.DoJSON(ctx, http.MethodPut, "/rest/api/3/issue/"+url.PathEscape(id), body, a.authHeader, nil); err != nil {
			return model.NormalizedWorkItem{}, err
		}
	}
	return a.FetchWorkItem(ctx, id)
}

// TransitionWorkItem implements Jira's two-phase transition protocol:
// discover the available transition ids for the issue's current workflow
// state, find the one whose target status name matches, then POST it.
func (a *Adapter) TransitionWorkItem(ctx context.Context, id string, toStatus model.WorkItemStatus, comment *string) (model.NormalizedWorkItem, error) {
	var avail struct {
		Transitions []struct {
			ID string `json:"id"`
			To struct {
				Name string `json:"name"`
			} `json:"to"`
		} `json:"transitions"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(id)+"/transitions", nil, a.authHeader, &avail); err != nil {
		return model.NormalizedWorkItem{}, err
	}

	target := a.DenormalizeStatus(toStatus)
	var transitionID string
	for _, t := range avail.Transitions {
		if strings.EqualFold(t.To.Name, target) {
			transitionID = t.ID
			break
		}
	}
	if transitionID == "" {
		return model.NormalizedWorkItem{}, apierrors.Validation(
			fmt.Sprintf("no transition to status %q available from current workflow state", target),
			map[string]any{"issue": id, "target_status": target},
		)
	}

	body := map[string]any{"transition": map[string]any{"id": transitionID}}
	if comment != nil && *comment != "" {
		body["update"] = map[string]any{
			"comment": []any{
				map[string]any{"add": map[string]any{"body": plainTextToADF(*comment)}},
			},
		}
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodPost, "/rest/api/3/issue/"+url.PathEscape(id)+"/transitions", body, a.authHeader, nil); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	return a.FetchWorkItem(ctx, id)
}

func (a *Adapter) AddComment(ctx context.Context, id string, body string) (model.NormalizedComment, error) {
	req := map[string]any{"body": plainTextToADF(body)}
	var resp struct {
		ID      string `json:"id"`
		Created string `json:"created"`
		Author  struct {
			AccountID string `json:"accountId"`
		} `json:"author"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodPost, "/rest/api/3/issue/"+url.PathEscape(id)+"/comment", req, a.authHeader, &resp); err != nil {
		return model.NormalizedComment{}, err
	}
	c := model.NormalizedComment{
		SourceID:   resp.ID,
		WorkItemID: id,
		AuthorID:   resp.Author.AccountID,
		Body:       body,
	}
	if t, err := time.Parse(time.RFC3339, normalizeJiraTime(resp.Created)); err == nil {
		c.CreatedAt = t
	}
	return c, nil
}

func (a *Adapter) FetchComments(ctx context.Context, id string) ([]model.NormalizedComment, error) {
	var resp struct {
		Comments []struct {
			ID      string `json:"id"`
			Body    any    `json:"body"`
			Created string `json:"created"`
			Author  struct {
				AccountID string `json:"accountId"`
			} `json:"author"`
		} `json:"comments"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(id)+"/comment", nil, a.authHeader, &resp); err != nil {
		return nil, err
	}
	out := make([]model.NormalizedComment, 0, len(resp.Comments))
	for _, c := range resp.Comments {
		nc := model.NormalizedComment{
			SourceID:   c.ID,
			WorkItemID: id,
			AuthorID:   c.Author.AccountID,
			Body:       adfToPlainText(c.Body),
		}
		if t, err := time.Parse(time.RFC3339, normalizeJiraTime(c.Created)); err == nil {
			nc.CreatedAt = t
		}
		out = append(out, nc)
	}
	return out, nil
}

func (a *Adapter) FetchTransitions(ctx context.Context, id string) ([]model.NormalizedTransition, error) {
	var resp struct {
		Changelog struct {
			Histories []struct {
				Created string `json:"created"`
				Author  struct {
					AccountID string `json:"accountId"`
				} `json:"author"`
				Items []struct {
					Field      string `json:"field"`
					FromString string `json:"fromString"`
					ToString   string `json:"toString"`
				} `json:"items"`
			} `json:"histories"`
		} `json:"changelog"`
	}
	if _, _, err := a.transport.DoJSON(ctx, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(id)+"?expand=changelog", nil, a.authHeader, &resp); err != nil {
		return nil, err
	}

	var out []model.NormalizedTransition
	for _, h := range resp.Changelog.Histories {
		for _, item := range h.Items {
			if item.Field != "status" {
				continue
			}
			tr := model.NormalizedTransition{
				WorkItemID: id,
				FromStatus: a.NormalizeStatus(item.FromString),
				ToStatus:   a.NormalizeStatus(item.ToString),
				ActorID:    h.Author.AccountID,
			}
			if t, err := time.Parse(time.RFC3339, normalizeJiraTime(h.Created)); err == nil {
				tr.Timestamp = t
			}
			out = append(out, tr)
		}
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
	if v, ok := statusOut[s]; ok {
		return v
	}
	return "To Do"
}

func (a *Adapter) DenormalizePriority(p model.WorkItemPriority) string {
	if v, ok := priorityOut[p]; ok {
		return v
	}
	return "Medium"
}

func (a *Adapter) DenormalizeType(t model.WorkItemType) string {
	if v, ok := typeOut[t]; ok {
		return v
	}
	return "Task"
}
