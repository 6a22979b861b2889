// Package linear implements the adapter.Adapter contract for Linear, whose
// public API is GraphQL-only. Priority is a numeric scale (0-4) rather than
// a named enum, so normalization/denormalization maps through integers.
package linear

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/opsgateway/issuegateway/internal/adapter"
	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/model"
)

var statusMap = map[string]model.WorkItemStatus{
	"backlog":     model.StatusTodo,
	"unstarted":   model.StatusTodo,
	"started":     model.StatusInProgress,
	"in progress": model.StatusInProgress,
	"in review":   model.StatusInReview,
	"completed":   model.StatusDone,
	"done":        model.StatusDone,
	"cancelled":   model.StatusCancelled,
	"canceled":    model.StatusCancelled,
}

// priorityMap covers Linear's named priority labels where they appear in
// webhook payloads; FetchWorkItems mostly uses the numeric scale directly.
var priorityMap = map[string]model.WorkItemPriority{
	"urgent":      model.PriorityCritical,
	"high":        model.PriorityHigh,
	"medium":      model.PriorityMedium,
	"low":         model.PriorityLow,
	"no priority": model.PriorityNone,
}

var priorityFromNumber = map[int]model.WorkItemPriority{
	1: model.PriorityLow,
	2: model.PriorityMedium,
	3: model.PriorityHigh,
	4: model.PriorityCritical,
	0: model.PriorityNone,
}

var priorityToNumber = map[model.WorkItemPriority]int{
	model.PriorityCritical: 4,
	model.PriorityHigh:     3,
	model.PriorityMedium:   2,
	model.PriorityLow:      1,
	model.PriorityNone:     0,
}

var typeMap = map[string]model.WorkItemType{
	"bug":     model.TypeBug,
	"feature": model.TypeFeature,
	"task":    model.TypeTask,
	"story":   model.TypeStory,
	"epic":    model.TypeEpic,
}

// Adapter talks to one Linear workspace over its GraphQL API using a
// personal API key.
type Adapter struct {
	transport *adapter.Transport
	apiKey    string
	teamID    string
}

// New constructs a Linear adapter. instanceID is the Linear team id.
func New(instanceID, baseURL string, auth adapter.AuthConfig) (adapter.Adapter, error) {
	if auth.Kind != adapter.AuthAPIToken {
		return nil, fmt.Errorf("linear: unsupported auth kind %q", auth.Kind)
	}
	return &Adapter{
		transport: adapter.NewTransport(instanceID, baseURL),
		apiKey:    auth.APIToken,
		teamID:    instanceID,
	}, nil
}

func (a *Adapter) BackendKind() model.BackendKind { return model.BackendLinear }

func (a *Adapter) authHeader(req *http.Request) {
	req.Header.Set("Authorization", a.apiKey)
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

func (a *Adapter) query(ctx context.Context, query string, variables map[string]any, out any) error {
	var raw struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	body, _, err := a.transport.Do(ctx, http.MethodPost, "/graphql", graphQLRequest{Query: query, Variables: variables}, a.authHeader)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("decoding linear response: %w", err)
	}
	if len(raw.Errors) > 0 {
		return apierrors.Upstream4xx(200, raw.Errors[0].Message, nil)
	}
	if out != nil && len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, out); err != nil {
			return fmt.Errorf("decoding linear data: %w", err)
		}
	}
	return nil
}

func (a *Adapter) TestConnection(ctx context.Context) error {
	return a.query(ctx, `query { viewer { id } }`, nil, nil)
}

type linearIssue struct {
	ID          string  `json:"id"`
	Identifier  string  `json:"identifier"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    float64 `json:"priority"`
	URL         string  `json:"url"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
	CompletedAt string  `json:"completedAt"`
	CanceledAt  string  `json:"canceledAt"`
	State       struct {
		Name string `json:"name"`
	} `json:"state"`
	Assignee *struct {
		ID string `json:"id"`
	} `json:"assignee"`
	Creator *struct {
		ID string `json:"id"`
	} `json:"creator"`
	Parent *struct {
		ID string `json:"id"`
	} `json:"parent"`
	Team struct {
		ID string `json:"id"`
	} `json:"team"`
	Labels struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
}

func (a *Adapter) toNormalized(issue linearIssue) model.NormalizedWorkItem {
	w := model.NormalizedWorkItem{
		SourceID:   issue.ID,
		SourceKey:  issue.Identifier,
		SourceKind: model.BackendLinear,
		Instance:   a.teamID,
		Title:      issue.Title,
		Status:     a.NormalizeStatus(issue.State.Name),
		Priority:   priorityFromNumber[int(issue.Priority)],
		ProjectID:  issue.Team.ID,
		URL:        issue.URL,
	}
	if issue.Description != "" {
		w.Description = &issue.Description
	}
	if issue.Assignee != nil {
		w.AssigneeID = &issue.Assignee.ID
	}
	if issue.Creator != nil {
		w.ReporterID = &issue.Creator.ID
	}
	if issue.Parent != nil {
		w.ParentID = &issue.Parent.ID
	}

	labelNames := make([]string, 0, len(issue.Labels.Nodes))
	for _, l := range issue.Labels.Nodes {
		labelNames = append(labelNames, strings.ToLower(l.Name))
	}
	w.Type = typeFromLabels(labelNames)

	if t, err := time.Parse(time.RFC3339, issue.CreatedAt); err == nil {
		w.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, issue.UpdatedAt); err == nil {
		w.UpdatedAt = t
	}
	closedAt := issue.CompletedAt
	if closedAt == "" {
		closedAt = issue.CanceledAt
	}
	if closedAt != "" {
		if t, err := time.Parse(time.RFC3339, closedAt); err == nil {
			w.ClosedAt = &t
		}
	}
	return w
}

func typeFromLabels(labels []string) model.WorkItemType {
	for _, l := range labels {
		if t, ok := typeMap[l]; ok {
			return t
		}
	}
	return model.TypeTask
}

const issueFields = `
	id identifier title description priority url createdAt updatedAt completedAt canceledAt
	state { name }
	assignee { id }
	creator { id }
	parent { id }
	team { id }
	labels { nodes { name } }
`

func (a *Adapter) FetchWorkItems(ctx context.Context, project string, updatedSince *time.Time, limit int) ([]model.NormalizedWorkItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	filter := map[string]any{"team": map[string]any{"id": map[string]any{"eq": project}}}
	if updatedSince != nil {
		filter["updatedAt"] = map[string]any{"gte": updatedSince.UTC().Format(time.RFC3339)}
	}

	query := fmt.Sprintf(`query($filter: IssueFilter, $first: Int) {
		issues(filter: $filter, first: $first, orderBy: updatedAt) { nodes { %s } }
	}`, issueFields)

	var resp struct {
		Issues struct {
			Nodes []linearIssue `json:"nodes"`
		} `json:"issues"`
	}
	if err := a.query(ctx, query, map[string]any{"filter": filter, "first": limit}, &resp); err != nil {
		return nil, err
	}

	items := make([]model.NormalizedWorkItem, 0, len(resp.Issues.Nodes))
	for _, issue := range resp.Issues.Nodes {
		items = append(items, a.toNormalized(issue))
	}
	return items, nil
}

func (a *Adapter) FetchWorkItem(ctx context.Context, id string) (model.NormalizedWorkItem, error) {
	query := fmt.Sprintf(`query($id: String!) { issue(id: $id) { %s } }`, issueFields)
	var resp struct {
		Issue linearIssue `json:"issue"`
	}
	if err := a.query(ctx, query, map[string]any{"id": id}, &resp); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	return a.toNormalized(resp.Issue), nil
}

func (a *Adapter) CreateWorkItem(ctx context.Context, fields adapter.CreateFields) (model.NormalizedWorkItem, error) {
	input := map[string]any{
		"teamId":   fields.Project,
		"title":    fields.Title,
		"priority": priorityToNumber[fields.Priority],
	}
	if fields.Description != nil {
		input["description"] = *fields.Description
	}
	if fields.AssigneeID != nil {
		input["assigneeId"] = *fields.AssigneeID
	}

	mutation := fmt.Sprintf(`mutation($input: IssueCreateInput!) {
		issueCreate(input: $input) { success issue { %s } }
	}`, issueFields)

	var resp struct {
		IssueCreate struct {
			Success bool        `json:"success"`
			Issue   linearIssue `json:"issue"`
		} `json:"issueCreate"`
	}
	if err := a.query(ctx, mutation, map[string]any{"input": input}, &resp); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	if !resp.IssueCreate.Success {
		return model.NormalizedWorkItem{}, apierrors.Upstream4xx(200, "issueCreate returned success=false", nil)
	}
	return a.toNormalized(resp.IssueCreate.Issue), nil
}

func (a *Adapter) UpdateWorkItem(ctx context.Context, id string, fields adapter.UpdateFields) (model.NormalizedWorkItem, error) {
	input := map[string]any{}
	if fields.Title != nil {
		input["title"] = *fields.Title
	}
	if fields.Description != nil {
		input["description"] = *fields.Description
	}
	if fields.Priority != nil {
		input["priority"] = priorityToNumber[*fields.Priority]
	}
	if fields.AssigneeID != nil {
		input["assigneeId"] = *fields.AssigneeID
	}

	if len(input) > 0 {
		mutation := `mutation($id: String!, $input: IssueUpdateInput!) {
			issueUpdate(id: $id, input: $input) { success }
		}`
		var resp struct {
			IssueUpdate struct {
				Success bool `json:"success"`
			} `json:"issueUpdate"`
		}
		if err := a.query(ctx, mutation, map[string]any{"id": id, "input": input}, &resp); err != nil {
			return model.NormalizedWorkItem{}, err
		}
	}
	return a.FetchWorkItem(ctx, id)
}

// TransitionWorkItem resolves toStatus against the team's configured
// workflow states by name, since Linear's states are team-scoped custom
// configuration rather than a fixed enum.
func (a *Adapter) TransitionWorkItem(ctx context.Context, id string, toStatus model.WorkItemStatus, comment *string) (model.NormalizedWorkItem, error) {
	current, err := a.FetchWorkItem(ctx, id)
	if err != nil {
		return model.NormalizedWorkItem{}, err
	}

	var states struct {
		Team struct {
			States struct {
				Nodes []struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"nodes"`
			} `json:"states"`
		} `json:"team"`
	}
	if err := a.query(ctx, `query($teamId: String!) {
		team(id: $teamId) { states { nodes { id name } } }
	}`, map[string]any{"teamId": current.ProjectID}, &states); err != nil {
		return model.NormalizedWorkItem{}, err
	}

	var stateID string
	for _, s := range states.Team.States.Nodes {
		if a.NormalizeStatus(s.Name) == toStatus {
			stateID = s.ID
			break
		}
	}
	if stateID == "" {
		return model.NormalizedWorkItem{}, apierrors.Validation(
			fmt.Sprintf("no workflow state matching normalized status %q on this team", toStatus),
			map[string]any{"issue": id},
		)
	}

	if comment != nil && *comment != "" {
		if _, err := a.AddComment(ctx, id, *comment); err != nil {
			return model.NormalizedWorkItem{}, err
		}
	}

	mutation := `mutation($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) { success }
	}`
	if err := a.query(ctx, mutation, map[string]any{"id": id, "input": map[string]any{"stateId": stateID}}, nil); err != nil {
		return model.NormalizedWorkItem{}, err
	}
	return a.FetchWorkItem(ctx, id)
}

func (a *Adapter) AddComment(ctx context.Context, id string, body string) (model.NormalizedComment, error) {
	mutation := `mutation($input: CommentCreateInput!) {
		commentCreate(input: $input) {
			success
			comment { id createdAt user { id } }
		}
	}`
	var resp struct {
		CommentCreate struct {
			Success bool `json:"success"`
			Comment struct {
				ID        string `json:"id"`
				CreatedAt string `json:"createdAt"`
				User      struct {
					ID string `json:"id"`
				} `json:"user"`
			} `json:"comment"`
		} `json:"commentCreate"`
	}
	input := map[string]any{"issueId": id, "body": body}
	if err := a.query(ctx, mutation, map[string]any{"input": input}, &resp); err != nil {
		return model.NormalizedComment{}, err
	}
	c := model.NormalizedComment{
		SourceID:   resp.CommentCreate.Comment.ID,
		WorkItemID: id,
		AuthorID:   resp.CommentCreate.Comment.User.ID,
		Body:       body,
	}
	if t, err := time.Parse(time.RFC3339, resp.CommentCreate.Comment.CreatedAt); err == nil {
		c.CreatedAt = t
	}
	return c, nil
}

func (a *Adapter) FetchComments(ctx context.Context, id string) ([]model.NormalizedComment, error) {
	query := `query($id: String!) {
		issue(id: $id) {
			comments { nodes { id body createdAt user { id } } }
		}
	}`
	var resp struct {
		Issue struct {
			Comments struct {
				Nodes []struct {
					ID        string `json:"id"`
					Body      string `json:"body"`
					CreatedAt string `json:"createdAt"`
					User      struct {
						ID string `json:"id"`
					} `json:"user"`
				} `json:"nodes"`
			} `json:"comments"`
		} `json:"issue"`
	}
	if err := a.query(ctx, query, map[string]any{"id": id}, &resp); err != nil {
		return nil, err
	}
	out := make([]model.NormalizedComment, 0, len(resp.Issue.Comments.Nodes))
	for _, c := range resp.Issue.Comments.Nodes {
		nc := model.NormalizedComment{
			SourceID:   c.ID,
			WorkItemID: id,
			AuthorID:   c.User.ID,
			Body:       c.Body,
		}
		if t, err := time.Parse(time.RFC3339, c.CreatedAt); err == nil {
			nc.CreatedAt = t
		}
		out = append(out, nc)
	}
	return out, nil
}

func (a *Adapter) FetchTransitions(ctx context.Context, id string) ([]model.NormalizedTransition, error) {
	query := `query($id: String!) {
		issue(id: $id) {
			history { nodes { createdAt fromState { name } toState { name } actor { id } } }
		}
	}`
	var resp struct {
		Issue struct {
			History struct {
				Nodes []struct {
					CreatedAt string `json:"createdAt"`
					FromState *struct {
						Name string `json:"name"`
					} `json:"fromState"`
					ToState *struct {
						Name string `json:"name"`
					} `json:"toState"`
					Actor *struct {
						ID string `json:"id"`
					} `json:"actor"`
				} `json:"nodes"`
			} `json:"history"`
		} `json:"issue"`
	}
	if err := a.query(ctx, query, map[string]any{"id": id}, &resp); err != nil {
		return nil, err
	}

	var out []model.NormalizedTransition
	for _, h := range resp.Issue.History.Nodes {
		if h.FromState == nil || h.ToState == nil {
			continue
		}
		tr := model.NormalizedTransition{
			WorkItemID: id,
			FromStatus: a.NormalizeStatus(h.FromState.Name),
			ToStatus:   a.NormalizeStatus(h.ToState.Name),
		}
		if h.Actor != nil {
			tr.ActorID = h.Actor.ID
		}
		if t, err := time.Parse(time.RFC3339, h.CreatedAt); err == nil {
			tr.Timestamp = t
		}
		out = append(out, tr)
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
	if n, err := strconv.Atoi(raw); err == nil {
		if v, ok := priorityFromNumber[n]; ok {
			return v
		}
	}
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
	switch s {
	case model.StatusTodo:
		return "Backlog"
	case model.StatusInProgress:
		return "In Progress"
	case model.StatusBlocked:
		return "In Progress"
	case model.StatusInReview:
		return "In Review"
	case model.StatusDone:
		return "Done"
	case model.StatusCancelled:
		return "Cancelled"
	default:
		return "Backlog"
	}
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
	case model.TypeStory:
		return "story"
	case model.TypeEpic:
		return "epic"
	default:
		return "task"
	}
}
