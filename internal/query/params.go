package query

// Parameter schemas, ported from the original Pydantic models
// (interfaces/mcp/sql/schemas.py) to Go structs validated with
// go-playground/validator struct tags. TenantID is always overwritten by
// Engine.Execute with the authenticated tenant before validation runs, so
// its validate tag only guards against an empty authenticated tenant, never
// a client-supplied one.

type SearchIssuesByProjectParams struct {
	TenantID   string  `json:"tenant_id" validate:"required"`
	ProjectKey string  `json:"project_key" validate:"required,max=50,project_key_format"`
	Status     *string `json:"status,omitempty" validate:"omitempty,max=100"`
	Assignee   *string `json:"assignee,omitempty" validate:"omitempty,max=255"`
	Priority   *string `json:"priority,omitempty" validate:"omitempty,max=50"`
	Limit      int     `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
}

func (p *SearchIssuesByProjectParams) applyDefaults() {
	if p.Limit == 0 {
		p.Limit = 50
	}
}

type GetProjectMetricsParams struct {
	TenantID   string `json:"tenant_id" validate:"required"`
	ProjectKey string `json:"project_key" validate:"required,max=50,project_key_format"`
	Days       int    `json:"days,omitempty" validate:"omitempty,min=1,max=365"`
}

func (p *GetProjectMetricsParams) applyDefaults() {
	if p.Days == 0 {
		p.Days = 30
	}
}

type SearchIssuesByTextParams struct {
	TenantID    string   `json:"tenant_id" validate:"required"`
	Query       string   `json:"query" validate:"required,min=1,max=200"`
	ProjectKeys []string `json:"project_keys" validate:"required,min=1,max=50"`
	Limit       int      `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
}

func (p *SearchIssuesByTextParams) applyDefaults() {
	if p.Limit == 0 {
		p.Limit = 20
	}
}

type GetIssueHistoryParams struct {
	TenantID string `json:"tenant_id" validate:"required"`
	IssueKey string `json:"issue_key" validate:"required,issue_key_format"`
	Limit    int    `json:"limit,omitempty" validate:"omitempty,min=1,max=500"`
}

func (p *GetIssueHistoryParams) applyDefaults() {
	if p.Limit == 0 {
		p.Limit = 100
	}
}

type GetUserWorkloadParams struct {
	TenantID string   `json:"tenant_id" validate:"required"`
	Assignee string   `json:"assignee" validate:"required,max=255"`
	Status   []string `json:"status,omitempty" validate:"omitempty,max=20"`
}

type LeadTimeMetricsParams struct {
	TenantID   string  `json:"tenant_id" validate:"required"`
	ProjectKey *string `json:"project_key,omitempty" validate:"omitempty,project_key_format"`
	Team       *string `json:"team,omitempty" validate:"omitempty,max=100"`
	Days       int     `json:"days,omitempty" validate:"omitempty,min=1,max=365"`
}

func (p *LeadTimeMetricsParams) applyDefaults() {
	if p.Days == 0 {
		p.Days = 30
	}
}
