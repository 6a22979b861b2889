// Package query implements the SQL template engine (C8): a compile-time
// whitelist of six parameterized read queries against the tenant's mirrored
// issue data, each bound by name (never string interpolation) and scoped to
// the authenticated tenant regardless of what a caller's params claim.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/store"
)

// Template names, the compile-time whitelist (spec.md §4.8: unknown name is
// a ValidationError, never a dynamic lookup).
const (
	SearchIssuesByProject = "search_issues_by_project"
	GetProjectMetrics     = "get_project_metrics"
	SearchIssuesByText    = "search_issues_by_text"
	GetIssueHistory       = "get_issue_history"
	GetUserWorkload       = "get_user_workload"
	LeadTimeMetrics       = "lead_time_metrics"
)

// templates holds the query text for every whitelisted template, ported in
// shape from the original Python templates.py: same columns, same
// `:tenant_id` placeholder, same filters, rewritten for sqlx.Named binding
// instead of SQLAlchemy's text(). The day-count filters use make_interval
// rather than an interpolated INTERVAL string literal, since a literal
// would sit inside quotes where named-parameter substitution cannot safely
// reach it.
var templates = map[string]string{
	SearchIssuesByProject: `
		SELECT
			id,
			issue_key AS source_key,
			project_key,
			summary AS title,
			issue_type AS type,
			priority,
			status,
			assignee,
			reporter,
			jira_created_at AS created_at,
			jira_updated_at AS updated_at,
			resolved_at AS closed_at
		FROM issues
		WHERE tenant_id = :tenant_id
		  AND project_key = :project_key
		  AND (:status IS NULL OR status = :status)
		  AND (:assignee IS NULL OR assignee = :assignee)
		  AND (:priority IS NULL OR priority = :priority)
		ORDER BY jira_updated_at DESC
		LIMIT :limit
	`,
	GetProjectMetrics: `
		SELECT
			date,
			created,
			closed,
			wip,
			wip_no_assignee,
			stuck_gt_x_days,
			reopened,
			lead_time_p50_days,
			lead_time_p90_days,
			lead_time_avg_days,
			sla_at_risk,
			sla_breached,
			created_4w_avg,
			closed_4w_avg,
			created_delta_pct,
			closed_delta_pct
		FROM work_item_metrics_daily
		WHERE tenant_id = :tenant_id
		  AND project_key = :project_key
		  AND date >= CURRENT_DATE - make_interval(days => :days)
		ORDER BY date DESC
	`,
	SearchIssuesByText: `
		SELECT
			id,
			issue_key AS source_key,
			project_key,
			summary AS title,
			issue_type AS type,
			status,
			assignee,
			jira_updated_at AS updated_at,
			similarity(summary, :query) AS sim_score
		FROM issues
		WHERE tenant_id = :tenant_id
		  AND project_key = ANY(:project_keys)
		  AND summary % :query
		ORDER BY similarity(summary, :query) DESC, jira_updated_at DESC
		LIMIT :limit
	`,
	GetIssueHistory: `
		SELECT
			c.id,
			c.from_status,
			c.to_status,
			c.jira_created_at AS timestamp,
			c.author_account_id AS actor
		FROM changelogs c
		JOIN issues i ON c.issue_id = i.id
		WHERE i.tenant_id = :tenant_id
		  AND i.issue_key = :issue_key
		ORDER BY c.jira_created_at DESC
		LIMIT :limit
	`,
	GetUserWorkload: `
		SELECT
			project_key,
			COUNT(*) AS issue_count,
			COUNT(*) FILTER (WHERE priority = 'critical') AS critical_count,
			COUNT(*) FILTER (WHERE priority = 'high') AS high_count,
			COUNT(*) FILTER (WHERE is_stuck = true) AS stuck_count,
			AVG(days_in_current_status) AS avg_days_in_status
		FROM issues
		WHERE tenant_id = :tenant_id
		  AND assignee = :assignee
		  AND (:status IS NULL OR status = ANY(:status))
		GROUP BY project_key
		ORDER BY issue_count DESC
	`,
	LeadTimeMetrics: `
		SELECT
			date,
			project_key,
			team,
			lead_time_p50_days,
			lead_time_p90_days,
			lead_time_avg_days,
			closed AS throughput
		FROM work_item_metrics_daily
		WHERE tenant_id = :tenant_id
		  AND (:project_key IS NULL OR project_key = :project_key)
		  AND (:team IS NULL OR team = :team)
		  AND date >= CURRENT_DATE - make_interval(days => :days)
		ORDER BY date DESC
	`,
}

// forbiddenTokens backs the secondary safety check (spec.md §4.8):
// defense in depth on top of the whitelist, not a substitute for it.
var forbiddenTokens = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"ALTER": true, "TRUNCATE": true, "GRANT": true, "REVOKE": true,
	"EXEC": true, "EXECUTE": true, "CALL": true, "MERGE": true,
	"REPLACE": true, "UNION": true,
}

var (
	stringLiteralRE = regexp.MustCompile(`'(?:[^']|'')*'`)
	tokenRE         = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
)

func checkTemplateSafety(name, sqlText string) error {
	stripped := stringLiteralRE.ReplaceAllString(sqlText, "")
	tokens := tokenRE.FindAllString(stripped, -1)
	if len(tokens) == 0 || !strings.EqualFold(tokens[0], "SELECT") {
		return fmt.Errorf("template %q: first token must be SELECT", name)
	}
	for _, t := range tokens {
		if forbiddenTokens[strings.ToUpper(t)] {
			return fmt.Errorf("template %q: contains forbidden token %q", name, t)
		}
	}
	return nil
}

func init() {
	for name, sqlText := range templates {
		if err := checkTemplateSafety(name, sqlText); err != nil {
			panic(fmt.Sprintf("query: %v", err))
		}
	}
}

var projectKeyRE = regexp.MustCompile(`^[A-Z0-9-]+$`)
var issueKeyRE = regexp.MustCompile(`^[A-Z]+-\d+$`)

func registerValidators(v *validator.Validate) {
	_ = v.RegisterValidation("project_key_format", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || projectKeyRE.MatchString(s)
	})
	_ = v.RegisterValidation("issue_key_format", func(fl validator.FieldLevel) bool {
		return issueKeyRE.MatchString(fl.Field().String())
	})
}

// Result is the response shape for a template execution (spec.md §4.8's
// `(rows, count, elapsed-ms)` contract).
type Result struct {
	Results      []map[string]any `json:"results"`
	Total        int              `json:"total"`
	QueryTimeMS  int64            `json:"query_time_ms"`
	TemplateName string           `json:"template_name"`
}

// Engine executes whitelisted templates with validated, named-bound
// parameters, row-scoped to the authenticated tenant.
type Engine struct {
	db       *store.DB
	validate *validator.Validate
}

func New(db *store.DB) *Engine {
	v := validator.New()
	registerValidators(v)
	return &Engine{db: db, validate: v}
}

// Execute runs a whitelisted template by name. tenantID is always the
// authenticated tenant from the request context; it overrides whatever
// tenant_id the caller's params carry, per spec.md §4.8's tenant-isolation
// invariant — the bound value is never client-controlled.
func (e *Engine) Execute(ctx context.Context, templateName string, tenantID string, rawParams json.RawMessage) (*Result, error) {
	sqlText, ok := templates[templateName]
	if !ok {
		return nil, apierrors.Validation("unknown query template", map[string]any{"template_name": templateName})
	}

	args, err := e.bind(templateName, tenantID, rawParams)
	if err != nil {
		return nil, err
	}

	// Defensive per-request re-check: the templates are compile-time
	// constants already verified at init(), so this only fires on a future
	// programming error (e.g. a template edited to reference a column via
	// string-built SQL). If it ever does, that's a bug report, not a
	// client-triggerable condition.
	if err := checkTemplateSafety(templateName, sqlText); err != nil {
		slog.Error("query template failed safety re-check", "template", templateName, "error", err)
		return nil, apierrors.Internal(err)
	}

	return e.run(ctx, templateName, sqlText, args)
}

func (e *Engine) run(ctx context.Context, templateName, sqlText string, args map[string]any) (*Result, error) {
	start := time.Now()

	bound, boundArgs, err := sqlx.Named(sqlText, args)
	if err != nil {
		return nil, fmt.Errorf("binding template %s: %w", templateName, err)
	}
	bound = e.db.Rebind(bound)

	rows, err := e.db.QueryxContext(ctx, bound, boundArgs...)
	if err != nil {
		return nil, fmt.Errorf("executing template %s: %w", templateName, err)
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scanning template %s row: %w", templateName, err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading template %s rows: %w", templateName, err)
	}

	return &Result{
		Results:      results,
		Total:        len(results),
		QueryTimeMS:  time.Since(start).Milliseconds(),
		TemplateName: templateName,
	}, nil
}

// bind decodes rawParams into the template's declared schema, validates it,
// and returns the named-argument map execution binds against.
func (e *Engine) bind(templateName, tenantID string, rawParams json.RawMessage) (map[string]any, error) {
	switch templateName {
	case SearchIssuesByProject:
		var p SearchIssuesByProjectParams
		if err := e.decode(rawParams, &p); err != nil {
			return nil, err
		}
		p.TenantID = tenantID
		p.applyDefaults()
		if err := e.validate.Struct(p); err != nil {
			return nil, validationError(err)
		}
		return map[string]any{
			"tenant_id":   p.TenantID,
			"project_key": p.ProjectKey,
			"status":      p.Status,
			"assignee":    p.Assignee,
			"priority":    p.Priority,
			"limit":       p.Limit,
		}, nil

	case GetProjectMetrics:
		var p GetProjectMetricsParams
		if err := e.decode(rawParams, &p); err != nil {
			return nil, err
		}
		p.TenantID = tenantID
		p.applyDefaults()
		if err := e.validate.Struct(p); err != nil {
			return nil, validationError(err)
		}
		return map[string]any{
			"tenant_id":   p.TenantID,
			"project_key": p.ProjectKey,
			"days":        p.Days,
		}, nil

	case SearchIssuesByText:
		var p SearchIssuesByTextParams
		if err := e.decode(rawParams, &p); err != nil {
			return nil, err
		}
		p.TenantID = tenantID
		p.applyDefaults()
		if err := e.validate.Struct(p); err != nil {
			return nil, validationError(err)
		}
		for _, k := range p.ProjectKeys {
			if !projectKeyRE.MatchString(k) {
				return nil, apierrors.Validation("invalid project key", map[string]any{"project_key": k})
			}
		}
		return map[string]any{
			"tenant_id":    p.TenantID,
			"query":        p.Query,
			"project_keys": pq.Array(p.ProjectKeys),
			"limit":        p.Limit,
		}, nil

	case GetIssueHistory:
		var p GetIssueHistoryParams
		if err := e.decode(rawParams, &p); err != nil {
			return nil, err
		}
		p.TenantID = tenantID
		p.applyDefaults()
		if err := e.validate.Struct(p); err != nil {
			return nil, validationError(err)
		}
		return map[string]any{
			"tenant_id": p.TenantID,
			"issue_key": p.IssueKey,
			"limit":     p.Limit,
		}, nil

	case GetUserWorkload:
		var p GetUserWorkloadParams
		if err := e.decode(rawParams, &p); err != nil {
			return nil, err
		}
		p.TenantID = tenantID
		if err := e.validate.Struct(p); err != nil {
			return nil, validationError(err)
		}
		var status any
		if p.Status != nil {
			status = pq.Array(p.Status)
		}
		return map[string]any{
			"tenant_id": p.TenantID,
			"assignee":  p.Assignee,
			"status":    status,
		}, nil

	case LeadTimeMetrics:
		var p LeadTimeMetricsParams
		if err := e.decode(rawParams, &p); err != nil {
			return nil, err
		}
		p.TenantID = tenantID
		p.applyDefaults()
		if err := e.validate.Struct(p); err != nil {
			return nil, validationError(err)
		}
		return map[string]any{
			"tenant_id":   p.TenantID,
			"project_key": p.ProjectKey,
			"team":        p.Team,
			"days":        p.Days,
		}, nil

	default:
		return nil, apierrors.Validation("unknown query template", map[string]any{"template_name": templateName})
	}
}

func (e *Engine) decode(rawParams json.RawMessage, dst any) error {
	if len(rawParams) == 0 {
		return nil
	}
	if err := json.Unmarshal(rawParams, dst); err != nil {
		return apierrors.Validation("malformed query parameters", map[string]any{"error": err.Error()})
	}
	return nil
}

func validationError(err error) error {
	fields := map[string]any{}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields[fe.Field()] = fmt.Sprintf("failed %q validation", fe.Tag())
		}
	} else {
		fields["error"] = err.Error()
	}
	return apierrors.Validation("query parameter validation failed", fields)
}
