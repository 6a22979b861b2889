// Package store holds the Postgres-backed persistence shared by the
// registry (C3), idempotency store (C5), audit log (C6), and SQL template
// engine (C8). It is a thin sqlx wrapper: the domain packages own their own
// queries, this package only owns the connection pool and the migration
// bootstrap.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/opsgateway/issuegateway/internal/config"
)

// DB wraps a *sqlx.DB with the gateway's connection settings applied.
type DB struct {
	*sqlx.DB
}

// Open connects to Postgres and applies pool limits from cfg.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &DB{db}, nil
}

// Ping verifies connectivity. It applies no timeout of its own, and
// DatabaseConfig.StatementTimeMS is not read by this package.
func (d *DB) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// schema is the gateway's full table set. Applied once at startup via
// Migrate; idempotent (IF NOT EXISTS throughout) so repeated boots are safe.
const schema = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS tenants (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS backend_instances (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	base_url TEXT NOT NULL,
	auth_type TEXT NOT NULL DEFAULT 'api_token',
	auth_email TEXT,
	encrypted_credentials TEXT,
	is_active BOOLEAN NOT NULL DEFAULT true,
	is_connected BOOLEAN NOT NULL DEFAULT false,
	last_connection_check TIMESTAMPTZ,
	connection_error TEXT,
	webhook_secret TEXT,
	webhook_enabled BOOLEAN NOT NULL DEFAULT false,
	rate_limit_per_second INT NOT NULL DEFAULT 10,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_backend_instances_tenant ON backend_instances(tenant_id);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id UUID NOT NULL,
	key TEXT NOT NULL,
	operation TEXT NOT NULL,
	result JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'completed',
	error JSONB,
	request_id TEXT,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, operation, key)
);
CREATE INDEX IF NOT EXISTS ix_idempotency_keys_expires_at ON idempotency_keys(expires_at);

CREATE TABLE IF NOT EXISTS audit_logs (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id UUID NOT NULL,
	user_id TEXT,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	changes JSONB NOT NULL DEFAULT '{}',
	request_id TEXT,
	ip_address TEXT,
	user_agent TEXT,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_audit_logs_tenant_timestamp ON audit_logs(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS ix_audit_logs_tenant_resource ON audit_logs(tenant_id, resource_type, resource_id);

CREATE TABLE IF NOT EXISTS work_item_links (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id UUID NOT NULL,
	source_instance_id UUID NOT NULL,
	source_work_item_id TEXT NOT NULL,
	target_instance_id UUID NOT NULL,
	target_work_item_id TEXT NOT NULL,
	link_type TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_work_item_links_source ON work_item_links(tenant_id, source_instance_id, source_work_item_id);

CREATE TABLE IF NOT EXISTS issues (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id UUID NOT NULL,
	issue_key TEXT NOT NULL,
	project_key TEXT NOT NULL,
	summary TEXT NOT NULL,
	issue_type TEXT NOT NULL,
	priority TEXT,
	status TEXT NOT NULL,
	assignee TEXT,
	reporter TEXT,
	is_stuck BOOLEAN NOT NULL DEFAULT false,
	days_in_current_status INT NOT NULL DEFAULT 0,
	jira_created_at TIMESTAMPTZ NOT NULL,
	jira_updated_at TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS ix_issues_tenant_project ON issues(tenant_id, project_key);
CREATE INDEX IF NOT EXISTS ix_issues_tenant_assignee ON issues(tenant_id, assignee);

CREATE TABLE IF NOT EXISTS changelogs (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	issue_id UUID NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	from_status TEXT,
	to_status TEXT NOT NULL,
	author_account_id TEXT,
	jira_created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_changelogs_issue ON changelogs(issue_id);

CREATE TABLE IF NOT EXISTS work_item_metrics_daily (
	tenant_id UUID NOT NULL,
	date DATE NOT NULL,
	project_key TEXT NOT NULL,
	team TEXT,
	created INT NOT NULL DEFAULT 0,
	closed INT NOT NULL DEFAULT 0,
	wip INT NOT NULL DEFAULT 0,
	wip_no_assignee INT NOT NULL DEFAULT 0,
	stuck_gt_x_days INT NOT NULL DEFAULT 0,
	reopened INT NOT NULL DEFAULT 0,
	lead_time_p50_days DOUBLE PRECISION,
	lead_time_p90_days DOUBLE PRECISION,
	lead_time_avg_days DOUBLE PRECISION,
	sla_at_risk INT NOT NULL DEFAULT 0,
	sla_breached INT NOT NULL DEFAULT 0,
	created_4w_avg DOUBLE PRECISION,
	closed_4w_avg DOUBLE PRECISION,
	created_delta_pct DOUBLE PRECISION,
	closed_delta_pct DOUBLE PRECISION,
	PRIMARY KEY (tenant_id, date, project_key)
);
CREATE INDEX IF NOT EXISTS ix_work_item_metrics_daily_tenant_project ON work_item_metrics_daily(tenant_id, project_key);

CREATE TABLE IF NOT EXISTS metrics_catalog (
	tenant_id UUID NOT NULL,
	name TEXT NOT NULL,
	template_name TEXT NOT NULL,
	default_params JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (tenant_id, name)
);
`

// Migrate applies the gateway's schema. It is safe to call on every boot.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
