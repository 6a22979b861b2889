package query

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sdb := &store.DB{DB: sqlx.NewDb(db, "postgres")}
	return New(sdb), mock
}

func TestExecuteRejectsUnknownTemplate(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Execute(context.Background(), "drop_everything", "tenant-1", nil)
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.KindValidation, apiErr.Kind)
}

func TestExecuteRejectsInvalidProjectKeyFormat(t *testing.T) {
	e, _ := newTestEngine(t)
	params, _ := json.Marshal(map[string]any{"project_key": "not valid!"})
	_, err := e.Execute(context.Background(), SearchIssuesByProject, "tenant-1", params)
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.KindValidation, apiErr.Kind)
}

func TestExecuteSearchIssuesByProjectBindsAuthenticatedTenant(t *testing.T) {
	e, mock := newTestEngine(t)

	rows := sqlmock.NewRows([]string{"id", "source_key", "project_key", "title", "type", "priority", "status", "assignee", "reporter", "created_at", "updated_at", "closed_at"}).
		AddRow("id-1", "PROJ-1", "PROJ", "a title", "task", "medium", "open", "user-1", "user-2", nil, nil, nil)

	mock.ExpectQuery(`SELECT(.|\n)*FROM issues(.|\n)*WHERE tenant_id = \$1`).
		WithArgs("tenant-1", "PROJ", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 50).
		WillReturnRows(rows)

	params, _ := json.Marshal(map[string]any{"project_key": "PROJ", "tenant_id": "someone-elses-tenant"})
	result, err := e.Execute(context.Background(), SearchIssuesByProject, "tenant-1", params)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, SearchIssuesByProject, result.TemplateName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteGetIssueHistoryRejectsMalformedIssueKey(t *testing.T) {
	e, _ := newTestEngine(t)
	params, _ := json.Marshal(map[string]any{"issue_key": "not-an-issue-key"})
	_, err := e.Execute(context.Background(), GetIssueHistory, "tenant-1", params)
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.KindValidation, apiErr.Kind)
}

func TestTemplateSafetyCheckRejectsForbiddenToken(t *testing.T) {
	err := checkTemplateSafety("bad", "SELECT * FROM issues; DROP TABLE issues;")
	require.Error(t, err)
}

func TestTemplateSafetyCheckIgnoresForbiddenWordsInsideStringLiterals(t *testing.T) {
	err := checkTemplateSafety("ok", "SELECT * FROM issues WHERE summary = 'please delete this'")
	require.NoError(t, err)
}

func TestTemplateSafetyCheckRejectsNonSelectFirstToken(t *testing.T) {
	err := checkTemplateSafety("bad", "UPDATE issues SET status = 'closed'")
	require.Error(t, err)
}

func TestEveryTemplateReferencesTenantID(t *testing.T) {
	for name, sqlText := range templates {
		assert.Contains(t, sqlText, ":tenant_id", "template %q must filter on :tenant_id", name)
	}
}
