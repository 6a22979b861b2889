package audit

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgateway/issuegateway/internal/store"
)

func newTestLog(t *testing.T) (*Log, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(&store.DB{DB: sqlx.NewDb(db, "postgres")}), mock
}

type capturingArg struct {
	captured *[]byte
}

func (c capturingArg) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	if !ok {
		return false
	}
	*c.captured = b
	return true
}

func TestWriteRedactsCredentialsInChanges(t *testing.T) {
	l, mock := newTestLog(t)

	var capturedChanges []byte
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), "tenant-1", sqlmock.AnyArg(), string(ActionUpdate), "work_item", "wi-1",
			capturingArg{captured: &capturedChanges},
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := l.LogUpdate(context.Background(), "tenant-1", "user-1", "work_item", "wi-1",
		map[string]any{"status": "todo"},
		map[string]any{"status": "done", "api_key": "super-secret"},
		"req-1",
	)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.NotNil(t, capturedChanges)
	assert.Contains(t, string(capturedChanges), "***REDACTED***")
	assert.NotContains(t, string(capturedChanges), "super-secret")
}

func TestLogCreateWritesOnlyAfterState(t *testing.T) {
	l, mock := newTestLog(t)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	err := l.LogCreate(context.Background(), "tenant-1", "user-1", "work_item", "wi-2", map[string]any{"status": "todo"}, "req-2")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
