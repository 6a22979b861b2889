package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgateway/issuegateway/internal/store"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return New(&store.DB{DB: sqlxDB}, 24), mock
}

func TestCheckAndClaimInsertsWhenNoPriorRecord(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.|\n)*FROM idempotency_keys").
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec("INSERT INTO idempotency_keys").
		WillReturnResult(sqlmock.NewResult(1, 1))

	claimed, existing, err := s.CheckAndClaim(context.Background(), "tenant-1", "create_work_item", "key-1", "req-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Nil(t, existing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAndClaimReturnsExistingCompletedRecordWithoutInserting(t *testing.T) {
	s, mock := newTestStore(t)

	cols := []string{"id", "tenant_id", "key", "operation", "result", "status", "error", "request_id", "expires_at", "created_at"}
	mock.ExpectQuery("SELECT (.|\n)*FROM idempotency_keys").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"id-1", "tenant-1", "key-1", "create_work_item", []byte(`{"id":"wi-1"}`), StatusCompleted, nil, "req-0", time.Now().Add(time.Hour), time.Now(),
		))

	claimed, existing, err := s.CheckAndClaim(context.Background(), "tenant-1", "create_work_item", "key-1", "req-1")
	require.NoError(t, err)
	assert.False(t, claimed)
	require.NotNil(t, existing)
	assert.Equal(t, StatusCompleted, existing.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAndClaimLosesRaceOnUniqueViolationAndReadsWinner(t *testing.T) {
	s, mock := newTestStore(t)

	cols := []string{"id", "tenant_id", "key", "operation", "result", "status", "error", "request_id", "expires_at", "created_at"}

	mock.ExpectQuery("SELECT (.|\n)*FROM idempotency_keys").
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec("INSERT INTO idempotency_keys").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery("SELECT (.|\n)*FROM idempotency_keys").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"id-1", "tenant-1", "key-1", "create_work_item", []byte(`{}`), StatusProcessing, nil, "req-winner", time.Now().Add(time.Hour), time.Now(),
		))

	claimed, existing, err := s.CheckAndClaim(context.Background(), "tenant-1", "create_work_item", "key-1", "req-loser")
	require.NoError(t, err)
	assert.False(t, claimed)
	require.NotNil(t, existing)
	assert.Equal(t, StatusProcessing, existing.Status)
	require.NotNil(t, existing.RequestID)
	assert.Equal(t, "req-winner", *existing.RequestID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreMarksFailedOnError(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec("UPDATE idempotency_keys").
		WithArgs(sqlmock.AnyArg(), string(StatusFailed), sqlmock.AnyArg(), sqlmock.AnyArg(), "tenant-1", "create_work_item", "key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Store(context.Background(), "tenant-1", "create_work_item", "key-1", nil, assertableErr{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

type assertableErr struct{}

func (assertableErr) Error() string { return "boom" }

func TestCleanupExpiredReturnsDeletedCount(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec("DELETE FROM idempotency_keys").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
