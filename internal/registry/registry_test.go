package registry

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/model"
	"github.com/opsgateway/issuegateway/internal/store"
)

// plaintextCipher is a no-op Cipher for tests that don't care about the
// encryption round trip, just that Registry calls it.
type plaintextCipher struct{}

func (plaintextCipher) Encrypt(p []byte) (string, error) { return string(p), nil }
func (plaintextCipher) Decrypt(c string) ([]byte, error) { return []byte(c), nil }

func newTestRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(&store.DB{DB: sqlx.NewDb(db, "postgres")}, plaintextCipher{}), mock
}

func TestGetReturnsNotFoundOnNoRows(t *testing.T) {
	r, mock := newTestRegistry(t)

	mock.ExpectQuery("SELECT (.|\n)*FROM backend_instances").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := r.Get(context.Background(), "tenant-1", "inst-1")
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.KindNotFound, apiErr.Kind)
}

func TestResolveRejectsInactiveInstance(t *testing.T) {
	r, mock := newTestRegistry(t)

	cols := []string{"id", "tenant_id", "kind", "base_url", "auth_type", "auth_email", "is_active", "is_connected", "created_at", "updated_at", "encrypted_credentials"}
	enc := `{"kind":"api_token","api_token":"tok"}`
	mock.ExpectQuery("SELECT (.|\n)*FROM backend_instances").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"inst-1", "tenant-1", "jira", "https://jira.example.com", "api_token", nil, false, false, time.Now(), time.Now(), enc,
		))

	_, err := r.Resolve(context.Background(), "tenant-1", "inst-1")
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.KindValidation, apiErr.Kind)
}

func TestResolveConstructsAndCachesAdapter(t *testing.T) {
	r, mock := newTestRegistry(t)

	cols := []string{"id", "tenant_id", "kind", "base_url", "auth_type", "auth_email", "is_active", "is_connected", "created_at", "updated_at", "encrypted_credentials"}
	enc := `{"kind":"api_token","api_token":"tok","email":"bot@example.com"}`
	mock.ExpectQuery("SELECT (.|\n)*FROM backend_instances").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"inst-1", "tenant-1", "jira", "https://jira.example.com", "api_token", "bot@example.com", true, true, time.Now(), time.Now(), enc,
		))

	a, err := r.Resolve(context.Background(), "tenant-1", "inst-1")
	require.NoError(t, err)
	assert.Equal(t, model.BackendJira, a.BackendKind())

	// Second Resolve should hit the cache, not issue another query.
	a2, err := r.Resolve(context.Background(), "tenant-1", "inst-1")
	require.NoError(t, err)
	assert.Same(t, a, a2)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateForcesRebuildOnNextResolve(t *testing.T) {
	r, mock := newTestRegistry(t)

	cols := []string{"id", "tenant_id", "kind", "base_url", "auth_type", "auth_email", "is_active", "is_connected", "created_at", "updated_at", "encrypted_credentials"}
	enc := `{"kind":"api_token","api_token":"tok"}`
	row := sqlmock.NewRows(cols).AddRow("inst-1", "tenant-1", "jira", "https://jira.example.com", "api_token", nil, true, true, time.Now(), time.Now(), enc)
	mock.ExpectQuery("SELECT (.|\n)*FROM backend_instances").WillReturnRows(row)

	_, err := r.Resolve(context.Background(), "tenant-1", "inst-1")
	require.NoError(t, err)

	r.Invalidate("inst-1")

	row2 := sqlmock.NewRows(cols).AddRow("inst-1", "tenant-1", "jira", "https://jira.example.com", "api_token", nil, true, true, time.Now(), time.Now(), enc)
	mock.ExpectQuery("SELECT (.|\n)*FROM backend_instances").WillReturnRows(row2)

	_, err = r.Resolve(context.Background(), "tenant-1", "inst-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
