package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgateway/issuegateway/internal/adapter"
	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/audit"
	"github.com/opsgateway/issuegateway/internal/config"
	"github.com/opsgateway/issuegateway/internal/idempotency"
	"github.com/opsgateway/issuegateway/internal/model"
	"github.com/opsgateway/issuegateway/internal/ratelimit"
	"github.com/opsgateway/issuegateway/internal/store"
)

// fakeAdapter is a minimal in-memory adapter.Adapter for pipeline tests;
// only the methods the catalog's tools actually call are exercised.
type fakeAdapter struct {
	workItem  model.NormalizedWorkItem
	createErr error
}

func (f *fakeAdapter) BackendKind() model.BackendKind        { return model.BackendJira }
func (f *fakeAdapter) TestConnection(ctx context.Context) error { return nil }
func (f *fakeAdapter) FetchWorkItems(ctx context.Context, project string, updatedSince *time.Time, limit int) ([]model.NormalizedWorkItem, error) {
	return []model.NormalizedWorkItem{f.workItem}, nil
}
func (f *fakeAdapter) FetchWorkItem(ctx context.Context, id string) (model.NormalizedWorkItem, error) {
	return f.workItem, nil
}
func (f *fakeAdapter) CreateWorkItem(ctx context.Context, fields adapter.CreateFields) (model.NormalizedWorkItem, error) {
	if f.createErr != nil {
		return model.NormalizedWorkItem{}, f.createErr
	}
	item := f.workItem
	item.Title = fields.Title
	return item, nil
}
func (f *fakeAdapter) UpdateWorkItem(ctx context.Context, id string, fields adapter.UpdateFields) (model.NormalizedWorkItem, error) {
	return f.workItem, nil
}
func (f *fakeAdapter) TransitionWorkItem(ctx context.Context, id string, toStatus model.WorkItemStatus, comment *string) (model.NormalizedWorkItem, error) {
	item := f.workItem
	item.Status = toStatus
	return item, nil
}
func (f *fakeAdapter) AddComment(ctx context.Context, id string, body string) (model.NormalizedComment, error) {
	return model.NormalizedComment{SourceID: "c-1", Body: body}, nil
}
func (f *fakeAdapter) FetchComments(ctx context.Context, id string) ([]model.NormalizedComment, error) {
	return nil, nil
}
func (f *fakeAdapter) FetchTransitions(ctx context.Context, id string) ([]model.NormalizedTransition, error) {
	return nil, nil
}
func (f *fakeAdapter) NormalizeStatus(raw string) model.WorkItemStatus     { return model.StatusTodo }
func (f *fakeAdapter) NormalizePriority(raw string) model.WorkItemPriority { return model.PriorityMedium }
func (f *fakeAdapter) NormalizeType(raw string) model.WorkItemType        { return model.TypeTask }
func (f *fakeAdapter) DenormalizeStatus(s model.WorkItemStatus) string     { return string(s) }
func (f *fakeAdapter) DenormalizePriority(p model.WorkItemPriority) string { return string(p) }
func (f *fakeAdapter) DenormalizeType(t model.WorkItemType) string        { return string(t) }

type fakeResolver struct {
	adapter adapter.Adapter
	err     error
}

func (r *fakeResolver) Resolve(ctx context.Context, tenantID, instanceID string) (adapter.Adapter, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.adapter, nil
}

func newTestDispatcher(t *testing.T, resolver InstanceResolver) (*Dispatcher, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sdb := &store.DB{DB: sqlx.NewDb(db, "postgres")}

	tools := NewRegistry()
	tools.Register(NewSearch())
	tools.Register(NewGetWorkItem())
	tools.Register(NewCreateWorkItem())

	d := New(tools, resolver, ratelimit.NewMemoryLimiter(), idempotency.New(sdb, 24), audit.New(sdb), config.RateLimitConfig{DefaultCeiling: 100, DefaultWindowSeconds: 60})
	return d, mock
}

func TestInvokeRejectsMissingIdentity(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeResolver{adapter: &fakeAdapter{}})
	_, err := d.Invoke(context.Background(), InvokeRequest{ToolName: "search"})
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.KindUnauthorized, apiErr.Kind)
}

func TestInvokeRejectsUnknownTool(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeResolver{adapter: &fakeAdapter{}})
	_, err := d.Invoke(context.Background(), InvokeRequest{TenantID: "t1", UserID: "u1", ToolName: "nonexistent"})
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.KindNotFound, apiErr.Kind)
}

func TestInvokeRejectsMissingRequiredParameter(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeResolver{adapter: &fakeAdapter{}})
	_, err := d.Invoke(context.Background(), InvokeRequest{
		TenantID: "t1", UserID: "u1", ToolName: "get_work_item",
		Arguments: json.RawMessage(`{"instance_id":"inst-1"}`),
	})
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.KindValidation, apiErr.Kind)
}

func TestInvokeSearchReadToolSucceeds(t *testing.T) {
	fa := &fakeAdapter{workItem: model.NormalizedWorkItem{SourceID: "WI-1", Title: "hello"}}
	d, _ := newTestDispatcher(t, &fakeResolver{adapter: fa})

	resp, err := d.Invoke(context.Background(), InvokeRequest{
		TenantID: "t1", UserID: "u1", ToolName: "search", RequestID: "req-1",
		Arguments: json.RawMessage(`{"instance_id":"inst-1","project":"PROJ"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.RequestID)
}

func TestInvokeCreateWorkItemWithIdempotencyKeyClaims(t *testing.T) {
	fa := &fakeAdapter{workItem: model.NormalizedWorkItem{SourceID: "WI-2"}}
	d, mock := newTestDispatcher(t, &fakeResolver{adapter: fa})

	mock.ExpectQuery("SELECT (.|\n)*FROM idempotency_keys").WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec("INSERT INTO idempotency_keys").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE idempotency_keys").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	resp, err := d.Invoke(context.Background(), InvokeRequest{
		TenantID: "t1", UserID: "u1", ToolName: "create_work_item", RequestID: "req-2",
		Arguments: json.RawMessage(`{"instance_id":"inst-1","project":"PROJ","title":"New item","type":"task","idempotency_key":"key-1"}`),
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvokeSurfacesInstanceResolutionError(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeResolver{err: apierrors.NotFound("backend instance not found", nil)})
	_, err := d.Invoke(context.Background(), InvokeRequest{
		TenantID: "t1", UserID: "u1", ToolName: "search", RequestID: "req-3",
		Arguments: json.RawMessage(`{"instance_id":"missing","project":"PROJ"}`),
	})
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.KindNotFound, apiErr.Kind)
	assert.Equal(t, "req-3", apiErr.RequestID)
}
