package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgateway/issuegateway/internal/config"
	"github.com/opsgateway/issuegateway/internal/dispatcher"
	"github.com/opsgateway/issuegateway/internal/observability"
	"github.com/opsgateway/issuegateway/internal/query"
	"github.com/opsgateway/issuegateway/internal/store"
)

func testObservability() (*observability.LogFields, *observability.Metrics) {
	logger := observability.NewLogFields(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), "test")
	return logger, observability.NewMetrics("transporttest")
}

func TestToolServerHealthAndToolsListing(t *testing.T) {
	logger, metrics := testObservability()
	tools := dispatcher.NewRegistry()
	tools.Register(dispatcher.NewSearch())

	d := dispatcher.New(tools, nil, nil, nil, nil, config.RateLimitConfig{})
	srv := NewToolServer(d, tools, "*", logger, metrics, ServerIdentity{Name: "issuegateway", Version: "test"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/tools", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"search"`)
}

func TestToolServerInvokeUnknownToolReturnsNotFoundEnvelope(t *testing.T) {
	logger, metrics := testObservability()
	tools := dispatcher.NewRegistry()
	d := dispatcher.New(tools, nil, nil, nil, nil, config.RateLimitConfig{})
	srv := NewToolServer(d, tools, "*", logger, metrics, ServerIdentity{Name: "issuegateway", Version: "test"})

	body, _ := json.Marshal(map[string]any{"name": "nonexistent"})
	req := httptest.NewRequest(http.MethodPost, "/tools/invoke", bytes.NewReader(body))
	req.Header.Set("X-Tenant-ID", "t1")
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "not_found", string(env.Code))
	assert.NotEmpty(t, env.RequestID)
}

func TestSQLServerTemplatesListingAndUnknownTemplate(t *testing.T) {
	logger, metrics := testObservability()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	e := query.New(&store.DB{DB: sqlx.NewDb(db, "postgres")})
	srv := NewSQLServer(e, "*", logger, metrics, ServerIdentity{Name: "issuegateway", Version: "test"})

	req := httptest.NewRequest(http.MethodGet, "/templates", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "search_issues_by_project")

	body, _ := json.Marshal(map[string]any{"template_name": "drop_everything"})
	req = httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("X-Tenant-ID", "t1")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSSEEndpointWritesConnectedEvent(t *testing.T) {
	logger, metrics := testObservability()
	tools := dispatcher.NewRegistry()
	d := dispatcher.New(tools, nil, nil, nil, nil, config.RateLimitConfig{})
	srv := NewToolServer(d, tools, "*", logger, metrics, ServerIdentity{Name: "issuegateway", Version: "test"})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.Handler().ServeHTTP(rec, req)
		close(done)
	}()
	// The handler writes its first frame synchronously before entering the
	// heartbeat select loop, so cancelling right away still lets us observe
	// it once the handler returns.
	cancel()
	<-done
	assert.Contains(t, rec.Body.String(), "event: connected")
}
