package observability

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactingHandlerScrubsSensitiveAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &redactingHandler{inner: slog.NewJSONHandler(&buf, nil)}
	logger := slog.New(h)

	logger.Info("connected", "password", "hunter2", "tenant_id", "t1")

	out := buf.String()
	assert.Contains(t, out, `"tenant_id":"t1"`)
	assert.Contains(t, out, `***REDACTED***`)
	assert.NotContains(t, out, "hunter2")
}

func TestTenantUserMiddlewareAttachesContextFromHeaders(t *testing.T) {
	var gotTenant, gotUser string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = TenantID(r.Context())
		gotUser = UserID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	req.Header.Set("X-Tenant-ID", "tenant-1")
	req.Header.Set("X-User-ID", "user-1")

	TenantUser(next).ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "tenant-1", gotTenant)
	require.Equal(t, "user-1", gotUser)
}

func TestMetricsMiddlewareRecordsRequestsTotal(t *testing.T) {
	m := NewMetrics("test")
	logger := NewLogFields(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), "tool_surface")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := MetricsMiddleware(m, logger)(next)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	count := testutilCounterValue(t, m)
	assert.Equal(t, float64(1), count)
}

func testutilCounterValue(t *testing.T, m *Metrics) float64 {
	t.Helper()
	metricFamilies, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() == "test_http_requests_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatal("test_http_requests_total metric not found")
	return 0
}
