package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyIsStableForIdenticalTemplateAndParams(t *testing.T) {
	params := json.RawMessage(`{"project_key":"PROJ"}`)
	a := CacheKey("search_issues_by_project", params)
	b := CacheKey("search_issues_by_project", params)
	assert.Equal(t, a, b)

	other := CacheKey("search_issues_by_project", json.RawMessage(`{"project_key":"OTHER"}`))
	assert.NotEqual(t, a, other)
}

func TestPostgresMetricsCatalogGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"tenant_id", "name", "template_name", "default_params"}).
		AddRow("tenant-1", "weekly_throughput", "get_project_metrics", []byte(`{"days":7}`))
	mock.ExpectQuery(`SELECT tenant_id, name, template_name, default_params`).
		WithArgs("tenant-1", "weekly_throughput").
		WillReturnRows(rows)

	catalog := NewPostgresMetricsCatalog(&DB{DB: sqlx.NewDb(db, "postgres")})
	def, err := catalog.Get(context.Background(), "tenant-1", "weekly_throughput")
	require.NoError(t, err)
	assert.Equal(t, "get_project_metrics", def.TemplateName)
	assert.JSONEq(t, `{"days":7}`, string(def.DefaultParams))
}

func TestRedisResultsCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := NewRedisResultsCache(client)
	ctx := context.Background()

	_, hit, err := cache.Get(ctx, "missing-key")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, "k1", json.RawMessage(`{"results":[]}`), time.Minute))
	val, hit, err := cache.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.JSONEq(t, `{"results":[]}`, string(val))
}
