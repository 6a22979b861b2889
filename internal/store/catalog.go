package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// MetricsCatalog is the predefined-metric definition store keyed by
// (tenant, name): spec.md §1 names its content out of core scope, but
// the dispatcher and query engine still need the shape of the
// collaboration to look up a named metric's definition before running it.
type MetricsCatalog interface {
	Get(ctx context.Context, tenantID, name string) (MetricDefinition, error)
}

// MetricDefinition is a predefined metric's stored shape: a name, the
// template it runs, and its default parameters.
type MetricDefinition struct {
	TenantID     string
	Name         string
	TemplateName string
	DefaultParams json.RawMessage
}

// PostgresMetricsCatalog is the production MetricsCatalog, backed by a
// simple lookup table; content curation (the non-goal from spec.md §1)
// happens outside this gateway.
type PostgresMetricsCatalog struct {
	db *DB
}

// NewPostgresMetricsCatalog builds a MetricsCatalog against db.
func NewPostgresMetricsCatalog(db *DB) *PostgresMetricsCatalog {
	return &PostgresMetricsCatalog{db: db}
}

func (c *PostgresMetricsCatalog) Get(ctx context.Context, tenantID, name string) (MetricDefinition, error) {
	var def MetricDefinition
	row := c.db.QueryRowxContext(ctx, `
		SELECT tenant_id, name, template_name, default_params
		FROM metrics_catalog
		WHERE tenant_id = $1 AND name = $2
	`, tenantID, name)
	if err := row.Scan(&def.TenantID, &def.Name, &def.TemplateName, &def.DefaultParams); err != nil {
		return MetricDefinition{}, fmt.Errorf("loading metric definition %s/%s: %w", tenantID, name, err)
	}
	return def, nil
}

// ResultsCache is a query-result cache keyed by a canonical hash of a
// query spec (template name + bound params), per spec.md §1. A hit
// avoids re-running an identical template+params pair against Postgres
// within its TTL.
type ResultsCache interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
}

// CacheKey derives the canonical cache key for a query spec: a SHA-256
// hash of the template name and its bound parameters, so two requests for
// the same template with identical params share a cache entry regardless
// of JSON field ordering differences upstream (params is marshaled once,
// by the caller, off the already-validated struct).
func CacheKey(templateName string, params json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(templateName))
	h.Write([]byte{0})
	h.Write(params)
	return hex.EncodeToString(h.Sum(nil))
}

// RedisResultsCache is the production ResultsCache, backed by the same
// Redis instance as the rate limiter (internal/ratelimit.RedisLimiter).
type RedisResultsCache struct {
	client *redis.Client
}

// NewRedisResultsCache builds a ResultsCache against an already
// constructed client.
func NewRedisResultsCache(client *redis.Client) *RedisResultsCache {
	return &RedisResultsCache{client: client}
}

func (c *RedisResultsCache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	val, err := c.client.Get(ctx, "query_cache:"+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached result %s: %w", key, err)
	}
	return val, true, nil
}

func (c *RedisResultsCache) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if err := c.client.SetEx(ctx, "query_cache:"+key, []byte(value), ttl).Err(); err != nil {
		return fmt.Errorf("caching result %s: %w", key, err)
	}
	return nil
}
