package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8055", cfg.ToolSurface.Port)
	assert.Equal(t, "8056", cfg.SQLSurface.Port)
	assert.Equal(t, 100, cfg.RateLimit.DefaultCeiling)
	assert.Equal(t, 24, cfg.Idempotency.TTLHours)
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.toml")
	err := os.WriteFile(path, []byte(`
[rate_limit]
default_ceiling = 50
`), 0o644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.RateLimit.DefaultCeiling)

	t.Setenv("GATEWAY_RATE_LIMIT_CEILING", "7")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RateLimit.DefaultCeiling)
}

func TestValidateRejectsSamePort(t *testing.T) {
	cfg := &Config{
		ToolSurface: SurfaceConfig{Port: "8080"},
		SQLSurface:  SurfaceConfig{Port: "8080"},
		RateLimit:   RateLimitConfig{DefaultCeiling: 1, DefaultWindowSeconds: 1},
		Idempotency: IdempotencyConfig{TTLHours: 1},
	}
	assert.Error(t, cfg.Validate())
}
