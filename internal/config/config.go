// Package config loads gateway configuration from an optional TOML file
// layered with environment-variable overrides, in the teacher's precedence
// order: environment variables > config file > defaults.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the gateway process.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	ToolSurface SurfaceConfig     `toml:"tool_surface"`
	SQLSurface  SurfaceConfig     `toml:"sql_surface"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	RateLimit   RateLimitConfig   `toml:"rate_limit"`
	Idempotency IdempotencyConfig `toml:"idempotency"`
	Log         LogConfig         `toml:"log"`
	Credentials CredentialsConfig `toml:"credentials"`
	Webhook     WebhookConfig     `toml:"webhook"`
}

// CredentialsConfig holds the at-rest encryption key for backend instance
// credentials (C3's registry.Cipher).
type CredentialsConfig struct {
	EncryptionKeyHex string `toml:"encryption_key_hex"` // 32 bytes, hex-encoded
}

// WebhookConfig holds the per-backend HMAC secrets the webhook receiver
// (C12) verifies inbound signatures against, keyed by backend kind
// ("jira", "github", "asana", "linear", "clickup").
type WebhookConfig struct {
	Secrets map[string]string `toml:"secrets"`
}

// ServerConfig holds process-wide metadata reported in /health and SSE
// "connected" frames.
type ServerConfig struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// SurfaceConfig holds listener settings for one of the two HTTP surfaces
// (tool-invocation surface, SQL-template surface).
type SurfaceConfig struct {
	Host        string `toml:"host"`
	Port        string `toml:"port"`
	CORSOrigins string `toml:"cors_origins"`
}

// DatabaseConfig holds Postgres connection settings for the relational
// store behind C3, C5, C6, C8.
type DatabaseConfig struct {
	DSN             string `toml:"dsn"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	StatementTimeMS int    `toml:"statement_timeout_ms"`
}

// RedisConfig holds connection settings for the shared rate-limit counter
// store (C4). Addr empty means "use the in-memory fallback".
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// RateLimitConfig holds the default window/ceiling for C4.
type RateLimitConfig struct {
	DefaultWindowSeconds int `toml:"default_window_seconds"`
	DefaultCeiling       int `toml:"default_ceiling"`
}

// IdempotencyConfig holds the default TTL and sweep interval for C5.
type IdempotencyConfig struct {
	TTLHours          int `toml:"ttl_hours"`
	SweepIntervalMins int `toml:"sweep_interval_minutes"`
}

// LogConfig holds logging configuration for C10.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Load builds a Config from defaults, an optional TOML file, and
// environment variables (which always win).
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{Name: "issuegateway", Version: "0.1.0"},
		ToolSurface: SurfaceConfig{
			Host: "0.0.0.0", Port: "8055", CORSOrigins: "*",
		},
		SQLSurface: SurfaceConfig{
			Host: "0.0.0.0", Port: "8056", CORSOrigins: "*",
		},
		Database: DatabaseConfig{
			DSN:             "postgres://localhost:5432/issuegateway?sslmode=disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			StatementTimeMS: 30_000,
		},
		Redis: RedisConfig{Addr: "", DB: 0},
		RateLimit: RateLimitConfig{
			DefaultWindowSeconds: 60,
			DefaultCeiling:       100,
		},
		Idempotency: IdempotencyConfig{
			TTLHours:          24,
			SweepIntervalMins: 15,
		},
		Log:     LogConfig{Level: "info"},
		Webhook: WebhookConfig{Secrets: map[string]string{}},
	}

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil // no config file found; rely on defaults + env
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	return nil
}

// resolveConfigPath determines which config file to use, if any. A config
// file is always optional.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	if p := os.Getenv("GATEWAY_CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("gateway.toml"); err == nil {
		return "gateway.toml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.config/gateway/gateway.toml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

func (c *Config) applyEnv() {
	envOverride("GATEWAY_SERVER_NAME", &c.Server.Name)
	envOverride("GATEWAY_SERVER_VERSION", &c.Server.Version)

	envOverride("GATEWAY_TOOL_HOST", &c.ToolSurface.Host)
	envOverride("GATEWAY_TOOL_PORT", &c.ToolSurface.Port)
	envOverride("GATEWAY_TOOL_CORS_ORIGINS", &c.ToolSurface.CORSOrigins)

	envOverride("GATEWAY_SQL_HOST", &c.SQLSurface.Host)
	envOverride("GATEWAY_SQL_PORT", &c.SQLSurface.Port)
	envOverride("GATEWAY_SQL_CORS_ORIGINS", &c.SQLSurface.CORSOrigins)

	envOverride("GATEWAY_DATABASE_DSN", &c.Database.DSN)
	envOverride("GATEWAY_REDIS_ADDR", &c.Redis.Addr)
	envOverride("GATEWAY_REDIS_PASSWORD", &c.Redis.Password)

	envOverride("GATEWAY_LOG_LEVEL", &c.Log.Level)
	envOverride("GATEWAY_ENCRYPTION_KEY_HEX", &c.Credentials.EncryptionKeyHex)

	envOverrideInt("GATEWAY_RATE_LIMIT_WINDOW_SECONDS", &c.RateLimit.DefaultWindowSeconds)
	envOverrideInt("GATEWAY_RATE_LIMIT_CEILING", &c.RateLimit.DefaultCeiling)
	envOverrideInt("GATEWAY_IDEMPOTENCY_TTL_HOURS", &c.Idempotency.TTLHours)
	envOverrideInt("GATEWAY_IDEMPOTENCY_SWEEP_INTERVAL_MINUTES", &c.Idempotency.SweepIntervalMins)
}

// Validate checks that required fields are present and consistent.
func (c *Config) Validate() error {
	if c.ToolSurface.Port == c.SQLSurface.Port {
		return fmt.Errorf("tool_surface.port and sql_surface.port must differ (both %q)", c.ToolSurface.Port)
	}
	if c.RateLimit.DefaultCeiling <= 0 {
		return fmt.Errorf("rate_limit.default_ceiling must be positive")
	}
	if c.RateLimit.DefaultWindowSeconds <= 0 {
		return fmt.Errorf("rate_limit.default_window_seconds must be positive")
	}
	if c.Idempotency.TTLHours <= 0 {
		return fmt.Errorf("idempotency.ttl_hours must be positive")
	}
	return nil
}

func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
		*dst = n
	}
}
