// Command gateway runs the multi-tenant integration gateway: the tool
// dispatcher surface, the SQL query-template surface, and the webhook
// receiver, backed by a single Postgres connection pool and (optionally)
// a shared Redis instance for rate limiting.
//
// Required environment variables:
//
//	GATEWAY_ENCRYPTION_KEY_HEX    - 32-byte hex-encoded credential encryption key
//
// Optional environment variables:
//
//	GATEWAY_DATABASE_DSN          - Postgres DSN (default: postgres://localhost:5432/issuegateway?sslmode=disable)
//	GATEWAY_REDIS_ADDR            - Redis address (default: in-memory rate limiter)
//	GATEWAY_LOG_LEVEL             - debug, info, warn, error (default: info)
//	GATEWAY_TOOL_PORT             - tool-invocation surface port (default: 8055)
//	GATEWAY_SQL_PORT              - SQL-template surface port (default: 8056)
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/opsgateway/issuegateway/internal/audit"
	"github.com/opsgateway/issuegateway/internal/config"
	"github.com/opsgateway/issuegateway/internal/dispatcher"
	"github.com/opsgateway/issuegateway/internal/idempotency"
	"github.com/opsgateway/issuegateway/internal/model"
	"github.com/opsgateway/issuegateway/internal/observability"
	"github.com/opsgateway/issuegateway/internal/query"
	"github.com/opsgateway/issuegateway/internal/ratelimit"
	"github.com/opsgateway/issuegateway/internal/registry"
	"github.com/opsgateway/issuegateway/internal/scheduler"
	"github.com/opsgateway/issuegateway/internal/store"
	"github.com/opsgateway/issuegateway/internal/transport"
	"github.com/opsgateway/issuegateway/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Log.Level)
	logger.Info("starting gateway", "version", cfg.Server.Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	cipher, err := buildCipher(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("building credential cipher: %w", err)
	}

	backends := registry.New(db, cipher)
	limiter := buildLimiter(cfg.Redis)
	idemp := idempotency.New(db, cfg.Idempotency.TTLHours)
	auditLog := audit.New(db)

	tools := dispatcher.NewRegistry()
	tools.Register(dispatcher.NewSearch())
	tools.Register(dispatcher.NewGetWorkItem())
	tools.Register(dispatcher.NewCreateWorkItem())
	tools.Register(dispatcher.NewUpdateWorkItem())
	tools.Register(dispatcher.NewTransitionWorkItem())
	tools.Register(dispatcher.NewAddComment())
	tools.Register(dispatcher.NewListTransitions())
	tools.Register(dispatcher.NewLinkWorkItems(db))

	d := dispatcher.New(tools, backends, limiter, idemp, auditLog, cfg.RateLimit)
	queryEngine := query.New(db)

	toolMetrics := observability.NewMetrics("gateway_tool_surface")
	sqlMetrics := observability.NewMetrics("gateway_sql_surface")
	toolLogger := observability.NewLogFields(logger, "tool_surface")
	sqlLogger := observability.NewLogFields(logger, "sql_surface")

	serverIdentity := transport.ServerIdentity{Name: cfg.Server.Name, Version: cfg.Server.Version}

	toolServer := transport.NewToolServer(d, tools, cfg.ToolSurface.CORSOrigins, toolLogger, toolMetrics, serverIdentity)
	webhook.NewServer(buildWebhookReceivers(cfg.Webhook)).Mount(toolServer.Router())

	sqlServer := transport.NewSQLServer(queryEngine, cfg.SQLSurface.CORSOrigins, sqlLogger, sqlMetrics, serverIdentity)

	sched := scheduler.NewScheduler(logger)
	sched.AddJob(idempotencySweepJob{idemp: idemp, logger: logger}, time.Duration(cfg.Idempotency.SweepIntervalMins)*time.Minute)
	sched.Start(ctx)
	defer sched.Stop()

	httpTool := &http.Server{Addr: cfg.ToolSurface.Host + ":" + cfg.ToolSurface.Port, Handler: toolServer.Handler()}
	httpSQL := &http.Server{Addr: cfg.SQLSurface.Host + ":" + cfg.SQLSurface.Port, Handler: sqlServer.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveUntilShutdown(gctx, httpTool, "tool_surface", logger) })
	g.Go(func() error { return serveUntilShutdown(gctx, httpSQL, "sql_surface", logger) })

	return g.Wait()
}

// serveUntilShutdown runs srv until ctx is cancelled, then drains
// in-flight requests with a bounded grace period.
func serveUntilShutdown(ctx context.Context, srv *http.Server, name string, logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("surface listening", "surface", name, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("surface shutting down", "surface", name)
		return srv.Shutdown(shutdownCtx)
	}
}

func buildCipher(cfg config.CredentialsConfig) (*registry.AESGCMCipher, error) {
	key, err := hex.DecodeString(cfg.EncryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption_key_hex: %w", err)
	}
	return registry.NewAESGCMCipher(key)
}

func buildLimiter(cfg config.RedisConfig) ratelimit.Limiter {
	if cfg.Addr == "" {
		return ratelimit.NewMemoryLimiter()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return ratelimit.NewRedisLimiter(client)
}

// buildWebhookReceivers gives every supported backend kind its own
// Receiver, each with its own handler Registry (so two backends that
// happen to use the same event-field literal, e.g. GitHub/Asana/Linear's
// shared "action" convention, never share handler registrations). A
// backend with no configured secret still gets a receiver; its signature
// check just always passes (logged), matching the original's permissive
// default.
func buildWebhookReceivers(cfg config.WebhookConfig) map[model.BackendKind]*webhook.Receiver {
	kinds := []model.BackendKind{model.BackendJira, model.BackendGitHub, model.BackendAsana, model.BackendLinear, model.BackendClickUp}
	receivers := make(map[model.BackendKind]*webhook.Receiver, len(kinds))
	for _, kind := range kinds {
		receivers[kind] = webhook.NewReceiver(kind, cfg.Secrets[string(kind)], webhook.NewRegistry())
	}
	return receivers
}

// idempotencySweepJob adapts idempotency.Store.CleanupExpired to
// scheduler.Job, matching spec.md's "expired idempotency rows are swept
// periodically" requirement (C5).
type idempotencySweepJob struct {
	idemp  *idempotency.Store
	logger interface {
		Info(msg string, args ...any)
	}
}

func (j idempotencySweepJob) Name() string { return "idempotency_sweep" }

func (j idempotencySweepJob) Run(ctx context.Context) error {
	n, err := j.idemp.CleanupExpired(ctx)
	if err != nil {
		return err
	}
	j.logger.Info("swept expired idempotency keys", "count", n)
	return nil
}
