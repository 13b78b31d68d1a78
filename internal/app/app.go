// Package app wires every component (A1-A6, C1-C10) into the two runtime
// modes: api (HTTP server) and worker (background supervisor only).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/brokkr/broker/internal/apierr"
	"github.com/brokkr/broker/internal/config"
	"github.com/brokkr/broker/internal/httpserver"
	"github.com/brokkr/broker/internal/platform"
	"github.com/brokkr/broker/internal/store"
	"github.com/brokkr/broker/internal/supervisor"
	"github.com/brokkr/broker/internal/telemetry"
	"github.com/brokkr/broker/pkg/agent"
	"github.com/brokkr/broker/pkg/audit"
	"github.com/brokkr/broker/pkg/credential"
	"github.com/brokkr/broker/pkg/deploymentlog"
	"github.com/brokkr/broker/pkg/eventbus"
	"github.com/brokkr/broker/pkg/generator"
	"github.com/brokkr/broker/pkg/stack"
	"github.com/brokkr/broker/pkg/targeting"
	"github.com/brokkr/broker/pkg/template"
	"github.com/brokkr/broker/pkg/webhook"
	"github.com/brokkr/broker/pkg/workorder"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting brokkr", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DatabasePoolMax)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	storage, err := store.New(db, cfg.TenantSchema)
	if err != nil {
		return fmt.Errorf("creating storage handle: %w", err)
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, storage, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, storage)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// components bundles the business-layer facades shared by runAPI and
// runWorker, so both modes build the exact same wiring.
type components struct {
	issuer      *credential.Issuer
	targeting   *targeting.Engine
	deployments *deploymentlog.Log
	workorders  *workorder.Dispatcher
	bus         *eventbus.Bus
	auditWriter *audit.Writer
	pipeline    *webhook.Pipeline
	cipher      *webhook.Cipher
	slack       *webhook.SlackNotifier
}

func buildComponents(cfg *config.Config, logger *slog.Logger, storage *store.Storage) (*components, error) {
	issuer := credential.NewIssuer(storage.Principals)

	cipher, err := webhook.NewCipher(cfg.WebhookEncryptionKey, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing webhook cipher: %w", err)
	}

	auditWriter := audit.NewWriter(storage, logger, cfg.AuditBufferSize, cfg.AuditBatchSize, mustParseDuration(cfg.AuditFlushInterval, time.Second))
	bus := eventbus.New(cfg.EventBusCapacity, storage, auditWriter, logger)

	renderer := template.NewEngine()
	targetingEngine := targeting.New(storage)
	deployments := deploymentlog.New(storage, renderer)
	dispatcher := workorder.New(storage, cfg.WorkOrderBackoffCapSeconds)

	pipeline := webhook.NewPipeline(storage, cipher, logger, cfg.WebhookDeliveryBatchSize, cfg.WebhookMaxRetries, cfg.WebhookBaseBackoffSeconds, cfg.WebhookBackoffCapSeconds)
	slackNotifier := webhook.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackOpsChannel, logger)
	if slackNotifier.IsEnabled() {
		pipeline.OnDead(slackNotifier.NotifyDead)
		logger.Info("slack operational notifier enabled", "channel", cfg.SlackOpsChannel)
	}

	return &components{
		issuer:      issuer,
		targeting:   targetingEngine,
		deployments: deployments,
		workorders:  dispatcher,
		bus:         bus,
		auditWriter: auditWriter,
		pipeline:    pipeline,
		cipher:      cipher,
		slack:       slackNotifier,
	}, nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, storage *store.Storage, metricsReg *prometheus.Registry) error {
	c, err := buildComponents(cfg, logger, storage)
	if err != nil {
		return err
	}

	go c.bus.Run(ctx)
	go c.auditWriter.Run(ctx)

	rateLimiter := credential.NewRateLimiter(rdb, 10, 15*time.Minute)
	authMiddleware := credential.Middleware(c.issuer, rateLimiter)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, authMiddleware)

	agentHandler := agent.NewHandler(storage, c.issuer, c.targeting, c.deployments, c.workorders, c.bus)
	srv.APIRouter.Mount("/agents", agentHandler.Routes())

	stackHandler := stack.NewHandler(storage, c.targeting, c.deployments)
	srv.APIRouter.Mount("/stacks", stackHandler.Routes())

	generatorHandler := generator.NewHandler(storage, c.issuer, c.bus)
	srv.APIRouter.Mount("/generators", generatorHandler.Routes())

	workOrderHandler := workorder.NewHandler(c.workorders, storage, c.bus, cfg.WorkOrderDefaultClaimTimeout)
	srv.APIRouter.Mount("/work-orders", workOrderHandler.Routes())

	webhookHandler := webhook.NewHandler(storage, c.cipher, c.bus)
	srv.APIRouter.Mount("/webhooks", webhookHandler.Routes())

	auditHandler := audit.NewHandler(storage)
	srv.APIRouter.Mount("/admin/audit-logs", auditHandler.Routes())

	srv.APIRouter.Post("/admin/config/reload", credential.RequireKind(handleConfigReload(c.bus, logger)))

	go runSupervisor(ctx, cfg, logger, storage, c)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, storage *store.Storage) error {
	logger.Info("worker started")
	c, err := buildComponents(cfg, logger, storage)
	if err != nil {
		return err
	}
	go c.bus.Run(ctx)
	go c.auditWriter.Run(ctx)

	runSupervisor(ctx, cfg, logger, storage, c)
	return nil
}

// runSupervisor starts the five background loops §4.9 specifies and blocks
// until ctx is cancelled.
func runSupervisor(ctx context.Context, cfg *config.Config, logger *slog.Logger, storage *store.Storage, c *components) {
	loops := []supervisor.Loop{
		{
			Name:     "workorder-maintenance",
			Interval: mustParseDuration(cfg.WorkOrderMaintenanceInterval, 10*time.Second),
			Tick:     c.workorders.RunMaintenanceSweep,
		},
		{
			Name:     "webhook-delivery",
			Interval: mustParseDuration(cfg.WebhookDeliveryInterval, 5*time.Second),
			Tick:     c.pipeline.Tick,
		},
		{
			Name:     "webhook-cleanup",
			Interval: mustParseDuration(cfg.WebhookCleanupInterval, time.Hour),
			Tick: func(ctx context.Context) error {
				return c.pipeline.RunCleanup(ctx, cfg.WebhookRetentionDays)
			},
		},
		{
			Name:     "audit-cleanup",
			Interval: mustParseDuration(cfg.AuditCleanupPeriod, 24*time.Hour),
			Tick: func(ctx context.Context) error {
				return c.auditWriter.RunCleanup(ctx, cfg.AuditRetentionDays)
			},
		},
		{
			Name:     "diagnostics-cleanup",
			Interval: mustParseDuration(cfg.DiagnosticCleanupInterval, 15*time.Minute),
			Tick: func(ctx context.Context) error {
				if _, err := storage.DiagnosticRequests.ExpirePastDeadline(ctx); err != nil {
					return fmt.Errorf("expiring diagnostic requests: %w", err)
				}
				if _, err := storage.DiagnosticRequests.DeleteResultsOlderThan(ctx, cfg.DiagnosticResultRetentionHours); err != nil {
					return fmt.Errorf("sweeping diagnostic requests: %w", err)
				}
				return nil
			},
		},
	}
	sup := supervisor.New(logger, loops...)
	sup.Run(ctx)
}

// handleConfigReload re-resolves environment-backed configuration and
// records the reload as a security-relevant audit event; brokkr's
// configuration is otherwise read once at startup via caarlos0/env, so this
// is an operator signal more than a live code path.
func handleConfigReload(bus *eventbus.Bus, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := httpserver.RequestIDFromContext(r.Context())
		if _, err := config.Load(); err != nil {
			httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "reloading configuration", err))
			return
		}
		logger.Info("configuration reload requested")
		bus.Emit("config.reloaded", map[string]any{"request_id": requestID})
		httpserver.Respond(w, http.StatusOK, map[string]string{"status": "reloaded"})
	}
}

func mustParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
