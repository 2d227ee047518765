package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/exchange-query-engine/pkg/adapters/datastore/postgres"
	"github.com/ekaya-inc/exchange-query-engine/pkg/audit"
	"github.com/ekaya-inc/exchange-query-engine/pkg/cache"
	"github.com/ekaya-inc/exchange-query-engine/pkg/catalog"
	"github.com/ekaya-inc/exchange-query-engine/pkg/config"
	"github.com/ekaya-inc/exchange-query-engine/pkg/database"
	"github.com/ekaya-inc/exchange-query-engine/pkg/extract"
	"github.com/ekaya-inc/exchange-query-engine/pkg/handlers"
	"github.com/ekaya-inc/exchange-query-engine/pkg/learning"
	"github.com/ekaya-inc/exchange-query-engine/pkg/logging"
	"github.com/ekaya-inc/exchange-query-engine/pkg/mcp"
	"github.com/ekaya-inc/exchange-query-engine/pkg/mcp/tools"
	"github.com/ekaya-inc/exchange-query-engine/pkg/metrics"
	"github.com/ekaya-inc/exchange-query-engine/pkg/middleware"
	"github.com/ekaya-inc/exchange-query-engine/pkg/retry"
	"github.com/ekaya-inc/exchange-query-engine/pkg/services"
	sqlvalidator "github.com/ekaya-inc/exchange-query-engine/pkg/sql"
	"github.com/ekaya-inc/exchange-query-engine/pkg/synth"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.IsLocal())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Bool("redis", cfg.Redis.Enabled()),
		zap.Bool("mcp", cfg.MCP.Enabled),
		zap.Int("list_limit", cfg.Engine.ListLimit))

	startup := retry.StartupConfig()
	startup.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("Dependency not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("error", logging.SanitizeError(err)))
	}

	db, err := retry.DoWithResult(ctx, startup, func() (*database.DB, error) {
		return database.NewConnection(ctx, database.ConfigFrom(&cfg.Database))
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		sqlDB := db.SQLDB()
		err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger)
		_ = sqlDB.Close()
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	store := postgres.NewStore(db.Pool, cfg.Engine.ExecutionTimeout, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	checks := map[string]handlers.HealthCheck{
		"database": db.Ping,
	}

	var answers cache.Cache
	redisClient, err := retry.DoWithResult(ctx, startup, func() (*redis.Client, error) {
		return database.NewRedisClient(ctx, &cfg.Redis)
	})
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		answers = cache.NewRedisCache(redisClient, cfg.Engine.CacheTTL, logger)
		checks["cache"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		answers = cache.NewMemoryCache(cfg.Engine.CacheSize, cfg.Engine.CacheTTL)
	}

	cat := catalog.NewCachedCatalog(catalog.Options{
		Introspector:      store,
		BusinessRulesPath: cfg.Engine.BusinessRulesPath,
		TTL:               cfg.Engine.CatalogTTL,
	}, logger)

	learner := learning.NewStore(learning.Config{
		Path:         cfg.Engine.LearningFile,
		MaxSuccesses: cfg.Engine.MaxSuccessHistory,
		MaxFailures:  cfg.Engine.MaxFailureHistory,
		FlushEvery:   cfg.Engine.FlushEvery,
	}, logger)
	if err := learner.Load(); err != nil {
		// A corrupt or unreadable file must not keep the engine down; it starts empty.
		logger.Error("Failed to load learning state, starting empty", zap.Error(err))
	}
	learnCtx, stopLearning := context.WithCancel(context.Background())
	learnDone := make(chan struct{})
	go func() {
		defer close(learnDone)
		learner.Run(learnCtx, cfg.Engine.FlushInterval)
	}()
	defer func() {
		stopLearning()
		<-learnDone
	}()

	engine := services.NewQueryEngine(services.EngineDeps{
		Pipeline:    extract.NewPipeline(extract.DefaultRules(time.Now)...),
		Synthesizer: synth.New(cfg.Engine.ListLimit),
		Validator:   sqlvalidator.NewValidator(),
		Gateway:     services.NewExecutionGateway(store, store, cfg.Engine.ExecutionTimeout, m, logger),
		Composer:    services.NewResponseComposer(),
		Learner:     learner,
		Cache:       answers,
		Metrics:     m,
		Auditor:     audit.NewSecurityAuditor(logger),
	}, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, checks, logger).RegisterRoutes(mux)
	handlers.NewNLQHandler(engine, cat, cfg.Engine.SuggestionLimit, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", metrics.Handler(reg))

	if cfg.MCP.Enabled {
		toolAudit := mcp.NewAuditLogger(m, logger)
		mcpServer := mcp.NewServer("exchange-query-engine", cfg.Version, logger, server.WithHooks(toolAudit.Hooks()))
		toolChecks := make(map[string]func(context.Context) error, len(checks))
		for name, check := range checks {
			toolChecks[name] = check
		}
		tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, toolChecks)
		tools.RegisterNLQTools(mcpServer.MCP(), &tools.NLQToolDeps{
			Engine:          engine,
			Catalog:         cat,
			SuggestionLimit: cfg.Engine.SuggestionLimit,
			Logger:          logger,
		})
		handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           middleware.Chain(mux, middleware.Recoverer(logger), middleware.RequestLogger(logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting exchange-query-engine", zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
