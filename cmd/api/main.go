package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acai-shop/api/internal/di"
	"github.com/acai-shop/api/internal/handlers"
	"github.com/acai-shop/api/internal/platform/auth"
	"github.com/acai-shop/api/internal/platform/config"
	"github.com/acai-shop/api/internal/platform/idempotency"
	"github.com/acai-shop/api/internal/platform/observability"
	"github.com/acai-shop/api/internal/platform/secrets"
	"github.com/acai-shop/api/internal/repositories"
	"github.com/acai-shop/api/internal/repositories/postgres"
	"github.com/acai-shop/api/internal/services"
)

const bootstrapService = "acai-orders-api"

func main() {
	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"), bootstrapService)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "serve":
		err = serve(ctx, baseLogger)
	case "migrate":
		err = migrate(ctx, baseLogger)
	default:
		err = fmt.Errorf("unknown command %q (expected serve or migrate)", command)
	}
	if err != nil {
		baseLogger.Error("api exited with error", zap.String("command", command), zap.Error(err))
		_ = baseLogger.Sync()
		os.Exit(1)
	}
}

func loadConfig(ctx context.Context, logger *zap.Logger) (config.Config, *secrets.Fetcher, error) {
	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(strings.TrimSpace(os.Getenv("API_SECRETS_PROJECT_ID"))),
		secrets.WithFallbackFile(fallbackSecretsPath()),
	)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("initialise secret fetcher: %w", err)
	}

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		_ = fetcher.Close()
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			return config.Config{}, nil, fmt.Errorf("invalid configuration %v: %w", invalid.Fields(), err)
		}
		return config.Config{}, nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, fetcher, nil
}

func fallbackSecretsPath() string {
	if path := strings.TrimSpace(os.Getenv("API_SECRETS_FALLBACK_PATH")); path != "" {
		return path
	}
	return ".secrets.local"
}

func serve(ctx context.Context, baseLogger *zap.Logger) error {
	startedAt := time.Now().UTC()

	cfg, fetcher, err := loadConfig(ctx, baseLogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			baseLogger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	logger = logger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	build := services.BuildInfo{
		Version:     cfg.Build.Version,
		CommitSHA:   cfg.Build.CommitSHA,
		Environment: cfg.Build.Environment,
		StartedAt:   startedAt,
	}

	var extraChecks []repositories.DependencyCheck
	if project := strings.TrimSpace(os.Getenv("API_SECRETS_PROJECT_ID")); project != "" {
		extraChecks = append(extraChecks, repositories.DependencyCheck{Name: "secretmanager", Check: fetcher.Check})
	}

	container, err := di.NewContainer(ctx, cfg, di.Options{Logger: logger, Build: build, ExtraChecks: extraChecks})
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret, auth.WithIssuer(cfg.Auth.Issuer), auth.WithAdminRole(cfg.Auth.AdminRole))

	checkout := []func(http.Handler) http.Handler{
		idempotency.Middleware(container.Idempotency,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithPendingTTL(cfg.Idempotency.PendingTTL),
		),
	}
	if limiter := handlers.NewRateLimiter(cfg.RateLimits.CheckoutPerMinute, cfg.RateLimits.CheckoutBurst, time.Now); limiter != nil {
		checkout = append([]func(http.Handler) http.Handler{handlers.RateLimitMiddleware(limiter)}, checkout...)
	}

	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders, handlers.WithCheckoutMiddlewares(checkout...))
	adminOrderHandlers := handlers.NewAdminOrderHandlers(authenticator, container.Services.Orders, container.Services.Pricing, container.Receipts)
	delivererHandlers := handlers.NewDelivererHandlers(authenticator, container.Services.Deliverers)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(container.Services.System),
	)

	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(cfg.Logging.Service),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminOrderHandlers.Routes, delivererHandlers.Routes),
	)

	var handler http.Handler = router
	if len(cfg.Server.AllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
			AllowedHeaders:   []string{"Authorization", "Content-Type", cfg.Idempotency.Header},
			ExposedHeaders:   []string{"Location", "Retry-After"},
			AllowCredentials: true,
		}).Handler(router)
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	group.Go(func() error {
		serverLogger.Info("acai orders api listening", zap.String("storage", cfg.Storage.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if sweeper, ok := container.Idempotency.(idempotency.Sweeper); ok && cfg.Idempotency.CleanupInterval > 0 {
		group.Go(func() error {
			runIdempotencyCleanup(groupCtx, sweeper, cfg.Idempotency, logger.Named("idempotency"))
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return group.Wait()
}

// runIdempotencyCleanup sweeps expired keys from stores that cannot expire them natively.
func runIdempotencyCleanup(ctx context.Context, sweeper idempotency.Sweeper, cfg config.IdempotencyConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := sweeper.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func migrate(ctx context.Context, logger *zap.Logger) error {
	cfg, fetcher, err := loadConfig(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = fetcher.Close()
	}()
	if cfg.Storage.Driver != config.StorageDriverPostgres {
		return fmt.Errorf("migrate: storage driver %q has no schema to migrate", cfg.Storage.Driver)
	}

	store, err := postgres.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close(context.Background())
	}()

	migrateLogger := logger.Named("migrate")
	count := 0
	if err := store.Migrate(ctx, func(name string) {
		count++
		migrateLogger.Info("migration applied", zap.String("name", name))
	}); err != nil {
		return err
	}
	migrateLogger.Info("migrations complete", zap.Int("applied", count))
	return nil
}
