package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/acai-shop/api/internal/platform/config"
	pfirestore "github.com/acai-shop/api/internal/platform/firestore"
	"github.com/acai-shop/api/internal/platform/idempotency"
	"github.com/acai-shop/api/internal/platform/jobs"
	"github.com/acai-shop/api/internal/platform/notify"
	"github.com/acai-shop/api/internal/platform/observability"
	"github.com/acai-shop/api/internal/platform/receipt"
	"github.com/acai-shop/api/internal/repositories"
	firestoreRepo "github.com/acai-shop/api/internal/repositories/firestore"
	"github.com/acai-shop/api/internal/repositories/memory"
	"github.com/acai-shop/api/internal/repositories/postgres"
	"github.com/acai-shop/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders     services.OrderService
	Deliverers services.DelivererService
	System     services.SystemService
	Pricing    *services.PricingEngine
}

// Container wires storage, services and outbound adapters for the API process.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Idempotency  idempotency.Store
	Receipts     *receipt.Renderer

	checks  []repositories.DependencyCheck
	closers []func(context.Context) error
}

// Options carries process-level collaborators that are built before the container.
type Options struct {
	Logger *zap.Logger
	Build  services.BuildInfo
	// Registry replaces the configured storage driver. Tests pass a memory store here.
	Registry repositories.Registry
	// Notifier replaces the Telegram notifier.
	Notifier services.StatusNotifier
	// ExtraChecks are appended to the readiness probes, e.g. Secret Manager.
	ExtraChecks []repositories.DependencyCheck
	Clock       func() time.Time
}

// NewContainer constructs the runtime dependencies. Everything opened before a failure is closed
// again before the error is returned.
func NewContainer(ctx context.Context, cfg config.Config, opts Options) (c *Container, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	c = &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
			c = nil
		}
	}()

	var provider *pfirestore.Provider
	if opts.Registry != nil {
		c.Repositories = opts.Registry
		c.checks = append(c.checks, repositories.DependencyCheck{Name: "storage", Critical: true, Check: func(context.Context) error { return nil }})
	} else {
		provider, err = c.openRegistry(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	c.Idempotency, err = c.openIdempotencyStore(ctx, cfg, provider)
	if err != nil {
		return nil, err
	}

	events, err := c.openPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	notifier := opts.Notifier
	if notifier == nil && cfg.Telegram.BotToken != "" {
		_ = tgbotapi.SetLogger(observability.NewPrintfAdapter(logger.Named("telegram")))
		bot, err := notify.NewTelegramBot(cfg.Telegram.BotToken)
		if err != nil {
			return nil, fmt.Errorf("build telegram bot: %w", err)
		}
		telegram, err := notify.NewTelegramNotifier(bot, cfg.Telegram.AdminChatID, cfg.Telegram.Locale)
		if err != nil {
			return nil, fmt.Errorf("build telegram notifier: %w", err)
		}
		notifier = telegram
	}

	c.Services, err = c.buildServices(cfg, logger, clock, events, notifier, opts)
	if err != nil {
		return nil, err
	}
	c.Receipts = receipt.NewRenderer(receipt.WithShopName(cfg.Shop.Name), receipt.WithClock(clock))
	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) openRegistry(ctx context.Context, cfg config.Config, logger *zap.Logger) (*pfirestore.Provider, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, store.Close)
		if cfg.Postgres.AutoMigrate {
			migrateLogger := logger.Named("migrate")
			if err := store.Migrate(ctx, func(name string) {
				migrateLogger.Info("migration applied", zap.String("name", name))
			}); err != nil {
				return nil, err
			}
		}
		c.Repositories = store
		c.checks = append(c.checks, repositories.DependencyCheck{Name: "postgres", Critical: true, Check: store.Ping})
		return nil, nil

	case config.StorageDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		c.closers = append(c.closers, provider.Close)
		store, err := firestoreRepo.NewStore(provider)
		if err != nil {
			return nil, err
		}
		c.Repositories = store
		c.checks = append(c.checks, repositories.DependencyCheck{
			Name:     "firestore",
			Critical: true,
			Check: func(ctx context.Context) error {
				client, err := provider.Client(ctx)
				if err != nil {
					return err
				}
				_, err = client.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
		return provider, nil

	case config.StorageDriverMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		c.Repositories = memory.NewStore()
		c.checks = append(c.checks, repositories.DependencyCheck{Name: "memory", Critical: true, Check: func(context.Context) error { return nil }})
		return nil, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// openIdempotencyStore prefers Redis, falls back to Firestore when that is the primary store, and
// keeps replays in process memory otherwise.
func (c *Container) openIdempotencyStore(ctx context.Context, cfg config.Config, provider *pfirestore.Provider) (idempotency.Store, error) {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis: ping %s: %w", cfg.Redis.Addr, err)
		}
		c.checks = append(c.checks, repositories.DependencyCheck{
			Name:     "redis",
			Critical: true,
			Check:    func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		return idempotency.NewRedisStore(client), nil
	}
	if provider != nil {
		return idempotency.NewFirestoreStore(provider), nil
	}
	return idempotency.NewMemoryStore(), nil
}

func (c *Container) openPublisher(ctx context.Context, cfg config.Config) (services.OrderEventPublisher, error) {
	if cfg.PubSub.OrderEventsTopic == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create client: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })

	topic := client.Topic(cfg.PubSub.OrderEventsTopic)
	c.closers = append(c.closers, func(context.Context) error {
		topic.Stop()
		return nil
	})
	publisher, err := jobs.NewPubSubOrderPublisher(topic)
	if err != nil {
		return nil, err
	}
	c.checks = append(c.checks, repositories.DependencyCheck{
		Name: "pubsub",
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", topic.ID())
			}
			return nil
		},
	})
	return publisher, nil
}

func (c *Container) buildServices(cfg config.Config, logger *zap.Logger, clock func() time.Time, events services.OrderEventPublisher, notifier services.StatusNotifier, opts Options) (Services, error) {
	reg := c.Repositories

	catalog, err := services.NewRepositoryCatalog(reg.Catalog())
	if err != nil {
		return Services{}, fmt.Errorf("build catalog lookup: %w", err)
	}
	directory, err := services.NewRepositoryDirectory(reg.Users(), reg.Addresses())
	if err != nil {
		return Services{}, fmt.Errorf("build user directory: %w", err)
	}
	resolver, err := services.NewCustomItemResolver(catalog, cfg.Catalog.CustomProductIDs())
	if err != nil {
		return Services{}, fmt.Errorf("build custom item resolver: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Deliverers: reg.Deliverers(),
		Catalog:    catalog,
		Users:      directory,
		Resolver:   resolver,
		UnitOfWork: reg,
		Events:     events,
		Notifier:   notifier,
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	deliverers, err := services.NewDelivererService(services.DelivererServiceDeps{
		Deliverers: reg.Deliverers(),
		Orders:     reg.Orders(),
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("deliverers")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build deliverer service: %w", err)
	}

	checks := append(append([]repositories.DependencyCheck(nil), c.checks...), opts.ExtraChecks...)
	healthRepo, err := repositories.NewDependencyHealthRepository(checks,
		repositories.WithDependencyClock(clock),
		repositories.WithDependencyTimeout(cfg.Server.ProbeTimeout),
	)
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Backlog:          orders,
		Clock:            clock,
		Build:            opts.Build,
		Logger:           observability.EventLogger(logger.Named("health")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}

	return Services{
		Orders:     orders,
		Deliverers: deliverers,
		System:     system,
		Pricing:    services.NewPricingEngine(catalog),
	}, nil
}
