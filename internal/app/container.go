package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/api/handlers"
	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/backend/mock"
	"github.com/acme/campaign-dialer/internal/backend/rest"
	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/infra/db"
	"github.com/acme/campaign-dialer/internal/infra/redis"
	"github.com/acme/campaign-dialer/internal/orchestrator"
	"github.com/acme/campaign-dialer/internal/persistence"
	"github.com/acme/campaign-dialer/internal/queue"
	"github.com/acme/campaign-dialer/internal/repository"
	badgerrepo "github.com/acme/campaign-dialer/internal/repository/badger"
	"github.com/acme/campaign-dialer/internal/repository/memory"
	pgrepo "github.com/acme/campaign-dialer/internal/repository/postgres"
	redisrepo "github.com/acme/campaign-dialer/internal/repository/redis"
	scyllarepo "github.com/acme/campaign-dialer/internal/repository/scylla"
	callsvc "github.com/acme/campaign-dialer/internal/service/call"
	"github.com/acme/campaign-dialer/internal/service/concurrency"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// Container wires together shared infrastructure dependencies. Postgres,
// Scylla, Redis and Kafka are nil unless enabled in the configuration.
type Container struct {
	Config  *config.Config
	Logger  *logger.Logger
	Backend backend.Backend
	Store   repository.KVStore

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		publisher    eventPublisher
	}
}

type eventPublisher interface {
	Publish(ctx context.Context, ev domain.RunEvent) error
	Close() error
}

type repositories struct {
	State   *persistence.Store
	Ledger  *pgrepo.RunLedger
	Journal *scyllarepo.Journal
}

type services struct {
	Sessions *orchestrator.Manager
	Call     *callsvc.Service
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	container := &Container{Config: cfg, Logger: lg}
	if err := container.bootstrap(ctx); err != nil {
		_ = container.Close(context.Background())
		return nil, err
	}
	return container, nil
}

func (c *Container) bootstrap(ctx context.Context) error {
	cfg := c.Config

	switch cfg.Backend.Provider {
	case "mock":
		sim := mock.New(mock.DefaultOptions())
		sim.SeedDemo()
		c.Backend = sim
	default:
		client, err := rest.NewClient(cfg.Backend)
		if err != nil {
			return fmt.Errorf("bootstrap backend: %w", err)
		}
		c.Backend = client
	}

	if cfg.Redis.Enabled || cfg.Store.Driver == "redis" {
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("bootstrap redis: %w", err)
		}
		c.Redis = client
	}

	switch cfg.Store.Driver {
	case "memory":
		c.Store = memory.NewStore()
	case "redis":
		c.Store = redisrepo.NewStore(c.Redis.Inner())
	default:
		store, err := badgerrepo.Open(cfg.Store)
		if err != nil {
			return fmt.Errorf("bootstrap store: %w", err)
		}
		c.Store = store
	}

	if cfg.Postgres.Enabled {
		pg, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("bootstrap postgres: %w", err)
		}
		c.Postgres = pg
		if err := pgrepo.NewRunLedger(pg.DB()).EnsureSchema(ctx); err != nil {
			return fmt.Errorf("bootstrap postgres schema: %w", err)
		}
	}

	if cfg.Scylla.Enabled {
		scylla, err := db.NewScylla(cfg.Scylla)
		if err != nil {
			return fmt.Errorf("bootstrap scylla: %w", err)
		}
		c.Scylla = scylla
		if !cfg.Scylla.DisableInitSchema {
			if err := scyllarepo.NewJournal(scylla.Session()).EnsureSchema(ctx); err != nil {
				return fmt.Errorf("bootstrap scylla schema: %w", err)
			}
		}
	}

	if cfg.Kafka.Enabled {
		kafka, err := queue.NewKafka(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("bootstrap kafka: %w", err)
		}
		c.Kafka = kafka
	}

	c.Logger.Info("container ready",
		zap.String("backend", cfg.Backend.Provider),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("postgres", c.Postgres != nil),
		zap.Bool("scylla", c.Scylla != nil),
		zap.Bool("redis", c.Redis != nil),
		zap.Bool("kafka", c.Kafka != nil),
	)
	return nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			State: persistence.NewStore(c.Store, c.Config.Store.KeyPrefix, c.Logger, persistence.WithTTL(c.Config.Store.TTL)),
		}
		if c.Postgres != nil {
			repos.Ledger = pgrepo.NewRunLedger(c.Postgres.DB())
		}
		if c.Scylla != nil {
			repos.Journal = scyllarepo.NewJournal(c.Scylla.Session())
		}

		var publisher eventPublisher = queue.NopPublisher{}
		if c.Kafka != nil {
			publisher = queue.NewRunEventPublisher(c.Kafka, c.Config.Kafka.RunEventsTopic)
		}

		var leases concurrency.Leases
		if c.Redis != nil {
			leases = concurrency.NewRedisLeases(c.Redis.Inner(), c.Config.Store.KeyPrefix, 0)
		}

		deps := orchestrator.Deps{
			Backend: c.Backend,
			Store:   repos.State,
			Dialer:  c.Config.Dialer,
			Poller:  c.Config.Poller,
			Results: c.Config.Results,
			Logger:  c.Logger,
			Events:  publisher,
		}
		if repos.Ledger != nil {
			deps.DurableLedger = repos.Ledger
		}

		svcs := &services{
			Sessions: orchestrator.NewManager(deps, leases),
		}
		svcs.Call = callsvc.NewService(c.Backend, nil)
		if repos.Journal != nil {
			svcs.Call = callsvc.NewService(c.Backend, repos.Journal)
		}

		c.components.repositories = repos
		c.components.services = svcs
		c.components.publisher = publisher
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// HandlerSet builds HTTP handlers with dependencies.
func (c *Container) HandlerSet() *handlers.HandlerSet {
	repos := c.Repositories()
	svcs := c.Services()

	opts := handlers.Options{
		Sessions: svcs.Sessions,
		Calls:    svcs.Call,
		Checks:   make(map[string]handlers.Pinger),
		Logger:   c.Logger,
	}
	if repos.Ledger != nil {
		opts.Archive = repos.Ledger
	}
	if c.Postgres != nil {
		opts.Checks["postgres"] = c.Postgres
	}
	if c.Scylla != nil {
		opts.Checks["scylla"] = c.Scylla
	}
	if c.Redis != nil {
		opts.Checks["redis"] = c.Redis
	}
	if c.Kafka != nil {
		opts.Checks["kafka"] = c.Kafka
	}
	return handlers.NewHandlerSet(opts)
}

// Close releases all held resources. Open sessions are closed first so
// their final writes reach the store.
func (c *Container) Close(ctx context.Context) error {
	var err error
	if c.components.services != nil {
		err = multierr.Append(err, c.components.services.Sessions.CloseAll(ctx))
	}
	if c.components.publisher != nil {
		if cerr := c.components.publisher.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("event publisher close: %w", cerr))
		}
	}
	if c.Store != nil {
		if cerr := c.Store.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("store close: %w", cerr))
		}
	}
	if c.Redis != nil {
		if cerr := c.Redis.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("redis close: %w", cerr))
		}
	}
	if c.Scylla != nil {
		if cerr := c.Scylla.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("scylla close: %w", cerr))
		}
	}
	if c.Postgres != nil {
		if cerr := c.Postgres.Close(ctx); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("postgres close: %w", cerr))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	return err
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	if c.Kafka == nil {
		return nil
	}
	kcfg := c.Config.Kafka
	return c.Kafka.EnsureTopics(ctx, []string{kcfg.RunEventsTopic}, kcfg.Partitions, kcfg.Replication)
}
