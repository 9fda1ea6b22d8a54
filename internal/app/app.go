// Package app wires the orchestrator's components from configuration. The
// server, worker and reconcile binaries all build on it.
package app

import (
	"context"
	"fmt"

	"github.com/leandro-br-dev/charhub-sub004/internal/config"
	"github.com/leandro-br-dev/charhub-sub004/internal/credit"
	"github.com/leandro-br-dev/charhub-sub004/internal/generation"
	"github.com/leandro-br-dev/charhub-sub004/internal/job"
	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
	"github.com/leandro-br-dev/charhub-sub004/internal/orchestrator"
	"github.com/leandro-br-dev/charhub-sub004/internal/pipeline"
	"github.com/leandro-br-dev/charhub-sub004/internal/queue"
	"github.com/leandro-br-dev/charhub-sub004/internal/ratelimit"
	"github.com/leandro-br-dev/charhub-sub004/internal/retry"
	"github.com/leandro-br-dev/charhub-sub004/internal/storage"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
	"github.com/leandro-br-dev/charhub-sub004/internal/worker"
)

// App holds the connected stores and the services built on them
type App struct {
	Config       *config.Config
	Logger       *logging.Logger
	Postgres     *storage.PostgresDB
	Redis        *storage.RedisClient
	Backend      *generation.Client
	Registry     *job.Registry
	Queue        *queue.Queue
	Credits      *credit.Service
	Orchestrator *orchestrator.Orchestrator
}

// InitLogging configures the global logger from cfg and returns it
func InitLogging(cfg *config.Config) *logging.Logger {
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	return logging.GetGlobalLogger()
}

// New connects to Postgres and Redis and builds the orchestrator
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	postgres, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	redis, err := storage.NewRedisClient(ctx, &cfg.Database.Redis)
	if err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Database connections established")

	client := generation.NewClient(cfg.Generation, logger)

	var backend generation.Backend = client
	if cfg.Generation.BudgetTotal > 0 {
		tracker, err := ratelimit.NewBudgetTracker(&ratelimit.BudgetTrackerConfig{
			Redis:          redis.Client(),
			TotalBudget:    cfg.Generation.BudgetTotal,
			ReservedBudget: cfg.Generation.BudgetReserved,
		})
		if err != nil {
			_ = redis.Close()
			postgres.Close()
			return nil, fmt.Errorf("invalid generation budget: %w", err)
		}
		backend = ratelimit.NewThrottledBackend(client, ratelimit.NewPacer(tracker, 0, 0), cfg.Generation.BudgetMaxWait, logger)
		logger.WithFields(map[string]interface{}{
			"total":    cfg.Generation.BudgetTotal,
			"reserved": cfg.Generation.BudgetReserved,
		}).Info("Generation call budget enabled")
	}

	registry := job.NewDefaultRegistry(backend, pipeline.NewCoordinator(backend, logger))

	q := queue.New(storage.NewJobRepository(postgres), registry, retry.FromConfig(cfg.Retry), queue.WithLogger(logger))

	costs := credit.NewCostRegistry(&credit.CostRegistryConfig{Overrides: cfg.Credits.Costs})
	credits := credit.NewService(storage.NewLedgerRepository(postgres), costs, logger)

	orch := orchestrator.New(q, registry, credits, orchestrator.Config{
		RetentionWindow:    cfg.Retention.Window,
		DefaultMaxAttempts: cfg.Handlers.DefaultMaxAttempts,
		ReconcileBatchSize: cfg.Reconcile.BatchSize,
	},
		orchestrator.WithCancelSignal(storage.NewRedisCancelSignal(redis, cfg.Retention.Window)),
		orchestrator.WithLogger(logger),
	)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Postgres:     postgres,
		Redis:        redis,
		Backend:      client,
		Registry:     registry,
		Queue:        q,
		Credits:      credits,
		Orchestrator: orch,
	}, nil
}

// Pools builds one worker pool per queue, sized from configuration
func (a *App) Pools() []*worker.Pool {
	names := []types.QueueName{types.QueueImageGeneration, types.QueueCharacterPopulation}
	pools := make([]*worker.Pool, 0, len(names))

	for _, name := range names {
		qc := a.Config.Queues.For(name)
		pools = append(pools, worker.NewPool(a.Queue, a.Registry, a.Orchestrator, worker.PoolConfig{
			Queue:        name,
			Concurrency:  qc.Concurrency,
			PollInterval: qc.PollInterval,
			Handlers:     a.Config.Handlers,
		}, worker.WithCancelChecker(a.Orchestrator), worker.WithLogger(a.Logger)))
	}

	return pools
}

// Close releases the store connections
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.Logger.WithError(err).Warn("Error closing Redis connection")
	}
	a.Postgres.Close()
}
