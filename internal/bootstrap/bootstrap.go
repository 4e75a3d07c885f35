// Package bootstrap wires configuration into the concrete stores, queues and
// coordinators shared by the server, worker and CLI binaries.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/learning-stats/internal/cascade"
	"github.com/benvon/learning-stats/internal/config"
	"github.com/benvon/learning-stats/internal/database"
	"github.com/benvon/learning-stats/internal/database/migrations"
	"github.com/benvon/learning-stats/internal/idempotency"
	"github.com/benvon/learning-stats/internal/queue"
	"github.com/benvon/learning-stats/internal/recordstore"
	"github.com/benvon/learning-stats/internal/repository"
	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	queueConnectAttempts = 10
	queueInitialDelay    = 2 * time.Second
	queueMaxDelay        = 30 * time.Second
)

// Store is an opened record store and the function that releases it
type Store struct {
	recordstore.Store
	close func() error
}

// Close releases the underlying connection, if any
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStore opens the record store selected by cfg.StoreBackend. The postgres
// backend runs migrations before returning.
func OpenStore(cfg *config.Config, logger *zap.Logger) (*Store, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		logger.Warn("using_in_memory_record_store")
		return &Store{Store: recordstore.NewMemoryStore()}, nil
	case config.StoreBackendPostgres:
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrations.Run(db.DB, cfg.AutoMigrate, logger); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("connected_to_database")
		return &Store{Store: database.NewRecordRepository(db), close: db.Close}, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
	}
}

// Repositories groups the three stats level repositories
type Repositories struct {
	Employees *repository.EmployeeRepository
	Teams     *repository.TeamRepository
	Orgs      *repository.OrgRepository
}

// NewRepositories builds the level repositories over store using the
// propagation settings from cfg
func NewRepositories(store recordstore.Store, cfg *config.Config, logger *zap.Logger) *Repositories {
	opts := []repository.Option{
		repository.WithPropagation(cfg.PropagationAttempts, cfg.PropagationInterval),
	}
	return &Repositories{
		Employees: repository.NewEmployeeRepository(store, logger, opts...),
		Teams:     repository.NewTeamRepository(store, logger, opts...),
		Orgs:      repository.NewOrgRepository(store, logger, opts...),
	}
}

// NewCoordinator builds a cascade coordinator over repos
func NewCoordinator(repos *Repositories, logger *zap.Logger, opts ...cascade.Option) *cascade.Coordinator {
	return cascade.NewCoordinator(repos.Employees, repos.Teams, repos.Orgs, logger, opts...)
}

// NewGuard returns the idempotency guard selected by cfg. The redis backend
// needs a client and falls back to the memory guard without one.
func NewGuard(cfg *config.Config, client redis.Cmdable, logger *zap.Logger) idempotency.Guard {
	if cfg.IdempotencyBackend == config.IdempotencyBackendRedis {
		if client != nil {
			return idempotency.NewRedisGuard(client, cfg.IdempotencyWindow, logger)
		}
		logger.Warn("redis_idempotency_requested_without_redis_using_memory")
	}
	return idempotency.NewMemoryGuard(cfg.IdempotencyWindow, nil)
}

// ConnectQueue dials RabbitMQ, retrying with exponential backoff while the
// broker starts up. An empty URL means no queue and returns nil.
func ConnectQueue(ctx context.Context, amqpURL string, logger *zap.Logger) (*queue.RabbitMQQueue, error) {
	if amqpURL == "" {
		logger.Info("rabbitmq_not_configured")
		return nil, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = queueInitialDelay
	b.MaxInterval = queueMaxDelay
	b.MaxElapsedTime = 0

	attempt := 0
	jobQueue, err := backoff.RetryNotifyWithData(func() (*queue.RabbitMQQueue, error) {
		attempt++
		return queue.NewRabbitMQQueue(amqpURL, logger)
	}, backoff.WithContext(backoff.WithMaxRetries(b, queueConnectAttempts-1), ctx),
		func(err error, delay time.Duration) {
			logger.Warn("failed_to_connect_to_rabbitmq_retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", queueConnectAttempts),
				zap.Duration("retry_delay", delay),
				zap.Error(err),
			)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempt, err)
	}
	logger.Info("connected_to_rabbitmq")
	return jobQueue, nil
}
