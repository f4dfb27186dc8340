package repositories

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voxrelay/internal/core/ports"
	"voxrelay/internal/infrastructure/repositories/memory"
	redisrepo "voxrelay/internal/infrastructure/repositories/redis"
	"voxrelay/pkg/config"
)

// RepositoryFactory hands out storage implementations, preferring Redis when
// it is enabled and reachable and falling back to in-memory otherwise.
type RepositoryFactory struct {
	cfg         *config.Config
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		cfg:      cfg,
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(cfg, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, falling back to memory repositories",
				zap.Error(err))
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateHistoryRepository returns the event history store.
func (f *RepositoryFactory) CreateHistoryRepository() ports.EventHistoryRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisHistoryRepository(
			f.redisClient, f.cfg.History.Limit, f.cfg.History.TTL, f.logger)
	}
	return memory.NewMemoryHistoryRepository(f.cfg.History.Limit, f.cfg.History.TTL)
}

// RedisClient exposes the shared client for components that need raw access,
// such as the cross-instance announcer. Nil when running on memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

// Close closes the Redis connection if one was established.
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck verifies backing storage connectivity.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
