package repositories

import (
	"context"

	"embercall/internal/core/ports"
	"embercall/internal/infrastructure/repositories/memory"
	redisrepo "embercall/internal/infrastructure/repositories/redis"
	"embercall/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with memory fallback when Redis is
// disabled or unreachable.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logSize     int
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logSize:  cfg.Call.LogSize,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis call log")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory call log")
	}

	return factory, nil
}

// CreateCallLogRepository creates the call log repository (Redis or memory).
func (f *RepositoryFactory) CreateCallLogRepository() ports.CallLogRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisCallLogRepository(f.redisClient, f.logSize)
	}
	return memory.NewMemoryCallLogRepository(f.logSize)
}

// Close closes the Redis connection if one was opened.
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
