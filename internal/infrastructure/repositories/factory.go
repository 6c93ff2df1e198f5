package repositories

import (
	"context"

	"lobbysignal/internal/core/ports"
	"lobbysignal/internal/infrastructure/repositories/memory"
	redisrepo "lobbysignal/internal/infrastructure/repositories/redis"
	"lobbysignal/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	cfg         *config.Config
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled and falls back to
// memory repositories when it is unreachable.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		cfg:      cfg,
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			cfg.Redis.KeyPrefix,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory
}

// UsingRedis reports whether repositories are backed by Redis.
func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// RedisClient returns the shared client, or nil when running on memory
// repositories.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.UsingRedis() {
		return nil
	}
	return f.redisClient
}

// CreateLobbyRepository creates a lobby repository (Redis or memory with fallback)
func (f *RepositoryFactory) CreateLobbyRepository() ports.LobbyRepository {
	if f.UsingRedis() {
		return redisrepo.NewRedisLobbyRepository(f.redisClient, f.cfg.Redis.KeyPrefix, f.cfg.Redis.LobbyTTL)
	}
	return memory.NewMemoryLobbyRepository()
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsingRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
