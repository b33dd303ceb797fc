package repositories

import (
	"context"
	"fmt"
	"time"

	"p2prelay/internal/core/ports"
	"p2prelay/internal/infrastructure/distributed"
	"p2prelay/internal/infrastructure/repositories/memory"
	"p2prelay/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisDialTimeout = 5 * time.Second

// Factory builds the registries and, when Redis is reachable, the
// cross-instance event publisher.
type Factory struct {
	redisClient *redis.Client
	channel     string
	logger      *zap.SugaredLogger
}

// NewFactory connects to Redis if enabled. A failed connection falls back to
// single-instance mode instead of failing startup.
func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) *Factory {
	f := &Factory{
		channel: cfg.Redis.Channel,
		logger:  logger,
	}

	if cfg.Redis.Enabled {
		client, err := dialRedis(cfg)
		if err != nil {
			logger.Warnw("failed to connect to Redis, running without event bus", "error", err)
		} else {
			logger.Infow("connected to Redis",
				"address", cfg.Redis.Address,
				"db", cfg.Redis.DB,
				"channel", cfg.Redis.Channel,
			)
			f.redisClient = client
		}
	}

	return f
}

// dialRedis opens a pooled client and pings it once. The client is closed
// again if the ping fails.
func dialRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Address, err)
	}
	return client, nil
}

// Sessions and groups hold live connection state and always stay in memory.
func (f *Factory) CreateSessionRepository() ports.SessionRepository {
	return memory.NewMemorySessionRepository()
}

func (f *Factory) CreateGroupRepository() ports.GroupRepository {
	return memory.NewMemoryGroupRepository()
}

// CreateEventBus returns nil when Redis is not in use.
func (f *Factory) CreateEventBus(instanceID string) *distributed.EventBus {
	if f.redisClient == nil {
		return nil
	}
	return distributed.NewEventBus(f.redisClient, instanceID, f.channel, f.logger)
}

// RedisClient is nil when Redis is not in use.
func (f *Factory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *Factory) Close() error {
	if f.redisClient == nil {
		return nil
	}
	return f.redisClient.Close()
}
