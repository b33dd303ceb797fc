package monitoring

import (
	"context"
	"errors"
	"time"

	"p2prelay/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

var errPoolStopped = errors.New("relay socket pool is not running")

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddRelayPoolCheck fails while the relay socket pool is stopped.
func (h *HealthChecker) AddRelayPoolCheck(pool ports.RelaySocketPool) {
	h.AddCheck("relay_pool", func(ctx context.Context) (bool, error) {
		if !pool.IsRunning() {
			return false, errPoolStopped
		}
		return true, nil
	}, 0)
}

// AddRepositoryCheck verifies the group registry answers.
func (h *HealthChecker) AddRepositoryCheck(groups ports.GroupRepository, timeout time.Duration) {
	h.AddCheck("groups", func(ctx context.Context) (bool, error) {
		if _, err := groups.List(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}
