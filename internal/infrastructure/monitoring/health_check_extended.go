package monitoring

import (
	"context"
	"fmt"
	"time"

	"koma/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

// HubStatter is the part of the signaling hub a liveness check needs.
type HubStatter interface {
	Stats(ctx context.Context) (domain.HubStats, error)
}

// AddHubCheck verifies the hub loop still answers within the timeout.
func (h *HealthChecker) AddHubCheck(hub HubStatter, interval, timeout time.Duration) {
	h.AddCheck("hub", func(ctx context.Context) (bool, error) {
		if _, err := hub.Stats(ctx); err != nil {
			return false, fmt.Errorf("hub loop not responding: %w", err)
		}
		return true, nil
	}, interval, timeout)
}

// AddConnectionLimitCheck reports unready once the signaling server is at its
// connection limit, so a load balancer can steer new clients elsewhere.
func (h *HealthChecker) AddConnectionLimitCheck(active func() int, limit int, interval, timeout time.Duration) {
	h.AddCheck("connections", func(ctx context.Context) (bool, error) {
		if limit > 0 && active() >= limit {
			return false, fmt.Errorf("connection limit reached (%d)", limit)
		}
		return true, nil
	}, interval, timeout)
}

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}
