package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/lock"
	"github.com/dukex/convoflow/pkg/lock/redislock"
	"github.com/dukex/convoflow/pkg/timer"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Timer is a delayed-trigger store that also runs its own poll loop.
type Timer interface {
	engine.Timer
	Run(ctx context.Context, interval time.Duration)
}

// NewRedisClient connects to redisURL. An empty url returns a nil client,
// which selects the in-memory lock and timer.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// NewLocker returns a Redis lease locker, or an in-process one when client is nil.
func NewLocker(client *redis.Client) lock.Locker {
	if client == nil {
		return lock.NewMemory(nil)
	}

	return redislock.New(client)
}

// NewTimer returns a Redis sorted-set timer, or an in-process one when client is nil.
func NewTimer(client *redis.Client, publisher eventbus.TriggerPublisher, logger *slog.Logger) Timer {
	clock := clockwork.NewRealClock()

	if client == nil {
		return timer.NewMemory(publisher, clock, logger)
	}

	return timer.NewRedis(client, timer.DefaultKey, publisher, clock, logger)
}
