package timer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKey       = "convoflow:timers"
	defaultBatchSize = 100
)

// Pops up to ARGV[2] members scored at or below ARGV[1].
var popDueScript = redis.NewScript(`
local key = KEYS[1]
local items = redis.call('ZRANGEBYSCORE', key, '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #items > 0 then
	redis.call('ZREM', key, unpack(items))
end
return items
`)

// Redis keeps pending timers in a sorted set scored by due time in unix
// milliseconds. Several pollers may share the set; popping is atomic.
type Redis struct {
	client    redis.UniversalClient
	key       string
	publisher eventbus.TriggerPublisher
	clock     clockwork.Clock
	logger    *slog.Logger
}

func NewRedis(client redis.UniversalClient, key string, publisher eventbus.TriggerPublisher, clock clockwork.Clock, logger *slog.Logger) *Redis {
	if key == "" {
		key = DefaultKey
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Redis{
		client:    client,
		key:       key,
		publisher: publisher,
		clock:     clock,
		logger:    logger.With("module", "timer", "backend", "redis"),
	}
}

func (r *Redis) Schedule(ctx context.Context, trigger events.Trigger, at time.Time) error {
	member, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal timer trigger: %w", err)
	}

	err = r.client.ZAdd(ctx, r.key, redis.Z{Score: float64(at.UnixMilli()), Member: member}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule timer: %w", err)
	}

	return nil
}

// Poll publishes due timers in batches. Triggers left over by a failed
// publish are put back as due now.
func (r *Redis) Poll(ctx context.Context) (int, error) {
	published := 0

	for {
		items, err := popDueScript.Run(ctx, r.client, []string{r.key}, r.clock.Now().UnixMilli(), defaultBatchSize).StringSlice()
		if err != nil {
			return published, fmt.Errorf("failed to pop due timers: %w", err)
		}

		for i, item := range items {
			var trigger events.Trigger

			err := json.Unmarshal([]byte(item), &trigger)
			if err != nil {
				r.logger.ErrorContext(ctx, "Dropping unreadable timer", "error", err)

				continue
			}

			err = r.publisher.Publish(ctx, trigger)
			if err != nil {
				r.requeue(ctx, items[i:])

				return published, fmt.Errorf("failed to publish timer trigger: %w", err)
			}

			published++
		}

		if len(items) < defaultBatchSize {
			return published, nil
		}
	}
}

func (r *Redis) requeue(ctx context.Context, items []string) {
	now := float64(r.clock.Now().UnixMilli())
	members := make([]redis.Z, 0, len(items))

	for _, item := range items {
		members = append(members, redis.Z{Score: now, Member: item})
	}

	err := r.client.ZAdd(context.WithoutCancel(ctx), r.key, members...).Err()
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to requeue timers", "count", len(items), "error", err)
	}
}

// Pending returns how many timers are not yet published.
func (r *Redis) Pending(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, r.key).Result()
}

func (r *Redis) Run(ctx context.Context, interval time.Duration) {
	Run(ctx, r.clock, interval, r, r.logger)
}
