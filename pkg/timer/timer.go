// Package timer delivers delayed triggers: delay expiries and ask timeouts.
// A scheduled trigger is published on the trigger queue once it is due.
package timer

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/jonboulle/clockwork"
)

const DefaultPollInterval = time.Second

// Poller publishes due triggers; Run drives it until ctx is cancelled.
type Poller interface {
	Poll(ctx context.Context) (int, error)
}

// Run polls every interval until ctx is cancelled.
func Run(ctx context.Context, clock clockwork.Clock, interval time.Duration, poller Poller, logger *slog.Logger) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	logger.InfoContext(ctx, "Timer poller started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "Timer poller stopped")

			return
		case <-ticker.Chan():
			published, err := poller.Poll(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to poll timers", "error", err)

				continue
			}

			if published > 0 {
				logger.DebugContext(ctx, "Published due timers", "count", published)
			}
		}
	}
}

type entry struct {
	trigger events.Trigger
	at      time.Time
}

// Memory keeps pending timers in process. They are lost on restart, which
// the store sweeper recovers from.
type Memory struct {
	mu        sync.Mutex
	pending   []entry
	publisher eventbus.TriggerPublisher
	clock     clockwork.Clock
	logger    *slog.Logger
}

func NewMemory(publisher eventbus.TriggerPublisher, clock clockwork.Clock, logger *slog.Logger) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Memory{
		publisher: publisher,
		clock:     clock,
		logger:    logger.With("module", "timer", "backend", "memory"),
	}
}

func (m *Memory) Schedule(_ context.Context, trigger events.Trigger, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := sort.Search(len(m.pending), func(i int) bool { return m.pending[i].at.After(at) })
	m.pending = append(m.pending, entry{})
	copy(m.pending[i+1:], m.pending[i:])
	m.pending[i] = entry{trigger: trigger, at: at}

	return nil
}

// Pending returns how many timers are not yet published.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pending)
}

// Poll publishes every due timer in due order. Timers whose publish fails
// stay pending.
func (m *Memory) Poll(ctx context.Context) (int, error) {
	now := m.clock.Now()

	m.mu.Lock()

	n := sort.Search(len(m.pending), func(i int) bool { return m.pending[i].at.After(now) })
	due := append([]entry(nil), m.pending[:n]...)
	m.pending = m.pending[n:]

	m.mu.Unlock()

	for i, item := range due {
		err := m.publisher.Publish(ctx, item.trigger)
		if err != nil {
			for _, failed := range due[i:] {
				_ = m.Schedule(ctx, failed.trigger, failed.at)
			}

			return i, err
		}
	}

	return len(due), nil
}

func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	Run(ctx, m.clock, interval, m, m.logger)
}
