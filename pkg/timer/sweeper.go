package timer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSweepSchedule = "@every 1m"
	defaultSweepLimit    = 500
)

// Sweeper republishes timers of blocked executions whose resume_at has
// passed, covering timers lost with a restarted process or a failed
// Schedule. Duplicates are harmless: the dispatcher ignores stale tokens.
type Sweeper struct {
	executions persistence.ExecutionRepository
	publisher  eventbus.TriggerPublisher
	clock      clockwork.Clock
	logger     *slog.Logger
	cron       *cron.Cron
	limit      int
}

func NewSweeper(executions persistence.ExecutionRepository, publisher eventbus.TriggerPublisher, clock clockwork.Clock, logger *slog.Logger) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Sweeper{
		executions: executions,
		publisher:  publisher,
		clock:      clock,
		logger:     logger.With("module", "timer_sweeper"),
		limit:      defaultSweepLimit,
	}
}

// Sweep publishes a timer trigger for every overdue blocked execution.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	records, err := s.executions.Due(ctx, s.clock.Now(), s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list due executions: %w", err)
	}

	published := 0

	for _, record := range records {
		if record.Expectation == nil {
			continue
		}

		err := s.publisher.Publish(ctx, engine.TimerTrigger(record, record.Expectation.Token))
		if err != nil {
			return published, fmt.Errorf("failed to publish timer for conversation %s: %w", record.ConversationID, err)
		}

		published++
	}

	return published, nil
}

// Start runs Sweep on the cron schedule until Stop.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	_, err := cron.ParseStandard(schedule)
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err = s.cron.AddFunc(schedule, func() {
		published, err := s.Sweep(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Timer sweep failed", "error", err)

			return
		}

		if published > 0 {
			s.logger.InfoContext(ctx, "Recovered overdue timers", "count", published)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Timer sweeper started", "schedule", schedule)

	return nil
}

func (s *Sweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
	s.logger.InfoContext(ctx, "Timer sweeper stopped")
}
