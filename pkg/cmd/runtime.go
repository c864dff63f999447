package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/convoflow/pkg/dispatcher"
	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/timer"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Runtime holds the engine and the infrastructure it was built on.
type Runtime struct {
	Persistence persistence.Persistence
	EventBus    eventbus.TriggerBus
	Timer       Timer
	Engine      *engine.Engine
	Dispatcher  *dispatcher.Dispatcher
	Tracer      trace.Tracer

	redis    *redis.Client
	sweeper  *timer.Sweeper
	shutdown otelhelper.ShutdownFunc
	logger   *slog.Logger
}

// NewRuntime wires persistence, trigger bus, locks, timers, collaborators and
// the engine from RuntimeFlags. owner names this process in lease tokens.
func NewRuntime(ctx context.Context, command *cli.Command, serviceName, owner string, logger *slog.Logger) (*Runtime, error) {
	r := &Runtime{
		Tracer: otel.Tracer(serviceName),
		logger: logger,
	}

	err := r.build(ctx, command, serviceName, owner)
	if err != nil {
		r.Close(ctx)

		return nil, err
	}

	return r, nil
}

func (r *Runtime) build(ctx context.Context, command *cli.Command, serviceName, owner string) error {
	if command.Bool("tracing") {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		r.Tracer = tracer
		r.shutdown = shutdown
	}

	store, err := NewPersistence(ctx, r.logger, command.String("database-url"))
	if err != nil {
		return err
	}

	r.Persistence = store

	bus, err := NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), r.logger)
	if err != nil {
		return err
	}

	r.EventBus = bus

	r.redis, err = NewRedisClient(ctx, command.String("redis-url"))
	if err != nil {
		return err
	}

	r.Timer = NewTimer(r.redis, r.EventBus, r.logger)

	r.Engine = engine.New(
		EngineConfig(command, owner),
		r.Persistence,
		NewLocker(r.redis),
		NewSender(command.String("sender-url"), command.Duration("action-timeout"), r.logger),
		NewActionCaller(r.logger),
		r.Timer,
		r.logger,
		engine.WithTracer(r.Tracer),
	)

	r.Dispatcher = dispatcher.New(r.Engine, r.Persistence.ExecutionRepository(), r.logger, dispatcher.WithTracer(r.Tracer))

	return nil
}

// InProcess reports which background duties only this process can serve:
// an in-memory timer is polled by nobody else, and a gochannel bus is read by
// nobody else.
func InProcess(command *cli.Command) (timers, consumer bool) {
	return command.String("redis-url") == "", command.String("event-bus") == "gochannel"
}

// RunTimers starts the timer poll loop and the overdue timer sweeper. Both
// stop with ctx.
func (r *Runtime) RunTimers(ctx context.Context, command *cli.Command) error {
	r.sweeper = timer.NewSweeper(r.Persistence.ExecutionRepository(), r.EventBus, clockwork.NewRealClock(), r.logger)

	err := r.sweeper.Start(ctx, command.String("sweep-schedule"))
	if err != nil {
		return err
	}

	go r.Timer.Run(ctx, command.Duration("timer-poll-interval"))

	return nil
}

// Close releases everything in reverse order of construction.
func (r *Runtime) Close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	var errs []error

	if r.sweeper != nil {
		r.sweeper.Stop(ctx)
	}

	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}

	if r.EventBus != nil {
		errs = append(errs, r.EventBus.Close())
	}

	if r.Persistence != nil {
		errs = append(errs, r.Persistence.Close(ctx))
	}

	if r.shutdown != nil {
		errs = append(errs, r.shutdown(ctx))
	}

	err := errors.Join(errs...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
	}
}
