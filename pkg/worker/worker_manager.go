// Package worker consumes the trigger queue and drives executions through the
// engine and dispatcher.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/dukex/convoflow/pkg/dispatcher"
	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/persistence"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const handlerName = "convoflow-triggers"

// RetryConfig configures in-process retries of transient failures before the
// message is nacked back to the queue.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries:      5,
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

type WorkerManager struct {
	id         string
	engine     *engine.Engine
	dispatcher *dispatcher.Dispatcher
	subscriber message.Subscriber
	retry      RetryConfig
	tracer     trace.Tracer
	logger     *slog.Logger
	router     *message.Router
}

func NewWorkerManager(
	id string,
	eng *engine.Engine,
	dispatch *dispatcher.Dispatcher,
	bus eventbus.TriggerBus,
	retry RetryConfig,
	logger *slog.Logger,
) (*WorkerManager, error) {
	w := &WorkerManager{
		id:         id,
		engine:     eng,
		dispatcher: dispatch,
		subscriber: bus.Subscriber(),
		retry:      retry,
		tracer:     otel.Tracer("convoflow/worker"),
		logger:     logger.With("module", "convoflow-worker", "worker_id", id),
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 30 * time.Second}, watermill.NewSlogLogger(w.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      w.retry.MaxRetries,
			InitialInterval: w.retry.InitialInterval,
			MaxInterval:     w.retry.MaxInterval,
			Multiplier:      2,
			Logger:          watermill.NewSlogLogger(w.logger),
		}.Middleware,
	)

	router.AddNoPublisherHandler(handlerName, events.Topic, w.subscriber, w.handle)

	w.router = router

	return w, nil
}

// Start consumes triggers until ctx is cancelled.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.router.Run(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Worker router stopped", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker stopped")

	return nil
}

// Running is closed once the router consumes messages.
func (w *WorkerManager) Running() chan struct{} {
	return w.router.Running()
}

// handle acks everything but transient failures, which are returned so the
// retry middleware and the queue redeliver them.
func (w *WorkerManager) handle(msg *message.Message) error {
	ctx, trigger, err := eventbus.Decode(msg)
	if err != nil {
		w.logger.ErrorContext(ctx, "Dropping malformed trigger", "message_id", msg.UUID, "error", err)

		return nil
	}

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.handle",
		attribute.String(otelhelper.TriggerIDKey, trigger.ID),
		attribute.String(otelhelper.TriggerKindKey, string(trigger.Kind)),
		attribute.String(otelhelper.ConversationIDKey, trigger.ConversationID),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	logger := w.logger.With(
		"trigger_id", trigger.ID,
		"kind", trigger.Kind,
		"conversation_id", trigger.ConversationID,
	)

	err = w.process(ctx, logger, trigger)
	if err == nil {
		return nil
	}

	if engine.IsTransient(err) {
		logger.WarnContext(ctx, "Transient failure, trigger will be redelivered", "error", err)
		otelhelper.SetError(span, err)

		return err
	}

	logger.ErrorContext(ctx, "Trigger failed", "error", err)
	otelhelper.SetError(span, err)

	return nil
}

func (w *WorkerManager) process(ctx context.Context, logger *slog.Logger, trigger events.Trigger) error {
	switch trigger.Kind {
	case events.TriggerStart:
		record, err := w.engine.Start(ctx, engine.StartRequest{
			ChatbotID:      trigger.ChatbotID,
			ConversationID: trigger.ConversationID,
			ContactID:      trigger.ContactID,
			TenantID:       trigger.TenantID,
			ChannelID:      trigger.ChannelID,
			Variables:      trigger.Payload,
			Restart:        trigger.Restart,
		})
		if err != nil {
			return err
		}

		logger.InfoContext(ctx, "Execution started", "execution_id", record.ID, "status", record.Status)
	case events.TriggerMessage:
		eventID := trigger.EventID
		if eventID == "" {
			eventID = trigger.ID
		}

		outcome, err := w.dispatcher.Dispatch(ctx, trigger.ConversationID, dispatcher.Event{
			ID:               eventID,
			Payload:          trigger.Payload,
			ExpectationToken: trigger.ExpectationToken,
		})
		if err != nil {
			return err
		}

		logger.InfoContext(ctx, "Event dispatched", "event_id", eventID, "outcome", outcome)
	case events.TriggerTimer:
		outcome, err := w.dispatcher.Fire(ctx, dispatcher.Timer{
			ConversationID: trigger.ConversationID,
			ChatbotID:      trigger.ChatbotID,
			Token:          trigger.ExpectationToken,
		})
		if err != nil {
			return err
		}

		logger.InfoContext(ctx, "Timer fired", "outcome", outcome)
	case events.TriggerCancel:
		_, err := w.engine.Cancel(ctx, trigger.ConversationID)
		if persistence.IsExecutionNotFound(err) {
			logger.InfoContext(ctx, "Nothing to cancel")

			return nil
		}

		return err
	default:
		return errors.New("unhandled trigger kind " + string(trigger.Kind))
	}

	return nil
}
