// Package dispatcher resumes blocked executions from inbound conversation
// events and fired timers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/interpreter"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ResumeOutcome reports what a dispatched event or timer did.
type ResumeOutcome string

const (
	Resumed        ResumeOutcome = "resumed"
	NoMatch        ResumeOutcome = "no_match"
	NotWaiting     ResumeOutcome = "not_waiting"
	AlreadyResumed ResumeOutcome = "already_resumed"
	NotDue         ResumeOutcome = "not_due"
	Abandoned      ResumeOutcome = "abandoned"
)

// PayloadTextKey is the payload field holding the contact's reply text.
const PayloadTextKey = "text"

var ErrInvalidEvent = errors.New("invalid event")

// Event is an inbound conversation event.
type Event struct {
	ID      string         `json:"id"      validate:"required"`
	Payload map[string]any `json:"payload"`
	// ExpectationToken, when set, must match the pending expectation.
	ExpectationToken string `json:"expectation_token,omitempty"`
}

// Timer identifies a fired timer. ChatbotID may be empty, in which case the
// conversation's newest execution is used.
type Timer struct {
	ConversationID string `validate:"required"`
	ChatbotID      string
	Token          string `validate:"required"`
}

type Dispatcher struct {
	engine     *engine.Engine
	executions persistence.ExecutionRepository
	clock      clockwork.Clock
	tracer     trace.Tracer
	validate   *validator.Validate
	logger     *slog.Logger
}

type Option func(*Dispatcher)

func WithClock(clock clockwork.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = clock
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

func New(eng *engine.Engine, executions persistence.ExecutionRepository, logger *slog.Logger, opts ...Option) *Dispatcher {
	dispatcher := &Dispatcher{
		engine:     eng,
		executions: executions,
		clock:      clockwork.NewRealClock(),
		tracer:     otel.Tracer("convoflow/dispatcher"),
		validate:   validator.New(),
		logger:     logger.With("module", "dispatcher"),
	}

	for _, opt := range opts {
		opt(dispatcher)
	}

	return dispatcher
}

func (d *Dispatcher) now() time.Time {
	return d.clock.Now().UTC()
}

// Dispatch applies event to the conversation's waiting execution and steps it
// until it blocks or ends. Events already applied are ignored by id.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID string, event Event) (ResumeOutcome, error) {
	if conversationID == "" {
		return "", fmt.Errorf("%w: conversation id is required", ErrInvalidEvent)
	}

	err := d.validate.Struct(event)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.dispatch",
		attribute.String(otelhelper.ConversationIDKey, conversationID),
		attribute.String(otelhelper.EventIDKey, event.ID),
	)
	defer span.End()

	logger := d.logger.With("conversation_id", conversationID, "event_id", event.ID)

	latest, err := d.newest(ctx, conversationID, "")
	if err != nil || latest == nil {
		return NoMatch, err
	}

	if latest.Status.IsTerminal() {
		logger.InfoContext(ctx, "Event for finished execution ignored", "status", latest.Status)

		return NoMatch, nil
	}

	var outcome ResumeOutcome

	err = d.engine.WithLock(ctx, latest.ChatbotID, conversationID, func(ctx context.Context) error {
		record, err := d.executions.Get(ctx, latest.ChatbotID, conversationID)
		if err != nil {
			return &engine.PersistenceError{Op: "load", Err: err}
		}

		switch {
		case record.HasProcessedEvent(event.ID):
			outcome = AlreadyResumed

			return nil
		case record.Status != models.ExecutionStatusWaiting || record.Expectation == nil:
			outcome = NotWaiting

			return nil
		case event.ExpectationToken != "" && event.ExpectationToken != record.Expectation.Token:
			logger.InfoContext(ctx, "Stale expectation token", "token", event.ExpectationToken)

			outcome = NotWaiting

			return nil
		}

		graph, err := d.graph(ctx, record)
		if err != nil {
			return err
		}

		d.applyEvent(record, graph, event)

		_, err = d.engine.Continue(ctx, record, graph)
		if err != nil {
			return err
		}

		outcome = Resumed

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	span.SetAttributes(attribute.String(otelhelper.OutcomeKey, string(outcome)))
	logger.InfoContext(ctx, "Event dispatched", "outcome", outcome)

	return outcome, nil
}

func (d *Dispatcher) applyEvent(record *models.ExecutionRecord, graph *models.FlowGraph, event Event) {
	now := d.now()
	nodeID := record.Expectation.NodeID

	if record.Variables == nil {
		record.Variables = map[string]any{}
	}

	for key, value := range event.Payload {
		if strings.HasPrefix(key, "_") {
			continue
		}

		record.Variables[key] = value
	}

	record.Variables[models.VariableEvent] = event.Payload

	text, hasText := event.Payload[PayloadTextKey].(string)
	if hasText {
		if node := graph.Node(nodeID); node != nil && node.Ask != nil && node.Ask.SaveAs != "" {
			record.Variables[node.Ask.SaveAs] = text
		}

		record.MessageHistory = append(record.MessageHistory, models.MessageEntry{
			Direction: models.MessageDirectionInbound,
			Content:   text,
			Timestamp: now,
			NodeID:    nodeID,
		})
	}

	record.MarkEventProcessed(event.ID)
	record.Unblock()
	record.UpdatedAt = now

	next, err := interpreter.ResumeEdge(graph, nodeID, "")
	if err != nil {
		record.Fail(now, (&engine.NodeExecutionError{NodeID: nodeID, Kind: models.NodeKindAsk, Err: err}).Error())

		return
	}

	record.SetCurrentNode(next)
}

// Fire resumes the execution blocked on timer's token once it is due. Early
// or stale timers are no-ops. A due timer whose flow version no longer exists
// fails the execution (Abandoned), which clears its resume_at for the sweeper.
func (d *Dispatcher) Fire(ctx context.Context, timer Timer) (ResumeOutcome, error) {
	err := d.validate.Struct(timer)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.fire",
		attribute.String(otelhelper.ConversationIDKey, timer.ConversationID),
		attribute.String(otelhelper.ChatbotIDKey, timer.ChatbotID),
	)
	defer span.End()

	logger := d.logger.With("conversation_id", timer.ConversationID, "token", timer.Token)

	latest, err := d.newest(ctx, timer.ConversationID, timer.ChatbotID)
	if err != nil || latest == nil {
		return NoMatch, err
	}

	var outcome ResumeOutcome

	err = d.engine.WithLock(ctx, latest.ChatbotID, timer.ConversationID, func(ctx context.Context) error {
		record, err := d.executions.Get(ctx, latest.ChatbotID, timer.ConversationID)
		if err != nil {
			return &engine.PersistenceError{Op: "load", Err: err}
		}

		now := d.now()

		switch {
		case !record.Status.IsBlocked() || record.Expectation == nil || record.Expectation.Token != timer.Token:
			outcome = NotWaiting

			return nil
		case record.ResumeAt == nil || record.ResumeAt.After(now):
			outcome = NotDue

			return nil
		}

		graph, err := d.graph(ctx, record)
		if persistence.IsFlowNotFound(err) {
			logger.ErrorContext(ctx, "Flow of a due timer is gone, failing execution", "flow_version", record.FlowVersion, "error", err)

			err = d.engine.Abort(ctx, record, err.Error())
			if err != nil {
				return err
			}

			outcome = Abandoned

			return nil
		}

		if err != nil {
			return err
		}

		d.applyTimer(ctx, logger, record, graph, now)

		_, err = d.engine.Continue(ctx, record, graph)
		if err != nil {
			return err
		}

		outcome = Resumed

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	span.SetAttributes(attribute.String(otelhelper.OutcomeKey, string(outcome)))
	logger.InfoContext(ctx, "Timer fired", "outcome", outcome)

	return outcome, nil
}

func (d *Dispatcher) applyTimer(ctx context.Context, logger *slog.Logger, record *models.ExecutionRecord, graph *models.FlowGraph, now time.Time) {
	nodeID := record.Expectation.NodeID
	waiting := record.Status == models.ExecutionStatusWaiting

	record.Unblock()
	record.UpdatedAt = now

	kind := models.NodeKindDelay
	label := ""

	if waiting {
		kind = models.NodeKindAsk
		label = models.EdgeLabelTimeout
	}

	next, err := interpreter.ResumeEdge(graph, nodeID, label)
	if err != nil {
		record.Fail(now, (&engine.NodeExecutionError{NodeID: nodeID, Kind: kind, Err: err}).Error())

		return
	}

	if next == "" {
		logger.InfoContext(ctx, "Input timed out without a timeout edge", "node_id", nodeID)
		record.Fail(now, engine.ErrInputTimeout.Error())

		return
	}

	record.SetCurrentNode(next)
}

// newest returns the conversation's execution, scoped to chatbotID when set.
// A missing execution is reported as nil without error.
func (d *Dispatcher) newest(ctx context.Context, conversationID, chatbotID string) (*models.ExecutionRecord, error) {
	var (
		record *models.ExecutionRecord
		err    error
	)

	if chatbotID != "" {
		record, err = d.executions.Get(ctx, chatbotID, conversationID)
	} else {
		record, err = d.executions.ByConversation(ctx, conversationID)
	}

	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, nil
		}

		return nil, &engine.PersistenceError{Op: "load", Err: err}
	}

	return record, nil
}

func (d *Dispatcher) graph(ctx context.Context, record *models.ExecutionRecord) (*models.FlowGraph, error) {
	graph, err := d.engine.Flows().Version(ctx, record.ChatbotID, record.FlowVersion)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return nil, err
		}

		return nil, &engine.PersistenceError{Op: "load flow", Err: err}
	}

	return graph, nil
}
