package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/interpreter"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type pendingTimer struct {
	token string
	at    time.Time
}

func (e *Engine) maxSteps(graph *models.FlowGraph) int {
	if graph.Settings.MaxSteps > 0 {
		return graph.Settings.MaxSteps
	}

	return e.config.MaxSteps
}

// Continue steps a running record until it blocks, ends or fails. The caller
// must hold the conversation lease (see WithLock). Node-level failures are
// recorded on the returned record; only persistence errors, lease loss and
// context cancellation are returned as errors.
func (e *Engine) Continue(ctx context.Context, record *models.ExecutionRecord, graph *models.FlowGraph) (*models.ExecutionRecord, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.continue",
		attribute.String(otelhelper.ChatbotIDKey, record.ChatbotID),
		attribute.String(otelhelper.ConversationIDKey, record.ConversationID),
		attribute.String(otelhelper.ExecutionIDKey, record.ID),
		attribute.Int(otelhelper.FlowVersionKey, graph.Version),
	)
	defer span.End()

	logger := e.logger.With(
		"chatbot_id", record.ChatbotID,
		"conversation_id", record.ConversationID,
		"execution_id", record.ID,
	)

	if record.Variables == nil {
		record.Variables = map[string]any{}
	}

	maxSteps := e.maxSteps(graph)

	var (
		timers []pendingTimer
		steps  int
	)

	for record.Status == models.ExecutionStatusRunning {
		if steps >= maxSteps {
			logger.WarnContext(ctx, "Step limit reached", "max_steps", maxSteps, "node_id", record.CurrentNode())
			record.Fail(e.now(), ErrCycleLimitExceeded.Error())

			break
		}

		stored, err := e.executions.Status(ctx, record.ID)
		if err != nil {
			otelhelper.SetError(span, err)

			return record, persistenceError("status", err)
		}

		if stored.IsTerminal() {
			logger.InfoContext(ctx, "Execution ended out of band, aborting", "status", stored)

			current, err := e.executions.Get(ctx, record.ChatbotID, record.ConversationID)
			if err != nil {
				return record, persistenceError("load", err)
			}

			return current, nil
		}

		err = e.renewLease(ctx)
		if err != nil {
			otelhelper.SetError(span, err)

			return record, err
		}

		timer, err := e.step(ctx, logger, record, graph)
		steps++

		if err != nil {
			var nodeErr *NodeExecutionError
			if !errors.As(err, &nodeErr) {
				otelhelper.SetError(span, err)

				return record, err
			}

			logger.ErrorContext(ctx, "Node failed", "node_id", nodeErr.NodeID, "kind", nodeErr.Kind, "error", nodeErr.Err)
			record.Fail(e.now(), err.Error())
		}

		if timer != nil {
			timers = append(timers, *timer)
		}

		if record.Status == models.ExecutionStatusRunning {
			err = e.save(ctx, record)
			if err != nil {
				otelhelper.SetError(span, err)

				return record, err
			}
		}
	}

	err := e.save(ctx, record)
	if err != nil {
		otelhelper.SetError(span, err)

		return record, err
	}

	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(record.Status)), attribute.Int(otelhelper.StepsKey, steps))
	logger.InfoContext(ctx, "Execution stopped", "status", record.Status, "steps", steps, "node_id", record.CurrentNode())

	for _, timer := range timers {
		e.schedule(ctx, logger, record, timer)
	}

	return record, nil
}

// save persists the record only while the lease is still held, so an
// invocation that outlived its lease never overwrites the next holder's write.
func (e *Engine) save(ctx context.Context, record *models.ExecutionRecord) error {
	err := e.renewLease(ctx)
	if err != nil {
		return err
	}

	record.UpdatedAt = e.now()

	err = e.executions.Save(ctx, record)
	if err != nil {
		return persistenceError("save", err)
	}

	return nil
}

// step evaluates and applies the current node. A blocking node returns the
// timer to schedule once the record is persisted.
func (e *Engine) step(ctx context.Context, logger *slog.Logger, record *models.ExecutionRecord, graph *models.FlowGraph) (*pendingTimer, error) {
	nodeID := record.CurrentNode()

	node := graph.Node(nodeID)
	if node == nil {
		return nil, &NodeExecutionError{NodeID: nodeID, Err: ErrNodeNotFound}
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.step",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeKindKey, string(node.Kind)),
	)
	defer span.End()

	fail := func(err error) error {
		otelhelper.SetError(span, err)

		return &NodeExecutionError{NodeID: node.ID, Kind: node.Kind, Err: err}
	}

	effect, err := e.interpreter.Evaluate(graph, node, record.Variables)
	if err != nil {
		return nil, fail(err)
	}

	logger.DebugContext(ctx, "Applying node effect", "node_id", node.ID, "kind", node.Kind)

	switch effect := effect.(type) {
	case interpreter.Send:
		err := e.deliver(ctx, record, effect.NodeID, effect.Content)
		if err != nil {
			return nil, fail(err)
		}

		record.SetCurrentNode(effect.Next)
	case interpreter.Branch:
		logger.DebugContext(ctx, "Branch selected", "node_id", effect.NodeID, "result", effect.Result, "next", effect.Next)
		record.SetCurrentNode(effect.Next)
	case interpreter.Action:
		values, err := e.runAction(ctx, logger, effect)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			if IsConcurrencyConflict(err) {
				return nil, err
			}

			return nil, fail(err)
		}

		maps.Copy(record.Variables, values)
		record.SetCurrentNode(effect.Next)
	case interpreter.AskAndWait:
		if effect.Prompt != "" {
			err := e.deliver(ctx, record, effect.NodeID, effect.Prompt)
			if err != nil {
				return nil, fail(err)
			}
		}

		return e.block(record, models.ExecutionStatusWaiting, models.ExpectationInput, effect.NodeID, effect.Timeout), nil
	case interpreter.Delay:
		return e.block(record, models.ExecutionStatusPaused, models.ExpectationDelay, effect.NodeID, max(effect.Duration, 0)), nil
	case interpreter.End:
		record.Variables[models.VariableOutcome] = effect.Outcome
		record.Complete(e.now())
	default:
		return nil, fail(fmt.Errorf("%w: %q", interpreter.ErrUnsupportedKind, effect.Kind()))
	}

	return nil, nil
}

func (e *Engine) deliver(ctx context.Context, record *models.ExecutionRecord, nodeID, content string) error {
	if e.sender == nil {
		return errors.New("no message sender configured")
	}

	result, err := e.sender.Send(ctx, record.ContactID, record.ChannelID, content)
	if err != nil {
		return fmt.Errorf("failed to deliver message: %w", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String(otelhelper.MessageIDKey, result.MessageID))

	record.MessageHistory = append(record.MessageHistory, models.MessageEntry{
		Direction: models.MessageDirectionOutbound,
		Content:   content,
		Timestamp: e.now(),
		NodeID:    nodeID,
	})

	return nil
}

// block suspends record at nodeID. Input expectations without a timeout have
// no due time; delays are always due.
func (e *Engine) block(record *models.ExecutionRecord, status models.ExecutionStatus, kind models.ExpectationKind, nodeID string, wait time.Duration) *pendingTimer {
	expectation := &models.Expectation{
		Token:  uuid.New().String(),
		NodeID: nodeID,
		Kind:   kind,
	}

	if wait > 0 || kind == models.ExpectationDelay {
		due := e.now().Add(wait)
		expectation.DueAt = &due
	}

	record.SetCurrentNode(nodeID)
	record.Block(status, expectation)

	if expectation.DueAt == nil {
		return nil
	}

	return &pendingTimer{token: expectation.Token, at: *expectation.DueAt}
}

func (e *Engine) schedule(ctx context.Context, logger *slog.Logger, record *models.ExecutionRecord, timer pendingTimer) {
	if e.timer == nil {
		return
	}

	err := e.timer.Schedule(ctx, TimerTrigger(record, timer.token), timer.at)
	if err != nil {
		// resume_at is persisted; the store sweeper picks the record up.
		logger.ErrorContext(ctx, "Failed to schedule timer", "due_at", timer.at, "error", err)
	}
}

// TimerTrigger builds the trigger that resumes record's pending expectation.
func TimerTrigger(record *models.ExecutionRecord, token string) events.Trigger {
	trigger := events.NewTrigger(events.TriggerTimer, record.ConversationID)
	trigger.ChatbotID = record.ChatbotID
	trigger.ContactID = record.ContactID
	trigger.TenantID = record.TenantID
	trigger.ChannelID = record.ChannelID
	trigger.ExpectationToken = token

	return trigger
}
