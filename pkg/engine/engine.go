// Package engine drives execution records through their flow graph, one
// conversation at a time, persisting after every node step.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dukex/convoflow/pkg/interpreter"
	"github.com/dukex/convoflow/pkg/lock"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxSteps      = 100
	DefaultLockTTL       = 30 * time.Second
	DefaultActionTimeout = 10 * time.Second
)

type Config struct {
	// MaxSteps bounds node steps per invocation unless the flow overrides it.
	MaxSteps      int
	LockTTL       time.Duration
	ActionTimeout time.Duration
	// Owner prefixes lease owner tokens, typically the worker id.
	Owner string
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}

	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}

	if c.ActionTimeout <= 0 {
		c.ActionTimeout = DefaultActionTimeout
	}

	if c.Owner == "" {
		c.Owner = "convoflow"
	}

	return c
}

// StartRequest starts a chatbot's flow for a conversation.
type StartRequest struct {
	ChatbotID      string         `json:"chatbot_id"      validate:"required"`
	ConversationID string         `json:"conversation_id" validate:"required"`
	ContactID      string         `json:"contact_id"      validate:"required"`
	TenantID       string         `json:"tenant_id"       validate:"required"`
	ChannelID      string         `json:"channel_id"`
	Variables      map[string]any `json:"variables"`
	// Restart replaces a completed or failed execution with a fresh one.
	Restart bool `json:"restart"`
}

type Engine struct {
	config      Config
	flows       *FlowCache
	executions  persistence.ExecutionRepository
	locker      lock.Locker
	interpreter *interpreter.Interpreter
	sender      MessageSender
	actions     ActionCaller
	timer       Timer
	clock       clockwork.Clock
	tracer      trace.Tracer
	validate    *validator.Validate
	logger      *slog.Logger
}

type Option func(*Engine)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithFlowCache shares a flow cache between the engine and other components.
func WithFlowCache(cache *FlowCache) Option {
	return func(e *Engine) {
		e.flows = cache
	}
}

// New creates an engine. timer may be nil, in which case due executions are
// only recovered by a store sweeper.
func New(
	config Config,
	store persistence.Persistence,
	locker lock.Locker,
	sender MessageSender,
	actions ActionCaller,
	timer Timer,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	engine := &Engine{
		config:      config.withDefaults(),
		flows:       NewFlowCache(store.FlowRepository()),
		executions:  store.ExecutionRepository(),
		locker:      locker,
		interpreter: interpreter.New(),
		sender:      sender,
		actions:     actions,
		timer:       timer,
		clock:       clockwork.NewRealClock(),
		tracer:      otel.Tracer("convoflow/engine"),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "engine"),
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

func (e *Engine) Flows() *FlowCache {
	return e.flows
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// Start creates the conversation's execution and steps it until it blocks or
// ends. An existing running record is recovered; a blocked one is returned
// unchanged, as is a terminal one unless req.Restart is set.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*models.ExecutionRecord, error) {
	err := e.validate.Struct(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.start",
		attribute.String(otelhelper.ChatbotIDKey, req.ChatbotID),
		attribute.String(otelhelper.ConversationIDKey, req.ConversationID),
	)
	defer span.End()

	var record *models.ExecutionRecord

	err = e.WithLock(ctx, req.ChatbotID, req.ConversationID, func(ctx context.Context) error {
		var err error

		record, err = e.start(ctx, req)

		return err
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return record, err
	}

	return record, nil
}

func (e *Engine) start(ctx context.Context, req StartRequest) (*models.ExecutionRecord, error) {
	logger := e.logger.With("chatbot_id", req.ChatbotID, "conversation_id", req.ConversationID)

	existing, err := e.executions.Get(ctx, req.ChatbotID, req.ConversationID)
	if err != nil && !persistence.IsExecutionNotFound(err) {
		return nil, persistenceError("load", err)
	}

	if existing != nil {
		switch {
		case existing.Status == models.ExecutionStatusRunning:
			logger.InfoContext(ctx, "Recovering running execution", "execution_id", existing.ID)

			return e.resume(ctx, existing)
		case existing.Status.IsBlocked():
			return existing, nil
		case !req.Restart:
			return existing, nil
		}
	}

	graph, err := e.flows.Latest(ctx, req.ChatbotID)
	if err != nil {
		return nil, flowError(err)
	}

	if graph.TenantID != req.TenantID {
		return nil, fmt.Errorf("%w: chatbot %s does not belong to tenant %s", ErrInvalidRequest, req.ChatbotID, req.TenantID)
	}

	record := e.newRecord(req, graph)

	if existing != nil {
		logger.InfoContext(ctx, "Restarting execution", "previous_execution_id", existing.ID, "previous_status", existing.Status)

		err = e.executions.Save(ctx, record)
		if err != nil {
			return nil, persistenceError("save", err)
		}
	} else {
		err = e.executions.Create(ctx, record)
		if persistence.IsExecutionAlreadyExists(err) {
			logger.WarnContext(ctx, "Execution created concurrently, reloading")

			current, err := e.executions.Get(ctx, req.ChatbotID, req.ConversationID)
			if err != nil {
				return nil, persistenceError("load", err)
			}

			if current.Status == models.ExecutionStatusRunning {
				return e.resume(ctx, current)
			}

			return current, nil
		}

		if err != nil {
			return nil, persistenceError("create", err)
		}
	}

	logger.InfoContext(ctx, "Execution started", "execution_id", record.ID, "flow_version", graph.Version)

	return e.Continue(ctx, record, graph)
}

func (e *Engine) newRecord(req StartRequest, graph *models.FlowGraph) *models.ExecutionRecord {
	now := e.now()

	variables := maps.Clone(req.Variables)
	if variables == nil {
		variables = map[string]any{}
	}

	record := &models.ExecutionRecord{
		ID:              uuid.New().String(),
		ChatbotID:       req.ChatbotID,
		ConversationID:  req.ConversationID,
		ContactID:       req.ContactID,
		TenantID:        req.TenantID,
		ChannelID:       req.ChannelID,
		FlowVersion:     graph.Version,
		Variables:       variables,
		MessageHistory:  []models.MessageEntry{},
		Status:          models.ExecutionStatusRunning,
		ProcessedEvents: []string{},
		StartedAt:       now,
		UpdatedAt:       now,
	}
	record.SetCurrentNode(graph.EntryNodeID)

	return record
}

// resume continues a running record on the flow version it started with.
func (e *Engine) resume(ctx context.Context, record *models.ExecutionRecord) (*models.ExecutionRecord, error) {
	graph, err := e.flows.Version(ctx, record.ChatbotID, record.FlowVersion)
	if err != nil {
		return record, flowError(err)
	}

	return e.Continue(ctx, record, graph)
}

// Cancel fails the conversation's newest execution with reason "cancelled".
// Terminal executions are returned unchanged.
func (e *Engine) Cancel(ctx context.Context, conversationID string) (*models.ExecutionRecord, error) {
	latest, err := e.State(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var record *models.ExecutionRecord

	err = e.WithLock(ctx, latest.ChatbotID, conversationID, func(ctx context.Context) error {
		current, err := e.executions.Get(ctx, latest.ChatbotID, conversationID)
		if err != nil {
			return persistenceError("load", err)
		}

		record = current

		if current.Status.IsTerminal() {
			return nil
		}

		err = e.Abort(ctx, current, ErrCancelled.Error())
		if err != nil {
			return err
		}

		e.logger.InfoContext(ctx, "Execution cancelled",
			"chatbot_id", current.ChatbotID,
			"conversation_id", conversationID,
			"execution_id", current.ID,
		)

		return nil
	})

	return record, err
}

// Abort fails record with reason and persists it. The caller must hold the
// conversation lease (see WithLock).
func (e *Engine) Abort(ctx context.Context, record *models.ExecutionRecord, reason string) error {
	record.Fail(e.now(), reason)

	return e.save(ctx, record)
}

// State returns the conversation's most recently updated execution.
func (e *Engine) State(ctx context.Context, conversationID string) (*models.ExecutionRecord, error) {
	record, err := e.executions.ByConversation(ctx, conversationID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, err
		}

		return nil, persistenceError("load", err)
	}

	return record, nil
}

func flowError(err error) error {
	if persistence.IsFlowNotFound(err) {
		return err
	}

	return persistenceError("load flow", err)
}
