// Package web provides HTTP handlers and REST API endpoints for flow publishing and execution.
package web

import (
	"net/http"
	"time"

	"github.com/dukex/convoflow/pkg/dispatcher"
	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/flow"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	engine     *engine.Engine
	dispatcher *dispatcher.Dispatcher
	publisher  *flow.Publisher
	store      persistence.Persistence
	validator  *validator.Validate
	triggers   eventbus.TriggerPublisher
}

type HandlerOption func(*APIHandlers)

// WithTriggerQueue makes start, event and cancel requests enqueue a trigger
// for the workers and answer 202 instead of running in the request.
func WithTriggerQueue(publisher eventbus.TriggerPublisher) HandlerOption {
	return func(h *APIHandlers) {
		h.triggers = publisher
	}
}

func NewAPIHandlers(
	eng *engine.Engine,
	dispatch *dispatcher.Dispatcher,
	publisher *flow.Publisher,
	store persistence.Persistence,
	validator *validator.Validate,
	opts ...HandlerOption,
) *APIHandlers {
	handlers := &APIHandlers{
		engine:     eng,
		dispatcher: dispatch,
		publisher:  publisher,
		store:      store,
		validator:  validator,
	}

	for _, opt := range opts {
		opt(handlers)
	}

	return handlers
}

// Register mounts every endpoint on app.
func (h *APIHandlers) Register(app *fiber.App) {
	f := app.Group("/flows")
	f.Post("/", h.PublishFlow)
	f.Get("/:chatbotId", h.GetFlow)

	app.Post("/executions", h.StartExecution)

	c := app.Group("/conversations/:conversationId")
	c.Get("/execution", h.GetExecution)
	c.Post("/events", h.DispatchEvent)
	c.Post("/cancel", h.CancelExecution)

	app.Get("/health", h.HealthCheck)
	app.Get("/readyz", h.Ready)
}

func (h *APIHandlers) PublishFlow(c fiber.Ctx) error {
	var graph models.FlowGraph
	if err := c.Bind().JSON(&graph); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	published, err := h.publisher.Publish(c.Context(), &graph)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(published)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	chatbotID := c.Params("chatbotId")
	if chatbotID == "" {
		return badRequest(c, "Chatbot ID is required")
	}

	graph, err := h.engine.Flows().Latest(c.Context(), chatbotID)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(graph)
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if h.triggers != nil {
		return h.enqueue(c, req.trigger())
	}

	record, err := h.engine.Start(c.Context(), req.engineRequest())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(TransformExecutionResponse(record))
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	record, err := h.engine.State(c.Context(), c.Params("conversationId"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(TransformExecutionResponse(record))
}

func (h *APIHandlers) DispatchEvent(c fiber.Ctx) error {
	conversationID := c.Params("conversationId")

	var req ConversationEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if h.triggers != nil {
		return h.enqueue(c, req.trigger(conversationID))
	}

	outcome, err := h.dispatcher.Dispatch(c.Context(), conversationID, req.event())
	if err != nil {
		return handleError(c, err)
	}

	response := ConversationEventResponse{Outcome: outcome}

	if outcome != dispatcher.NoMatch {
		record, err := h.engine.State(c.Context(), conversationID)
		if err != nil {
			return handleError(c, err)
		}

		response.Execution = TransformExecutionResponse(record)
	}

	return c.JSON(response)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	conversationID := c.Params("conversationId")

	if h.triggers != nil {
		return h.enqueue(c, cancelTrigger(conversationID))
	}

	record, err := h.engine.Cancel(c.Context(), conversationID)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(TransformExecutionResponse(record))
}

func cancelTrigger(conversationID string) events.Trigger {
	return events.NewTrigger(events.TriggerCancel, conversationID)
}

func (h *APIHandlers) enqueue(c fiber.Ctx, trigger events.Trigger) error {
	err := h.triggers.Publish(c.Context(), trigger)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(EnqueuedResponse{
		TriggerID:      trigger.ID,
		ConversationID: trigger.ConversationID,
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Convoflow API is healthy"
	httpStatus := http.StatusOK
	repositoryCheck := "ok"

	if err := h.store.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Convoflow API is unhealthy"
		httpStatus = http.StatusInternalServerError
		repositoryCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// Ready reports whether the store is reachable.
func (h *APIHandlers) Ready(c fiber.Ctx) error {
	if err := h.store.HealthCheck(c.Context()); err != nil {
		return c.SendStatus(fiber.StatusServiceUnavailable)
	}

	return c.SendString("OK")
}
