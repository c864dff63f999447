package web

import (
	"errors"

	"github.com/dukex/convoflow/pkg/dispatcher"
	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/flow"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleError maps engine, dispatcher and persistence errors to problems.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case flow.IsValidationError(err),
		errors.Is(err, engine.ErrInvalidRequest),
		errors.Is(err, dispatcher.ErrInvalidEvent):
		return badRequest(c, err.Error())

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution_not_found", "execution not found")

	case persistence.IsFlowNotFound(err):
		return notFound(c, "flow_not_found", "flow not found")

	case engine.IsConcurrencyConflict(err),
		errors.Is(err, persistence.ErrFlowVersionExists):
		return conflict(c, err.Error())

	default:
		return internalError(c, err)
	}
}
