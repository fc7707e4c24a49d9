package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/flowlane/flowlane/pkg/automation"
	"github.com/flowlane/flowlane/pkg/engine"
	"github.com/flowlane/flowlane/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
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

// handleServiceError maps authoring and admission errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsAutomationNotFound(err):
		return notFound(c, "Automation not found")

	case errors.Is(err, engine.ErrNotAdmitted):
		return conflict(c, "Contact was not admitted to the automation")

	case errors.Is(err, automation.ErrInvalidTransition),
		errors.Is(err, automation.ErrNoSteps):
		return conflict(c, err.Error())

	default:
		return internalError(c, err)
	}
}
