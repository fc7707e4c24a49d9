// Package web exposes the HTTP surface: automation authoring, manual
// enrollment, webhook ingest and health.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/flowlane/flowlane/pkg/automation"
	"github.com/flowlane/flowlane/pkg/engine"
	"github.com/flowlane/flowlane/pkg/eventbus"
	"github.com/flowlane/flowlane/pkg/events"
	"github.com/flowlane/flowlane/pkg/models"
	"github.com/flowlane/flowlane/pkg/persistence"
)

type APIHandlers struct {
	service     *automation.Service
	admission   *engine.Admission
	persistence persistence.Persistence
	bus         eventbus.EventPublisher
	validator   *validator.Validate
}

func NewAPIHandlers(
	service *automation.Service,
	admission *engine.Admission,
	p persistence.Persistence,
	bus eventbus.EventPublisher,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		service:     service,
		admission:   admission,
		persistence: p,
		bus:         bus,
		validator:   validator,
	}
}

// RegisterRoutes mounts all endpoints under /v1.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	v1 := app.Group("/v1")

	v1.Get("/health", h.HealthCheck)

	v1.Get("/automations", h.GetAutomations)
	v1.Post("/automations", h.SaveWorkflow)
	v1.Get("/automations/:id", h.GetAutomation)
	v1.Post("/automations/:id/duplicate", h.DuplicateAutomation)
	v1.Post("/automations/:id/activate", h.ActivateAutomation)
	v1.Post("/automations/:id/pause", h.PauseAutomation)
	v1.Post("/automations/:id/archive", h.ArchiveAutomation)
	v1.Post("/automations/:id/enrollments", h.EnrollContact)

	v1.Get("/enrollments/:id/logs", h.GetEnrollmentLogs)

	v1.Post("/hooks/:automation_id", h.IngestWebhook)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	message, ok := h.service.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK

	if !ok {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetAutomations(c fiber.Ctx) error {
	automations, err := h.service.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"automations": automations})
}

func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	record, err := h.service.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	steps, err := h.service.Steps(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"automation": record, "steps": steps})
}

func (h *APIHandlers) SaveWorkflow(c fiber.Ctx) error {
	var req SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	record, steps := req.toModels()

	err := h.service.SaveWorkflow(c.Context(), record, steps)
	if err != nil {
		if persistence.IsAutomationNotFound(err) {
			return notFound(c, "Automation not found")
		}

		return badRequest(c, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"automation": record, "steps": steps})
}

func (h *APIHandlers) DuplicateAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	copied, err := h.service.Duplicate(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(copied)
}

func (h *APIHandlers) ActivateAutomation(c fiber.Ctx) error {
	return h.transition(c, h.service.Activate)
}

func (h *APIHandlers) PauseAutomation(c fiber.Ctx) error {
	return h.transition(c, h.service.Pause)
}

func (h *APIHandlers) ArchiveAutomation(c fiber.Ctx) error {
	return h.transition(c, h.service.Archive)
}

func (h *APIHandlers) transition(c fiber.Ctx, apply func(context.Context, string) (*models.Automation, error)) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	record, err := apply(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) EnrollContact(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var req EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	record, err := h.service.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	enrollment, err := h.admission.Enroll(c.Context(), record, req.ContactID, req.Metadata)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(enrollment)
}

func (h *APIHandlers) GetEnrollmentLogs(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	entries, err := h.persistence.Logs().ByEnrollment(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"logs": entries})
}

// IngestWebhook accepts an inbound webhook aimed at one automation's
// webhook trigger and publishes it onto the bus; the dispatcher enrolls
// asynchronously.
func (h *APIHandlers) IngestWebhook(c fiber.Ctx) error {
	automationID := c.Params("automation_id")
	if automationID == "" {
		return badRequest(c, "Automation ID is required")
	}

	var req WebhookIngestRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	record, err := h.service.Get(c.Context(), automationID)
	if err != nil {
		return handleServiceError(c, err)
	}

	if record.TriggerType != models.TriggerWebhook {
		return badRequest(c, "Automation does not have a webhook trigger")
	}

	event := events.WebhookReceived{
		BaseEvent:    events.NewBaseEvent(events.WebhookReceivedEvent, req.ContactID),
		AutomationID: automationID,
		Payload:      req.Payload,
	}

	err = h.bus.Publish(c.Context(), req.ContactID, event)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted":   true,
		"event_id":   event.ID,
		"event_type": event.Type,
	})
}
