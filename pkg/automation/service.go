// Package automation is the authoring service: workflow persistence with
// validation, duplication and lifecycle transitions.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/flowlane/flowlane/pkg/engine"
	"github.com/flowlane/flowlane/pkg/models"
	"github.com/flowlane/flowlane/pkg/persistence"
)

var (
	// ErrAutomationNotFound is returned when an automation is not found.
	ErrAutomationNotFound = persistence.ErrAutomationNotFound

	// ErrInvalidTransition is returned for a status change the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid automation status transition")

	// ErrNoSteps is returned when activating an automation without steps.
	ErrNoSteps = errors.New("automation has no steps to activate")
)

// Service owns the authoring path. The executor never writes definitions;
// everything that mutates an automation or its step forest goes through
// here.
type Service struct {
	persistence persistence.Persistence
	validator   *validator.Validate
	audit       *engine.Audit
	clock       clockwork.Clock
	logger      *slog.Logger
}

func NewService(p persistence.Persistence, audit *engine.Audit, clock clockwork.Clock, logger *slog.Logger) *Service {
	return &Service{
		persistence: p,
		validator:   validator.New(),
		audit:       audit,
		clock:       clock,
		logger:      logger.With("module", "automation_service"),
	}
}

// HealthCheck reports persistence health for the service surface.
func (s *Service) HealthCheck(ctx context.Context) (string, bool) {
	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Get returns one automation.
func (s *Service) Get(ctx context.Context, id string) (*models.Automation, error) {
	return s.persistence.Automations().ByID(ctx, id)
}

// List returns all automations.
func (s *Service) List(ctx context.Context) ([]*models.Automation, error) {
	return s.persistence.Automations().All(ctx)
}

// Steps returns an automation's step forest ordered by position.
func (s *Service) Steps(ctx context.Context, automationID string) ([]*models.AutomationStep, error) {
	return s.persistence.Automations().Steps(ctx, automationID)
}

// SaveWorkflow validates and persists an automation together with a
// wholesale replacement of its step forest.
func (s *Service) SaveWorkflow(ctx context.Context, automation *models.Automation, steps []*models.AutomationStep) error {
	now := s.clock.Now().UTC()

	if automation.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate automation ID: %w", err)
		}

		automation.ID = id.String()
		automation.CreatedAt = now
	}

	if automation.Status == "" {
		automation.Status = models.AutomationStatusDraft
	}

	if !automation.Status.IsValid() {
		return fmt.Errorf("invalid automation status %q", automation.Status)
	}

	if !automation.TriggerType.IsValid() {
		return fmt.Errorf("invalid trigger type %q", automation.TriggerType)
	}

	automation.UpdatedAt = now

	err := s.validator.Struct(automation)
	if err != nil {
		return fmt.Errorf("automation failed validation: %w", err)
	}

	for _, step := range steps {
		if step.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate step ID: %w", err)
			}

			step.ID = id.String()
			step.CreatedAt = now
		}

		step.AutomationID = automation.ID
		step.UpdatedAt = now
	}

	err = models.ValidateForest(automation.ID, steps)
	if err != nil {
		return fmt.Errorf("step forest failed validation: %w", err)
	}

	for _, step := range steps {
		err = validateStepConfig(step)
		if err != nil {
			return err
		}
	}

	err = s.persistence.Automations().Save(ctx, automation)
	if err != nil {
		return fmt.Errorf("failed to save automation: %w", err)
	}

	err = s.persistence.Automations().ReplaceSteps(ctx, automation.ID, steps)
	if err != nil {
		return fmt.Errorf("failed to save steps: %w", err)
	}

	s.logger.InfoContext(ctx, "Workflow saved",
		"automation_id", automation.ID,
		"steps", len(steps),
		"status", automation.Status)

	return nil
}

// Duplicate copies an automation and its step forest into a new draft with
// fresh identities and zero counters.
func (s *Service) Duplicate(ctx context.Context, id string) (*models.Automation, error) {
	source, err := s.persistence.Automations().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	steps, err := s.persistence.Automations().Steps(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()

	newID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate automation ID: %w", err)
	}

	copied := &models.Automation{
		ID:               newID.String(),
		Name:             source.Name + " (copy)",
		TriggerType:      source.TriggerType,
		TriggerConfig:    copyConfig(source.TriggerConfig),
		Status:           models.AutomationStatusDraft,
		AllowReentry:     source.AllowReentry,
		ReentryDelayDays: source.ReentryDelayDays,
		ExitOnGoal:       source.ExitOnGoal,
		GoalConfig:       copyConfig(source.GoalConfig),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// Remap step ids so the copy's tree is fully independent.
	idMap := make(map[string]string, len(steps))

	for _, step := range steps {
		stepID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate step ID: %w", err)
		}

		idMap[step.ID] = stepID.String()
	}

	copiedSteps := make([]*models.AutomationStep, 0, len(steps))

	for _, step := range steps {
		copiedStep := &models.AutomationStep{
			ID:           idMap[step.ID],
			AutomationID: copied.ID,
			Type:         step.Type,
			Config:       copyConfig(step.Config),
			Position:     step.Position,
			Branch:       step.Branch,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if step.ParentStepID != nil {
			parentID := idMap[*step.ParentStepID]
			copiedStep.ParentStepID = &parentID
		}

		copiedSteps = append(copiedSteps, copiedStep)
	}

	err = s.persistence.Automations().Save(ctx, copied)
	if err != nil {
		return nil, fmt.Errorf("failed to save duplicated automation: %w", err)
	}

	err = s.persistence.Automations().ReplaceSteps(ctx, copied.ID, copiedSteps)
	if err != nil {
		return nil, fmt.Errorf("failed to save duplicated steps: %w", err)
	}

	s.logger.InfoContext(ctx, "Automation duplicated",
		"source_id", source.ID,
		"automation_id", copied.ID,
		"steps", len(copiedSteps))

	return copied, nil
}

// Activate flips a draft or paused automation to active. Requires at least
// one step.
func (s *Service) Activate(ctx context.Context, id string) (*models.Automation, error) {
	automation, err := s.persistence.Automations().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if automation.Status != models.AutomationStatusDraft && automation.Status != models.AutomationStatusPaused {
		return nil, fmt.Errorf("%w: %s -> active", ErrInvalidTransition, automation.Status)
	}

	steps, err := s.persistence.Automations().Steps(ctx, id)
	if err != nil {
		return nil, err
	}

	if !models.NewStepTree(steps).CanActivate() {
		return nil, ErrNoSteps
	}

	automation.Status = models.AutomationStatusActive
	automation.UpdatedAt = s.clock.Now().UTC()

	err = s.persistence.Automations().Save(ctx, automation)
	if err != nil {
		return nil, fmt.Errorf("failed to activate automation: %w", err)
	}

	s.logger.InfoContext(ctx, "Automation activated", "automation_id", id)

	return automation, nil
}

// Pause closes admission while existing enrollments keep progressing.
func (s *Service) Pause(ctx context.Context, id string) (*models.Automation, error) {
	automation, err := s.persistence.Automations().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if automation.Status != models.AutomationStatusActive {
		return nil, fmt.Errorf("%w: %s -> paused", ErrInvalidTransition, automation.Status)
	}

	automation.Status = models.AutomationStatusPaused
	automation.UpdatedAt = s.clock.Now().UTC()

	err = s.persistence.Automations().Save(ctx, automation)
	if err != nil {
		return nil, fmt.Errorf("failed to pause automation: %w", err)
	}

	s.logger.InfoContext(ctx, "Automation paused", "automation_id", id)

	return automation, nil
}

// Archive force-exits every live enrollment and flips the automation to
// archived. Archived is terminal.
func (s *Service) Archive(ctx context.Context, id string) (*models.Automation, error) {
	automation, err := s.persistence.Automations().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if automation.Status == models.AutomationStatusArchived {
		return automation, nil
	}

	live, err := s.persistence.Enrollments().LiveByAutomation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load live enrollments: %w", err)
	}

	now := s.clock.Now().UTC()
	reason := models.ExitReasonAutomationArchived

	for _, enrollment := range live {
		enrollment.Status = models.EnrollmentStatusExited
		enrollment.CurrentStepID = nil
		enrollment.NextActionAt = nil
		enrollment.ExitedAt = &now
		enrollment.ExitReason = &reason

		err = s.persistence.Enrollments().Finish(ctx, enrollment, persistence.TerminalDelta{})
		if err != nil {
			return nil, fmt.Errorf("failed to exit enrollment %s: %w", enrollment.ID, err)
		}

		s.audit.Lifecycle(ctx, enrollment, models.LogActionExited, models.LogStatusSuccess, "",
			map[string]any{"exit_reason": reason})
	}

	automation.Status = models.AutomationStatusArchived
	automation.UpdatedAt = now

	err = s.persistence.Automations().Save(ctx, automation)
	if err != nil {
		return nil, fmt.Errorf("failed to archive automation: %w", err)
	}

	s.logger.InfoContext(ctx, "Automation archived",
		"automation_id", id,
		"exited_enrollments", len(live))

	return automation, nil
}

func copyConfig(config map[string]any) map[string]any {
	if config == nil {
		return nil
	}

	copied := make(map[string]any, len(config))
	for k, v := range config {
		copied[k] = v
	}

	return copied
}
