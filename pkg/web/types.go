package web

import "github.com/flowlane/flowlane/pkg/models"

// SaveWorkflowRequest creates or updates an automation with its full step
// forest in one call.
type SaveWorkflowRequest struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"           validate:"required,min=3"`
	TriggerType      string         `json:"trigger_type"   validate:"required"`
	TriggerConfig    map[string]any `json:"trigger_config"`
	Status           string         `json:"status"`
	AllowReentry     bool           `json:"allow_reentry"`
	ReentryDelayDays *int           `json:"reentry_delay_days,omitempty"`
	ExitOnGoal       bool           `json:"exit_on_goal"`
	GoalConfig       map[string]any `json:"goal_config,omitempty"`

	Steps []SaveStepRequest `json:"steps" validate:"dive"`
}

// SaveStepRequest is one node of the submitted step forest.
type SaveStepRequest struct {
	ID           string         `json:"id"`
	Type         string         `json:"type" validate:"required"`
	Config       map[string]any `json:"config"`
	Position     int            `json:"position"`
	ParentStepID *string        `json:"parent_step_id,omitempty"`
	Branch       *string        `json:"branch,omitempty"`
}

// EnrollRequest enrolls a contact manually.
type EnrollRequest struct {
	ContactID string         `json:"contact_id" validate:"required"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// WebhookIngestRequest is the inbound webhook payload. ContactID names the
// contact the event concerns; the rest of the body rides along as payload.
type WebhookIngestRequest struct {
	ContactID string         `json:"contact_id" validate:"required"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func (r *SaveWorkflowRequest) toModels() (*models.Automation, []*models.AutomationStep) {
	a := &models.Automation{
		ID:               r.ID,
		Name:             r.Name,
		TriggerType:      models.TriggerType(r.TriggerType),
		TriggerConfig:    r.TriggerConfig,
		Status:           models.AutomationStatus(r.Status),
		AllowReentry:     r.AllowReentry,
		ReentryDelayDays: r.ReentryDelayDays,
		ExitOnGoal:       r.ExitOnGoal,
		GoalConfig:       r.GoalConfig,
	}

	steps := make([]*models.AutomationStep, 0, len(r.Steps))
	for _, s := range r.Steps {
		steps = append(steps, &models.AutomationStep{
			ID:           s.ID,
			Type:         models.StepType(s.Type),
			Config:       s.Config,
			Position:     s.Position,
			ParentStepID: s.ParentStepID,
			Branch:       s.Branch,
		})
	}

	return a, steps
}
