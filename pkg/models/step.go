package models

import "time"

// StepType is the closed set of step actions. The executor dispatches on it
// with an exhaustive switch, so adding a type is a compile-time-checked change.
type StepType string

const (
	StepTypeSendEmail      StepType = "send_email"
	StepTypeWait           StepType = "wait"
	StepTypeCondition      StepType = "condition"
	StepTypeAddTag         StepType = "add_tag"
	StepTypeRemoveTag      StepType = "remove_tag"
	StepTypeAddToList      StepType = "add_to_list"
	StepTypeRemoveFromList StepType = "remove_from_list"
	StepTypeUpdateField    StepType = "update_field"
	StepTypeWebhook        StepType = "webhook"
	StepTypeGoal           StepType = "goal"
	StepTypeExit           StepType = "exit"
)

// IsValid checks if the step type is valid.
func (t StepType) IsValid() bool {
	switch t {
	case StepTypeSendEmail, StepTypeWait, StepTypeCondition,
		StepTypeAddTag, StepTypeRemoveTag, StepTypeAddToList,
		StepTypeRemoveFromList, StepTypeUpdateField, StepTypeWebhook,
		StepTypeGoal, StepTypeExit:
		return true
	default:
		return false
	}
}

// Branch labels for children of a condition step.
const (
	BranchYes = "yes"
	BranchNo  = "no"
)

// AutomationStep is one node in an automation's step forest. Tree shape is
// carried by ParentStepID (nil marks a root) plus Position for sibling order;
// Branch is set only on children of a condition step.
type AutomationStep struct {
	ID           string         `json:"id"`
	AutomationID string         `json:"automation_id" validate:"required"`
	Type         StepType       `json:"type"          validate:"required"`
	Config       map[string]any `json:"config"`
	Position     int            `json:"position"`
	ParentStepID *string        `json:"parent_step_id,omitempty"`
	Branch       *string        `json:"branch,omitempty"`

	Entered    int64 `json:"entered"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	EmailsSent int64 `json:"emails_sent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRoot reports whether the step has no parent.
func (s *AutomationStep) IsRoot() bool {
	return s.ParentStepID == nil
}

// BranchLabel returns the branch label or "" when unset.
func (s *AutomationStep) BranchLabel() string {
	if s.Branch == nil {
		return ""
	}

	return *s.Branch
}

// StepCounter names a per-step counter column.
type StepCounter string

const (
	StepCounterEntered    StepCounter = "entered"
	StepCounterCompleted  StepCounter = "completed"
	StepCounterFailed     StepCounter = "failed"
	StepCounterEmailsSent StepCounter = "emails_sent"
)
