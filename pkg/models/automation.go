// Package models defines the core domain models for the contact journey engine.
package models

import "time"

// AutomationStatus represents the lifecycle state of an automation.
type AutomationStatus string

const (
	AutomationStatusDraft    AutomationStatus = "draft"    // Editable, not enrolling
	AutomationStatusActive   AutomationStatus = "active"   // Enrolling and executing
	AutomationStatusPaused   AutomationStatus = "paused"   // Existing enrollments progress, admission closed
	AutomationStatusArchived AutomationStatus = "archived" // Terminal, enrollments force-exited
)

// IsValid checks if the automation status is valid.
func (s AutomationStatus) IsValid() bool {
	switch s {
	case AutomationStatusDraft, AutomationStatusActive, AutomationStatusPaused, AutomationStatusArchived:
		return true
	default:
		return false
	}
}

// TriggerType identifies the domain event kind that enrolls contacts.
type TriggerType string

const (
	TriggerListSubscription TriggerType = "list_subscription"
	TriggerTagAdded         TriggerType = "tag_added"
	TriggerTagRemoved       TriggerType = "tag_removed"
	TriggerEmailOpened      TriggerType = "email_opened"
	TriggerLinkClicked      TriggerType = "link_clicked"
	TriggerDateField        TriggerType = "date_field"
	TriggerInactivity       TriggerType = "inactivity"
	TriggerWebhook          TriggerType = "webhook"
	TriggerManual           TriggerType = "manual"
)

// IsValid checks if the trigger type is valid.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerListSubscription, TriggerTagAdded, TriggerTagRemoved,
		TriggerEmailOpened, TriggerLinkClicked, TriggerDateField,
		TriggerInactivity, TriggerWebhook, TriggerManual:
		return true
	default:
		return false
	}
}

// Automation is a workflow definition: a trigger, a step tree and enrollment policy.
type Automation struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"           validate:"required,min=3"`
	TriggerType   TriggerType    `json:"trigger_type"   validate:"required"`
	TriggerConfig map[string]any `json:"trigger_config"`
	Status        AutomationStatus `json:"status"       validate:"required"`

	AllowReentry     bool `json:"allow_reentry"`
	ReentryDelayDays *int `json:"reentry_delay_days,omitempty"`

	ExitOnGoal bool           `json:"exit_on_goal"`
	GoalConfig map[string]any `json:"goal_config,omitempty"`

	// Aggregate counters are eventually-consistent approximations of the
	// enrollment set, never negative.
	TotalEnrolled   int64 `json:"total_enrolled"`
	CurrentlyActive int64 `json:"currently_active"`
	Completed       int64 `json:"completed"`
	Exited          int64 `json:"exited"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the automation admits new enrollments.
func (a *Automation) IsActive() bool {
	return a.Status == AutomationStatusActive
}
