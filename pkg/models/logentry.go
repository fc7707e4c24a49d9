package models

import "time"

// LogAction enumerates the lifecycle and step transitions the engine records.
type LogAction string

const (
	LogActionEnrolled           LogAction = "enrolled"
	LogActionStepStarted        LogAction = "step_started"
	LogActionStepCompleted      LogAction = "step_completed"
	LogActionStepFailed         LogAction = "step_failed"
	LogActionConditionEvaluated LogAction = "condition_evaluated"
	LogActionEmailSent          LogAction = "email_sent"
	LogActionWaitStarted        LogAction = "wait_started"
	LogActionWaitCompleted      LogAction = "wait_completed"
	LogActionTagAdded           LogAction = "tag_added"
	LogActionTagRemoved         LogAction = "tag_removed"
	LogActionListAdded          LogAction = "list_added"
	LogActionListRemoved        LogAction = "list_removed"
	LogActionFieldUpdated       LogAction = "field_updated"
	LogActionWebhookCalled      LogAction = "webhook_called"
	LogActionGoalReached        LogAction = "goal_reached"
	LogActionExited             LogAction = "exited"
	LogActionCompleted          LogAction = "completed"
	LogActionFailed             LogAction = "failed"
)

// LogStatus is the outcome recorded on an audit row.
type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
	LogStatusSkipped LogStatus = "skipped"
)

// LogEntry is an immutable audit record, one row per meaningful transition.
// The engine only appends; rows are never updated or deleted.
type LogEntry struct {
	ID           string         `json:"id"`
	AutomationID string         `json:"automation_id"`
	EnrollmentID string         `json:"enrollment_id"`
	StepID       *string        `json:"step_id,omitempty"`
	ContactID    string         `json:"contact_id"`
	Action       LogAction      `json:"action"`
	Status       LogStatus      `json:"status"`
	Message      string         `json:"message,omitempty"`
	Data         map[string]any `json:"data,omitempty"`

	// EmailMessageRef links the row to a sent-email record when present.
	EmailMessageRef *string `json:"email_message_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
