package models

import "time"

// EnrollmentStatus represents the state of a contact's journey through an automation.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusWaiting   EnrollmentStatus = "waiting"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusExited    EnrollmentStatus = "exited"
	EnrollmentStatusFailed    EnrollmentStatus = "failed"
)

// IsValid checks if the enrollment status is valid.
func (s EnrollmentStatus) IsValid() bool {
	switch s {
	case EnrollmentStatusActive, EnrollmentStatusWaiting,
		EnrollmentStatusCompleted, EnrollmentStatusExited, EnrollmentStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is final.
func (s EnrollmentStatus) IsTerminal() bool {
	switch s {
	case EnrollmentStatusCompleted, EnrollmentStatusExited, EnrollmentStatusFailed:
		return true
	default:
		return false
	}
}

// Exit reasons recorded on exited or failed enrollments.
const (
	ExitReasonGoalReached        = "goal_reached"
	ExitReasonExitStep           = "exit_step"
	ExitReasonError              = "error"
	ExitReasonAutomationArchived = "automation_archived"
)

// StepHistoryEntry records one finished step of an enrollment.
type StepHistoryEntry struct {
	StepID      string    `json:"step_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// Enrollment is one contact's live instance of an automation. It is created
// by the dispatcher or a manual enroll call, mutated only by the executor,
// and never deleted; terminal rows are retained for audit and analytics.
type Enrollment struct {
	ID           string           `json:"id"`
	AutomationID string           `json:"automation_id" validate:"required"`
	ContactID    string           `json:"contact_id"    validate:"required"`
	Status       EnrollmentStatus `json:"status"`

	// CurrentStepID is non-nil only while Status is active or waiting.
	CurrentStepID *string `json:"current_step_id,omitempty"`
	ExitReason    *string `json:"exit_reason,omitempty"`

	EnrolledAt   time.Time  `json:"enrolled_at"`
	NextActionAt *time.Time `json:"next_action_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ExitedAt     *time.Time `json:"exited_at,omitempty"`

	StepHistory []StepHistoryEntry `json:"step_history,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`

	// Attempts counts retries of the current step, reset on every advance.
	Attempts int `json:"attempts"`
}

// IsTerminal reports whether the enrollment reached a final state.
func (e *Enrollment) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// Due reports whether the enrollment is eligible for advancement at now.
// Active and waiting rows are due only once next_action_at has passed;
// claiming pushes next_action_at to the lease horizon, so a leased row is
// not due again until the lease expires.
func (e *Enrollment) Due(now time.Time) bool {
	switch e.Status {
	case EnrollmentStatusActive, EnrollmentStatusWaiting:
		return e.NextActionAt != nil && !e.NextActionAt.After(now)
	default:
		return false
	}
}
