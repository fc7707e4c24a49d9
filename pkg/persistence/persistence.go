// Package persistence provides the data storage abstraction for automations,
// enrollments and the audit log.
package persistence

import (
	"context"
	"time"

	"github.com/flowlane/flowlane/pkg/models"
)

// TerminalDelta describes the aggregate counter adjustment applied to an
// automation together with an enrollment's terminal status write.
type TerminalDelta struct {
	Completed bool // completed counter; otherwise exited counts the row
}

// AutomationRepository stores workflow definitions and their step forests.
// Step-tree reads are served from loaded rows via models.StepTree; the
// repository only persists and fetches.
type AutomationRepository interface {
	All(ctx context.Context) ([]*models.Automation, error)
	ByID(ctx context.Context, id string) (*models.Automation, error)

	// ActiveByTriggerType returns automations with status=active and the
	// given trigger type, for dispatcher candidate selection.
	ActiveByTriggerType(ctx context.Context, trigger models.TriggerType) ([]*models.Automation, error)

	Save(ctx context.Context, automation *models.Automation) error

	Steps(ctx context.Context, automationID string) ([]*models.AutomationStep, error)

	// ReplaceSteps swaps an automation's step forest wholesale. The forest
	// must already have passed models.ValidateForest.
	ReplaceSteps(ctx context.Context, automationID string, steps []*models.AutomationStep) error

	// IncrementStepCounter bumps a per-step counter. Step counters are
	// eventually consistent; a lost increment is acceptable.
	IncrementStepCounter(ctx context.Context, automationID, stepID string, counter models.StepCounter) error
}

// EnrollmentRepository stores per-contact enrollment instances.
type EnrollmentRepository interface {
	ByID(ctx context.Context, id string) (*models.Enrollment, error)

	// Create inserts the enrollment and adjusts the automation's
	// total_enrolled and currently_active (or completed, for enrollments
	// born terminal) counters in the same transaction.
	Create(ctx context.Context, enrollment *models.Enrollment) error

	// Update persists a non-terminal state change (advance, wait, retry).
	Update(ctx context.Context, enrollment *models.Enrollment) error

	// Finish persists a terminal status write and adjusts the automation's
	// currently_active plus the matching terminal counter atomically.
	Finish(ctx context.Context, enrollment *models.Enrollment, delta TerminalDelta) error

	// ActiveOrWaiting returns the live enrollment for (automation, contact),
	// or nil when none exists.
	ActiveOrWaiting(ctx context.Context, automationID, contactID string) (*models.Enrollment, error)

	// Latest returns the most recently enrolled instance for
	// (automation, contact), or nil.
	Latest(ctx context.Context, automationID, contactID string) (*models.Enrollment, error)

	HasCompleted(ctx context.Context, automationID, contactID string) (bool, error)

	// Due returns enrollments eligible for advancement: status active or
	// waiting with next_action_at <= now.
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error)

	// Claim atomically leases a due enrollment by pushing next_action_at to
	// the lease horizon iff it is still due. False means another worker won.
	Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error)

	// LiveByAutomation returns active and waiting enrollments of one
	// automation, for archive force-exit.
	LiveByAutomation(ctx context.Context, automationID string) ([]*models.Enrollment, error)
}

// LogRepository is the append-only audit log store.
type LogRepository interface {
	Append(ctx context.Context, entry *models.LogEntry) error
	ByEnrollment(ctx context.Context, enrollmentID string) ([]*models.LogEntry, error)
}

// Persistence aggregates the repositories behind one backend.
type Persistence interface {
	Automations() AutomationRepository
	Enrollments() EnrollmentRepository
	Logs() LogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
