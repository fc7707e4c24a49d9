// Package engine drives contact enrollments through automation step trees:
// admission, trigger dispatch, step execution and the polling scheduler.
package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/flowlane/flowlane/pkg/models"
	"github.com/flowlane/flowlane/pkg/persistence"
)

// Audit appends immutable log rows for every meaningful transition. A
// failed audit write is logged and swallowed: the audit trail is for
// observability and must not abort enrollment processing.
type Audit struct {
	logs   persistence.LogRepository
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewAudit(logs persistence.LogRepository, clock clockwork.Clock, logger *slog.Logger) *Audit {
	return &Audit{
		logs:   logs,
		clock:  clock,
		logger: logger.With("module", "audit"),
	}
}

// Record fills in the row id and timestamp and appends the entry.
func (a *Audit) Record(ctx context.Context, entry *models.LogEntry) {
	if entry.ID == "" {
		if id, err := uuid.NewV7(); err == nil {
			entry.ID = id.String()
		}
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.clock.Now().UTC()
	}

	err := a.logs.Append(ctx, entry)
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to append audit entry",
			"action", entry.Action,
			"enrollment_id", entry.EnrollmentID,
			"error", err)
	}
}

// Step records a step-scoped entry for an enrollment.
func (a *Audit) Step(ctx context.Context, enrollment *models.Enrollment, stepID string, action models.LogAction, status models.LogStatus, message string, data map[string]any) {
	entry := &models.LogEntry{
		AutomationID: enrollment.AutomationID,
		EnrollmentID: enrollment.ID,
		ContactID:    enrollment.ContactID,
		Action:       action,
		Status:       status,
		Message:      message,
		Data:         data,
	}

	if stepID != "" {
		entry.StepID = &stepID
	}

	a.Record(ctx, entry)
}

// Lifecycle records an enrollment-scoped entry with no step attached.
func (a *Audit) Lifecycle(ctx context.Context, enrollment *models.Enrollment, action models.LogAction, status models.LogStatus, message string, data map[string]any) {
	a.Step(ctx, enrollment, "", action, status, message, data)
}
