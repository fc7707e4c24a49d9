package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/flowlane/flowlane/pkg/eventbus"
	"github.com/flowlane/flowlane/pkg/events"
	"github.com/flowlane/flowlane/pkg/models"
	"github.com/flowlane/flowlane/pkg/persistence"
)

// ErrNotAdmitted reports that admission policy refused the enrollment:
// inactive automation, an existing live enrollment, or a re-entry rule.
var ErrNotAdmitted = errors.New("contact not admitted to automation")

// Admission gates and creates enrollments. The same policy serves the
// trigger dispatcher and the manual-enrollment entry point, so duplicate
// event delivery degrades to a refused admission rather than a double
// journey.
type Admission struct {
	persistence persistence.Persistence
	audit       *Audit
	bus         eventbus.EventPublisher
	clock       clockwork.Clock
	logger      *slog.Logger
}

func NewAdmission(p persistence.Persistence, audit *Audit, bus eventbus.EventPublisher, clock clockwork.Clock, logger *slog.Logger) *Admission {
	return &Admission{
		persistence: p,
		audit:       audit,
		bus:         bus,
		clock:       clock,
		logger:      logger.With("module", "admission"),
	}
}

// CanEnroll evaluates admission policy for (automation, contact).
func (a *Admission) CanEnroll(ctx context.Context, automation *models.Automation, contactID string) (bool, error) {
	if !automation.IsActive() {
		return false, nil
	}

	live, err := a.persistence.Enrollments().ActiveOrWaiting(ctx, automation.ID, contactID)
	if err != nil {
		return false, fmt.Errorf("failed to check live enrollment: %w", err)
	}

	if live != nil {
		return false, nil
	}

	if !automation.AllowReentry {
		completed, err := a.persistence.Enrollments().HasCompleted(ctx, automation.ID, contactID)
		if err != nil {
			return false, fmt.Errorf("failed to check completed enrollments: %w", err)
		}

		if completed {
			return false, nil
		}

		return true, nil
	}

	if automation.ReentryDelayDays != nil && *automation.ReentryDelayDays > 0 {
		latest, err := a.persistence.Enrollments().Latest(ctx, automation.ID, contactID)
		if err != nil {
			return false, fmt.Errorf("failed to check latest enrollment: %w", err)
		}

		if latest != nil {
			eligibleAt := latest.EnrolledAt.AddDate(0, 0, *automation.ReentryDelayDays)
			if a.clock.Now().UTC().Before(eligibleAt) {
				return false, nil
			}
		}
	}

	return true, nil
}

// Enroll admits the contact and creates the enrollment at the first root
// step. Stepless automations produce an immediately completed enrollment.
// Returns ErrNotAdmitted when policy refuses.
func (a *Admission) Enroll(ctx context.Context, automation *models.Automation, contactID string, metadata map[string]any) (*models.Enrollment, error) {
	allowed, err := a.CanEnroll(ctx, automation, contactID)
	if err != nil {
		return nil, err
	}

	if !allowed {
		return nil, ErrNotAdmitted
	}

	steps, err := a.persistence.Automations().Steps(ctx, automation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}

	tree := models.NewStepTree(steps)
	now := a.clock.Now().UTC()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate enrollment ID: %w", err)
	}

	enrollment := &models.Enrollment{
		ID:           id.String(),
		AutomationID: automation.ID,
		ContactID:    contactID,
		EnrolledAt:   now,
		Metadata:     metadata,
	}

	var root *models.AutomationStep

	if roots := tree.RootSteps(); len(roots) > 0 {
		root = roots[0]
		enrollment.Status = models.EnrollmentStatusActive
		enrollment.CurrentStepID = &root.ID
		enrollment.NextActionAt = &now
	} else {
		enrollment.Status = models.EnrollmentStatusCompleted
		enrollment.CompletedAt = &now
	}

	err = a.persistence.Enrollments().Create(ctx, enrollment)
	if err != nil {
		// A concurrent duplicate delivery lost the race on the live-enrollment
		// uniqueness constraint.
		if errors.Is(err, persistence.ErrEnrollmentExists) {
			return nil, ErrNotAdmitted
		}

		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	if root != nil {
		err = a.persistence.Automations().IncrementStepCounter(ctx, automation.ID, root.ID, models.StepCounterEntered)
		if err != nil {
			a.logger.WarnContext(ctx, "Failed to increment root step counter",
				"automation_id", automation.ID, "step_id", root.ID, "error", err)
		}
	}

	a.audit.Lifecycle(ctx, enrollment, models.LogActionEnrolled, models.LogStatusSuccess, "", metadata)

	if a.bus != nil {
		err = a.bus.Publish(ctx, contactID, events.EnrollmentCreated{
			BaseEvent:    events.NewBaseEvent(events.EnrollmentCreatedEvent, contactID),
			EnrollmentID: enrollment.ID,
			AutomationID: automation.ID,
		})
		if err != nil {
			a.logger.WarnContext(ctx, "Failed to publish enrollment created event",
				"enrollment_id", enrollment.ID, "error", err)
		}
	}

	a.logger.InfoContext(ctx, "Contact enrolled",
		"automation_id", automation.ID,
		"contact_id", contactID,
		"enrollment_id", enrollment.ID,
		"status", enrollment.Status)

	return enrollment, nil
}
