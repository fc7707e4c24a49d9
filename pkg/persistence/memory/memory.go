// Package memory provides an in-memory persistence implementation for tests
// and local development. Claim uses the same compare-and-swap semantics as
// the PostgreSQL backend so scheduler behavior matches across stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowlane/flowlane/pkg/models"
	"github.com/flowlane/flowlane/pkg/persistence"
)

// Persistence is the in-memory store.
type Persistence struct {
	mu          sync.RWMutex
	automations map[string]*models.Automation
	steps       map[string][]*models.AutomationStep // keyed by automation id
	enrollments map[string]*models.Enrollment
	logs        []*models.LogEntry
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		automations: make(map[string]*models.Automation),
		steps:       make(map[string][]*models.AutomationStep),
		enrollments: make(map[string]*models.Enrollment),
	}
}

// Automations returns the automation repository.
func (p *Persistence) Automations() persistence.AutomationRepository {
	return &automationRepository{p: p}
}

// Enrollments returns the enrollment repository.
func (p *Persistence) Enrollments() persistence.EnrollmentRepository {
	return &enrollmentRepository{p: p}
}

// Logs returns the audit log repository.
func (p *Persistence) Logs() persistence.LogRepository {
	return &logRepository{p: p}
}

// HealthCheck always succeeds for the in-memory store.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (p *Persistence) Close(ctx context.Context) error {
	return nil
}

type automationRepository struct {
	p *Persistence
}

func (r *automationRepository) All(ctx context.Context) ([]*models.Automation, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	automations := make([]*models.Automation, 0, len(r.p.automations))
	for _, a := range r.p.automations {
		automations = append(automations, copyAutomation(a))
	}

	sort.Slice(automations, func(i, j int) bool {
		return automations[i].CreatedAt.Before(automations[j].CreatedAt)
	})

	return automations, nil
}

func (r *automationRepository) ByID(ctx context.Context, id string) (*models.Automation, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	automation, ok := r.p.automations[id]
	if !ok {
		return nil, persistence.NewAutomationError("ByID", id, persistence.ErrAutomationNotFound)
	}

	return copyAutomation(automation), nil
}

func (r *automationRepository) ActiveByTriggerType(ctx context.Context, trigger models.TriggerType) ([]*models.Automation, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var matched []*models.Automation

	for _, a := range r.p.automations {
		if a.Status == models.AutomationStatusActive && a.TriggerType == trigger {
			matched = append(matched, copyAutomation(a))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	return matched, nil
}

func (r *automationRepository) Save(ctx context.Context, automation *models.Automation) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	now := time.Now().UTC()

	if automation.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		automation.ID = id.String()
	}

	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	r.p.automations[automation.ID] = copyAutomation(automation)

	return nil
}

func (r *automationRepository) Steps(ctx context.Context, automationID string) ([]*models.AutomationStep, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	steps := make([]*models.AutomationStep, 0, len(r.p.steps[automationID]))
	for _, s := range r.p.steps[automationID] {
		steps = append(steps, copyStep(s))
	}

	return steps, nil
}

func (r *automationRepository) ReplaceSteps(ctx context.Context, automationID string, steps []*models.AutomationStep) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.automations[automationID]; !ok {
		return persistence.NewAutomationError("ReplaceSteps", automationID, persistence.ErrAutomationNotFound)
	}

	now := time.Now().UTC()
	stored := make([]*models.AutomationStep, 0, len(steps))

	for _, step := range steps {
		copied := copyStep(step)
		if copied.CreatedAt.IsZero() {
			copied.CreatedAt = now
		}

		copied.UpdatedAt = now
		stored = append(stored, copied)
	}

	r.p.steps[automationID] = stored

	return nil
}

func (r *automationRepository) IncrementStepCounter(ctx context.Context, automationID, stepID string, counter models.StepCounter) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	for _, step := range r.p.steps[automationID] {
		if step.ID != stepID {
			continue
		}

		switch counter {
		case models.StepCounterEntered:
			step.Entered++
		case models.StepCounterCompleted:
			step.Completed++
		case models.StepCounterFailed:
			step.Failed++
		case models.StepCounterEmailsSent:
			step.EmailsSent++
		}

		return nil
	}

	return persistence.NewAutomationError("IncrementStepCounter", automationID, persistence.ErrStepNotFound)
}

type enrollmentRepository struct {
	p *Persistence
}

func (r *enrollmentRepository) ByID(ctx context.Context, id string) (*models.Enrollment, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	enrollment, ok := r.p.enrollments[id]
	if !ok {
		return nil, persistence.NewEnrollmentError("ByID", id, persistence.ErrEnrollmentNotFound)
	}

	return copyEnrollment(enrollment), nil
}

func (r *enrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if enrollment.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		enrollment.ID = id.String()
	}

	automation, ok := r.p.automations[enrollment.AutomationID]
	if !ok {
		return persistence.NewAutomationError("Create", enrollment.AutomationID, persistence.ErrAutomationNotFound)
	}

	for _, existing := range r.p.enrollments {
		if existing.AutomationID == enrollment.AutomationID &&
			existing.ContactID == enrollment.ContactID &&
			!existing.IsTerminal() {
			return persistence.NewEnrollmentError("Create", enrollment.ID, persistence.ErrEnrollmentExists)
		}
	}

	automation.TotalEnrolled++

	switch enrollment.Status {
	case models.EnrollmentStatusCompleted:
		automation.Completed++
	case models.EnrollmentStatusExited, models.EnrollmentStatusFailed:
		automation.Exited++
	default:
		automation.CurrentlyActive++
	}

	r.p.enrollments[enrollment.ID] = copyEnrollment(enrollment)

	return nil
}

func (r *enrollmentRepository) Update(ctx context.Context, enrollment *models.Enrollment) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.enrollments[enrollment.ID]; !ok {
		return persistence.NewEnrollmentError("Update", enrollment.ID, persistence.ErrEnrollmentNotFound)
	}

	r.p.enrollments[enrollment.ID] = copyEnrollment(enrollment)

	return nil
}

func (r *enrollmentRepository) Finish(ctx context.Context, enrollment *models.Enrollment, delta persistence.TerminalDelta) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.enrollments[enrollment.ID]; !ok {
		return persistence.NewEnrollmentError("Finish", enrollment.ID, persistence.ErrEnrollmentNotFound)
	}

	automation, ok := r.p.automations[enrollment.AutomationID]
	if !ok {
		return persistence.NewAutomationError("Finish", enrollment.AutomationID, persistence.ErrAutomationNotFound)
	}

	if automation.CurrentlyActive > 0 {
		automation.CurrentlyActive--
	}

	if delta.Completed {
		automation.Completed++
	} else {
		automation.Exited++
	}

	r.p.enrollments[enrollment.ID] = copyEnrollment(enrollment)

	return nil
}

func (r *enrollmentRepository) ActiveOrWaiting(ctx context.Context, automationID, contactID string) (*models.Enrollment, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, e := range r.p.enrollments {
		if e.AutomationID == automationID && e.ContactID == contactID && !e.IsTerminal() {
			return copyEnrollment(e), nil
		}
	}

	return nil, nil
}

func (r *enrollmentRepository) Latest(ctx context.Context, automationID, contactID string) (*models.Enrollment, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var latest *models.Enrollment

	for _, e := range r.p.enrollments {
		if e.AutomationID != automationID || e.ContactID != contactID {
			continue
		}

		if latest == nil || e.EnrolledAt.After(latest.EnrolledAt) {
			latest = e
		}
	}

	if latest == nil {
		return nil, nil
	}

	return copyEnrollment(latest), nil
}

func (r *enrollmentRepository) HasCompleted(ctx context.Context, automationID, contactID string) (bool, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, e := range r.p.enrollments {
		if e.AutomationID == automationID && e.ContactID == contactID &&
			e.Status == models.EnrollmentStatusCompleted {
			return true, nil
		}
	}

	return false, nil
}

func (r *enrollmentRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var due []*models.Enrollment

	for _, e := range r.p.enrollments {
		if e.Due(now) {
			due = append(due, copyEnrollment(e))
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].EnrolledAt.Before(due[j].EnrolledAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (r *enrollmentRepository) Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	enrollment, ok := r.p.enrollments[id]
	if !ok {
		return false, persistence.NewEnrollmentError("Claim", id, persistence.ErrEnrollmentNotFound)
	}

	if !enrollment.Due(now) {
		return false, nil
	}

	lease := leaseUntil
	enrollment.NextActionAt = &lease

	return true, nil
}

func (r *enrollmentRepository) LiveByAutomation(ctx context.Context, automationID string) ([]*models.Enrollment, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var live []*models.Enrollment

	for _, e := range r.p.enrollments {
		if e.AutomationID == automationID && !e.IsTerminal() {
			live = append(live, copyEnrollment(e))
		}
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].EnrolledAt.Before(live[j].EnrolledAt)
	})

	return live, nil
}

type logRepository struct {
	p *Persistence
}

func (r *logRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		entry.ID = id.String()
	}

	copied := *entry
	r.p.logs = append(r.p.logs, &copied)

	return nil
}

func (r *logRepository) ByEnrollment(ctx context.Context, enrollmentID string) ([]*models.LogEntry, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var entries []*models.LogEntry

	for _, entry := range r.p.logs {
		if entry.EnrollmentID == enrollmentID {
			copied := *entry
			entries = append(entries, &copied)
		}
	}

	return entries, nil
}

func copyAutomation(a *models.Automation) *models.Automation {
	copied := *a

	if a.TriggerConfig != nil {
		copied.TriggerConfig = make(map[string]any, len(a.TriggerConfig))
		for k, v := range a.TriggerConfig {
			copied.TriggerConfig[k] = v
		}
	}

	if a.GoalConfig != nil {
		copied.GoalConfig = make(map[string]any, len(a.GoalConfig))
		for k, v := range a.GoalConfig {
			copied.GoalConfig[k] = v
		}
	}

	return &copied
}

func copyStep(s *models.AutomationStep) *models.AutomationStep {
	copied := *s

	if s.Config != nil {
		copied.Config = make(map[string]any, len(s.Config))
		for k, v := range s.Config {
			copied.Config[k] = v
		}
	}

	return &copied
}

func copyEnrollment(e *models.Enrollment) *models.Enrollment {
	copied := *e
	copied.StepHistory = append([]models.StepHistoryEntry(nil), e.StepHistory...)

	if e.Metadata != nil {
		copied.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			copied.Metadata[k] = v
		}
	}

	return &copied
}
