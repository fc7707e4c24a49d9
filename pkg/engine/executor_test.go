package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlane/flowlane/pkg/contact"
	"github.com/flowlane/flowlane/pkg/models"
	"github.com/flowlane/flowlane/pkg/persistence/memory"
	"github.com/flowlane/flowlane/pkg/protocol"
)

type fakeEmailSender struct {
	sent []protocol.EmailMessage
	err  error
}

func (f *fakeEmailSender) Send(ctx context.Context, message protocol.EmailMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	f.sent = append(f.sent, message)

	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

// fakeWebhookClient replays queued errors, then succeeds.
type fakeWebhookClient struct {
	calls int
	errs  []error
}

func (f *fakeWebhookClient) Call(ctx context.Context, url, method string, payload map[string]any) error {
	f.calls++

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]

		return err
	}

	return nil
}

type engineFixture struct {
	persistence *memory.Persistence
	contacts    *contact.MemoryProvider
	emails      *fakeEmailSender
	webhooks    *fakeWebhookClient
	clock       *clockwork.FakeClock
	audit       *Audit
	executor    *Executor
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClock()
	store := memory.NewPersistence()
	contacts := contact.NewMemoryProvider()
	emails := &fakeEmailSender{}
	webhooks := &fakeWebhookClient{}
	audit := NewAudit(store.Logs(), clock, logger)

	executor := NewExecutor(ExecutorConfig{
		Persistence:        store,
		Contacts:           contacts,
		Emails:             emails,
		Webhooks:           webhooks,
		Audit:              audit,
		Clock:              clock,
		Logger:             logger,
		MaxWebhookAttempts: 3,
	})

	return &engineFixture{
		persistence: store,
		contacts:    contacts,
		emails:      emails,
		webhooks:    webhooks,
		clock:       clock,
		audit:       audit,
		executor:    executor,
	}
}

func (f *engineFixture) seedAutomation(t *testing.T, automation *models.Automation, steps ...*models.AutomationStep) {
	t.Helper()

	require.NoError(t, f.persistence.Automations().Save(t.Context(), automation))
	require.NoError(t, f.persistence.Automations().ReplaceSteps(t.Context(), automation.ID, steps))
}

func (f *engineFixture) seedContact(id string, snapshot contact.Snapshot) {
	snapshot.ID = id
	f.contacts.Put(&snapshot)
}

func (f *engineFixture) enrollAt(t *testing.T, automationID, contactID, stepID string) *models.Enrollment {
	t.Helper()

	now := f.clock.Now().UTC()
	enrollment := &models.Enrollment{
		AutomationID:  automationID,
		ContactID:     contactID,
		Status:        models.EnrollmentStatusActive,
		CurrentStepID: &stepID,
		EnrolledAt:    now,
		NextActionAt:  &now,
	}
	require.NoError(t, f.persistence.Enrollments().Create(t.Context(), enrollment))

	return enrollment
}

func (f *engineFixture) reload(t *testing.T, enrollmentID string) *models.Enrollment {
	t.Helper()

	enrollment, err := f.persistence.Enrollments().ByID(t.Context(), enrollmentID)
	require.NoError(t, err)

	return enrollment
}

func (f *engineFixture) actions(t *testing.T, enrollmentID string) []models.LogAction {
	t.Helper()

	entries, err := f.persistence.Logs().ByEnrollment(t.Context(), enrollmentID)
	require.NoError(t, err)

	actions := make([]models.LogAction, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}

	return actions
}

func ptr[T any](v T) *T {
	return &v
}

func TestProcessAddTagStepCompletesLinearAutomation(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{Email: "ada@example.com"})
	f.seedAutomation(t,
		&models.Automation{ID: "auto-1", Name: "Welcome", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual},
		&models.AutomationStep{ID: "step-tag", AutomationID: "auto-1", Type: models.StepTypeAddTag, Config: map[string]any{"tag": "welcomed"}},
	)

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-tag")

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	snapshot, err := f.contacts.Snapshot(t.Context(), "contact-1")
	require.NoError(t, err)
	assert.True(t, snapshot.HasTag("welcomed"))

	stored := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusCompleted, stored.Status)
	assert.Nil(t, stored.CurrentStepID)
	assert.Nil(t, stored.NextActionAt)
	require.NotNil(t, stored.CompletedAt)
	require.Len(t, stored.StepHistory, 1)
	assert.Equal(t, "step-tag", stored.StepHistory[0].StepID)

	automation, err := f.persistence.Automations().ByID(t.Context(), "auto-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), automation.CurrentlyActive)
	assert.Equal(t, int64(1), automation.Completed)

	steps, err := f.persistence.Automations().Steps(t.Context(), "auto-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), steps[0].Completed)

	assert.Equal(t, []models.LogAction{
		models.LogActionStepStarted,
		models.LogActionTagAdded,
		models.LogActionStepCompleted,
		models.LogActionCompleted,
	}, f.actions(t, enrollment.ID))
}

func TestProcessAdvancesExactlyOneStepPerCall(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{Email: "ada@example.com"})
	f.seedAutomation(t,
		&models.Automation{ID: "auto-1", Name: "Two steps", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual},
		&models.AutomationStep{ID: "step-1", AutomationID: "auto-1", Type: models.StepTypeAddTag, Position: 0, Config: map[string]any{"tag": "first"}},
		&models.AutomationStep{ID: "step-2", AutomationID: "auto-1", Type: models.StepTypeAddTag, Position: 1, Config: map[string]any{"tag": "second"}},
	)

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-1")

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	stored := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusActive, stored.Status)
	require.NotNil(t, stored.CurrentStepID)
	assert.Equal(t, "step-2", *stored.CurrentStepID)

	snapshot, err := f.contacts.Snapshot(t.Context(), "contact-1")
	require.NoError(t, err)
	assert.True(t, snapshot.HasTag("first"))
	assert.False(t, snapshot.HasTag("second"))

	// The next step's entered counter is bumped on arrival.
	steps, err := f.persistence.Automations().Steps(t.Context(), "auto-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), steps[1].Entered)

	require.NoError(t, f.executor.Process(t.Context(), stored))
	assert.Equal(t, models.EnrollmentStatusCompleted, f.reload(t, enrollment.ID).Status)
}

func TestProcessConditionRoutesDownMatchingBranch(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{
		Email:        "ada@example.com",
		CustomFields: map[string]string{"plan": "pro"},
	})
	f.seedAutomation(t,
		&models.Automation{ID: "auto-1", Name: "Branching", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual},
		&models.AutomationStep{
			ID: "step-cond", AutomationID: "auto-1", Type: models.StepTypeCondition,
			Config: map[string]any{"kind": "field_value", "field": "plan", "operator": "equals", "value": "pro"},
		},
		&models.AutomationStep{
			ID: "step-yes", AutomationID: "auto-1", Type: models.StepTypeAddTag,
			ParentStepID: ptr("step-cond"), Branch: ptr(models.BranchYes),
			Config: map[string]any{"tag": "pro-track"},
		},
		&models.AutomationStep{
			ID: "step-no", AutomationID: "auto-1", Type: models.StepTypeAddTag,
			ParentStepID: ptr("step-cond"), Branch: ptr(models.BranchNo),
			Config: map[string]any{"tag": "basic-track"},
		},
	)

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-cond")

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	stored := f.reload(t, enrollment.ID)
	require.NotNil(t, stored.CurrentStepID)
	assert.Equal(t, "step-yes", *stored.CurrentStepID)

	require.NoError(t, f.executor.Process(t.Context(), stored))

	snapshot, err := f.contacts.Snapshot(t.Context(), "contact-1")
	require.NoError(t, err)
	assert.True(t, snapshot.HasTag("pro-track"))
	assert.False(t, snapshot.HasTag("basic-track"))

	// The yes branch is a leaf, so the journey ends there.
	assert.Equal(t, models.EnrollmentStatusCompleted, f.reload(t, enrollment.ID).Status)
	assert.Contains(t, f.actions(t, enrollment.ID), models.LogActionConditionEvaluated)
}

func TestProcessWaitSuspendsThenResumes(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{Email: "ada@example.com"})
	f.seedAutomation(t,
		&models.Automation{ID: "auto-1", Name: "Delayed", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual},
		&models.AutomationStep{
			ID: "step-wait", AutomationID: "auto-1", Type: models.StepTypeWait, Position: 0,
			Config: map[string]any{"wait_type": "duration", "duration_value": 5, "duration_unit": "minutes"},
		},
		&models.AutomationStep{
			ID: "step-tag", AutomationID: "auto-1", Type: models.StepTypeAddTag, Position: 1,
			Config: map[string]any{"tag": "after-wait"},
		},
	)

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-wait")
	before := f.clock.Now().UTC()

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	stored := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusWaiting, stored.Status)
	require.NotNil(t, stored.NextActionAt)
	assert.Equal(t, before.Add(5*time.Minute), *stored.NextActionAt)
	assert.False(t, stored.Due(before))
	assert.True(t, stored.Due(before.Add(5*time.Minute)))

	f.clock.Advance(6 * time.Minute)

	require.NoError(t, f.executor.Process(t.Context(), stored))

	stored = f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusActive, stored.Status)
	require.NotNil(t, stored.CurrentStepID)
	assert.Equal(t, "step-tag", *stored.CurrentStepID)
	assert.Contains(t, f.actions(t, enrollment.ID), models.LogActionWaitCompleted)
}

func TestWaitTargetDurationUnits(t *testing.T) {
	f := newEngineFixture(t)
	now := f.clock.Now().UTC()

	tests := []struct {
		name   string
		config map[string]any
		target time.Time
	}{
		{
			name:   "minutes",
			config: map[string]any{"wait_type": "duration", "duration_value": 30, "duration_unit": "minutes"},
			target: now.Add(30 * time.Minute),
		},
		{
			name:   "hours",
			config: map[string]any{"wait_type": "duration", "duration_value": 2, "duration_unit": "hours"},
			target: now.Add(2 * time.Hour),
		},
		{
			name:   "days",
			config: map[string]any{"wait_type": "duration", "duration_value": 1, "duration_unit": "days"},
			target: now.Add(24 * time.Hour),
		},
		{
			name:   "weeks",
			config: map[string]any{"wait_type": "duration", "duration_value": 1, "duration_unit": "weeks"},
			target: now.Add(7 * 24 * time.Hour),
		},
	}

	enrollment := &models.Enrollment{ID: "enr-1", ContactID: "contact-1"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := &models.AutomationStep{ID: "step-wait", Type: models.StepTypeWait, Config: tt.config}

			target, err := f.executor.waitTarget(t.Context(), enrollment, step)
			require.NoError(t, err)
			assert.Equal(t, tt.target, target)
		})
	}

	t.Run("unknown_unit", func(t *testing.T) {
		step := &models.AutomationStep{ID: "step-wait", Type: models.StepTypeWait,
			Config: map[string]any{"wait_type": "duration", "duration_value": 1, "duration_unit": "fortnights"}}

		_, err := f.executor.waitTarget(t.Context(), enrollment, step)
		require.Error(t, err)
	})
}

func TestWaitTargetUntilTimeRollsToTomorrow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewPersistence()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC))

	executor := NewExecutor(ExecutorConfig{
		Persistence: store,
		Contacts:    contact.NewMemoryProvider(),
		Emails:      &fakeEmailSender{},
		Webhooks:    &fakeWebhookClient{},
		Audit:       NewAudit(store.Logs(), clock, logger),
		Clock:       clock,
		Logger:      logger,
	})

	enrollment := &models.Enrollment{ID: "enr-1", ContactID: "contact-1"}

	tests := []struct {
		name   string
		at     string
		target time.Time
	}{
		{
			name:   "later_today",
			at:     "16:30",
			target: time.Date(2026, 3, 1, 16, 30, 0, 0, time.UTC),
		},
		{
			name:   "already_passed_rolls_to_tomorrow",
			at:     "09:00",
			target: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		},
		{
			name:   "exactly_now_rolls_to_tomorrow",
			at:     "14:00",
			target: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := &models.AutomationStep{ID: "step-wait", Type: models.StepTypeWait,
				Config: map[string]any{"wait_type": "until_time", "time": tt.at}}

			target, err := executor.waitTarget(t.Context(), enrollment, step)
			require.NoError(t, err)
			assert.Equal(t, tt.target, target)
		})
	}
}

func TestProcessWaitUntilDateWithUnresolvableFieldSkips(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{Email: "ada@example.com"})
	f.seedAutomation(t,
		&models.Automation{ID: "auto-1", Name: "Renewal", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual},
		&models.AutomationStep{
			ID: "step-wait", AutomationID: "auto-1", Type: models.StepTypeWait,
			Config: map[string]any{"wait_type": "until_date", "field": "renewal_date"},
		},
	)

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-wait")

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	// The contact has no renewal_date, so the wait passes through.
	assert.Equal(t, models.EnrollmentStatusCompleted, f.reload(t, enrollment.ID).Status)

	entries, err := f.persistence.Logs().ByEnrollment(t.Context(), enrollment.ID)
	require.NoError(t, err)

	var skipped bool

	for _, entry := range entries {
		if entry.Action == models.LogActionWaitStarted && entry.Status == models.LogStatusSkipped {
			skipped = true
		}
	}

	assert.True(t, skipped)
}

func TestProcessWebhookRetriesTransientFailuresWithBackoff(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{Email: "ada@example.com"})
	f.seedAutomation(t,
		&models.Automation{ID: "auto-1", Name: "Notify", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual},
		&models.AutomationStep{
			ID: "step-hook", AutomationID: "auto-1", Type: models.StepTypeWebhook,
			Config: map[string]any{"url": "https://example.com/hook"},
		},
	)

	f.webhooks.errs = []error{
		&protocol.WebhookError{StatusCode: http.StatusInternalServerError},
		&protocol.WebhookError{StatusCode: http.StatusInternalServerError},
		&protocol.WebhookError{StatusCode: http.StatusInternalServerError},
	}

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-hook")

	// First attempt: transient failure, retry in one minute.
	start := f.clock.Now().UTC()
	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	stored := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusWaiting, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.NextActionAt)
	assert.Equal(t, start.Add(time.Minute), *stored.NextActionAt)

	// Second attempt: delay doubles.
	f.clock.Advance(time.Minute)
	second := f.clock.Now().UTC()
	require.NoError(t, f.executor.Process(t.Context(), stored))

	stored = f.reload(t, enrollment.ID)
	assert.Equal(t, 2, stored.Attempts)
	require.NotNil(t, stored.NextActionAt)
	assert.Equal(t, second.Add(2*time.Minute), *stored.NextActionAt)

	// Third attempt exhausts the budget.
	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.executor.Process(t.Context(), stored))

	stored = f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusFailed, stored.Status)
	require.NotNil(t, stored.ExitReason)
	assert.Equal(t, models.ExitReasonError, *stored.ExitReason)
	assert.Equal(t, 3, f.webhooks.calls)

	steps, err := f.persistence.Automations().Steps(t.Context(), "auto-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), steps[0].Failed)
	assert.Contains(t, f.actions(t, enrollment.ID), models.LogActionFailed)
}

func TestProcessWebhookPermanentFailureFailsImmediately(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{Email: "ada@example.com"})
	f.seedAutomation(t,
		&models.Automation{ID: "auto-1", Name: "Notify", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual},
		&models.AutomationStep{
			ID: "step-hook", AutomationID: "auto-1", Type: models.StepTypeWebhook,
			Config: map[string]any{"url": "https://example.com/hook"},
		},
	)

	f.webhooks.errs = []error{&protocol.WebhookError{StatusCode: http.StatusNotFound}}

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-hook")

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	stored := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusFailed, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
	assert.Equal(t, 1, f.webhooks.calls)
}

func TestProcessWebhookSucceedsAfterRetry(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{Email: "ada@example.com"})
	f.seedAutomation(t,
		&models.Automation{ID: "auto-1", Name: "Notify", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual},
		&models.AutomationStep{
			ID: "step-hook", AutomationID: "auto-1", Type: models.StepTypeWebhook,
			Config: map[string]any{"url": "https://example.com/hook"},
		},
	)

	f.webhooks.errs = []error{&protocol.WebhookError{StatusCode: http.StatusServiceUnavailable}}

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-hook")

	require.NoError(t, f.executor.Process(t.Context(), enrollment))
	assert.Equal(t, models.EnrollmentStatusWaiting, f.reload(t, enrollment.ID).Status)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.executor.Process(t.Context(), f.reload(t, enrollment.ID)))

	stored := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusCompleted, stored.Status)
	assert.Equal(t, 2, f.webhooks.calls)
	assert.Contains(t, f.actions(t, enrollment.ID), models.LogActionWebhookCalled)
}

func TestProcessSendEmailRendersTemplatesAndRecordsRef(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{
		Email:      "ada@example.com",
		Attributes: map[string]string{"first_name": "Ada"},
	})
	f.seedAutomation(t,
		&models.Automation{ID: "auto-1", Name: "Newsletter", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual},
		&models.AutomationStep{
			ID: "step-email", AutomationID: "auto-1", Type: models.StepTypeSendEmail,
			Config: map[string]any{"subject": "Hello {{.contact.first_name}}", "body": "Welcome aboard"},
		},
	)

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-email")

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	require.Len(t, f.emails.sent, 1)
	assert.Equal(t, "ada@example.com", f.emails.sent[0].To)
	assert.Equal(t, "Hello Ada", f.emails.sent[0].Subject)

	steps, err := f.persistence.Automations().Steps(t.Context(), "auto-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), steps[0].EmailsSent)

	entries, err := f.persistence.Logs().ByEnrollment(t.Context(), enrollment.ID)
	require.NoError(t, err)

	var ref *string

	for _, entry := range entries {
		if entry.Action == models.LogActionEmailSent {
			ref = entry.EmailMessageRef
		}
	}

	require.NotNil(t, ref)
	assert.Equal(t, "msg-1", *ref)
}

func TestProcessUpdateFieldRendersValue(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{
		Email:        "ada@example.com",
		CustomFields: map[string]string{"plan": "pro"},
	})
	f.seedAutomation(t,
		&models.Automation{ID: "auto-1", Name: "Segmenter", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual},
		&models.AutomationStep{
			ID: "step-field", AutomationID: "auto-1", Type: models.StepTypeUpdateField,
			Config: map[string]any{"field": "segment", "value": "{{.contact.plan}}-tier"},
		},
	)

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-field")

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	snapshot, err := f.contacts.Snapshot(t.Context(), "contact-1")
	require.NoError(t, err)
	assert.Equal(t, "pro-tier", snapshot.FieldOrDefault("segment", ""))
}

func TestProcessGoalExitsWhenMetAndConfigured(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{Email: "ada@example.com", Tags: []string{"customer"}})
	f.seedAutomation(t,
		&models.Automation{
			ID: "auto-1", Name: "Nurture", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual,
			ExitOnGoal: true,
			GoalConfig: map[string]any{"kind": "has_tag", "tag": "customer"},
		},
		&models.AutomationStep{ID: "step-goal", AutomationID: "auto-1", Type: models.StepTypeGoal},
	)

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-goal")

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	stored := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusExited, stored.Status)
	require.NotNil(t, stored.ExitReason)
	assert.Equal(t, models.ExitReasonGoalReached, *stored.ExitReason)
	assert.Contains(t, f.actions(t, enrollment.ID), models.LogActionGoalReached)
}

func TestProcessGoalNotMetAdvances(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{Email: "ada@example.com"})
	f.seedAutomation(t,
		&models.Automation{
			ID: "auto-1", Name: "Nurture", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual,
			ExitOnGoal: true,
			GoalConfig: map[string]any{"kind": "has_tag", "tag": "customer"},
		},
		&models.AutomationStep{ID: "step-goal", AutomationID: "auto-1", Type: models.StepTypeGoal, Position: 0},
		&models.AutomationStep{ID: "step-tag", AutomationID: "auto-1", Type: models.StepTypeAddTag, Position: 1, Config: map[string]any{"tag": "still-nurturing"}},
	)

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-goal")

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	stored := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusActive, stored.Status)
	require.NotNil(t, stored.CurrentStepID)
	assert.Equal(t, "step-tag", *stored.CurrentStepID)
	assert.NotContains(t, f.actions(t, enrollment.ID), models.LogActionGoalReached)
}

func TestProcessGoalMetWithoutExitOnGoalRecordsAndAdvances(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{Email: "ada@example.com", Tags: []string{"customer"}})
	f.seedAutomation(t,
		&models.Automation{
			ID: "auto-1", Name: "Nurture", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual,
			GoalConfig: map[string]any{"kind": "has_tag", "tag": "customer"},
		},
		&models.AutomationStep{ID: "step-goal", AutomationID: "auto-1", Type: models.StepTypeGoal},
	)

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-goal")

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	stored := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusCompleted, stored.Status)
	assert.Contains(t, f.actions(t, enrollment.ID), models.LogActionGoalReached)
}

func TestProcessExitStepExitsEnrollment(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{Email: "ada@example.com"})
	f.seedAutomation(t,
		&models.Automation{ID: "auto-1", Name: "Short", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual},
		&models.AutomationStep{ID: "step-exit", AutomationID: "auto-1", Type: models.StepTypeExit},
	)

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-exit")

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	stored := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusExited, stored.Status)
	require.NotNil(t, stored.ExitReason)
	assert.Equal(t, models.ExitReasonExitStep, *stored.ExitReason)
}

func TestProcessArchivedAutomationExitsEnrollment(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{Email: "ada@example.com"})
	f.seedAutomation(t,
		&models.Automation{ID: "auto-1", Name: "Old", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual},
		&models.AutomationStep{ID: "step-tag", AutomationID: "auto-1", Type: models.StepTypeAddTag, Config: map[string]any{"tag": "never"}},
	)

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-tag")

	archived, err := f.persistence.Automations().ByID(t.Context(), "auto-1")
	require.NoError(t, err)
	archived.Status = models.AutomationStatusArchived
	require.NoError(t, f.persistence.Automations().Save(t.Context(), archived))

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	stored := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusExited, stored.Status)
	require.NotNil(t, stored.ExitReason)
	assert.Equal(t, models.ExitReasonAutomationArchived, *stored.ExitReason)

	snapshot, err := f.contacts.Snapshot(t.Context(), "contact-1")
	require.NoError(t, err)
	assert.False(t, snapshot.HasTag("never"))
}

func TestProcessUnresolvableStepCompletesWithSkippedAudit(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{Email: "ada@example.com"})
	f.seedAutomation(t,
		&models.Automation{ID: "auto-1", Name: "Broken", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual},
		&models.AutomationStep{ID: "step-tag", AutomationID: "auto-1", Type: models.StepTypeAddTag, Config: map[string]any{"tag": "x"}},
	)

	enrollment := f.enrollAt(t, "auto-1", "contact-1", "step-ghost")

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	stored := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusCompleted, stored.Status)

	entries, err := f.persistence.Logs().ByEnrollment(t.Context(), enrollment.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LogActionCompleted, entries[0].Action)
	assert.Equal(t, models.LogStatusSkipped, entries[0].Status)
}

func TestProcessTerminalEnrollmentIsNoOp(t *testing.T) {
	f := newEngineFixture(t)
	f.seedContact("contact-1", contact.Snapshot{Email: "ada@example.com"})
	f.seedAutomation(t,
		&models.Automation{ID: "auto-1", Name: "Done", Status: models.AutomationStatusActive, TriggerType: models.TriggerManual},
	)

	now := f.clock.Now().UTC()
	enrollment := &models.Enrollment{
		AutomationID: "auto-1",
		ContactID:    "contact-1",
		Status:       models.EnrollmentStatusCompleted,
		EnrolledAt:   now,
		CompletedAt:  &now,
	}
	require.NoError(t, f.persistence.Enrollments().Create(t.Context(), enrollment))

	require.NoError(t, f.executor.Process(t.Context(), enrollment))

	assert.Empty(t, f.actions(t, enrollment.ID))
}
