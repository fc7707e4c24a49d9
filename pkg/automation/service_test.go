package automation

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlane/flowlane/pkg/engine"
	"github.com/flowlane/flowlane/pkg/models"
	"github.com/flowlane/flowlane/pkg/persistence/memory"
)

type serviceFixture struct {
	persistence *memory.Persistence
	service     *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClock()
	store := memory.NewPersistence()
	audit := engine.NewAudit(store.Logs(), clock, logger)

	return &serviceFixture{
		persistence: store,
		service:     NewService(store, audit, clock, logger),
	}
}

func ptr[T any](v T) *T {
	return &v
}

func validWorkflow() (*models.Automation, []*models.AutomationStep) {
	automation := &models.Automation{
		Name:          "Welcome Series",
		TriggerType:   models.TriggerListSubscription,
		TriggerConfig: map[string]any{"list_id": 7},
	}
	steps := []*models.AutomationStep{
		{Type: models.StepTypeAddTag, Position: 0, Config: map[string]any{"tag": "welcomed"}},
		{Type: models.StepTypeSendEmail, Position: 1, Config: map[string]any{"subject": "Hi", "body": "Welcome"}},
	}

	return automation, steps
}

func TestSaveWorkflowPersistsDraftWithGeneratedIDs(t *testing.T) {
	f := newServiceFixture(t)
	automation, steps := validWorkflow()

	require.NoError(t, f.service.SaveWorkflow(t.Context(), automation, steps))

	assert.NotEmpty(t, automation.ID)
	assert.Equal(t, models.AutomationStatusDraft, automation.Status)
	assert.False(t, automation.CreatedAt.IsZero())

	stored, err := f.service.Steps(t.Context(), automation.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	for _, step := range stored {
		assert.NotEmpty(t, step.ID)
		assert.Equal(t, automation.ID, step.AutomationID)
	}
}

func TestSaveWorkflowRejectsInvalidInput(t *testing.T) {
	f := newServiceFixture(t)

	tests := []struct {
		name  string
		setup func() (*models.Automation, []*models.AutomationStep)
	}{
		{
			name: "name too short",
			setup: func() (*models.Automation, []*models.AutomationStep) {
				automation, steps := validWorkflow()
				automation.Name = "ab"

				return automation, steps
			},
		},
		{
			name: "unknown trigger type",
			setup: func() (*models.Automation, []*models.AutomationStep) {
				automation, steps := validWorkflow()
				automation.TriggerType = "carrier_pigeon"

				return automation, steps
			},
		},
		{
			name: "unknown status",
			setup: func() (*models.Automation, []*models.AutomationStep) {
				automation, steps := validWorkflow()
				automation.Status = "sleeping"

				return automation, steps
			},
		},
		{
			name: "branch under non-condition parent",
			setup: func() (*models.Automation, []*models.AutomationStep) {
				automation, _ := validWorkflow()
				steps := []*models.AutomationStep{
					{ID: "step-1", Type: models.StepTypeAddTag, Config: map[string]any{"tag": "x"}},
					{ID: "step-2", Type: models.StepTypeExit, ParentStepID: ptr("step-1"), Branch: ptr(models.BranchYes)},
				}

				return automation, steps
			},
		},
		{
			name: "step config fails schema",
			setup: func() (*models.Automation, []*models.AutomationStep) {
				automation, _ := validWorkflow()
				steps := []*models.AutomationStep{
					{Type: models.StepTypeAddTag, Config: map[string]any{}},
				}

				return automation, steps
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			automation, steps := tt.setup()
			assert.Error(t, f.service.SaveWorkflow(t.Context(), automation, steps))
		})
	}
}

func TestDuplicateProducesIndependentDraft(t *testing.T) {
	f := newServiceFixture(t)

	source := &models.Automation{
		Name:          "Branching Journey",
		TriggerType:   models.TriggerTagAdded,
		TriggerConfig: map[string]any{"tag": "vip"},
		AllowReentry:  true,
		ExitOnGoal:    true,
		GoalConfig:    map[string]any{"kind": "has_tag", "tag": "customer"},
	}
	steps := []*models.AutomationStep{
		{ID: "step-cond", Type: models.StepTypeCondition, Config: map[string]any{"kind": "has_tag", "tag": "vip"}},
		{ID: "step-yes", Type: models.StepTypeExit, ParentStepID: ptr("step-cond"), Branch: ptr(models.BranchYes)},
	}
	require.NoError(t, f.service.SaveWorkflow(t.Context(), source, steps))

	// Simulate production wear on the source.
	stored, err := f.service.Get(t.Context(), source.ID)
	require.NoError(t, err)
	stored.Status = models.AutomationStatusActive
	stored.TotalEnrolled = 42
	stored.CurrentlyActive = 5
	require.NoError(t, f.persistence.Automations().Save(t.Context(), stored))

	copied, err := f.service.Duplicate(t.Context(), source.ID)
	require.NoError(t, err)

	assert.NotEqual(t, source.ID, copied.ID)
	assert.Equal(t, "Branching Journey (copy)", copied.Name)
	assert.Equal(t, models.AutomationStatusDraft, copied.Status)
	assert.Equal(t, int64(0), copied.TotalEnrolled)
	assert.Equal(t, int64(0), copied.CurrentlyActive)
	assert.True(t, copied.AllowReentry)
	assert.True(t, copied.ExitOnGoal)

	copiedSteps, err := f.service.Steps(t.Context(), copied.ID)
	require.NoError(t, err)
	require.Len(t, copiedSteps, 2)

	sourceSteps, err := f.service.Steps(t.Context(), source.ID)
	require.NoError(t, err)

	// Fresh step identities, remapped parent links, same shape.
	byType := make(map[models.StepType]*models.AutomationStep, len(copiedSteps))
	for _, step := range copiedSteps {
		assert.Equal(t, copied.ID, step.AutomationID)
		assert.NotEqual(t, sourceSteps[0].ID, step.ID)
		assert.NotEqual(t, sourceSteps[1].ID, step.ID)
		byType[step.Type] = step
	}

	child := byType[models.StepTypeExit]
	require.NotNil(t, child)
	require.NotNil(t, child.ParentStepID)
	assert.Equal(t, byType[models.StepTypeCondition].ID, *child.ParentStepID)
	require.NotNil(t, child.Branch)
	assert.Equal(t, models.BranchYes, *child.Branch)
}

func TestActivateRequiresStepsAndValidOrigin(t *testing.T) {
	f := newServiceFixture(t)

	empty := &models.Automation{Name: "Hollow", TriggerType: models.TriggerManual}
	require.NoError(t, f.service.SaveWorkflow(t.Context(), empty, nil))

	_, err := f.service.Activate(t.Context(), empty.ID)
	assert.True(t, errors.Is(err, ErrNoSteps))

	automation, steps := validWorkflow()
	require.NoError(t, f.service.SaveWorkflow(t.Context(), automation, steps))

	activated, err := f.service.Activate(t.Context(), automation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationStatusActive, activated.Status)

	// Active -> active is not a legal transition.
	_, err = f.service.Activate(t.Context(), automation.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestPauseOnlyFromActive(t *testing.T) {
	f := newServiceFixture(t)

	automation, steps := validWorkflow()
	require.NoError(t, f.service.SaveWorkflow(t.Context(), automation, steps))

	_, err := f.service.Pause(t.Context(), automation.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = f.service.Activate(t.Context(), automation.ID)
	require.NoError(t, err)

	paused, err := f.service.Pause(t.Context(), automation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationStatusPaused, paused.Status)

	// Paused automations can resume.
	resumed, err := f.service.Activate(t.Context(), automation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationStatusActive, resumed.Status)
}

func TestArchiveForceExitsLiveEnrollments(t *testing.T) {
	f := newServiceFixture(t)

	automation, steps := validWorkflow()
	require.NoError(t, f.service.SaveWorkflow(t.Context(), automation, steps))
	_, err := f.service.Activate(t.Context(), automation.ID)
	require.NoError(t, err)

	stored, err := f.service.Steps(t.Context(), automation.ID)
	require.NoError(t, err)

	live := &models.Enrollment{
		AutomationID:  automation.ID,
		ContactID:     "contact-1",
		Status:        models.EnrollmentStatusActive,
		CurrentStepID: &stored[0].ID,
	}
	done := &models.Enrollment{
		AutomationID: automation.ID,
		ContactID:    "contact-2",
		Status:       models.EnrollmentStatusCompleted,
	}
	require.NoError(t, f.persistence.Enrollments().Create(t.Context(), live))
	require.NoError(t, f.persistence.Enrollments().Create(t.Context(), done))

	archived, err := f.service.Archive(t.Context(), automation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationStatusArchived, archived.Status)

	exited, err := f.persistence.Enrollments().ByID(t.Context(), live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusExited, exited.Status)
	assert.Nil(t, exited.CurrentStepID)
	require.NotNil(t, exited.ExitReason)
	assert.Equal(t, models.ExitReasonAutomationArchived, *exited.ExitReason)

	// Completed rows are untouched.
	terminal, err := f.persistence.Enrollments().ByID(t.Context(), done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, terminal.Status)

	entries, err := f.persistence.Logs().ByEnrollment(t.Context(), live.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LogActionExited, entries[0].Action)

	// Archive is idempotent.
	again, err := f.service.Archive(t.Context(), automation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationStatusArchived, again.Status)
}
