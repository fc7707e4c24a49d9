package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/flowlane/flowlane/pkg/condition"
	"github.com/flowlane/flowlane/pkg/contact"
	"github.com/flowlane/flowlane/pkg/eventbus"
	"github.com/flowlane/flowlane/pkg/events"
	"github.com/flowlane/flowlane/pkg/models"
	"github.com/flowlane/flowlane/pkg/persistence"
	"github.com/flowlane/flowlane/pkg/protocol"
	"github.com/flowlane/flowlane/pkg/template"
)

const (
	defaultMaxWebhookAttempts = 5
	defaultRetryBaseDelay     = time.Minute
	maxRetryDelay             = time.Hour
)

// Wait units in seconds.
var waitUnitSeconds = map[string]int64{
	"minutes": 60,
	"hours":   3600,
	"days":    86400,
	"weeks":   604800,
}

// ExecutorConfig wires the executor's collaborators. EmailEvents and Bus
// are optional.
type ExecutorConfig struct {
	Persistence persistence.Persistence
	Contacts    contact.Provider
	Emails      protocol.EmailSender
	Webhooks    protocol.WebhookClient
	EmailEvents protocol.EmailEventIndex
	Bus         eventbus.EventPublisher
	Audit       *Audit
	Clock       clockwork.Clock
	Logger      *slog.Logger

	MaxWebhookAttempts int
	RetryBaseDelay     time.Duration
}

// Executor advances one enrollment by exactly one step transition per call.
// All enrollment state lives in the store; the executor holds none between
// calls, so any instance can process any claimed enrollment.
type Executor struct {
	persistence persistence.Persistence
	contacts    contact.Provider
	emails      protocol.EmailSender
	webhooks    protocol.WebhookClient
	emailEvents protocol.EmailEventIndex
	bus         eventbus.EventPublisher
	audit       *Audit
	clock       clockwork.Clock
	logger      *slog.Logger

	maxWebhookAttempts int
	retryBaseDelay     time.Duration
}

func NewExecutor(config ExecutorConfig) *Executor {
	maxAttempts := config.MaxWebhookAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxWebhookAttempts
	}

	baseDelay := config.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultRetryBaseDelay
	}

	return &Executor{
		persistence:        config.Persistence,
		contacts:           config.Contacts,
		emails:             config.Emails,
		webhooks:           config.Webhooks,
		emailEvents:        config.EmailEvents,
		bus:                config.Bus,
		audit:              config.Audit,
		clock:              config.Clock,
		logger:             config.Logger.With("module", "executor"),
		maxWebhookAttempts: maxAttempts,
		retryBaseDelay:     baseDelay,
	}
}

// Process executes one step transition for a claimed enrollment. An error
// return means the store rejected a write; step-level failures are absorbed
// into the enrollment's own state and audit trail.
func (ex *Executor) Process(ctx context.Context, enrollment *models.Enrollment) error {
	logger := ex.logger.With(
		"enrollment_id", enrollment.ID,
		"automation_id", enrollment.AutomationID,
		"contact_id", enrollment.ContactID,
	)

	if enrollment.IsTerminal() {
		logger.WarnContext(ctx, "Skipping terminal enrollment")

		return nil
	}

	automation, err := ex.persistence.Automations().ByID(ctx, enrollment.AutomationID)
	if err != nil {
		if persistence.IsAutomationNotFound(err) {
			return ex.fail(ctx, enrollment, nil, "automation no longer exists")
		}

		return fmt.Errorf("failed to load automation: %w", err)
	}

	if automation.Status == models.AutomationStatusArchived {
		return ex.exit(ctx, enrollment, models.ExitReasonAutomationArchived)
	}

	steps, err := ex.persistence.Automations().Steps(ctx, automation.ID)
	if err != nil {
		return fmt.Errorf("failed to load steps: %w", err)
	}

	tree := models.NewStepTree(steps)

	if enrollment.CurrentStepID == nil {
		return ex.completeAnomaly(ctx, enrollment, "enrollment has no current step")
	}

	step, ok := tree.Step(*enrollment.CurrentStepID)
	if !ok {
		return ex.completeAnomaly(ctx, enrollment, fmt.Sprintf("current step %s not resolvable", *enrollment.CurrentStepID))
	}

	logger = logger.With("step_id", step.ID, "step_type", step.Type)

	// A waiting enrollment re-enters on its current step: a wait step has
	// elapsed, a webhook step is due for another attempt.
	if enrollment.Status == models.EnrollmentStatusWaiting {
		switch step.Type {
		case models.StepTypeWait:
			ex.audit.Step(ctx, enrollment, step.ID, models.LogActionWaitCompleted, models.LogStatusSuccess, "", nil)

			return ex.advance(ctx, tree, enrollment, step, "")
		case models.StepTypeWebhook:
			return ex.executeWebhook(ctx, tree, enrollment, step)
		default:
			// Waiting on a non-suspending step should not happen; resume
			// by executing it.
			logger.WarnContext(ctx, "Waiting enrollment resumed on non-suspending step")
		}
	}

	ex.audit.Step(ctx, enrollment, step.ID, models.LogActionStepStarted, models.LogStatusSuccess, "", nil)

	switch step.Type {
	case models.StepTypeAddTag:
		return ex.executeTag(ctx, tree, enrollment, step, true)
	case models.StepTypeRemoveTag:
		return ex.executeTag(ctx, tree, enrollment, step, false)
	case models.StepTypeAddToList:
		return ex.executeList(ctx, tree, enrollment, step, true)
	case models.StepTypeRemoveFromList:
		return ex.executeList(ctx, tree, enrollment, step, false)
	case models.StepTypeUpdateField:
		return ex.executeUpdateField(ctx, tree, enrollment, step)
	case models.StepTypeSendEmail:
		return ex.executeSendEmail(ctx, tree, enrollment, step)
	case models.StepTypeWebhook:
		return ex.executeWebhook(ctx, tree, enrollment, step)
	case models.StepTypeCondition:
		return ex.executeCondition(ctx, tree, enrollment, step)
	case models.StepTypeGoal:
		return ex.executeGoal(ctx, tree, enrollment, automation, step)
	case models.StepTypeExit:
		ex.audit.Step(ctx, enrollment, step.ID, models.LogActionStepCompleted, models.LogStatusSuccess, "", nil)

		return ex.exit(ctx, enrollment, models.ExitReasonExitStep)
	case models.StepTypeWait:
		return ex.executeWait(ctx, tree, enrollment, step)
	default:
		return ex.fail(ctx, enrollment, step, fmt.Sprintf("unknown step type %q", step.Type))
	}
}

func (ex *Executor) executeTag(ctx context.Context, tree *models.StepTree, enrollment *models.Enrollment, step *models.AutomationStep, add bool) error {
	tag := configString(step.Config, "tag")
	if tag == "" {
		return ex.fail(ctx, enrollment, step, "tag step config is missing a tag")
	}

	var (
		err    error
		action models.LogAction
	)

	if add {
		err = ex.contacts.AddTag(ctx, enrollment.ContactID, tag)
		action = models.LogActionTagAdded
	} else {
		err = ex.contacts.RemoveTag(ctx, enrollment.ContactID, tag)
		action = models.LogActionTagRemoved
	}

	if err != nil {
		return ex.fail(ctx, enrollment, step, fmt.Sprintf("tag mutation failed: %v", err))
	}

	ex.audit.Step(ctx, enrollment, step.ID, action, models.LogStatusSuccess, "", map[string]any{"tag": tag})

	return ex.advance(ctx, tree, enrollment, step, "")
}

func (ex *Executor) executeList(ctx context.Context, tree *models.StepTree, enrollment *models.Enrollment, step *models.AutomationStep, add bool) error {
	listID, ok := configInt64(step.Config, "list_id")
	if !ok {
		return ex.fail(ctx, enrollment, step, "list step config is missing a list_id")
	}

	var (
		err    error
		action models.LogAction
	)

	if add {
		err = ex.contacts.AddToList(ctx, enrollment.ContactID, listID)
		action = models.LogActionListAdded
	} else {
		err = ex.contacts.RemoveFromList(ctx, enrollment.ContactID, listID)
		action = models.LogActionListRemoved
	}

	if err != nil {
		return ex.fail(ctx, enrollment, step, fmt.Sprintf("list mutation failed: %v", err))
	}

	ex.audit.Step(ctx, enrollment, step.ID, action, models.LogStatusSuccess, "", map[string]any{"list_id": listID})

	return ex.advance(ctx, tree, enrollment, step, "")
}

func (ex *Executor) executeUpdateField(ctx context.Context, tree *models.StepTree, enrollment *models.Enrollment, step *models.AutomationStep) error {
	field := configString(step.Config, "field")
	if field == "" {
		return ex.fail(ctx, enrollment, step, "update_field step config is missing a field")
	}

	snapshot, err := ex.contacts.Snapshot(ctx, enrollment.ContactID)
	if err != nil {
		return ex.fail(ctx, enrollment, step, fmt.Sprintf("failed to load contact: %v", err))
	}

	value, err := template.RenderForContact(configString(step.Config, "value"), snapshot, enrollment.Metadata)
	if err != nil {
		return ex.fail(ctx, enrollment, step, fmt.Sprintf("failed to render field value: %v", err))
	}

	err = ex.contacts.SetField(ctx, enrollment.ContactID, field, value)
	if err != nil {
		return ex.fail(ctx, enrollment, step, fmt.Sprintf("field update failed: %v", err))
	}

	ex.audit.Step(ctx, enrollment, step.ID, models.LogActionFieldUpdated, models.LogStatusSuccess, "",
		map[string]any{"field": field, "value": value})

	return ex.advance(ctx, tree, enrollment, step, "")
}

func (ex *Executor) executeSendEmail(ctx context.Context, tree *models.StepTree, enrollment *models.Enrollment, step *models.AutomationStep) error {
	snapshot, err := ex.contacts.Snapshot(ctx, enrollment.ContactID)
	if err != nil {
		return ex.fail(ctx, enrollment, step, fmt.Sprintf("failed to load contact: %v", err))
	}

	subject, err := template.RenderForContact(configString(step.Config, "subject"), snapshot, enrollment.Metadata)
	if err != nil {
		return ex.fail(ctx, enrollment, step, fmt.Sprintf("failed to render subject: %v", err))
	}

	body, err := template.RenderForContact(configString(step.Config, "body"), snapshot, enrollment.Metadata)
	if err != nil {
		return ex.fail(ctx, enrollment, step, fmt.Sprintf("failed to render body: %v", err))
	}

	ref, err := ex.emails.Send(ctx, protocol.EmailMessage{
		ContactID: enrollment.ContactID,
		To:        snapshot.Email,
		Subject:   subject,
		Body:      body,
	})
	if err != nil {
		return ex.fail(ctx, enrollment, step, fmt.Sprintf("email send failed: %v", err))
	}

	ex.bumpStepCounter(ctx, step, models.StepCounterEmailsSent)

	entry := &models.LogEntry{
		AutomationID:    enrollment.AutomationID,
		EnrollmentID:    enrollment.ID,
		StepID:          &step.ID,
		ContactID:       enrollment.ContactID,
		Action:          models.LogActionEmailSent,
		Status:          models.LogStatusSuccess,
		Data:            map[string]any{"to": snapshot.Email, "subject": subject},
		EmailMessageRef: &ref,
	}
	ex.audit.Record(ctx, entry)

	return ex.advance(ctx, tree, enrollment, step, "")
}

func (ex *Executor) executeWebhook(ctx context.Context, tree *models.StepTree, enrollment *models.Enrollment, step *models.AutomationStep) error {
	url := configString(step.Config, "url")
	if url == "" {
		return ex.fail(ctx, enrollment, step, "webhook step config is missing a url")
	}

	method := configString(step.Config, "method")
	if method == "" {
		method = http.MethodPost
	}

	payload := configMap(step.Config, "payload")

	err := ex.webhooks.Call(ctx, url, method, payload)
	if err == nil {
		ex.audit.Step(ctx, enrollment, step.ID, models.LogActionWebhookCalled, models.LogStatusSuccess, "",
			map[string]any{"url": url, "method": method})

		return ex.advance(ctx, tree, enrollment, step, "")
	}

	if protocol.IsTransientWebhookError(err) && enrollment.Attempts+1 < ex.maxWebhookAttempts {
		enrollment.Attempts++

		delay := ex.retryDelay(enrollment.Attempts)
		nextAt := ex.clock.Now().UTC().Add(delay)
		enrollment.Status = models.EnrollmentStatusWaiting
		enrollment.NextActionAt = &nextAt

		updateErr := ex.persistence.Enrollments().Update(ctx, enrollment)
		if updateErr != nil {
			return fmt.Errorf("failed to schedule webhook retry: %w", updateErr)
		}

		ex.audit.Step(ctx, enrollment, step.ID, models.LogActionStepFailed, models.LogStatusFailed,
			fmt.Sprintf("webhook call failed, retry %d/%d scheduled: %v", enrollment.Attempts, ex.maxWebhookAttempts-1, err),
			map[string]any{"url": url, "retry_at": nextAt})

		return nil
	}

	return ex.fail(ctx, enrollment, step, fmt.Sprintf("webhook call failed permanently: %v", err))
}

// retryDelay doubles per attempt from the base delay, capped.
func (ex *Executor) retryDelay(attempt int) time.Duration {
	delay := ex.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}

	return delay
}

func (ex *Executor) executeCondition(ctx context.Context, tree *models.StepTree, enrollment *models.Enrollment, step *models.AutomationStep) error {
	snapshot, err := ex.contacts.Snapshot(ctx, enrollment.ContactID)
	if err != nil {
		return ex.fail(ctx, enrollment, step, fmt.Sprintf("failed to load contact: %v", err))
	}

	result, err := condition.Evaluate(ctx, step.Config, snapshot, ex.emailEvents)
	if err != nil {
		return ex.fail(ctx, enrollment, step, fmt.Sprintf("condition evaluation failed: %v", err))
	}

	branch := models.BranchNo
	if result {
		branch = models.BranchYes
	}

	ex.audit.Step(ctx, enrollment, step.ID, models.LogActionConditionEvaluated, models.LogStatusSuccess, "",
		map[string]any{"result": result, "branch": branch})

	return ex.advance(ctx, tree, enrollment, step, branch)
}

func (ex *Executor) executeGoal(ctx context.Context, tree *models.StepTree, enrollment *models.Enrollment, automation *models.Automation, step *models.AutomationStep) error {
	goalConfig := configMap(step.Config, "condition")
	if goalConfig == nil {
		goalConfig = automation.GoalConfig
	}

	if goalConfig == nil {
		return ex.fail(ctx, enrollment, step, "goal step has no condition configured")
	}

	snapshot, err := ex.contacts.Snapshot(ctx, enrollment.ContactID)
	if err != nil {
		return ex.fail(ctx, enrollment, step, fmt.Sprintf("failed to load contact: %v", err))
	}

	met, err := condition.Evaluate(ctx, goalConfig, snapshot, ex.emailEvents)
	if err != nil {
		return ex.fail(ctx, enrollment, step, fmt.Sprintf("goal evaluation failed: %v", err))
	}

	if met {
		ex.audit.Step(ctx, enrollment, step.ID, models.LogActionGoalReached, models.LogStatusSuccess, "", nil)

		if automation.ExitOnGoal {
			return ex.exit(ctx, enrollment, models.ExitReasonGoalReached)
		}
	}

	return ex.advance(ctx, tree, enrollment, step, "")
}

func (ex *Executor) executeWait(ctx context.Context, tree *models.StepTree, enrollment *models.Enrollment, step *models.AutomationStep) error {
	target, err := ex.waitTarget(ctx, enrollment, step)
	if err != nil {
		return ex.fail(ctx, enrollment, step, err.Error())
	}

	now := ex.clock.Now().UTC()

	if !target.After(now) {
		// Unresolvable or already-elapsed wait target; pass through.
		ex.audit.Step(ctx, enrollment, step.ID, models.LogActionWaitStarted, models.LogStatusSkipped,
			"wait target not in the future", nil)

		return ex.advance(ctx, tree, enrollment, step, "")
	}

	enrollment.Status = models.EnrollmentStatusWaiting
	enrollment.NextActionAt = &target

	err = ex.persistence.Enrollments().Update(ctx, enrollment)
	if err != nil {
		return fmt.Errorf("failed to suspend enrollment: %w", err)
	}

	ex.audit.Step(ctx, enrollment, step.ID, models.LogActionWaitStarted, models.LogStatusSuccess, "",
		map[string]any{"next_action_at": target})

	return nil
}

// waitTarget resolves a wait step config to an absolute wake-up time. A
// zero time means no wait.
func (ex *Executor) waitTarget(ctx context.Context, enrollment *models.Enrollment, step *models.AutomationStep) (time.Time, error) {
	now := ex.clock.Now().UTC()

	waitType := configString(step.Config, "wait_type")
	if waitType == "" {
		waitType = "duration"
	}

	switch waitType {
	case "duration":
		value, ok := configFloat(step.Config, "duration_value")
		if !ok || value < 0 {
			return time.Time{}, fmt.Errorf("wait step config has no valid duration_value")
		}

		unit := configString(step.Config, "duration_unit")

		seconds, ok := waitUnitSeconds[unit]
		if !ok {
			return time.Time{}, fmt.Errorf("wait step config has unknown duration_unit %q", unit)
		}

		return now.Add(time.Duration(value*float64(seconds)) * time.Second), nil

	case "until_time":
		at := configString(step.Config, "time")

		parsed, err := time.Parse("15:04", at)
		if err != nil {
			return time.Time{}, fmt.Errorf("wait step config has invalid time %q", at)
		}

		target := time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, time.UTC)
		if !target.After(now) {
			target = target.AddDate(0, 0, 1)
		}

		return target, nil

	case "until_date":
		field := configString(step.Config, "field")
		if field == "" {
			return time.Time{}, fmt.Errorf("wait step config has no date field")
		}

		snapshot, err := ex.contacts.Snapshot(ctx, enrollment.ContactID)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to load contact: %w", err)
		}

		raw, ok := snapshot.Field(field)
		if !ok || raw == "" {
			// Contact has no value for the field; skip the wait.
			return time.Time{}, nil
		}

		target, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			target, err = time.Parse("2006-01-02", raw)
		}

		if err != nil {
			// Unparsable date values pass through rather than strand the
			// enrollment.
			return time.Time{}, nil
		}

		return target.UTC(), nil

	default:
		return time.Time{}, fmt.Errorf("wait step config has unknown wait_type %q", waitType)
	}
}

// advance moves the enrollment past the just-executed step: bump counters,
// append history, resolve the next step or complete.
func (ex *Executor) advance(ctx context.Context, tree *models.StepTree, enrollment *models.Enrollment, step *models.AutomationStep, branch string) error {
	now := ex.clock.Now().UTC()

	ex.bumpStepCounter(ctx, step, models.StepCounterCompleted)
	ex.audit.Step(ctx, enrollment, step.ID, models.LogActionStepCompleted, models.LogStatusSuccess, "", nil)

	enrollment.StepHistory = append(enrollment.StepHistory, models.StepHistoryEntry{
		StepID:      step.ID,
		CompletedAt: now,
	})
	enrollment.Attempts = 0

	next := tree.NextStep(step, branch)
	if next == nil {
		return ex.complete(ctx, enrollment)
	}

	enrollment.Status = models.EnrollmentStatusActive
	enrollment.CurrentStepID = &next.ID
	enrollment.NextActionAt = &now

	err := ex.persistence.Enrollments().Update(ctx, enrollment)
	if err != nil {
		return fmt.Errorf("failed to advance enrollment: %w", err)
	}

	ex.bumpStepCounter(ctx, next, models.StepCounterEntered)

	return nil
}

func (ex *Executor) complete(ctx context.Context, enrollment *models.Enrollment) error {
	now := ex.clock.Now().UTC()

	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.CurrentStepID = nil
	enrollment.NextActionAt = nil
	enrollment.CompletedAt = &now

	err := ex.persistence.Enrollments().Finish(ctx, enrollment, persistence.TerminalDelta{Completed: true})
	if err != nil {
		return fmt.Errorf("failed to complete enrollment: %w", err)
	}

	ex.audit.Lifecycle(ctx, enrollment, models.LogActionCompleted, models.LogStatusSuccess, "", nil)
	ex.publishTerminal(ctx, enrollment)

	return nil
}

func (ex *Executor) completeAnomaly(ctx context.Context, enrollment *models.Enrollment, message string) error {
	ex.logger.WarnContext(ctx, "Structural anomaly, completing enrollment",
		"enrollment_id", enrollment.ID, "reason", message)

	now := ex.clock.Now().UTC()

	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.CurrentStepID = nil
	enrollment.NextActionAt = nil
	enrollment.CompletedAt = &now

	err := ex.persistence.Enrollments().Finish(ctx, enrollment, persistence.TerminalDelta{Completed: true})
	if err != nil {
		return fmt.Errorf("failed to complete enrollment: %w", err)
	}

	ex.audit.Lifecycle(ctx, enrollment, models.LogActionCompleted, models.LogStatusSkipped, message, nil)
	ex.publishTerminal(ctx, enrollment)

	return nil
}

func (ex *Executor) exit(ctx context.Context, enrollment *models.Enrollment, reason string) error {
	now := ex.clock.Now().UTC()

	enrollment.Status = models.EnrollmentStatusExited
	enrollment.CurrentStepID = nil
	enrollment.NextActionAt = nil
	enrollment.ExitedAt = &now
	enrollment.ExitReason = &reason

	err := ex.persistence.Enrollments().Finish(ctx, enrollment, persistence.TerminalDelta{})
	if err != nil {
		return fmt.Errorf("failed to exit enrollment: %w", err)
	}

	ex.audit.Lifecycle(ctx, enrollment, models.LogActionExited, models.LogStatusSuccess, "",
		map[string]any{"exit_reason": reason})
	ex.publishTerminal(ctx, enrollment)

	return nil
}

func (ex *Executor) fail(ctx context.Context, enrollment *models.Enrollment, step *models.AutomationStep, message string) error {
	if step != nil {
		ex.bumpStepCounter(ctx, step, models.StepCounterFailed)
		ex.audit.Step(ctx, enrollment, step.ID, models.LogActionStepFailed, models.LogStatusFailed, message,
			map[string]any{"config": step.Config})
	}

	now := ex.clock.Now().UTC()
	reason := models.ExitReasonError

	enrollment.Status = models.EnrollmentStatusFailed
	enrollment.CurrentStepID = nil
	enrollment.NextActionAt = nil
	enrollment.ExitedAt = &now
	enrollment.ExitReason = &reason

	err := ex.persistence.Enrollments().Finish(ctx, enrollment, persistence.TerminalDelta{})
	if err != nil {
		return fmt.Errorf("failed to fail enrollment: %w", err)
	}

	ex.audit.Lifecycle(ctx, enrollment, models.LogActionFailed, models.LogStatusFailed, message, nil)
	ex.publishTerminal(ctx, enrollment)

	return nil
}

func (ex *Executor) bumpStepCounter(ctx context.Context, step *models.AutomationStep, counter models.StepCounter) {
	err := ex.persistence.Automations().IncrementStepCounter(ctx, step.AutomationID, step.ID, counter)
	if err != nil {
		ex.logger.WarnContext(ctx, "Failed to increment step counter",
			"step_id", step.ID, "counter", counter, "error", err)
	}
}

// publishTerminal emits the matching lifecycle event when a bus is wired.
func (ex *Executor) publishTerminal(ctx context.Context, enrollment *models.Enrollment) {
	if ex.bus == nil {
		return
	}

	var event eventbus.Event

	switch enrollment.Status {
	case models.EnrollmentStatusCompleted:
		completed := events.EnrollmentCompleted{
			BaseEvent:    events.NewBaseEvent(events.EnrollmentCompletedEvent, enrollment.ContactID),
			EnrollmentID: enrollment.ID,
			AutomationID: enrollment.AutomationID,
		}
		if enrollment.CompletedAt != nil {
			completed.DurationMs = enrollment.CompletedAt.Sub(enrollment.EnrolledAt).Milliseconds()
		}

		event = completed
	case models.EnrollmentStatusExited:
		reason := ""
		if enrollment.ExitReason != nil {
			reason = *enrollment.ExitReason
		}

		event = events.EnrollmentExited{
			BaseEvent:    events.NewBaseEvent(events.EnrollmentExitedEvent, enrollment.ContactID),
			EnrollmentID: enrollment.ID,
			AutomationID: enrollment.AutomationID,
			ExitReason:   reason,
		}
	case models.EnrollmentStatusFailed:
		event = events.EnrollmentFailed{
			BaseEvent:    events.NewBaseEvent(events.EnrollmentFailedEvent, enrollment.ContactID),
			EnrollmentID: enrollment.ID,
			AutomationID: enrollment.AutomationID,
		}
	default:
		return
	}

	err := ex.bus.Publish(ctx, enrollment.ContactID, event)
	if err != nil {
		ex.logger.WarnContext(ctx, "Failed to publish enrollment lifecycle event",
			"enrollment_id", enrollment.ID, "error", err)
	}
}
