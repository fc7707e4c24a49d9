package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowlane/flowlane/pkg/models"
	"github.com/flowlane/flowlane/pkg/persistence"
)

const automationColumns = `
	id
  , name
  , trigger_type
  , trigger_config
  , status
  , allow_reentry
  , reentry_delay_days
  , exit_on_goal
  , goal_config
  , total_enrolled
  , currently_active
  , completed
  , exited
  , created_at
  , updated_at
`

// AutomationRepository handles automation and step database operations.
type AutomationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAutomationRepository creates a new automation repository.
func NewAutomationRepository(db *sql.DB, logger *slog.Logger) *AutomationRepository {
	return &AutomationRepository{db: db, logger: logger}
}

// All returns all automations ordered by creation time.
func (r *AutomationRepository) All(ctx context.Context) ([]*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}

	defer r.closeRows(ctx, rows)

	return r.collectAutomations(rows)
}

// ByID returns an automation by its identifier.
func (r *AutomationRepository) ByID(ctx context.Context, id string) (*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE id = $1`

	automation, err := r.scanAutomation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewAutomationError("ByID", id, persistence.ErrAutomationNotFound)
		}

		return nil, fmt.Errorf("failed to scan automation: %w", err)
	}

	return automation, nil
}

// ActiveByTriggerType returns active automations with the given trigger type.
func (r *AutomationRepository) ActiveByTriggerType(ctx context.Context, trigger models.TriggerType) ([]*models.Automation, error) {
	query := `SELECT ` + automationColumns + `
		FROM automations
		WHERE status = $1 AND trigger_type = $2
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, models.AutomationStatusActive, trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations by trigger: %w", err)
	}

	defer r.closeRows(ctx, rows)

	return r.collectAutomations(rows)
}

// Save inserts or updates an automation.
func (r *AutomationRepository) Save(ctx context.Context, automation *models.Automation) error {
	now := time.Now().UTC()

	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	if automation.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate automation ID: %w", err)
		}

		automation.ID = id.String()
	}

	triggerConfigJSON, err := json.Marshal(automation.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	goalConfigJSON, err := json.Marshal(automation.GoalConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal goal config: %w", err)
	}

	query := `
		INSERT INTO automations (id, name, trigger_type, trigger_config, status,
			allow_reentry, reentry_delay_days, exit_on_goal, goal_config,
			total_enrolled, currently_active, completed, exited, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			status = EXCLUDED.status,
			allow_reentry = EXCLUDED.allow_reentry,
			reentry_delay_days = EXCLUDED.reentry_delay_days,
			exit_on_goal = EXCLUDED.exit_on_goal,
			goal_config = EXCLUDED.goal_config,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		automation.ID,
		automation.Name,
		automation.TriggerType,
		triggerConfigJSON,
		automation.Status,
		automation.AllowReentry,
		automation.ReentryDelayDays,
		automation.ExitOnGoal,
		goalConfigJSON,
		automation.TotalEnrolled,
		automation.CurrentlyActive,
		automation.Completed,
		automation.Exited,
		automation.CreatedAt,
		automation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save automation: %w", err)
	}

	return nil
}

// Steps returns an automation's steps ordered by position.
func (r *AutomationRepository) Steps(ctx context.Context, automationID string) ([]*models.AutomationStep, error) {
	query := `
		SELECT id, automation_id, step_type, config, position, parent_step_id, branch,
			entered, completed, failed, emails_sent, created_at, updated_at
		FROM automation_steps
		WHERE automation_id = $1
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query automation steps: %w", err)
	}

	defer r.closeRows(ctx, rows)

	var steps []*models.AutomationStep

	for rows.Next() {
		var (
			step       models.AutomationStep
			configJSON []byte
		)

		err := rows.Scan(
			&step.ID,
			&step.AutomationID,
			&step.Type,
			&configJSON,
			&step.Position,
			&step.ParentStepID,
			&step.Branch,
			&step.Entered,
			&step.Completed,
			&step.Failed,
			&step.EmailsSent,
			&step.CreatedAt,
			&step.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		if configJSON != nil {
			err := json.Unmarshal(configJSON, &step.Config)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal step config: %w", err)
			}
		}

		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

// ReplaceSteps swaps an automation's step forest wholesale in one transaction.
func (r *AutomationRepository) ReplaceSteps(ctx context.Context, automationID string, steps []*models.AutomationStep) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, "DELETE FROM automation_steps WHERE automation_id = $1", automationID)
	if err != nil {
		return fmt.Errorf("failed to delete existing steps: %w", err)
	}

	now := time.Now().UTC()

	for _, step := range steps {
		configJSON, marshalErr := json.Marshal(step.Config)
		if marshalErr != nil {
			err = fmt.Errorf("failed to marshal step config: %w", marshalErr)

			return err
		}

		if step.CreatedAt.IsZero() {
			step.CreatedAt = now
		}

		step.UpdatedAt = now

		query := `
			INSERT INTO automation_steps (id, automation_id, step_type, config, position,
				parent_step_id, branch, entered, completed, failed, emails_sent, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`

		_, err = tx.ExecContext(ctx, query,
			step.ID,
			step.AutomationID,
			step.Type,
			configJSON,
			step.Position,
			step.ParentStepID,
			step.Branch,
			step.Entered,
			step.Completed,
			step.Failed,
			step.EmailsSent,
			step.CreatedAt,
			step.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save step: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

var stepCounterColumns = map[models.StepCounter]string{
	models.StepCounterEntered:    "entered",
	models.StepCounterCompleted:  "completed",
	models.StepCounterFailed:     "failed",
	models.StepCounterEmailsSent: "emails_sent",
}

// IncrementStepCounter bumps one per-step counter column.
func (r *AutomationRepository) IncrementStepCounter(ctx context.Context, automationID, stepID string, counter models.StepCounter) error {
	column, ok := stepCounterColumns[counter]
	if !ok {
		return fmt.Errorf("unknown step counter %q", counter)
	}

	query := fmt.Sprintf(
		"UPDATE automation_steps SET %s = %s + 1, updated_at = NOW() WHERE id = $1 AND automation_id = $2",
		column, column)

	result, err := r.db.ExecContext(ctx, query, stepID, automationID)
	if err != nil {
		return fmt.Errorf("failed to increment step counter: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewAutomationError("IncrementStepCounter", automationID, persistence.ErrStepNotFound)
	}

	return nil
}

func (r *AutomationRepository) collectAutomations(rows *sql.Rows) ([]*models.Automation, error) {
	automations := make([]*models.Automation, 0)

	for rows.Next() {
		automation, err := r.scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return automations, nil
}

func (r *AutomationRepository) scanAutomation(scanner interface {
	Scan(dest ...any) error
}) (*models.Automation, error) {
	var (
		automation                        models.Automation
		triggerConfigJSON, goalConfigJSON []byte
	)

	err := scanner.Scan(
		&automation.ID,
		&automation.Name,
		&automation.TriggerType,
		&triggerConfigJSON,
		&automation.Status,
		&automation.AllowReentry,
		&automation.ReentryDelayDays,
		&automation.ExitOnGoal,
		&goalConfigJSON,
		&automation.TotalEnrolled,
		&automation.CurrentlyActive,
		&automation.Completed,
		&automation.Exited,
		&automation.CreatedAt,
		&automation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if triggerConfigJSON != nil {
		err := json.Unmarshal(triggerConfigJSON, &automation.TriggerConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}
	}

	if goalConfigJSON != nil {
		err := json.Unmarshal(goalConfigJSON, &automation.GoalConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal goal config: %w", err)
		}
	}

	return &automation, nil
}

func (r *AutomationRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
