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

const enrollmentColumns = `
	id
  , automation_id
  , contact_id
  , status
  , current_step_id
  , exit_reason
  , enrolled_at
  , next_action_at
  , completed_at
  , exited_at
  , step_history
  , metadata
  , attempts
`

// EnrollmentRepository handles enrollment database operations.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEnrollmentRepository creates a new enrollment repository.
func NewEnrollmentRepository(db *sql.DB, logger *slog.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, logger: logger}
}

// ByID returns an enrollment by its identifier.
func (r *EnrollmentRepository) ByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM automation_enrollments WHERE id = $1`

	enrollment, err := r.scanEnrollment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEnrollmentError("ByID", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

// Create inserts the enrollment and adjusts automation counters in one
// transaction. The partial unique index on live enrollments backs the
// admission invariant even under concurrent dispatchers.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate enrollment ID: %w", err)
		}

		enrollment.ID = id.String()
	}

	historyJSON, metadataJSON, err := marshalEnrollmentJSON(enrollment)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	insertQuery := `
		INSERT INTO automation_enrollments (id, automation_id, contact_id, status,
			current_step_id, exit_reason, enrolled_at, next_action_at, completed_at,
			exited_at, step_history, metadata, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = tx.ExecContext(ctx, insertQuery,
		enrollment.ID,
		enrollment.AutomationID,
		enrollment.ContactID,
		enrollment.Status,
		enrollment.CurrentStepID,
		enrollment.ExitReason,
		enrollment.EnrolledAt,
		enrollment.NextActionAt,
		enrollment.CompletedAt,
		enrollment.ExitedAt,
		historyJSON,
		metadataJSON,
		enrollment.Attempts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			err = persistence.NewEnrollmentError("Create", enrollment.ID, persistence.ErrEnrollmentExists)

			return err
		}

		return fmt.Errorf("failed to insert enrollment: %w", err)
	}

	counterQuery := `
		UPDATE automations SET
			total_enrolled = total_enrolled + 1,
			currently_active = currently_active + CASE WHEN $2 THEN 0 ELSE 1 END,
			completed = completed + CASE WHEN $3 THEN 1 ELSE 0 END,
			exited = exited + CASE WHEN $2 AND NOT $3 THEN 1 ELSE 0 END
		WHERE id = $1
	`

	terminal := enrollment.IsTerminal()
	born_completed := enrollment.Status == models.EnrollmentStatusCompleted

	_, err = tx.ExecContext(ctx, counterQuery, enrollment.AutomationID, terminal, born_completed)
	if err != nil {
		return fmt.Errorf("failed to update automation counters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Update persists a non-terminal state change.
func (r *EnrollmentRepository) Update(ctx context.Context, enrollment *models.Enrollment) error {
	historyJSON, metadataJSON, err := marshalEnrollmentJSON(enrollment)
	if err != nil {
		return err
	}

	query := `
		UPDATE automation_enrollments SET
			status = $2,
			current_step_id = $3,
			exit_reason = $4,
			next_action_at = $5,
			completed_at = $6,
			exited_at = $7,
			step_history = $8,
			metadata = $9,
			attempts = $10
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.Status,
		enrollment.CurrentStepID,
		enrollment.ExitReason,
		enrollment.NextActionAt,
		enrollment.CompletedAt,
		enrollment.ExitedAt,
		historyJSON,
		metadataJSON,
		enrollment.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewEnrollmentError("Update", enrollment.ID, persistence.ErrEnrollmentNotFound)
	}

	return nil
}

// Finish persists a terminal status write and adjusts the automation's
// counters in the same transaction.
func (r *EnrollmentRepository) Finish(ctx context.Context, enrollment *models.Enrollment, delta persistence.TerminalDelta) error {
	historyJSON, metadataJSON, err := marshalEnrollmentJSON(enrollment)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	updateQuery := `
		UPDATE automation_enrollments SET
			status = $2,
			current_step_id = $3,
			exit_reason = $4,
			next_action_at = $5,
			completed_at = $6,
			exited_at = $7,
			step_history = $8,
			metadata = $9,
			attempts = $10
		WHERE id = $1
	`

	result, err := tx.ExecContext(ctx, updateQuery,
		enrollment.ID,
		enrollment.Status,
		enrollment.CurrentStepID,
		enrollment.ExitReason,
		enrollment.NextActionAt,
		enrollment.CompletedAt,
		enrollment.ExitedAt,
		historyJSON,
		metadataJSON,
		enrollment.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		err = persistence.NewEnrollmentError("Finish", enrollment.ID, persistence.ErrEnrollmentNotFound)

		return err
	}

	counterQuery := `
		UPDATE automations SET
			currently_active = GREATEST(currently_active - 1, 0),
			completed = completed + CASE WHEN $2 THEN 1 ELSE 0 END,
			exited = exited + CASE WHEN $2 THEN 0 ELSE 1 END
		WHERE id = $1
	`

	_, err = tx.ExecContext(ctx, counterQuery, enrollment.AutomationID, delta.Completed)
	if err != nil {
		return fmt.Errorf("failed to update automation counters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ActiveOrWaiting returns the live enrollment for (automation, contact), or nil.
func (r *EnrollmentRepository) ActiveOrWaiting(ctx context.Context, automationID, contactID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + `
		FROM automation_enrollments
		WHERE automation_id = $1 AND contact_id = $2 AND status IN ('active', 'waiting')
		LIMIT 1`

	enrollment, err := r.scanEnrollment(r.db.QueryRowContext(ctx, query, automationID, contactID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

// Latest returns the most recently enrolled instance for (automation, contact), or nil.
func (r *EnrollmentRepository) Latest(ctx context.Context, automationID, contactID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + `
		FROM automation_enrollments
		WHERE automation_id = $1 AND contact_id = $2
		ORDER BY enrolled_at DESC
		LIMIT 1`

	enrollment, err := r.scanEnrollment(r.db.QueryRowContext(ctx, query, automationID, contactID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

// HasCompleted reports whether any completed enrollment exists for the pair.
func (r *EnrollmentRepository) HasCompleted(ctx context.Context, automationID, contactID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM automation_enrollments
			WHERE automation_id = $1 AND contact_id = $2 AND status = 'completed'
		)
	`

	var exists bool

	err := r.db.QueryRowContext(ctx, query, automationID, contactID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query completed enrollments: %w", err)
	}

	return exists, nil
}

// Due returns enrollments eligible for advancement.
func (r *EnrollmentRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + `
		FROM automation_enrollments
		WHERE status IN ('active', 'waiting')
		  AND next_action_at IS NOT NULL AND next_action_at <= $1
		ORDER BY enrolled_at
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due enrollments: %w", err)
	}

	defer r.closeRows(ctx, rows)

	var enrollments []*models.Enrollment

	for rows.Next() {
		enrollment, err := r.scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

// Claim leases a due enrollment via an atomic conditional update; the lease
// horizon in next_action_at hides the row from other workers until it
// expires, making the claim crash-safe.
func (r *EnrollmentRepository) Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	query := `
		UPDATE automation_enrollments
		SET next_action_at = $3
		WHERE id = $1
		  AND status IN ('active', 'waiting')
		  AND next_action_at IS NOT NULL AND next_action_at <= $2
	`

	result, err := r.db.ExecContext(ctx, query, id, now, leaseUntil)
	if err != nil {
		return false, fmt.Errorf("failed to claim enrollment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected == 1, nil
}

// LiveByAutomation returns active and waiting enrollments of one automation.
func (r *EnrollmentRepository) LiveByAutomation(ctx context.Context, automationID string) ([]*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + `
		FROM automation_enrollments
		WHERE automation_id = $1 AND status IN ('active', 'waiting')
		ORDER BY enrolled_at`

	rows, err := r.db.QueryContext(ctx, query, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query live enrollments: %w", err)
	}

	defer r.closeRows(ctx, rows)

	var enrollments []*models.Enrollment

	for rows.Next() {
		enrollment, err := r.scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

func (r *EnrollmentRepository) scanEnrollment(scanner interface {
	Scan(dest ...any) error
}) (*models.Enrollment, error) {
	var (
		enrollment                models.Enrollment
		historyJSON, metadataJSON []byte
	)

	err := scanner.Scan(
		&enrollment.ID,
		&enrollment.AutomationID,
		&enrollment.ContactID,
		&enrollment.Status,
		&enrollment.CurrentStepID,
		&enrollment.ExitReason,
		&enrollment.EnrolledAt,
		&enrollment.NextActionAt,
		&enrollment.CompletedAt,
		&enrollment.ExitedAt,
		&historyJSON,
		&metadataJSON,
		&enrollment.Attempts,
	)
	if err != nil {
		return nil, err
	}

	if historyJSON != nil {
		err := json.Unmarshal(historyJSON, &enrollment.StepHistory)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step history: %w", err)
		}
	}

	if metadataJSON != nil {
		err := json.Unmarshal(metadataJSON, &enrollment.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &enrollment, nil
}

func (r *EnrollmentRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func marshalEnrollmentJSON(enrollment *models.Enrollment) ([]byte, []byte, error) {
	history := enrollment.StepHistory
	if history == nil {
		history = []models.StepHistoryEntry{}
	}

	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal step history: %w", err)
	}

	metadataJSON, err := json.Marshal(enrollment.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return historyJSON, metadataJSON, nil
}

func isUniqueViolation(err error) bool {
	// lib/pq unique_violation SQLSTATE.
	type sqlStater interface {
		SQLState() string
	}

	var stater sqlStater
	if errors.As(err, &stater) {
		return stater.SQLState() == "23505"
	}

	return false
}
