package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/flowlane/flowlane/pkg/models"
)

// LogRepository appends and reads audit log rows. The engine never updates
// or deletes them.
type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLogRepository creates a new audit log repository.
func NewLogRepository(db *sql.DB, logger *slog.Logger) *LogRepository {
	return &LogRepository{db: db, logger: logger}
}

// Append inserts one audit row.
func (r *LogRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate log ID: %w", err)
		}

		entry.ID = id.String()
	}

	dataJSON, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal log data: %w", err)
	}

	query := `
		INSERT INTO automation_logs (id, automation_id, enrollment_id, step_id,
			contact_id, action, status, message, data, email_message_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.AutomationID,
		entry.EnrollmentID,
		entry.StepID,
		entry.ContactID,
		entry.Action,
		entry.Status,
		entry.Message,
		dataJSON,
		entry.EmailMessageRef,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	return nil
}

// ByEnrollment returns an enrollment's audit rows in insertion order.
func (r *LogRepository) ByEnrollment(ctx context.Context, enrollmentID string) ([]*models.LogEntry, error) {
	query := `
		SELECT id, automation_id, enrollment_id, step_id, contact_id, action,
			status, message, data, email_message_ref, created_at
		FROM automation_logs
		WHERE enrollment_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var entries []*models.LogEntry

	for rows.Next() {
		var (
			entry    models.LogEntry
			dataJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.AutomationID,
			&entry.EnrollmentID,
			&entry.StepID,
			&entry.ContactID,
			&entry.Action,
			&entry.Status,
			&entry.Message,
			&dataJSON,
			&entry.EmailMessageRef,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		if dataJSON != nil {
			err := json.Unmarshal(dataJSON, &entry.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal log data: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log entries: %w", err)
	}

	return entries, nil
}
