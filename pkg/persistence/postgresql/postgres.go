// Package postgresql provides PostgreSQL persistence for automations,
// enrollments and the audit log.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// Registers the postgres database/sql driver.
	_ "github.com/lib/pq"

	"github.com/flowlane/flowlane/pkg/persistence"
	"github.com/flowlane/flowlane/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	automationRepo *AutomationRepository
	enrollmentRepo *EnrollmentRepository
	logRepo        *LogRepository
}

// NewPersistence connects, migrates and returns a PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:             database,
		logger:         logger,
		automationRepo: NewAutomationRepository(database, logger),
		enrollmentRepo: NewEnrollmentRepository(database, logger),
		logRepo:        NewLogRepository(database, logger),
	}, nil
}

// Automations returns the automation repository.
func (p *Persistence) Automations() persistence.AutomationRepository {
	return p.automationRepo
}

// Enrollments returns the enrollment repository.
func (p *Persistence) Enrollments() persistence.EnrollmentRepository {
	return p.enrollmentRepo
}

// Logs returns the audit log repository.
func (p *Persistence) Logs() persistence.LogRepository {
	return p.logRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
