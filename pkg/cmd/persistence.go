// Package cmd holds the shared wiring factories for the binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/flowlane/flowlane/pkg/persistence"
	"github.com/flowlane/flowlane/pkg/persistence/memory"
	"github.com/flowlane/flowlane/pkg/persistence/postgresql"
)

// NewPersistence selects the backend from the database URL scheme. Anything
// that is not PostgreSQL falls back to the in-memory store, which is only
// suitable for development.
func NewPersistence(ctx context.Context, databaseURL string, logger *slog.Logger) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		logger.WarnContext(ctx, "No database URL configured, using in-memory persistence")

		return memory.NewPersistence(), nil
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return provider
}
