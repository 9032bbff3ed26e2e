// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weftworks/weft/pkg/persistence"
	"github.com/weftworks/weft/pkg/persistence/memory"
	"github.com/weftworks/weft/pkg/persistence/postgres"
)

// NewPersistence picks the storage backend from the database URL scheme:
// postgres:// connects to PostgreSQL, anything else falls back to the
// in-memory store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgres.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize postgres persistence: %w", err))
		}

		return store
	default:
		logger.WarnContext(ctx, "no database url configured, using in-memory persistence")

		return memory.NewPersistence()
	}
}
