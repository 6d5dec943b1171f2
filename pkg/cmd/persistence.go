// Package cmd provides shared initialization for the doulaflow binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/doulaflow/doulaflow/pkg/persistence"
	"github.com/doulaflow/doulaflow/pkg/persistence/file"
	"github.com/doulaflow/doulaflow/pkg/persistence/postgresql"
)

// NewPersistence builds the store for a database URL. postgres:// URLs get
// the production store; anything else is treated as a file path, which only
// supports a single process.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return p
	}

	return file.NewPersistence(databaseURL)
}
