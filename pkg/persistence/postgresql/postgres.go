// Package postgresql provides PostgreSQL persistence for published flows and execution records.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/convoflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	*sqlbase.Persistence
}

// NewPersistence creates a new PostgreSQL persistence layer and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	base, err := sqlbase.Open(ctx, logger.With("persistence", "postgres"), database, sqlbase.Postgres, migrations())
	if err != nil {
		_ = database.Close()

		return nil, err
	}

	return &Persistence{Persistence: base}, nil
}
