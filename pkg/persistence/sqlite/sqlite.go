// Package sqlite provides an embedded SQLite persistence for single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/convoflow/pkg/persistence/sqlbase"
	_ "modernc.org/sqlite"
)

// Persistence implements the persistence layer for SQLite.
type Persistence struct {
	*sqlbase.Persistence
}

// NewPersistence opens the database at dsn, which may be a path or a file: URI.
func NewPersistence(ctx context.Context, logger *slog.Logger, dsn string) (*Persistence, error) {
	database, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite serialises writers; a single connection avoids SQLITE_BUSY under concurrent writes.
	database.SetMaxOpenConns(1)

	base, err := sqlbase.Open(ctx, logger.With("persistence", "sqlite"), database, sqlbase.SQLite, migrations())
	if err != nil {
		_ = database.Close()

		return nil, err
	}

	return &Persistence{Persistence: base}, nil
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}

	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}

	return dsn + separator + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}
