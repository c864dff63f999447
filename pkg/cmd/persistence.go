package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/file"
	"github.com/dukex/convoflow/pkg/persistence/postgresql"
	"github.com/dukex/convoflow/pkg/persistence/sqlite"
)

var ErrUnsupportedDatabase = errors.New("unsupported database url")

var supportedPersistenceProviders = []string{"file", "sqlite", "postgres", "postgresql"}

// NewPersistence opens the store named by databaseURL: postgres:// or
// postgresql://, sqlite://<path> or file://<dir>. A bare path is a file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, location := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "sqlite":
		return sqlite.NewPersistence(ctx, logger, location)
	case "file":
		return file.NewPersistence(location)
	default:
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedDatabase, provider, strings.Join(supportedPersistenceProviders, ", "))
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, location, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, location
}
