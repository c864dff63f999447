package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/convoflow/pkg/persistence"
)

// Persistence binds the shared repositories to one open database.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	flowRepo      *FlowRepository
	executionRepo *ExecutionRepository
}

// Open migrates database and wires the repositories for dialect.
func Open(ctx context.Context, logger *slog.Logger, db *sql.DB, dialect Dialect, migrations map[int]string) (*Persistence, error) {
	err := db.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	err = NewMigrationManager(logger, db, dialect, migrations).RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            db,
		logger:        logger,
		flowRepo:      NewFlowRepository(db, dialect, logger),
		executionRepo: NewExecutionRepository(db, dialect, logger),
	}, nil
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.flowRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
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
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// DB exposes the underlying handle, mostly for tests.
func (p *Persistence) DB() *sql.DB {
	return p.db
}
