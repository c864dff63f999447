package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

// FlowRepository handles published flow database operations. The graph is
// stored whole in the definition column; identifying fields are columns.
type FlowRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, dialect: dialect, logger: logger}
}

func (r *FlowRepository) Save(ctx context.Context, graph *models.FlowGraph) error {
	definition, err := marshalJSON(graph)
	if err != nil {
		return fmt.Errorf("failed to marshal flow definition: %w", err)
	}

	publishedAt := time.Now().UTC()
	if graph.PublishedAt != nil {
		publishedAt = *graph.PublishedAt
	}

	query := `INSERT INTO flows (id, chatbot_id, tenant_id, version, name, definition, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chatbot_id, version) DO NOTHING`

	result, err := r.db.ExecContext(ctx, r.dialect.Rebind(query),
		graph.ID,
		graph.ChatbotID,
		graph.TenantID,
		graph.Version,
		graph.Name,
		definition,
		r.dialect.Time(publishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("chatbot %s version %d: %w", graph.ChatbotID, graph.Version, persistence.ErrFlowVersionExists)
	}

	return nil
}

func (r *FlowRepository) Latest(ctx context.Context, chatbotID string) (*models.FlowGraph, error) {
	query := `SELECT definition FROM flows WHERE chatbot_id = ? ORDER BY version DESC LIMIT 1`

	return r.one(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), chatbotID), chatbotID)
}

func (r *FlowRepository) Version(ctx context.Context, chatbotID string, version int) (*models.FlowGraph, error) {
	query := `SELECT definition FROM flows WHERE chatbot_id = ? AND version = ?`

	return r.one(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), chatbotID, version), chatbotID)
}

func (r *FlowRepository) one(row scanner, chatbotID string) (*models.FlowGraph, error) {
	var definition []byte

	err := row.Scan(&definition)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chatbot %s: %w", chatbotID, persistence.ErrFlowNotFound)
		}

		return nil, fmt.Errorf("failed to load flow of chatbot %s: %w", chatbotID, err)
	}

	var graph models.FlowGraph

	err = json.Unmarshal(definition, &graph)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow definition: %w", err)
	}

	return &graph, nil
}
