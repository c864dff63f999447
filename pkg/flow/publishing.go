package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/google/uuid"
)

// Publisher validates flow graphs and stores them as new immutable versions.
type Publisher struct {
	flows     persistence.FlowRepository
	validator *Validator
	logger    *slog.Logger
}

func NewPublisher(flows persistence.FlowRepository, validator *Validator, logger *slog.Logger) *Publisher {
	return &Publisher{
		flows:     flows,
		validator: validator,
		logger:    logger.With("module", "flow_publisher"),
	}
}

// Publish stores graph as the next version of its chatbot's flow.
// Invalid graphs are rejected with a *ValidationError and nothing is stored.
func (p *Publisher) Publish(ctx context.Context, graph *models.FlowGraph) (*models.FlowGraph, error) {
	err := p.validator.Validate(graph)
	if err != nil {
		return nil, err
	}

	version := 1

	latest, err := p.flows.Latest(ctx, graph.ChatbotID)

	switch {
	case err == nil:
		version = latest.Version + 1
	case persistence.IsFlowNotFound(err):
	default:
		return nil, fmt.Errorf("failed to load latest flow of chatbot %s: %w", graph.ChatbotID, err)
	}

	now := time.Now().UTC()
	published := *graph
	published.ID = uuid.New().String()
	published.Version = version
	published.PublishedAt = &now

	err = p.flows.Save(ctx, &published)
	if err != nil {
		return nil, fmt.Errorf("failed to save flow version %d of chatbot %s: %w", version, graph.ChatbotID, err)
	}

	p.logger.InfoContext(ctx, "Flow published",
		"chatbot_id", published.ChatbotID,
		"tenant_id", published.TenantID,
		"version", published.Version,
		"nodes", len(published.Nodes),
	)

	return &published, nil
}
