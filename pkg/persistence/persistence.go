// Package persistence provides the storage abstraction for published flows and execution records.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

type Persistence interface {
	FlowRepository() FlowRepository
	ExecutionRepository() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores published, immutable flow graph versions.
type FlowRepository interface {
	// Save stores a new version. It fails with ErrFlowVersionExists when the
	// (chatbot, version) pair is taken.
	Save(ctx context.Context, graph *models.FlowGraph) error
	Latest(ctx context.Context, chatbotID string) (*models.FlowGraph, error)
	Version(ctx context.Context, chatbotID string, version int) (*models.FlowGraph, error)
}

// ExecutionRepository stores one execution record per (chatbot, conversation).
type ExecutionRepository interface {
	// Create inserts the record unless one exists for its (chatbot, conversation)
	// pair, in which case it returns ErrExecutionAlreadyExists.
	Create(ctx context.Context, record *models.ExecutionRecord) error
	// Save writes the record, replacing whatever is stored for its
	// (chatbot, conversation) pair.
	Save(ctx context.Context, record *models.ExecutionRecord) error
	Get(ctx context.Context, chatbotID, conversationID string) (*models.ExecutionRecord, error)
	// ByConversation returns the most recently updated record of a conversation.
	ByConversation(ctx context.Context, conversationID string) (*models.ExecutionRecord, error)
	// Status reads only the status of the record with the given id.
	Status(ctx context.Context, id string) (models.ExecutionStatus, error)
	// Due lists blocked records whose resume_at is at or before the given time.
	Due(ctx context.Context, before time.Time, limit int) ([]*models.ExecutionRecord, error)
}
