package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

const executionColumns = `id, chatbot_id, conversation_id, contact_id, tenant_id, channel_id, flow_version,
	current_node_id, variables, message_history, status, expectation, resume_at, processed_events,
	started_at, updated_at, completed_at, error`

// ExecutionRepository handles execution record database operations.
type ExecutionRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewExecutionRepository creates a new execution record repository.
func NewExecutionRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, dialect: dialect, logger: logger}
}

// Create inserts a record, refusing to replace an existing (chatbot, conversation) pair.
func (r *ExecutionRepository) Create(ctx context.Context, record *models.ExecutionRecord) error {
	args, err := r.args(record)
	if err != nil {
		return persistence.NewExecutionError("Create", record.ChatbotID, record.ConversationID, err)
	}

	query := `INSERT INTO executions (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chatbot_id, conversation_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return persistence.NewExecutionError("Create", record.ChatbotID, record.ConversationID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Create", record.ChatbotID, record.ConversationID, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Create", record.ChatbotID, record.ConversationID, persistence.ErrExecutionAlreadyExists)
	}

	return nil
}

// Save upserts the record on its (chatbot, conversation) pair.
func (r *ExecutionRepository) Save(ctx context.Context, record *models.ExecutionRecord) error {
	args, err := r.args(record)
	if err != nil {
		return persistence.NewExecutionError("Save", record.ChatbotID, record.ConversationID, err)
	}

	query := `INSERT INTO executions (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chatbot_id, conversation_id) DO UPDATE SET
			id = EXCLUDED.id,
			contact_id = EXCLUDED.contact_id,
			tenant_id = EXCLUDED.tenant_id,
			channel_id = EXCLUDED.channel_id,
			flow_version = EXCLUDED.flow_version,
			current_node_id = EXCLUDED.current_node_id,
			variables = EXCLUDED.variables,
			message_history = EXCLUDED.message_history,
			status = EXCLUDED.status,
			expectation = EXCLUDED.expectation,
			resume_at = EXCLUDED.resume_at,
			processed_events = EXCLUDED.processed_events,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at,
			error = EXCLUDED.error`

	_, err = r.db.ExecContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return persistence.NewExecutionError("Save", record.ChatbotID, record.ConversationID, err)
	}

	return nil
}

// Get retrieves the record of a chatbot in a conversation.
func (r *ExecutionRepository) Get(ctx context.Context, chatbotID, conversationID string) (*models.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE chatbot_id = ? AND conversation_id = ?`

	record, err := r.scanExecution(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), chatbotID, conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewExecutionError("Get", chatbotID, conversationID, err)
	}

	return record, nil
}

// ByConversation retrieves the most recently updated record of a conversation.
func (r *ExecutionRepository) ByConversation(ctx context.Context, conversationID string) (*models.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE conversation_id = ? ORDER BY updated_at DESC LIMIT 1`

	record, err := r.scanExecution(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewExecutionError("ByConversation", "", conversationID, err)
	}

	return record, nil
}

// Status reads the status column of a record.
func (r *ExecutionRepository) Status(ctx context.Context, id string) (models.ExecutionStatus, error) {
	var status string

	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(`SELECT status FROM executions WHERE id = ?`), id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("execution %s: %w", id, persistence.ErrExecutionNotFound)
		}

		return "", fmt.Errorf("failed to read status of execution %s: %w", id, err)
	}

	return models.ExecutionStatus(status), nil
}

// Due lists waiting and paused records whose timer has elapsed.
func (r *ExecutionRepository) Due(ctx context.Context, before time.Time, limit int) ([]*models.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE status IN ('waiting', 'paused') AND resume_at IS NOT NULL AND resume_at <= ?
		ORDER BY resume_at ASC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), r.dialect.Time(before), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var records []*models.ExecutionRecord

	for rows.Next() {
		record, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due execution: %w", err)
		}

		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating due executions: %w", err)
	}

	return records, nil
}

func (r *ExecutionRepository) args(record *models.ExecutionRecord) ([]any, error) {
	variables := record.Variables
	if variables == nil {
		variables = map[string]any{}
	}

	variablesJSON, err := marshalJSON(variables)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variables: %w", err)
	}

	history := record.MessageHistory
	if history == nil {
		history = []models.MessageEntry{}
	}

	historyJSON, err := marshalJSON(history)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message history: %w", err)
	}

	processed := record.ProcessedEvents
	if processed == nil {
		processed = []string{}
	}

	processedJSON, err := marshalJSON(processed)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal processed events: %w", err)
	}

	var expectationJSON any

	if record.Expectation != nil {
		encoded, err := marshalJSON(record.Expectation)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal expectation: %w", err)
		}

		expectationJSON = encoded
	}

	return []any{
		record.ID,
		record.ChatbotID,
		record.ConversationID,
		record.ContactID,
		record.TenantID,
		record.ChannelID,
		record.FlowVersion,
		nullString(record.CurrentNodeID),
		variablesJSON,
		historyJSON,
		string(record.Status),
		expectationJSON,
		r.dialect.NullTime(record.ResumeAt),
		processedJSON,
		r.dialect.Time(record.StartedAt),
		r.dialect.Time(record.UpdatedAt),
		r.dialect.NullTime(record.CompletedAt),
		nullString(record.Error),
	}, nil
}

// scanner is an interface that abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (r *ExecutionRepository) scanExecution(row scanner) (*models.ExecutionRecord, error) {
	var (
		record                                      models.ExecutionRecord
		currentNodeID, errorMessage                 sql.NullString
		variablesJSON, historyJSON, processedJSON   []byte
		expectationJSON                             []byte
		status                                      string
		resumeAt, startedAt, updatedAt, completedAt nullTime
	)

	err := row.Scan(
		&record.ID,
		&record.ChatbotID,
		&record.ConversationID,
		&record.ContactID,
		&record.TenantID,
		&record.ChannelID,
		&record.FlowVersion,
		&currentNodeID,
		&variablesJSON,
		&historyJSON,
		&status,
		&expectationJSON,
		&resumeAt,
		&processedJSON,
		&startedAt,
		&updatedAt,
		&completedAt,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	record.Status = models.ExecutionStatus(status)
	record.StartedAt = startedAt.Time
	record.UpdatedAt = updatedAt.Time
	record.ResumeAt = resumeAt.Ptr()
	record.CompletedAt = completedAt.Ptr()

	if currentNodeID.Valid {
		record.CurrentNodeID = &currentNodeID.String
	}

	if errorMessage.Valid {
		record.Error = &errorMessage.String
	}

	err = unmarshalColumn(variablesJSON, &record.Variables, "variables")
	if err != nil {
		return nil, err
	}

	err = unmarshalColumn(historyJSON, &record.MessageHistory, "message history")
	if err != nil {
		return nil, err
	}

	err = unmarshalColumn(processedJSON, &record.ProcessedEvents, "processed events")
	if err != nil {
		return nil, err
	}

	if len(expectationJSON) > 0 && strings.TrimSpace(string(expectationJSON)) != "null" {
		record.Expectation = &models.Expectation{}

		err = json.Unmarshal(expectationJSON, record.Expectation)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal expectation: %w", err)
		}
	}

	if record.Variables == nil {
		record.Variables = map[string]any{}
	}

	if record.MessageHistory == nil {
		record.MessageHistory = []models.MessageEntry{}
	}

	return &record, nil
}

func unmarshalColumn(data []byte, target any, name string) error {
	if len(data) == 0 {
		return nil
	}

	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}

	return nil
}
