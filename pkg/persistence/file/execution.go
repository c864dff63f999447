package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

// ExecutionRepository handles execution record file operations. Lookups other
// than Get scan the whole directory, which suits development volumes only.
type ExecutionRepository struct {
	persistence *Persistence
}

func (er *ExecutionRepository) path(chatbotID, conversationID string) (string, error) {
	err := validateID("chatbot ID", chatbotID)
	if err != nil {
		return "", err
	}

	err = validateID("conversation ID", conversationID)
	if err != nil {
		return "", err
	}

	return filepath.Join(er.persistence.root, "executions", chatbotID, conversationID+".json"), nil
}

func (er *ExecutionRepository) Create(_ context.Context, record *models.ExecutionRecord) error {
	path, err := er.path(record.ChatbotID, record.ConversationID)
	if err != nil {
		return persistence.NewExecutionError("Create", record.ChatbotID, record.ConversationID, err)
	}

	er.persistence.mu.Lock()
	defer er.persistence.mu.Unlock()

	err = writeJSON(path, record, true)
	if errors.Is(err, os.ErrExist) {
		err = persistence.ErrExecutionAlreadyExists
	}

	if err != nil {
		return persistence.NewExecutionError("Create", record.ChatbotID, record.ConversationID, err)
	}

	return nil
}

func (er *ExecutionRepository) Save(_ context.Context, record *models.ExecutionRecord) error {
	path, err := er.path(record.ChatbotID, record.ConversationID)
	if err != nil {
		return persistence.NewExecutionError("Save", record.ChatbotID, record.ConversationID, err)
	}

	er.persistence.mu.Lock()
	defer er.persistence.mu.Unlock()

	err = writeJSON(path, record, false)
	if err != nil {
		return persistence.NewExecutionError("Save", record.ChatbotID, record.ConversationID, err)
	}

	return nil
}

func (er *ExecutionRepository) Get(_ context.Context, chatbotID, conversationID string) (*models.ExecutionRecord, error) {
	path, err := er.path(chatbotID, conversationID)
	if err != nil {
		return nil, persistence.NewExecutionError("Get", chatbotID, conversationID, err)
	}

	er.persistence.mu.RLock()
	defer er.persistence.mu.RUnlock()

	record, err := load(path)
	if errors.Is(err, os.ErrNotExist) {
		err = persistence.ErrExecutionNotFound
	}

	if err != nil {
		return nil, persistence.NewExecutionError("Get", chatbotID, conversationID, err)
	}

	return record, nil
}

func (er *ExecutionRepository) ByConversation(_ context.Context, conversationID string) (*models.ExecutionRecord, error) {
	records, err := er.all(func(r *models.ExecutionRecord) bool { return r.ConversationID == conversationID })
	if err != nil {
		return nil, persistence.NewExecutionError("ByConversation", "", conversationID, err)
	}

	if len(records) == 0 {
		return nil, persistence.NewExecutionError("ByConversation", "", conversationID, persistence.ErrExecutionNotFound)
	}

	newest := slices.MaxFunc(records, func(a, b *models.ExecutionRecord) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})

	return newest, nil
}

func (er *ExecutionRepository) Status(_ context.Context, id string) (models.ExecutionStatus, error) {
	records, err := er.all(func(r *models.ExecutionRecord) bool { return r.ID == id })
	if err != nil {
		return "", err
	}

	if len(records) == 0 {
		return "", fmt.Errorf("execution %s: %w", id, persistence.ErrExecutionNotFound)
	}

	return records[0].Status, nil
}

func (er *ExecutionRepository) Due(_ context.Context, before time.Time, limit int) ([]*models.ExecutionRecord, error) {
	records, err := er.all(func(r *models.ExecutionRecord) bool {
		return r.Status.IsBlocked() && r.ResumeAt != nil && !r.ResumeAt.After(before)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list due executions: %w", err)
	}

	slices.SortFunc(records, func(a, b *models.ExecutionRecord) int {
		return a.ResumeAt.Compare(*b.ResumeAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

func (er *ExecutionRepository) all(match func(*models.ExecutionRecord) bool) ([]*models.ExecutionRecord, error) {
	er.persistence.mu.RLock()
	defer er.persistence.mu.RUnlock()

	files, err := jsonFiles(filepath.Join(er.persistence.root, "executions"))
	if err != nil {
		return nil, err
	}

	var records []*models.ExecutionRecord

	for _, file := range files {
		record, err := load(file)
		if err != nil {
			// Skip invalid files
			continue
		}

		if match(record) {
			records = append(records, record)
		}
	}

	return records, nil
}

func load(path string) (*models.ExecutionRecord, error) {
	var record models.ExecutionRecord

	err := readJSON(path, &record)
	if err != nil {
		return nil, err
	}

	if record.Variables == nil {
		record.Variables = map[string]any{}
	}

	if record.MessageHistory == nil {
		record.MessageHistory = []models.MessageEntry{}
	}

	return &record, nil
}
