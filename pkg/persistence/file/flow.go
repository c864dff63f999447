package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

// FlowRepository handles published flow file operations.
type FlowRepository struct {
	persistence *Persistence
}

func (fr *FlowRepository) dir(chatbotID string) string {
	return filepath.Join(fr.persistence.root, "flows", chatbotID)
}

func (fr *FlowRepository) Save(_ context.Context, graph *models.FlowGraph) error {
	err := validateID("chatbot ID", graph.ChatbotID)
	if err != nil {
		return err
	}

	fr.persistence.mu.Lock()
	defer fr.persistence.mu.Unlock()

	path := filepath.Join(fr.dir(graph.ChatbotID), strconv.Itoa(graph.Version)+".json")

	err = writeJSON(path, graph, true)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("chatbot %s version %d: %w", graph.ChatbotID, graph.Version, persistence.ErrFlowVersionExists)
	}

	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	return nil
}

func (fr *FlowRepository) Latest(ctx context.Context, chatbotID string) (*models.FlowGraph, error) {
	err := validateID("chatbot ID", chatbotID)
	if err != nil {
		return nil, err
	}

	fr.persistence.mu.RLock()
	entries, err := os.ReadDir(fr.dir(chatbotID))
	fr.persistence.mu.RUnlock()

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read flows of chatbot %s: %w", chatbotID, err)
	}

	latest := 0

	for _, entry := range entries {
		version, err := strconv.Atoi(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil || entry.IsDir() {
			continue
		}

		latest = max(latest, version)
	}

	if latest == 0 {
		return nil, fmt.Errorf("chatbot %s: %w", chatbotID, persistence.ErrFlowNotFound)
	}

	return fr.Version(ctx, chatbotID, latest)
}

func (fr *FlowRepository) Version(_ context.Context, chatbotID string, version int) (*models.FlowGraph, error) {
	err := validateID("chatbot ID", chatbotID)
	if err != nil {
		return nil, err
	}

	fr.persistence.mu.RLock()
	defer fr.persistence.mu.RUnlock()

	var graph models.FlowGraph

	err = readJSON(filepath.Join(fr.dir(chatbotID), strconv.Itoa(version)+".json"), &graph)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chatbot %s version %d: %w", chatbotID, version, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return nil, err
	}

	return &graph, nil
}
