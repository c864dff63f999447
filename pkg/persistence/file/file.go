// Package file provides file-based persistence for published flows and execution records.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/convoflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
//
// Layout:
//
//	<root>/flows/<chatbot>/<version>.json
//	<root>/executions/<chatbot>/<conversation>.json
type Persistence struct {
	root          string
	mu            sync.RWMutex
	flowRepo      *FlowRepository
	executionRepo *ExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	err := os.MkdirAll(cleanRoot, 0o750)
	if err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	fp := &Persistence{root: cleanRoot}
	fp.flowRepo = &FlowRepository{persistence: fp}
	fp.executionRepo = &ExecutionRepository{persistence: fp}

	return fp, nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) FlowRepository() persistence.FlowRepository {
	return fp.flowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

// validateID validates that an identifier is safe to use as a path segment.
func validateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%s contains invalid characters", kind)
	}

	return nil
}

// writeJSON atomically replaces path with value. With exclusive set it fails
// with os.ErrExist when path is already present.
func writeJSON(path string, value any, exclusive bool) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	err = os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if exclusive {
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) // #nosec G304 -- path segments are validated
		if err != nil {
			return err
		}

		_, err = file.Write(data)
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}

		return err
	}

	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	return os.Rename(tmp, path)
}

func readJSON(path string, target any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path segments are validated
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}

	return nil
}

// jsonFiles lists every .json file under dir, one level of subdirectories deep.
func jsonFiles(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*", "*.json"))
}
