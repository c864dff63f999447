package flow

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the definition format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Decode reads one flow definition.
func Decode(r io.Reader, format Format) (*models.FlowGraph, error) {
	var graph models.FlowGraph

	switch format {
	case FormatYAML:
		err := yaml.NewDecoder(r).Decode(&graph)
		if err != nil {
			return nil, fmt.Errorf("failed to decode yaml flow: %w", err)
		}
	case FormatJSON:
		decoder := json.NewDecoder(r)
		decoder.DisallowUnknownFields()

		err := decoder.Decode(&graph)
		if err != nil {
			return nil, fmt.Errorf("failed to decode json flow: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported flow format %q", format)
	}

	return &graph, nil
}

// LoadFile reads a flow definition from a JSON or YAML file.
func LoadFile(path string) (*models.FlowGraph, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open flow file: %w", err)
	}
	defer file.Close()

	return Decode(file, FormatFromPath(path))
}
