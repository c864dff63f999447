package flow

import (
	"fmt"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

const durationPattern = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

func durationSchema() map[string]any {
	return map[string]any{"type": "string", "pattern": durationPattern}
}

// payloadSchemas describes the kind-specific payload of every node kind.
func payloadSchemas() map[models.NodeKind]map[string]any {
	return map[models.NodeKind]map[string]any{
		models.NodeKindSend: {
			"type":     "object",
			"required": []any{"content"},
			"properties": map[string]any{
				"content": map[string]any{"type": "string", "minLength": 1},
			},
		},
		models.NodeKindBranch: {
			"type":     "object",
			"required": []any{"expression"},
			"properties": map[string]any{
				"expression": map[string]any{"type": "string", "minLength": 1},
			},
		},
		models.NodeKindAction: {
			"type":     "object",
			"required": []any{"endpoint"},
			"properties": map[string]any{
				"endpoint":   map[string]any{"type": "string", "minLength": 1},
				"method":     map[string]any{"type": "string", "pattern": "^(?i)(GET|POST|PUT|PATCH|DELETE)?$"},
				"headers":    map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
				"request":    map[string]any{"type": "object"},
				"mapping":    map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string", "minLength": 1}},
				"result_key": map[string]any{"type": "string"},
				"timeout":    durationSchema(),
				"retry": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"max_attempts":    map[string]any{"type": "integer", "minimum": 0, "maximum": 10},
						"initial_backoff": durationSchema(),
						"multiplier":      map[string]any{"type": "number", "minimum": 0},
						"max_backoff":     durationSchema(),
					},
				},
			},
		},
		models.NodeKindAsk: {
			"type":     "object",
			"required": []any{"prompt"},
			"properties": map[string]any{
				"prompt":  map[string]any{"type": "string"},
				"timeout": durationSchema(),
				"save_as": map[string]any{"type": "string", "pattern": "^[A-Za-z][A-Za-z0-9_]*$"},
			},
		},
		models.NodeKindDelay: {
			"type":     "object",
			"required": []any{"duration"},
			"properties": map[string]any{
				"duration": durationSchema(),
			},
		},
		models.NodeKindEnd: {
			"type": "object",
			"properties": map[string]any{
				"outcome": map[string]any{"type": "string"},
			},
		},
	}
}

func compileSchemas() (map[models.NodeKind]*gojsonschema.Schema, error) {
	compiled := make(map[models.NodeKind]*gojsonschema.Schema)

	for kind, schema := range payloadSchemas() {
		loaded, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s schema: %w", kind, err)
		}

		compiled[kind] = loaded
	}

	return compiled, nil
}

// payload returns the kind-specific configuration of node, or nil when absent.
func payload(node *models.Node) any {
	switch node.Kind {
	case models.NodeKindSend:
		if node.Send != nil {
			return node.Send
		}
	case models.NodeKindBranch:
		if node.Branch != nil {
			return node.Branch
		}
	case models.NodeKindAction:
		if node.Action != nil {
			return node.Action
		}
	case models.NodeKindAsk:
		if node.Ask != nil {
			return node.Ask
		}
	case models.NodeKindDelay:
		if node.Delay != nil {
			return node.Delay
		}
	case models.NodeKindEnd:
		if node.End != nil {
			return node.End
		}

		return &models.EndConfig{}
	}

	return nil
}

func validatePayload(schema *gojsonschema.Schema, node *models.Node, value any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return problem(ErrInvalidNodeConfig, "node %s: %v", node.ID, err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		messages = append(messages, resultErr.String())
	}

	return problem(ErrInvalidNodeConfig, "node %s: %s", node.ID, strings.Join(messages, "; "))
}
