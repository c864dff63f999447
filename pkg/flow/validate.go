package flow

import (
	"errors"
	"fmt"

	"github.com/dukex/convoflow/pkg/interpreter"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// Validator checks a flow graph before it can be published.
type Validator struct {
	validate *validator.Validate
	schemas  map[models.NodeKind]*gojsonschema.Schema
}

func NewValidator() (*Validator, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		schemas:  schemas,
	}, nil
}

// Validate returns a *ValidationError listing every problem, or nil.
// Cycles are legal and are not reported.
func (v *Validator) Validate(graph *models.FlowGraph) error {
	if graph == nil {
		return &ValidationError{Problems: []error{problem(ErrInvalidField, "flow is empty")}}
	}

	var problems []error

	err := v.validate.Struct(graph)
	if err != nil {
		var fieldErrors validator.ValidationErrors
		if !errors.As(err, &fieldErrors) {
			return fmt.Errorf("failed to validate flow: %w", err)
		}

		for _, fieldErr := range fieldErrors {
			problems = append(problems, problem(ErrInvalidField, "%s failed on %s", fieldErr.Namespace(), fieldErr.Tag()))
		}
	}

	nodes := make(map[string]*models.Node, len(graph.Nodes))

	for _, node := range graph.Nodes {
		if node == nil {
			continue
		}

		if _, exists := nodes[node.ID]; exists {
			problems = append(problems, problem(ErrDuplicateNode, "%s", node.ID))

			continue
		}

		nodes[node.ID] = node
	}

	if graph.EntryNodeID != "" {
		if _, ok := nodes[graph.EntryNodeID]; !ok {
			problems = append(problems, problem(ErrMissingEntry, "%s", graph.EntryNodeID))
		}
	}

	outgoing := make(map[string][]*models.Edge)

	for _, edge := range graph.Edges {
		if edge == nil {
			continue
		}

		if _, ok := nodes[edge.Source]; !ok {
			problems = append(problems, problem(ErrDanglingEdge, "source %q", edge.Source))

			continue
		}

		if _, ok := nodes[edge.Target]; !ok {
			problems = append(problems, problem(ErrDanglingEdge, "target %q from %s", edge.Target, edge.Source))

			continue
		}

		outgoing[edge.Source] = append(outgoing[edge.Source], edge)
	}

	for _, node := range graph.Nodes {
		if node == nil {
			continue
		}

		problems = append(problems, v.validateNode(node, outgoing[node.ID])...)
	}

	if len(problems) > 0 {
		return &ValidationError{ChatbotID: graph.ChatbotID, Problems: problems}
	}

	return nil
}

func (v *Validator) validateNode(node *models.Node, edges []*models.Edge) []error {
	var problems []error

	value := payload(node)
	schema, known := v.schemas[node.Kind]

	switch {
	case !known:
		// reported by the struct validation of Kind
	case value == nil:
		problems = append(problems, problem(ErrInvalidNodeConfig, "node %s: missing %s configuration", node.ID, node.Kind))
	default:
		err := validatePayload(schema, node, value)
		if err != nil {
			problems = append(problems, err)
		}
	}

	switch node.Kind {
	case models.NodeKindEnd:
		if len(edges) > 0 {
			problems = append(problems, problem(ErrTooManyEdges, "end node %s must not have outgoing edges", node.ID))
		}
	case models.NodeKindSend, models.NodeKindAction, models.NodeKindDelay:
		problems = append(problems, exactlyOne(node, edges)...)
	case models.NodeKindAsk:
		problems = append(problems, askEdges(node, edges)...)
	case models.NodeKindBranch:
		problems = append(problems, branchEdges(node, edges)...)

		if node.Branch != nil && node.Branch.Expression != "" {
			err := interpreter.CompileCheck(node.Branch.Expression)
			if err != nil {
				problems = append(problems, problem(ErrInvalidNodeConfig, "node %s: %v", node.ID, err))
			}
		}
	}

	if node.Kind == models.NodeKindDelay && node.Delay != nil && node.Delay.Duration <= 0 {
		problems = append(problems, problem(ErrInvalidNodeConfig, "node %s: delay duration must be positive", node.ID))
	}

	return problems
}

func exactlyOne(node *models.Node, edges []*models.Edge) []error {
	switch {
	case len(edges) == 0:
		return []error{problem(ErrMissingEdge, "%s", node.ID)}
	case len(edges) > 1:
		return []error{problem(ErrTooManyEdges, "%s node %s needs exactly one outgoing edge, has %d", node.Kind, node.ID, len(edges))}
	default:
		return nil
	}
}

func askEdges(node *models.Node, edges []*models.Edge) []error {
	replies, timeouts := 0, 0

	for _, edge := range edges {
		if edge.Label == models.EdgeLabelTimeout {
			timeouts++
		} else {
			replies++
		}
	}

	var problems []error

	if replies == 0 {
		problems = append(problems, problem(ErrMissingEdge, "%s", node.ID))
	}

	if replies > 1 || timeouts > 1 {
		problems = append(problems, problem(ErrTooManyEdges, "ask node %s allows one reply edge and one timeout edge", node.ID))
	}

	return problems
}

func branchEdges(node *models.Node, edges []*models.Edge) []error {
	if len(edges) == 0 {
		return []error{problem(ErrMissingEdge, "%s", node.ID)}
	}

	var problems []error

	labels := make(map[string]bool, len(edges))

	for _, edge := range edges {
		if edge.Label == "" {
			problems = append(problems, problem(ErrInvalidNodeConfig, "branch node %s has an unlabelled edge to %s", node.ID, edge.Target))

			continue
		}

		if labels[edge.Label] {
			problems = append(problems, problem(ErrDuplicateLabel, "%q on branch node %s", edge.Label, node.ID))
		}

		labels[edge.Label] = true
	}

	return problems
}
