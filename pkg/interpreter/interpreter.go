// Package interpreter evaluates a single flow node against execution variables.
// It performs no I/O: the returned Effect tells the engine what to do next.
package interpreter

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/template"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	ErrMissingConfig    = errors.New("node configuration missing")
	ErrUnsupportedKind  = errors.New("unsupported node kind")
	ErrNoOutgoingEdge   = errors.New("node has no outgoing edge")
	ErrNoMatchingEdge   = errors.New("no outgoing edge matches branch result")
	ErrInvalidPredicate = errors.New("invalid branch expression")
)

type Interpreter struct {
	programs sync.Map
}

func New() *Interpreter {
	return &Interpreter{}
}

// Evaluate decides the effect of node given the current variables.
func (i *Interpreter) Evaluate(graph *models.FlowGraph, node *models.Node, variables map[string]any) (Effect, error) {
	switch node.Kind {
	case models.NodeKindSend:
		return i.evaluateSend(graph, node, variables)
	case models.NodeKindBranch:
		return i.evaluateBranch(graph, node, variables)
	case models.NodeKindAction:
		return i.evaluateAction(graph, node, variables)
	case models.NodeKindAsk:
		return i.evaluateAsk(node, variables)
	case models.NodeKindDelay:
		if node.Delay == nil {
			return nil, missingConfig(node)
		}

		return Delay{NodeID: node.ID, Duration: node.Delay.Duration.Duration()}, nil
	case models.NodeKindEnd:
		outcome := ""
		if node.End != nil {
			outcome = node.End.Outcome
		}

		return End{NodeID: node.ID, Outcome: outcome}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, node.Kind)
	}
}

func (i *Interpreter) evaluateSend(graph *models.FlowGraph, node *models.Node, variables map[string]any) (Effect, error) {
	if node.Send == nil {
		return nil, missingConfig(node)
	}

	content, err := template.RenderString(node.Send.Content, variables)
	if err != nil {
		return nil, err
	}

	next, err := NextEdge(graph, node.ID)
	if err != nil {
		return nil, err
	}

	return Send{NodeID: node.ID, Content: content, Next: next}, nil
}

func (i *Interpreter) evaluateBranch(graph *models.FlowGraph, node *models.Node, variables map[string]any) (Effect, error) {
	if node.Branch == nil {
		return nil, missingConfig(node)
	}

	program, err := i.compile(node.Branch.Expression)
	if err != nil {
		return nil, err
	}

	env := make(map[string]any, len(variables))
	for key, value := range variables {
		env[key] = value
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPredicate, err)
	}

	result := stringify(output)

	var fallback *models.Edge

	for _, edge := range graph.Outgoing(node.ID) {
		if edge.Label == result {
			return Branch{NodeID: node.ID, Result: result, Next: edge.Target}, nil
		}

		if edge.Label == models.EdgeLabelDefault && fallback == nil {
			fallback = edge
		}
	}

	if fallback != nil {
		return Branch{NodeID: node.ID, Result: result, Next: fallback.Target}, nil
	}

	return nil, fmt.Errorf("%w: result %q", ErrNoMatchingEdge, result)
}

func (i *Interpreter) evaluateAction(graph *models.FlowGraph, node *models.Node, variables map[string]any) (Effect, error) {
	if node.Action == nil {
		return nil, missingConfig(node)
	}

	cfg := node.Action

	endpoint, err := template.RenderString(cfg.Endpoint, variables)
	if err != nil {
		return nil, err
	}

	var request map[string]any

	if len(cfg.Request) > 0 {
		rendered, err := template.RenderValue(cfg.Request, variables)
		if err != nil {
			return nil, fmt.Errorf("failed to render action request: %w", err)
		}

		request, _ = rendered.(map[string]any)
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	next, err := NextEdge(graph, node.ID)
	if err != nil {
		return nil, err
	}

	return Action{
		NodeID:    node.ID,
		Endpoint:  endpoint,
		Method:    method,
		Headers:   cfg.Headers,
		Request:   request,
		Mapping:   cfg.Mapping,
		ResultKey: cfg.ResultKey,
		Timeout:   cfg.Timeout.Duration(),
		Retry:     cfg.Retry,
		Next:      next,
	}, nil
}

func (i *Interpreter) evaluateAsk(node *models.Node, variables map[string]any) (Effect, error) {
	if node.Ask == nil {
		return nil, missingConfig(node)
	}

	prompt, err := template.RenderString(node.Ask.Prompt, variables)
	if err != nil {
		return nil, err
	}

	return AskAndWait{
		NodeID:  node.ID,
		Prompt:  prompt,
		Timeout: node.Ask.Timeout.Duration(),
		SaveAs:  node.Ask.SaveAs,
	}, nil
}

func (i *Interpreter) compile(expression string) (*vm.Program, error) {
	if cached, ok := i.programs.Load(expression); ok {
		return cached.(*vm.Program), nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPredicate, err)
	}

	i.programs.Store(expression, program)

	return program, nil
}

// CompileCheck reports whether expression compiles.
func CompileCheck(expression string) error {
	_, err := expr.Compile(expression, expr.AllowUndefinedVariables())

	return err
}

// NextEdge returns the target of the single edge leaving nodeID.
func NextEdge(graph *models.FlowGraph, nodeID string) (string, error) {
	edges := graph.Outgoing(nodeID)
	if len(edges) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoOutgoingEdge, nodeID)
	}

	return edges[0].Target, nil
}

// ResumeEdge selects where a blocked node continues. An empty label picks the
// reply edge (any edge not labelled timeout); models.EdgeLabelTimeout picks
// the timeout edge and returns "" when the node has none.
func ResumeEdge(graph *models.FlowGraph, nodeID, label string) (string, error) {
	edges := graph.Outgoing(nodeID)

	if label == models.EdgeLabelTimeout {
		for _, edge := range edges {
			if edge.Label == models.EdgeLabelTimeout {
				return edge.Target, nil
			}
		}

		return "", nil
	}

	for _, edge := range edges {
		if edge.Label != models.EdgeLabelTimeout {
			return edge.Target, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNoOutgoingEdge, nodeID)
}

func missingConfig(node *models.Node) error {
	return fmt.Errorf("%w: %s node %s", ErrMissingConfig, node.Kind, node.ID)
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}

		return "false"
	default:
		return fmt.Sprint(v)
	}
}
