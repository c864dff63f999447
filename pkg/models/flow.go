// Package models provides the core data structures shared by the flow engine.
package models

import "time"

// NodeKind is the closed set of node variants a flow graph may contain.
type NodeKind string

const (
	NodeKindSend   NodeKind = "send"
	NodeKindBranch NodeKind = "branch"
	NodeKindAction NodeKind = "action"
	NodeKindAsk    NodeKind = "ask"
	NodeKindDelay  NodeKind = "delay"
	NodeKindEnd    NodeKind = "end"
)

// NodeKinds lists every supported kind in a stable order.
func NodeKinds() []NodeKind {
	return []NodeKind{NodeKindSend, NodeKindBranch, NodeKindAction, NodeKindAsk, NodeKindDelay, NodeKindEnd}
}

// Edge labels with engine-level meaning.
const (
	EdgeLabelDefault = "default"
	EdgeLabelReply   = "reply"
	EdgeLabelTimeout = "timeout"
)

// FlowGraph is a published, immutable chatbot flow.
type FlowGraph struct {
	ID          string       `json:"id"                     yaml:"id"`
	ChatbotID   string       `json:"chatbot_id"             yaml:"chatbot_id"    validate:"required"`
	TenantID    string       `json:"tenant_id"              yaml:"tenant_id"     validate:"required"`
	Version     int          `json:"version"                yaml:"version"       validate:"gte=0"`
	Name        string       `json:"name"                   yaml:"name"`
	EntryNodeID string       `json:"entry_node_id"          yaml:"entry_node_id" validate:"required"`
	Nodes       []*Node      `json:"nodes"                  yaml:"nodes"         validate:"required,min=1,dive,required"`
	Edges       []*Edge      `json:"edges"                  yaml:"edges"         validate:"dive,required"`
	Settings    FlowSettings `json:"settings"               yaml:"settings"`
	PublishedAt *time.Time   `json:"published_at,omitempty" yaml:"published_at,omitempty"`
}

// FlowSettings carries per-chatbot engine configuration.
type FlowSettings struct {
	// MaxSteps overrides the engine default step bound when positive.
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps,omitempty" validate:"gte=0"`
}

// Node returns the node with the given id, or nil.
func (g *FlowGraph) Node(id string) *Node {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// Outgoing returns the edges leaving the given node, in declaration order.
func (g *FlowGraph) Outgoing(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range g.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// Node is one step of a flow graph. Exactly one payload matching Kind is set.
type Node struct {
	ID     string        `json:"id"               yaml:"id"               validate:"required"`
	Kind   NodeKind      `json:"kind"             yaml:"kind"             validate:"required,oneof=send branch action ask delay end"`
	Name   string        `json:"name,omitempty"   yaml:"name,omitempty"`
	Send   *SendConfig   `json:"send,omitempty"   yaml:"send,omitempty"`
	Branch *BranchConfig `json:"branch,omitempty" yaml:"branch,omitempty"`
	Action *ActionConfig `json:"action,omitempty" yaml:"action,omitempty"`
	Ask    *AskConfig    `json:"ask,omitempty"    yaml:"ask,omitempty"`
	Delay  *DelayConfig  `json:"delay,omitempty"  yaml:"delay,omitempty"`
	End    *EndConfig    `json:"end,omitempty"    yaml:"end,omitempty"`
}

// IsTerminal reports whether the node ends the flow.
func (n *Node) IsTerminal() bool {
	return n.Kind == NodeKindEnd
}

type SendConfig struct {
	Content string `json:"content" yaml:"content"`
}

type BranchConfig struct {
	// Expression is evaluated over the execution variables. Its result is
	// matched against outgoing edge labels.
	Expression string `json:"expression" yaml:"expression"`
}

type ActionConfig struct {
	Endpoint string            `json:"endpoint"             yaml:"endpoint"`
	Method   string            `json:"method,omitempty"     yaml:"method,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"    yaml:"headers,omitempty"`
	Request  map[string]any    `json:"request,omitempty"    yaml:"request,omitempty"`
	// Mapping binds variable names to dotted paths in the response.
	Mapping   map[string]string `json:"mapping,omitempty"    yaml:"mapping,omitempty"`
	ResultKey string            `json:"result_key,omitempty" yaml:"result_key,omitempty"`
	Timeout   Duration          `json:"timeout,omitempty"    yaml:"timeout,omitempty"`
	Retry     RetryPolicy       `json:"retry,omitempty"      yaml:"retry,omitempty"`
}

type AskConfig struct {
	Prompt  string   `json:"prompt"            yaml:"prompt"`
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	SaveAs  string   `json:"save_as,omitempty" yaml:"save_as,omitempty"`
}

type DelayConfig struct {
	Duration Duration `json:"duration" yaml:"duration"`
}

type EndConfig struct {
	Outcome string `json:"outcome,omitempty" yaml:"outcome,omitempty"`
}

// Edge connects two nodes. Label drives branch selection and resume routing.
type Edge struct {
	ID     string `json:"id,omitempty"    yaml:"id,omitempty"`
	Source string `json:"source"          yaml:"source" validate:"required"`
	Target string `json:"target"          yaml:"target" validate:"required"`
	Label  string `json:"label,omitempty" yaml:"label,omitempty"`
}

// RetryPolicy bounds attempts of an action node with exponential backoff.
type RetryPolicy struct {
	MaxAttempts    int      `json:"max_attempts,omitempty"    yaml:"max_attempts,omitempty"    validate:"gte=0"`
	InitialBackoff Duration `json:"initial_backoff,omitempty" yaml:"initial_backoff,omitempty"`
	Multiplier     float64  `json:"multiplier,omitempty"      yaml:"multiplier,omitempty"      validate:"gte=0"`
	MaxBackoff     Duration `json:"max_backoff,omitempty"     yaml:"max_backoff,omitempty"`
}

// Attempts returns the effective number of attempts, at least one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}

	return p.MaxAttempts
}

// Backoff returns the wait before the given retry (1-based attempt that just failed).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := p.InitialBackoff.Duration()
	if backoff <= 0 {
		return 0
	}

	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}

	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * multiplier)

		if maxBackoff := p.MaxBackoff.Duration(); maxBackoff > 0 && backoff > maxBackoff {
			return maxBackoff
		}
	}

	if maxBackoff := p.MaxBackoff.Duration(); maxBackoff > 0 && backoff > maxBackoff {
		return maxBackoff
	}

	return backoff
}
