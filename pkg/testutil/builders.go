// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestFlow creates a published flow graph with the given nodes and edges.
// The first node is the entry node unless an override changes it.
func CreateTestFlow(chatbotID string, nodes []*models.Node, edges []*models.Edge, overrides ...func(*models.FlowGraph)) *models.FlowGraph {
	graph := &models.FlowGraph{
		ID:        uuid.New().String(),
		ChatbotID: chatbotID,
		TenantID:  "tenant-test",
		Version:   1,
		Name:      "Test Flow",
		Nodes:     nodes,
		Edges:     edges,
	}

	if len(nodes) > 0 {
		graph.EntryNodeID = nodes[0].ID
	}

	for _, override := range overrides {
		override(graph)
	}

	return graph
}

// WithEntry sets the entry node.
func WithEntry(nodeID string) func(*models.FlowGraph) {
	return func(g *models.FlowGraph) {
		g.EntryNodeID = nodeID
	}
}

// WithVersion sets the flow version.
func WithVersion(version int) func(*models.FlowGraph) {
	return func(g *models.FlowGraph) {
		g.Version = version
	}
}

// WithMaxSteps sets the per-flow step bound.
func WithMaxSteps(steps int) func(*models.FlowGraph) {
	return func(g *models.FlowGraph) {
		g.Settings.MaxSteps = steps
	}
}

func SendNode(id, content string) *models.Node {
	return &models.Node{ID: id, Kind: models.NodeKindSend, Send: &models.SendConfig{Content: content}}
}

func BranchNode(id, expression string) *models.Node {
	return &models.Node{ID: id, Kind: models.NodeKindBranch, Branch: &models.BranchConfig{Expression: expression}}
}

func ActionNode(id, endpoint string, overrides ...func(*models.ActionConfig)) *models.Node {
	config := &models.ActionConfig{Endpoint: endpoint, Method: "POST"}

	for _, override := range overrides {
		override(config)
	}

	return &models.Node{ID: id, Kind: models.NodeKindAction, Action: config}
}

func AskNode(id, prompt string, timeout time.Duration) *models.Node {
	return &models.Node{ID: id, Kind: models.NodeKindAsk, Ask: &models.AskConfig{Prompt: prompt, Timeout: models.Duration(timeout)}}
}

func DelayNode(id string, duration time.Duration) *models.Node {
	return &models.Node{ID: id, Kind: models.NodeKindDelay, Delay: &models.DelayConfig{Duration: models.Duration(duration)}}
}

func EndNode(id, outcome string) *models.Node {
	return &models.Node{ID: id, Kind: models.NodeKindEnd, End: &models.EndConfig{Outcome: outcome}}
}

// Connect creates an edge; label may be empty.
func Connect(source, target, label string) *models.Edge {
	return &models.Edge{ID: source + "->" + target, Source: source, Target: target, Label: label}
}

// CreateTestRecord creates a running execution record with default values that can be overridden.
func CreateTestRecord(chatbotID, conversationID string, overrides ...func(*models.ExecutionRecord)) *models.ExecutionRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)

	record := &models.ExecutionRecord{
		ID:              uuid.New().String(),
		ChatbotID:       chatbotID,
		ConversationID:  conversationID,
		ContactID:       "contact-test",
		TenantID:        "tenant-test",
		ChannelID:       "channel-test",
		FlowVersion:     1,
		Variables:       map[string]any{},
		MessageHistory:  []models.MessageEntry{},
		Status:          models.ExecutionStatusRunning,
		ProcessedEvents: []string{},
		StartedAt:       now,
		UpdatedAt:       now,
	}

	for _, override := range overrides {
		override(record)
	}

	return record
}

// WithWaiting blocks the record on an input expectation at nodeID.
func WithWaiting(nodeID, token string, dueAt *time.Time) func(*models.ExecutionRecord) {
	return func(r *models.ExecutionRecord) {
		r.SetCurrentNode(nodeID)
		r.Block(models.ExecutionStatusWaiting, &models.Expectation{
			Token:  token,
			NodeID: nodeID,
			Kind:   models.ExpectationInput,
			DueAt:  dueAt,
		})
	}
}

// WithPaused blocks the record on a delay expectation at nodeID.
func WithPaused(nodeID, token string, dueAt time.Time) func(*models.ExecutionRecord) {
	return func(r *models.ExecutionRecord) {
		r.SetCurrentNode(nodeID)
		r.Block(models.ExecutionStatusPaused, &models.Expectation{
			Token:  token,
			NodeID: nodeID,
			Kind:   models.ExpectationDelay,
			DueAt:  &dueAt,
		})
	}
}

// WithUpdatedAt sets the last update time.
func WithUpdatedAt(t time.Time) func(*models.ExecutionRecord) {
	return func(r *models.ExecutionRecord) {
		r.UpdatedAt = t
	}
}
