package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleGraph() *FlowGraph {
	return &FlowGraph{
		ChatbotID:   "bot-1",
		TenantID:    "tenant-1",
		EntryNodeID: "hello",
		Nodes: []*Node{
			{ID: "hello", Kind: NodeKindSend, Send: &SendConfig{Content: "Hi"}},
			{ID: "ask", Kind: NodeKindAsk, Ask: &AskConfig{Prompt: "Continue?", Timeout: Duration(time.Hour)}},
			{ID: "done", Kind: NodeKindEnd, End: &EndConfig{Outcome: "ok"}},
		},
		Edges: []*Edge{
			{Source: "hello", Target: "ask"},
			{Source: "ask", Target: "done"},
			{Source: "ask", Target: "done", Label: EdgeLabelTimeout},
		},
	}
}

func TestFlowGraph_NodeAndOutgoing(t *testing.T) {
	graph := sampleGraph()

	require.NotNil(t, graph.Node("ask"))
	assert.Equal(t, NodeKindAsk, graph.Node("ask").Kind)
	assert.Nil(t, graph.Node("missing"))

	edges := graph.Outgoing("ask")
	require.Len(t, edges, 2)
	assert.Empty(t, edges[0].Label)
	assert.Equal(t, EdgeLabelTimeout, edges[1].Label)
	assert.Empty(t, graph.Outgoing("done"))
	assert.True(t, graph.Node("done").IsTerminal())
}

func TestFlowGraph_Validation(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	require.NoError(t, validate.Struct(sampleGraph()))

	graph := sampleGraph()
	graph.Nodes[0].Kind = "loop"
	graph.ChatbotID = ""

	err := validate.Struct(graph)
	require.Error(t, err)

	var validationErrors validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrors))

	fields := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields = append(fields, fieldErr.Field())
	}

	assert.Contains(t, fields, "ChatbotID")
	assert.Contains(t, fields, "Kind")
}

func TestDuration_JSON(t *testing.T) {
	var cfg AskConfig

	err := json.Unmarshal([]byte(`{"prompt":"p","timeout":"1h30m"}`), &cfg)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, cfg.Timeout.Duration())

	err = json.Unmarshal([]byte(`{"prompt":"p","timeout":45}`), &cfg)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Timeout.Duration())

	err = json.Unmarshal([]byte(`{"prompt":"p","timeout":"soon"}`), &cfg)
	require.Error(t, err)

	data, err := json.Marshal(DelayConfig{Duration: Duration(2 * time.Minute)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"duration":"2m0s"}`, string(data))
}

func TestDuration_YAML(t *testing.T) {
	var graph FlowGraph

	err := yaml.Unmarshal([]byte(`
chatbot_id: bot-1
tenant_id: tenant-1
entry_node_id: wait
nodes:
  - id: wait
    kind: delay
    delay:
      duration: 10m
  - id: done
    kind: end
edges:
  - source: wait
    target: done
`), &graph)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 2)
	assert.Equal(t, 10*time.Minute, graph.Node("wait").Delay.Duration.Duration())
	assert.Equal(t, "wait", graph.Edges[0].Source)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: Duration(100 * time.Millisecond),
		Multiplier:     2,
		MaxBackoff:     Duration(300 * time.Millisecond),
	}

	assert.Equal(t, 4, policy.Attempts())
	assert.Equal(t, 100*time.Millisecond, policy.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, policy.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, policy.Backoff(3))

	assert.Equal(t, 1, RetryPolicy{}.Attempts())
	assert.Zero(t, RetryPolicy{}.Backoff(1))
}

func TestExecutionStatus(t *testing.T) {
	assert.True(t, ExecutionStatusCompleted.IsTerminal())
	assert.True(t, ExecutionStatusFailed.IsTerminal())
	assert.False(t, ExecutionStatusWaiting.IsTerminal())
	assert.True(t, ExecutionStatusWaiting.IsBlocked())
	assert.True(t, ExecutionStatusPaused.IsBlocked())
	assert.False(t, ExecutionStatusRunning.IsBlocked())
}

func TestExecutionRecord_ProcessedEventsWindow(t *testing.T) {
	record := &ExecutionRecord{}

	for i := range ProcessedEventsWindow + 5 {
		record.MarkEventProcessed(fmt.Sprintf("evt-%d", i))
	}

	record.MarkEventProcessed("evt-68")
	record.MarkEventProcessed("")

	assert.Len(t, record.ProcessedEvents, ProcessedEventsWindow)
	assert.False(t, record.HasProcessedEvent("evt-0"))
	assert.False(t, record.HasProcessedEvent("evt-4"))
	assert.True(t, record.HasProcessedEvent("evt-5"))
	assert.True(t, record.HasProcessedEvent("evt-68"))
	assert.False(t, record.HasProcessedEvent(""))
}

func TestExecutionRecord_Transitions(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	due := now.Add(time.Hour)

	record := &ExecutionRecord{Status: ExecutionStatusRunning}
	record.SetCurrentNode("ask")
	record.Block(ExecutionStatusWaiting, &Expectation{Token: "tok", NodeID: "ask", Kind: ExpectationInput, DueAt: &due})

	assert.Equal(t, ExecutionStatusWaiting, record.Status)
	assert.Equal(t, &due, record.ResumeAt)

	record.Unblock()
	assert.Equal(t, ExecutionStatusRunning, record.Status)
	assert.Nil(t, record.Expectation)
	assert.Nil(t, record.ResumeAt)

	record.Fail(now, "boom")
	assert.Equal(t, ExecutionStatusFailed, record.Status)
	assert.Empty(t, record.CurrentNode())
	require.NotNil(t, record.Error)
	assert.Equal(t, "boom", *record.Error)
	assert.Equal(t, &now, record.CompletedAt)
}

func TestExecutionRecord_Clone(t *testing.T) {
	record := &ExecutionRecord{
		Variables:      map[string]any{"name": "Ana"},
		MessageHistory: []MessageEntry{{Direction: MessageDirectionOutbound, Content: "Hi"}},
		Expectation:    &Expectation{Token: "a"},
	}

	clone := record.Clone()
	clone.Variables["name"] = "Bia"
	clone.MessageHistory[0].Content = "Bye"
	clone.Expectation.Token = "b"

	assert.Equal(t, "Ana", record.Variables["name"])
	assert.Equal(t, "Hi", record.MessageHistory[0].Content)
	assert.Equal(t, "a", record.Expectation.Token)
	assert.NotNil(t, (&ExecutionRecord{}).Clone().Variables)
}
