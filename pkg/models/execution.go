package models

import (
	"maps"
	"slices"
	"time"
)

type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether no further step will ever run.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// IsBlocked reports whether the execution is suspended on an external signal.
func (s ExecutionStatus) IsBlocked() bool {
	return s == ExecutionStatusWaiting || s == ExecutionStatusPaused
}

// Reserved variable keys written by the engine.
const (
	VariableEvent   = "_event"
	VariableOutcome = "_outcome"
)

// ProcessedEventsWindow bounds how many applied event ids a record remembers.
const ProcessedEventsWindow = 64

type MessageDirection string

const (
	MessageDirectionInbound  MessageDirection = "inbound"
	MessageDirectionOutbound MessageDirection = "outbound"
)

type MessageEntry struct {
	Direction MessageDirection `json:"direction"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id,omitempty"`
}

type ExpectationKind string

const (
	ExpectationInput ExpectationKind = "input"
	ExpectationDelay ExpectationKind = "delay"
)

// Expectation describes what a blocked execution is waiting for.
type Expectation struct {
	Token  string          `json:"token"`
	NodeID string          `json:"node_id"`
	Kind   ExpectationKind `json:"kind"`
	DueAt  *time.Time      `json:"due_at,omitempty"`
}

// ExecutionRecord is the durable state of one flow run for one conversation.
type ExecutionRecord struct {
	ID             string          `json:"id"`
	ChatbotID      string          `json:"chatbot_id"`
	ConversationID string          `json:"conversation_id"`
	ContactID      string          `json:"contact_id"`
	TenantID       string          `json:"tenant_id"`
	ChannelID      string          `json:"channel_id,omitempty"`
	FlowVersion    int             `json:"flow_version"`
	CurrentNodeID  *string         `json:"current_node_id"`
	Variables      map[string]any  `json:"variables"`
	MessageHistory []MessageEntry  `json:"message_history"`
	Status         ExecutionStatus `json:"status"`
	Expectation    *Expectation    `json:"expectation,omitempty"`
	ResumeAt       *time.Time      `json:"resume_at,omitempty"`
	// ProcessedEvents holds the ids of recently applied external events.
	ProcessedEvents []string   `json:"processed_events,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Error           *string    `json:"error,omitempty"`
}

// CurrentNode returns the current node id or "" when unset.
func (r *ExecutionRecord) CurrentNode() string {
	if r.CurrentNodeID == nil {
		return ""
	}

	return *r.CurrentNodeID
}

func (r *ExecutionRecord) SetCurrentNode(id string) {
	if id == "" {
		r.CurrentNodeID = nil

		return
	}

	r.CurrentNodeID = &id
}

// HasProcessedEvent reports whether the event id was already applied.
func (r *ExecutionRecord) HasProcessedEvent(eventID string) bool {
	return eventID != "" && slices.Contains(r.ProcessedEvents, eventID)
}

// MarkEventProcessed remembers the event id, dropping the oldest beyond the window.
func (r *ExecutionRecord) MarkEventProcessed(eventID string) {
	if eventID == "" || r.HasProcessedEvent(eventID) {
		return
	}

	r.ProcessedEvents = append(r.ProcessedEvents, eventID)
	if overflow := len(r.ProcessedEvents) - ProcessedEventsWindow; overflow > 0 {
		r.ProcessedEvents = slices.Clone(r.ProcessedEvents[overflow:])
	}
}

// Block suspends the execution on the given expectation.
func (r *ExecutionRecord) Block(status ExecutionStatus, expectation *Expectation) {
	r.Status = status
	r.Expectation = expectation
	r.ResumeAt = expectation.DueAt
}

// Unblock clears the pending expectation and marks the record running.
func (r *ExecutionRecord) Unblock() {
	r.Status = ExecutionStatusRunning
	r.Expectation = nil
	r.ResumeAt = nil
}

// Complete moves the record to completed.
func (r *ExecutionRecord) Complete(now time.Time) {
	r.Status = ExecutionStatusCompleted
	r.Expectation = nil
	r.ResumeAt = nil
	r.CurrentNodeID = nil
	r.Error = nil
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// Fail moves the record to failed with a human-readable reason.
func (r *ExecutionRecord) Fail(now time.Time, reason string) {
	r.Status = ExecutionStatusFailed
	r.Expectation = nil
	r.ResumeAt = nil
	r.CurrentNodeID = nil
	r.Error = &reason
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// Clone returns a copy whose variables, history and bookkeeping can be
// mutated without touching the original.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	clone := *r
	clone.Variables = maps.Clone(r.Variables)
	clone.MessageHistory = slices.Clone(r.MessageHistory)
	clone.ProcessedEvents = slices.Clone(r.ProcessedEvents)

	if r.Expectation != nil {
		expectation := *r.Expectation
		clone.Expectation = &expectation
	}

	if clone.Variables == nil {
		clone.Variables = map[string]any{}
	}

	return &clone
}
