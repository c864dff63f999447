// Package web provides HTTP request and response types for the flow execution API.
package web

import (
	"time"

	"github.com/dukex/convoflow/pkg/dispatcher"
	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/models"
)

// StartExecutionRequest represents the request body for starting a chatbot's flow.
type StartExecutionRequest struct {
	ChatbotID      string         `json:"chatbot_id"      validate:"required"`
	ConversationID string         `json:"conversation_id" validate:"required"`
	ContactID      string         `json:"contact_id"      validate:"required"`
	TenantID       string         `json:"tenant_id"       validate:"required"`
	ChannelID      string         `json:"channel_id"`
	Variables      map[string]any `json:"variables"`
	Restart        bool           `json:"restart"`
}

func (r StartExecutionRequest) engineRequest() engine.StartRequest {
	return engine.StartRequest{
		ChatbotID:      r.ChatbotID,
		ConversationID: r.ConversationID,
		ContactID:      r.ContactID,
		TenantID:       r.TenantID,
		ChannelID:      r.ChannelID,
		Variables:      r.Variables,
		Restart:        r.Restart,
	}
}

func (r StartExecutionRequest) trigger() events.Trigger {
	trigger := events.NewTrigger(events.TriggerStart, r.ConversationID)
	trigger.ChatbotID = r.ChatbotID
	trigger.ContactID = r.ContactID
	trigger.TenantID = r.TenantID
	trigger.ChannelID = r.ChannelID
	trigger.Payload = r.Variables
	trigger.Restart = r.Restart

	return trigger
}

// ConversationEventRequest represents an inbound event for a conversation,
// typically the contact's reply.
type ConversationEventRequest struct {
	EventID          string         `json:"event_id"                    validate:"required"`
	Payload          map[string]any `json:"payload"`
	ExpectationToken string         `json:"expectation_token,omitempty"`
}

func (r ConversationEventRequest) event() dispatcher.Event {
	return dispatcher.Event{
		ID:               r.EventID,
		Payload:          r.Payload,
		ExpectationToken: r.ExpectationToken,
	}
}

func (r ConversationEventRequest) trigger(conversationID string) events.Trigger {
	trigger := events.NewTrigger(events.TriggerMessage, conversationID)
	trigger.EventID = r.EventID
	trigger.Payload = r.Payload
	trigger.ExpectationToken = r.ExpectationToken

	return trigger
}

// ConversationEventResponse reports what a dispatched event did.
type ConversationEventResponse struct {
	Outcome   dispatcher.ResumeOutcome `json:"outcome"`
	Execution *ExecutionResponse       `json:"execution,omitempty"`
}

// EnqueuedResponse is returned when a request was queued as a trigger
// instead of being run in the request.
type EnqueuedResponse struct {
	TriggerID      string `json:"trigger_id"`
	ConversationID string `json:"conversation_id"`
}

// ExecutionResponse is the public view of an execution record. Processed event
// ids are bookkeeping and stay internal.
type ExecutionResponse struct {
	ID             string                 `json:"id"`
	ChatbotID      string                 `json:"chatbot_id"`
	ConversationID string                 `json:"conversation_id"`
	ContactID      string                 `json:"contact_id"`
	TenantID       string                 `json:"tenant_id"`
	ChannelID      string                 `json:"channel_id,omitempty"`
	FlowVersion    int                    `json:"flow_version"`
	Status         models.ExecutionStatus `json:"status"`
	CurrentNodeID  *string                `json:"current_node_id"`
	Variables      map[string]any         `json:"variables"`
	MessageHistory []models.MessageEntry  `json:"message_history"`
	Expectation    *models.Expectation    `json:"expectation,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	Error          *string                `json:"error,omitempty"`
}

// TransformExecutionResponse transforms an ExecutionRecord into its public view.
func TransformExecutionResponse(record *models.ExecutionRecord) *ExecutionResponse {
	if record == nil {
		return nil
	}

	return &ExecutionResponse{
		ID:             record.ID,
		ChatbotID:      record.ChatbotID,
		ConversationID: record.ConversationID,
		ContactID:      record.ContactID,
		TenantID:       record.TenantID,
		ChannelID:      record.ChannelID,
		FlowVersion:    record.FlowVersion,
		Status:         record.Status,
		CurrentNodeID:  record.CurrentNodeID,
		Variables:      record.Variables,
		MessageHistory: record.MessageHistory,
		Expectation:    record.Expectation,
		StartedAt:      record.StartedAt,
		UpdatedAt:      record.UpdatedAt,
		CompletedAt:    record.CompletedAt,
		Error:          record.Error,
	}
}
