// Package events defines the trigger messages carried by the trigger queue.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TriggerKind string

// Kafka topic carrying every trigger, partitioned by conversation id.
const Topic = "convoflow.triggers"

const (
	KeyMetadataKey  = "key"
	KindMetadataKey = "trigger_kind"
)

const (
	// TriggerStart starts (or recovers) the execution of a chatbot for a conversation.
	TriggerStart TriggerKind = "start"
	// TriggerMessage carries an inbound conversation event for a waiting execution.
	TriggerMessage TriggerKind = "message"
	// TriggerTimer fires when a delay elapses or an ask times out.
	TriggerTimer TriggerKind = "timer"
	// TriggerCancel cancels the conversation's execution.
	TriggerCancel TriggerKind = "cancel"
)

var (
	ErrInvalidTrigger     = errors.New("invalid trigger")
	ErrUnknownTriggerKind = errors.New("unknown trigger kind")
)

// Trigger is a queued instruction to start, resume or cancel an execution.
type Trigger struct {
	ID               string         `json:"id"`
	Kind             TriggerKind    `json:"kind"`
	ConversationID   string         `json:"conversation_id"`
	ChatbotID        string         `json:"chatbot_id,omitempty"`
	ContactID        string         `json:"contact_id,omitempty"`
	TenantID         string         `json:"tenant_id,omitempty"`
	ChannelID        string         `json:"channel_id,omitempty"`
	EventID          string         `json:"event_id,omitempty"`
	ExpectationToken string         `json:"expectation_token,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	Restart          bool           `json:"restart,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

func NewTrigger(kind TriggerKind, conversationID string) Trigger {
	return Trigger{
		ID:             uuid.New().String(),
		Kind:           kind,
		ConversationID: conversationID,
		CreatedAt:      time.Now().UTC(),
	}
}

func (t Trigger) GetType() TriggerKind {
	return t.Kind
}

// Key orders triggers of one conversation on the same partition.
func (t Trigger) Key() string {
	return t.ConversationID
}

// Validate checks the fields every trigger kind requires.
func (t Trigger) Validate() error {
	if t.ConversationID == "" {
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidTrigger)
	}

	switch t.Kind {
	case TriggerStart:
		if t.ChatbotID == "" || t.ContactID == "" || t.TenantID == "" {
			return fmt.Errorf("%w: start requires chatbot_id, contact_id and tenant_id", ErrInvalidTrigger)
		}
	case TriggerTimer:
		if t.ChatbotID == "" {
			return fmt.Errorf("%w: timer requires chatbot_id", ErrInvalidTrigger)
		}
	case TriggerMessage, TriggerCancel:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTriggerKind, t.Kind)
	}

	return nil
}
