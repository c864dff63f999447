package engine

import (
	"context"
	"time"

	"github.com/dukex/convoflow/pkg/events"
)

// DeliveryResult is what the channel gateway reports for a sent message.
type DeliveryResult struct {
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// MessageSender delivers outbound messages to a contact on a channel.
type MessageSender interface {
	Send(ctx context.Context, contactID, channelID, content string) (DeliveryResult, error)
}

// ActionRequest is one call to an external action endpoint.
type ActionRequest struct {
	Endpoint  string
	Method    string
	Headers   map[string]string
	Variables map[string]any
	Timeout   time.Duration
}

// ActionCaller invokes external actions and returns their decoded response.
type ActionCaller interface {
	Invoke(ctx context.Context, request ActionRequest) (map[string]any, error)
}

// Timer delivers trigger at, or after, the given time.
type Timer interface {
	Schedule(ctx context.Context, trigger events.Trigger, at time.Time) error
}
