// Package sender delivers outbound messages to a conversation's channel.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dukex/convoflow/pkg/engine"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

var ErrDeliveryRejected = errors.New("message delivery rejected")

type outboundMessage struct {
	ContactID string `json:"contact_id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

type deliveryResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// HTTP posts messages to a channel gateway at <baseURL>/messages.
type HTTP struct {
	client *resty.Client
	logger *slog.Logger
}

func NewHTTP(baseURL string, client *resty.Client, logger *slog.Logger) *HTTP {
	if client == nil {
		client = resty.New()
	}

	client.SetBaseURL(baseURL).SetHeader("Content-Type", "application/json")

	return &HTTP{client: client, logger: logger.With("module", "http_sender")}
}

func (s *HTTP) Send(ctx context.Context, contactID, channelID, content string) (engine.DeliveryResult, error) {
	var result deliveryResponse

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(outboundMessage{ContactID: contactID, ChannelID: channelID, Content: content}).
		SetResult(&result).
		Post("/messages")
	if err != nil {
		return engine.DeliveryResult{}, fmt.Errorf("failed to reach channel gateway: %w", err)
	}

	if resp.IsError() || resp.StatusCode() >= http.StatusMultipleChoices {
		return engine.DeliveryResult{}, fmt.Errorf("%w: status %d: %s", ErrDeliveryRejected, resp.StatusCode(), resp.String())
	}

	s.logger.DebugContext(ctx, "Message delivered", "contact_id", contactID, "channel_id", channelID, "message_id", result.MessageID)

	return engine.DeliveryResult{MessageID: result.MessageID, Status: result.Status}, nil
}

// Log only logs messages. It backs local runs without a channel gateway.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("module", "log_sender")}
}

func (s *Log) Send(ctx context.Context, contactID, channelID, content string) (engine.DeliveryResult, error) {
	id := uuid.New().String()

	s.logger.InfoContext(ctx, "Outbound message", "contact_id", contactID, "channel_id", channelID, "message_id", id, "content", content)

	return engine.DeliveryResult{MessageID: id, Status: "logged"}, nil
}
