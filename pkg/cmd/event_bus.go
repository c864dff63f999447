package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/convoflow/pkg/channels/gochannel"
	"github.com/dukex/convoflow/pkg/channels/kafka"
	"github.com/dukex/convoflow/pkg/eventbus"
)

// ConsumerGroup is the Kafka consumer group shared by every worker.
const ConsumerGroup = "convoflow-workers"

// NewEventBus creates the trigger bus for provider, kafka or gochannel.
func NewEventBus(provider string, brokers []string, logger *slog.Logger) (eventbus.TriggerBus, error) {
	adapter := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(adapter, brokers, ConsumerGroup)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillTriggerBus(pub, sub), nil
	case "gochannel":
		pub, sub := gochannel.CreateChannel(adapter)

		return eventbus.NewWatermillTriggerBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
