package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/convoflow/pkg/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type WatermillTriggerBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
}

func NewWatermillTriggerBus(pub message.Publisher, sub message.Subscriber) *WatermillTriggerBus {
	return &WatermillTriggerBus{
		publisher:  pub,
		subscriber: sub,
	}
}

// Publish puts trigger on the trigger topic keyed by its conversation, so
// every trigger of a conversation lands on the same partition.
func (b *WatermillTriggerBus) Publish(ctx context.Context, trigger events.Trigger) error {
	err := trigger.Validate()
	if err != nil {
		return err
	}

	msg, err := Encode(ctx, trigger)
	if err != nil {
		return err
	}

	return b.publisher.Publish(events.Topic, msg)
}

func (b *WatermillTriggerBus) Subscriber() message.Subscriber {
	return b.subscriber
}

func (b *WatermillTriggerBus) Close() error {
	err := b.publisher.Close()
	if err != nil {
		return err
	}

	// gochannel uses one instance for both sides
	if any(b.subscriber) == any(b.publisher) {
		return nil
	}

	return b.subscriber.Close()
}

// Encode builds the watermill message for trigger, carrying the trace
// context of ctx in its metadata.
func Encode(ctx context.Context, trigger events.Trigger) (*message.Message, error) {
	payload, err := json.Marshal(trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger: %w", err)
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set(events.KeyMetadataKey, trigger.Key())
	msg.Metadata.Set(events.KindMetadataKey, string(trigger.Kind))

	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Metadata))

	return msg, nil
}

// Decode parses msg back into a trigger and returns the message context
// joined with the trace context propagated by the publisher.
func Decode(msg *message.Message) (context.Context, events.Trigger, error) {
	ctx := otel.GetTextMapPropagator().Extract(msg.Context(), propagation.MapCarrier(msg.Metadata))

	var trigger events.Trigger

	err := json.Unmarshal(msg.Payload, &trigger)
	if err != nil {
		return ctx, trigger, fmt.Errorf("%w: %w", events.ErrInvalidTrigger, err)
	}

	err = trigger.Validate()
	if err != nil {
		return ctx, trigger, err
	}

	return ctx, trigger, nil
}
