// Package eventbus carries triggers between the API, the timers and the
// workers over a watermill publisher/subscriber pair.
package eventbus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/convoflow/pkg/events"
)

type TriggerPublisher interface {
	Publish(ctx context.Context, trigger events.Trigger) error
}

type TriggerBus interface {
	TriggerPublisher
	// Subscriber feeds the worker router.
	Subscriber() message.Subscriber
	Close() error
}
