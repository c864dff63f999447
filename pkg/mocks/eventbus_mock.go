package mocks

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockEventBus is a mock implementation of eventbus.TriggerBus.
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, trigger events.Trigger) error {
	args := m.Called(ctx, trigger)

	return args.Error(0)
}

func (m *MockEventBus) Subscriber() message.Subscriber {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).(message.Subscriber)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}
