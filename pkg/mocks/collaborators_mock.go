// Package mocks provides testify mocks of the engine's collaborators.
package mocks

import (
	"context"
	"time"

	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockMessageSender is a mock implementation of engine.MessageSender.
type MockMessageSender struct {
	mock.Mock
}

func (m *MockMessageSender) Send(ctx context.Context, contactID, channelID, content string) (engine.DeliveryResult, error) {
	args := m.Called(ctx, contactID, channelID, content)

	return args.Get(0).(engine.DeliveryResult), args.Error(1)
}

// MockActionCaller is a mock implementation of engine.ActionCaller.
type MockActionCaller struct {
	mock.Mock
}

func (m *MockActionCaller) Invoke(ctx context.Context, request engine.ActionRequest) (map[string]any, error) {
	args := m.Called(ctx, request)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}

// MockTimer is a mock implementation of engine.Timer.
type MockTimer struct {
	mock.Mock
}

func (m *MockTimer) Schedule(ctx context.Context, trigger events.Trigger, at time.Time) error {
	args := m.Called(ctx, trigger, at)

	return args.Error(0)
}
