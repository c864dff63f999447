package timer_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/mocks"
	"github.com/dukex/convoflow/pkg/timer"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func timerTrigger(conversationID string) events.Trigger {
	trigger := events.NewTrigger(events.TriggerTimer, conversationID)
	trigger.ChatbotID = "bot"
	trigger.ExpectationToken = "token-" + conversationID

	return trigger
}

func TestMemory_PublishesInDueOrder(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	bus := &mocks.MockEventBus{}

	var published []string

	bus.On("Publish", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			published = append(published, args.Get(1).(events.Trigger).ConversationID)
		}).
		Return(nil)

	memory := timer.NewMemory(bus, clock, discard())
	ctx := context.Background()

	require.NoError(t, memory.Schedule(ctx, timerTrigger("late"), epoch.Add(3*time.Minute)))
	require.NoError(t, memory.Schedule(ctx, timerTrigger("first"), epoch.Add(time.Minute)))
	require.NoError(t, memory.Schedule(ctx, timerTrigger("second"), epoch.Add(2*time.Minute)))

	n, err := memory.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(2 * time.Minute)

	n, err = memory.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"first", "second"}, published)
	assert.Equal(t, 1, memory.Pending())
}

func TestMemory_FailedPublishStaysPending(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	bus.On("Publish", mock.Anything, mock.Anything).Return(nil)

	memory := timer.NewMemory(bus, clock, discard())
	ctx := context.Background()

	require.NoError(t, memory.Schedule(ctx, timerTrigger("a"), epoch))
	require.NoError(t, memory.Schedule(ctx, timerTrigger("b"), epoch))

	_, err := memory.Poll(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, memory.Pending())

	n, err := memory.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, memory.Pending())
}

func TestMemory_RunPollsOnTicker(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything).Return(nil)

	memory := timer.NewMemory(bus, clock, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, memory.Schedule(ctx, timerTrigger("conv-1"), epoch.Add(time.Second)))

	go memory.Run(ctx, time.Second)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()

	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		return memory.Pending() == 0
	}, 5*time.Second, 10*time.Millisecond)

	bus.AssertNumberOfCalls(t, "Publish", 1)
}
