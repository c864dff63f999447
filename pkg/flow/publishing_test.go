package flow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/convoflow/pkg/flow"
	"github.com/dukex/convoflow/pkg/mocks"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisher_Publish(t *testing.T) {
	ctx := context.Background()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	publisher := flow.NewPublisher(store.FlowRepository(), newValidator(t), discard())

	first, err := publisher.Publish(ctx, supportFlow())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.NotEmpty(t, first.ID)
	require.NotNil(t, first.PublishedAt)

	second, err := publisher.Publish(ctx, supportFlow())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.NotEqual(t, first.ID, second.ID)

	latest, err := store.FlowRepository().Latest(ctx, "bot")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	pinned, err := store.FlowRepository().Version(ctx, "bot", 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, pinned.ID)
	assert.Len(t, pinned.Nodes, len(first.Nodes))
}

func TestPublisher_RejectsInvalidFlow(t *testing.T) {
	store := mocks.NewMockPersistence()
	publisher := flow.NewPublisher(store.FlowRepository(), newValidator(t), discard())

	graph := supportFlow()
	graph.EntryNodeID = "ghost"

	_, err := publisher.Publish(context.Background(), graph)
	require.Error(t, err)
	assert.True(t, flow.IsValidationError(err))

	store.Flows.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestPublisher_StoreErrors(t *testing.T) {
	t.Run("latest fails", func(t *testing.T) {
		store := mocks.NewMockPersistence()
		store.Flows.On("Latest", mock.Anything, "bot").Return(nil, errors.New("connection reset"))

		publisher := flow.NewPublisher(store.FlowRepository(), newValidator(t), discard())

		_, err := publisher.Publish(context.Background(), supportFlow())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("version taken concurrently", func(t *testing.T) {
		store := mocks.NewMockPersistence()
		store.Flows.On("Latest", mock.Anything, "bot").Return(nil, persistence.ErrFlowNotFound)
		store.Flows.On("Save", mock.Anything, mock.MatchedBy(func(g *models.FlowGraph) bool {
			return g.Version == 1
		})).Return(persistence.ErrFlowVersionExists)

		publisher := flow.NewPublisher(store.FlowRepository(), newValidator(t), discard())

		_, err := publisher.Publish(context.Background(), supportFlow())
		require.ErrorIs(t, err, persistence.ErrFlowVersionExists)
	})
}
