// Package persistencetest holds the behaviour every persistence backend must share.
package persistencetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend. It registers its own cleanup.
type Factory func(t *testing.T) persistence.Persistence

// Run exercises the repositories returned by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("flows", func(t *testing.T) { testFlows(t, factory(t)) })
	t.Run("create and get", func(t *testing.T) { testCreateAndGet(t, factory(t)) })
	t.Run("create is exclusive", func(t *testing.T) { testCreateExclusive(t, factory(t)) })
	t.Run("concurrent create", func(t *testing.T) { testConcurrentCreate(t, factory(t)) })
	t.Run("save upserts", func(t *testing.T) { testSave(t, factory(t)) })
	t.Run("by conversation", func(t *testing.T) { testByConversation(t, factory(t)) })
	t.Run("status", func(t *testing.T) { testStatus(t, factory(t)) })
	t.Run("due", func(t *testing.T) { testDue(t, factory(t)) })
	t.Run("health", func(t *testing.T) {
		require.NoError(t, factory(t).HealthCheck(context.Background()))
	})
}

func flow(chatbotID string, version int) *models.FlowGraph {
	published := time.Now().UTC().Truncate(time.Millisecond)

	return testutil.CreateTestFlow(chatbotID,
		[]*models.Node{testutil.SendNode("hello", "Hi {{.vars.name}}"), testutil.EndNode("done", "ok")},
		[]*models.Edge{testutil.Connect("hello", "done", "")},
		testutil.WithVersion(version),
		func(g *models.FlowGraph) { g.PublishedAt = &published },
	)
}

func testFlows(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.FlowRepository()

	_, err := repo.Latest(ctx, "bot-flows")
	assert.True(t, persistence.IsFlowNotFound(err))

	require.NoError(t, repo.Save(ctx, flow("bot-flows", 1)))
	require.NoError(t, repo.Save(ctx, flow("bot-flows", 2)))
	require.NoError(t, repo.Save(ctx, flow("bot-other", 7)))

	err = repo.Save(ctx, flow("bot-flows", 2))
	require.ErrorIs(t, err, persistence.ErrFlowVersionExists)

	latest, err := repo.Latest(ctx, "bot-flows")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "hello", latest.EntryNodeID)
	require.Len(t, latest.Nodes, 2)
	assert.Equal(t, "Hi {{.vars.name}}", latest.Nodes[0].Send.Content)
	require.Len(t, latest.Edges, 1)

	first, err := repo.Version(ctx, "bot-flows", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	_, err = repo.Version(ctx, "bot-flows", 3)
	assert.True(t, persistence.IsFlowNotFound(err))
}

func testCreateAndGet(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()

	due := time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)
	record := testutil.CreateTestRecord("bot-1", "conv-1", testutil.WithWaiting("ask-name", "token-1", &due))
	record.Variables["name"] = "Ana"
	record.Variables["count"] = float64(3)
	record.MessageHistory = append(record.MessageHistory, models.MessageEntry{
		Direction: models.MessageDirectionOutbound,
		Content:   "What is your name?",
		Timestamp: record.StartedAt,
		NodeID:    "ask-name",
	})
	record.MarkEventProcessed("evt-1")

	require.NoError(t, repo.Create(ctx, record))

	loaded, err := repo.Get(ctx, "bot-1", "conv-1")
	require.NoError(t, err)

	assert.Equal(t, record.ID, loaded.ID)
	assert.Equal(t, record.ContactID, loaded.ContactID)
	assert.Equal(t, record.TenantID, loaded.TenantID)
	assert.Equal(t, record.ChannelID, loaded.ChannelID)
	assert.Equal(t, record.FlowVersion, loaded.FlowVersion)
	assert.Equal(t, "ask-name", loaded.CurrentNode())
	assert.Equal(t, models.ExecutionStatusWaiting, loaded.Status)
	assert.Equal(t, "Ana", loaded.Variables["name"])
	assert.InDelta(t, 3, loaded.Variables["count"], 0)
	require.Len(t, loaded.MessageHistory, 1)
	assert.Equal(t, "What is your name?", loaded.MessageHistory[0].Content)
	assert.Equal(t, []string{"evt-1"}, loaded.ProcessedEvents)
	require.NotNil(t, loaded.Expectation)
	assert.Equal(t, "token-1", loaded.Expectation.Token)
	assert.Equal(t, models.ExpectationInput, loaded.Expectation.Kind)
	require.NotNil(t, loaded.ResumeAt)
	assert.True(t, due.Equal(*loaded.ResumeAt))
	assert.True(t, record.StartedAt.Equal(loaded.StartedAt))
	assert.Nil(t, loaded.CompletedAt)
	assert.Nil(t, loaded.Error)

	_, err = repo.Get(ctx, "bot-1", "conv-missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func testCreateExclusive(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()

	require.NoError(t, repo.Create(ctx, testutil.CreateTestRecord("bot-1", "conv-1")))

	err := repo.Create(ctx, testutil.CreateTestRecord("bot-1", "conv-1"))
	assert.True(t, persistence.IsExecutionAlreadyExists(err))

	require.NoError(t, repo.Create(ctx, testutil.CreateTestRecord("bot-2", "conv-1")))
}

func testConcurrentCreate(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()

	const attempts = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)

	for range attempts {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := repo.Create(ctx, testutil.CreateTestRecord("bot-race", "conv-race"))

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				created++
			case persistence.IsExecutionAlreadyExists(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, attempts-1, conflicts)
}

func testSave(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()

	record := testutil.CreateTestRecord("bot-1", "conv-1")
	require.NoError(t, repo.Save(ctx, record))

	record.Variables["answer"] = "yes"
	record.Complete(time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, repo.Save(ctx, record))

	loaded, err := repo.Get(ctx, "bot-1", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, loaded.Status)
	assert.Equal(t, "yes", loaded.Variables["answer"])
	assert.Empty(t, loaded.CurrentNode())
	assert.NotNil(t, loaded.CompletedAt)

	restarted := testutil.CreateTestRecord("bot-1", "conv-1")
	require.NoError(t, repo.Save(ctx, restarted))

	loaded, err = repo.Get(ctx, "bot-1", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, restarted.ID, loaded.ID)
	assert.Equal(t, models.ExecutionStatusRunning, loaded.Status)
	assert.Nil(t, loaded.CompletedAt)
	assert.NotContains(t, loaded.Variables, "answer")
}

func testByConversation(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()

	base := time.Now().UTC().Truncate(time.Millisecond)

	older := testutil.CreateTestRecord("bot-a", "conv-shared", testutil.WithUpdatedAt(base.Add(-time.Hour)))
	newer := testutil.CreateTestRecord("bot-b", "conv-shared", testutil.WithUpdatedAt(base))

	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))

	found, err := repo.ByConversation(ctx, "conv-shared")
	require.NoError(t, err)
	assert.Equal(t, "bot-b", found.ChatbotID)

	_, err = repo.ByConversation(ctx, "conv-none")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func testStatus(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()

	record := testutil.CreateTestRecord("bot-1", "conv-1")
	require.NoError(t, repo.Create(ctx, record))

	status, err := repo.Status(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, status)

	record.Fail(time.Now().UTC(), "cancelled")
	require.NoError(t, repo.Save(ctx, record))

	status, err = repo.Status(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, status)

	_, err = repo.Status(ctx, uuid.New().String())
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func testDue(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()

	now := time.Now().UTC().Truncate(time.Millisecond)
	past := now.Add(-time.Minute)
	earlier := now.Add(-2 * time.Minute)
	future := now.Add(time.Hour)

	records := []*models.ExecutionRecord{
		testutil.CreateTestRecord("bot", "conv-paused", testutil.WithPaused("wait", "t1", past)),
		testutil.CreateTestRecord("bot", "conv-waiting", testutil.WithWaiting("ask", "t2", &earlier)),
		testutil.CreateTestRecord("bot", "conv-future", testutil.WithPaused("wait", "t3", future)),
		testutil.CreateTestRecord("bot", "conv-no-timeout", testutil.WithWaiting("ask", "t4", nil)),
		testutil.CreateTestRecord("bot", "conv-running"),
	}

	for _, record := range records {
		require.NoError(t, repo.Create(ctx, record))
	}

	due, err := repo.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "conv-waiting", due[0].ConversationID)
	assert.Equal(t, "conv-paused", due[1].ConversationID)

	limited, err := repo.Due(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "conv-waiting", limited[0].ConversationID)
}
