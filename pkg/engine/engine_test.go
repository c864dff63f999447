package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/lock"
	"github.com/dukex/convoflow/pkg/mocks"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/file"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	engine  *engine.Engine
	store   persistence.Persistence
	locker  *lock.Memory
	clock   *clockwork.FakeClock
	sender  *mocks.MockMessageSender
	actions *mocks.MockActionCaller
	timer   *mocks.MockTimer
}

func newFixture(t *testing.T, graphs ...*models.FlowGraph) *fixture {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	for _, graph := range graphs {
		require.NoError(t, store.FlowRepository().Save(context.Background(), graph))
	}

	f := &fixture{
		store:   store,
		clock:   clockwork.NewFakeClockAt(epoch),
		sender:  &mocks.MockMessageSender{},
		actions: &mocks.MockActionCaller{},
		timer:   &mocks.MockTimer{},
	}
	f.locker = lock.NewMemory(f.clock)

	f.sender.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(engine.DeliveryResult{MessageID: "msg"}, nil).Maybe()
	f.timer.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	f.engine = f.newEngine(f.locker)

	return f
}

func (f *fixture) newEngine(locker lock.Locker) *engine.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return engine.New(engine.Config{Owner: "test"}, f.store, locker, f.sender, f.actions, f.timer, logger,
		engine.WithClock(f.clock),
	)
}

func at(want time.Time) any {
	return mock.MatchedBy(func(got time.Time) bool { return got.Equal(want) })
}

func startRequest(chatbotID string) engine.StartRequest {
	return engine.StartRequest{
		ChatbotID:      chatbotID,
		ConversationID: "conv-1",
		ContactID:      "contact-1",
		TenantID:       "tenant-test",
		ChannelID:      "whatsapp",
	}
}

// askFlow is send "Hi" -> ask (1h) -> branch reply == "yes" -> end ok | end no.
func askFlow(chatbotID string, edges ...*models.Edge) *models.FlowGraph {
	return testutil.CreateTestFlow(chatbotID,
		[]*models.Node{
			testutil.SendNode("hello", "Hi {{.vars.name}}"),
			testutil.AskNode("ask", "Do you agree?", time.Hour),
			testutil.BranchNode("check", `reply == "yes"`),
			testutil.EndNode("ok", "agreed"),
			testutil.EndNode("no", "declined"),
		},
		append([]*models.Edge{
			testutil.Connect("hello", "ask", ""),
			testutil.Connect("ask", "check", ""),
			testutil.Connect("check", "ok", "true"),
			testutil.Connect("check", "no", models.EdgeLabelDefault),
		}, edges...),
	)
}

func TestStart_RunsUntilAsk(t *testing.T) {
	f := newFixture(t, askFlow("bot"))

	req := startRequest("bot")
	req.Variables = map[string]any{"name": "Ana"}

	record, err := f.engine.Start(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusWaiting, record.Status)
	assert.Equal(t, "ask", record.CurrentNode())
	require.Len(t, record.MessageHistory, 2)
	assert.Equal(t, "Hi Ana", record.MessageHistory[0].Content)
	assert.Equal(t, "Do you agree?", record.MessageHistory[1].Content)
	assert.Equal(t, models.MessageDirectionOutbound, record.MessageHistory[1].Direction)

	require.NotNil(t, record.Expectation)
	assert.Equal(t, models.ExpectationInput, record.Expectation.Kind)
	assert.NotEmpty(t, record.Expectation.Token)
	require.NotNil(t, record.ResumeAt)
	assert.True(t, epoch.Add(time.Hour).Equal(*record.ResumeAt))

	f.sender.AssertCalled(t, "Send", mock.Anything, "contact-1", "whatsapp", "Hi Ana")
	f.timer.AssertCalled(t, "Schedule", mock.Anything, mock.MatchedBy(func(trigger events.Trigger) bool {
		return trigger.Kind == events.TriggerTimer &&
			trigger.ConversationID == "conv-1" &&
			trigger.ChatbotID == "bot" &&
			trigger.ExpectationToken == record.Expectation.Token
	}), at(epoch.Add(time.Hour)))

	stored, err := f.store.ExecutionRepository().Get(context.Background(), "bot", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, record.ID, stored.ID)
	assert.Equal(t, models.ExecutionStatusWaiting, stored.Status)
	assert.Equal(t, 1, stored.FlowVersion)
}

func TestStart_IdempotentWhileBlocked(t *testing.T) {
	f := newFixture(t, askFlow("bot"))

	first, err := f.engine.Start(context.Background(), startRequest("bot"))
	require.NoError(t, err)

	second, err := f.engine.Start(context.Background(), startRequest("bot"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Expectation.Token, second.Expectation.Token)
	f.sender.AssertNumberOfCalls(t, "Send", 2)
}

func TestStart_RecoversRunningRecord(t *testing.T) {
	f := newFixture(t, askFlow("bot"))

	crashed := testutil.CreateTestRecord("bot", "conv-1", func(r *models.ExecutionRecord) {
		r.ContactID = "contact-1"
		r.SetCurrentNode("ask")
	})
	require.NoError(t, f.store.ExecutionRepository().Create(context.Background(), crashed))

	record, err := f.engine.Start(context.Background(), startRequest("bot"))
	require.NoError(t, err)

	assert.Equal(t, crashed.ID, record.ID)
	assert.Equal(t, models.ExecutionStatusWaiting, record.Status)
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, "Hi ")
	f.sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestStart_TerminalRecords(t *testing.T) {
	graph := testutil.CreateTestFlow("bot",
		[]*models.Node{testutil.SendNode("hello", "Hi"), testutil.EndNode("done", "ok")},
		[]*models.Edge{testutil.Connect("hello", "done", "")},
	)
	f := newFixture(t, graph)
	ctx := context.Background()

	first, err := f.engine.Start(ctx, startRequest("bot"))
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, first.Status)

	again, err := f.engine.Start(ctx, startRequest("bot"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	f.sender.AssertNumberOfCalls(t, "Send", 1)

	req := startRequest("bot")
	req.Restart = true

	restarted, err := f.engine.Start(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, restarted.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, restarted.Status)
	f.sender.AssertNumberOfCalls(t, "Send", 2)
}

func TestStart_EndNode(t *testing.T) {
	graph := testutil.CreateTestFlow("bot",
		[]*models.Node{testutil.EndNode("done", "finished")}, nil,
	)
	f := newFixture(t, graph)

	record, err := f.engine.Start(context.Background(), startRequest("bot"))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)
	assert.Equal(t, "finished", record.Variables[models.VariableOutcome])
	assert.Nil(t, record.CurrentNodeID)
	assert.Nil(t, record.Error)
	require.NotNil(t, record.CompletedAt)
	assert.True(t, epoch.Equal(*record.CompletedAt))
}

func TestStart_Delay(t *testing.T) {
	graph := testutil.CreateTestFlow("bot",
		[]*models.Node{testutil.DelayNode("wait", 10*time.Minute), testutil.EndNode("done", "")},
		[]*models.Edge{testutil.Connect("wait", "done", "")},
	)
	f := newFixture(t, graph)

	record, err := f.engine.Start(context.Background(), startRequest("bot"))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPaused, record.Status)
	assert.Equal(t, "wait", record.CurrentNode())
	require.NotNil(t, record.Expectation)
	assert.Equal(t, models.ExpectationDelay, record.Expectation.Kind)
	assert.True(t, epoch.Add(10*time.Minute).Equal(*record.ResumeAt))

	f.timer.AssertCalled(t, "Schedule", mock.Anything, mock.Anything, at(epoch.Add(10*time.Minute)))
}

func TestStart_BranchWithoutMatchFails(t *testing.T) {
	graph := testutil.CreateTestFlow("bot",
		[]*models.Node{testutil.BranchNode("check", `tier`), testutil.EndNode("gold", "")},
		[]*models.Edge{testutil.Connect("check", "gold", "gold")},
	)
	f := newFixture(t, graph)

	req := startRequest("bot")
	req.Variables = map[string]any{"tier": "silver"}

	record, err := f.engine.Start(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	require.NotNil(t, record.Error)
	assert.Contains(t, *record.Error, "no outgoing edge matches")
	assert.Nil(t, record.CurrentNodeID)
}

func TestStart_SelfLoopHitsCycleLimit(t *testing.T) {
	graph := testutil.CreateTestFlow("bot",
		[]*models.Node{testutil.SendNode("loop", "again")},
		[]*models.Edge{testutil.Connect("loop", "loop", "")},
		testutil.WithMaxSteps(50),
	)
	f := newFixture(t, graph)

	record, err := f.engine.Start(context.Background(), startRequest("bot"))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	require.NotNil(t, record.Error)
	assert.Equal(t, "cycle limit exceeded", *record.Error)
	f.sender.AssertNumberOfCalls(t, "Send", 50)
	assert.Len(t, record.MessageHistory, 50)
}

func TestStart_ActionExhaustsRetries(t *testing.T) {
	graph := testutil.CreateTestFlow("bot",
		[]*models.Node{
			testutil.ActionNode("lookup", "https://crm.example.com/customers", func(c *models.ActionConfig) {
				c.Retry = models.RetryPolicy{MaxAttempts: 3}
				c.Mapping = map[string]string{"tier": "customer.tier"}
			}),
			testutil.EndNode("done", "ok"),
		},
		[]*models.Edge{testutil.Connect("lookup", "done", "")},
	)
	f := newFixture(t, graph)
	f.actions.On("Invoke", mock.Anything, mock.Anything).Return(nil, errors.New("service unavailable"))

	req := startRequest("bot")
	req.Variables = map[string]any{"name": "Ana"}

	record, err := f.engine.Start(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	assert.Equal(t, map[string]any{"name": "Ana"}, record.Variables)
	require.NotNil(t, record.Error)
	assert.Contains(t, *record.Error, "failed after 3 attempt(s)")
	f.actions.AssertNumberOfCalls(t, "Invoke", 3)
}

func TestStart_ActionMapsResponse(t *testing.T) {
	graph := testutil.CreateTestFlow("bot",
		[]*models.Node{
			testutil.ActionNode("lookup", "https://crm.example.com/customers/{{.vars.contact}}", func(c *models.ActionConfig) {
				c.Request = map[string]any{"name": "{{.vars.name}}"}
				c.Mapping = map[string]string{"tier": "customer.tier", "missing": "customer.nope"}
				c.ResultKey = "lookup"
			}),
			testutil.EndNode("done", "ok"),
		},
		[]*models.Edge{testutil.Connect("lookup", "done", "")},
	)
	f := newFixture(t, graph)

	response := map[string]any{"customer": map[string]any{"tier": "gold"}}
	f.actions.On("Invoke", mock.Anything, mock.MatchedBy(func(request engine.ActionRequest) bool {
		return request.Endpoint == "https://crm.example.com/customers/c-9" &&
			request.Method == "POST" &&
			request.Variables["name"] == "Ana" &&
			request.Timeout == engine.DefaultActionTimeout
	})).Return(response, nil).Once()

	req := startRequest("bot")
	req.Variables = map[string]any{"name": "Ana", "contact": "c-9"}

	record, err := f.engine.Start(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)
	assert.Equal(t, "gold", record.Variables["tier"])
	assert.Equal(t, response, record.Variables["lookup"])
	assert.NotContains(t, record.Variables, "missing")
	f.actions.AssertExpectations(t)
}

func TestStart_ActionRetriesAfterBackoff(t *testing.T) {
	graph := testutil.CreateTestFlow("bot",
		[]*models.Node{
			testutil.ActionNode("lookup", "https://crm.example.com", func(c *models.ActionConfig) {
				c.Retry = models.RetryPolicy{MaxAttempts: 2, InitialBackoff: models.Duration(time.Second)}
			}),
			testutil.EndNode("done", "ok"),
		},
		[]*models.Edge{testutil.Connect("lookup", "done", "")},
	)
	f := newFixture(t, graph)
	f.actions.On("Invoke", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()
	f.actions.On("Invoke", mock.Anything, mock.Anything).Return(map[string]any{"ok": true}, nil).Once()

	type result struct {
		record *models.ExecutionRecord
		err    error
	}

	done := make(chan result, 1)

	go func() {
		record, err := f.engine.Start(context.Background(), startRequest("bot"))
		done <- result{record, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(time.Second)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, models.ExecutionStatusCompleted, res.record.Status)
		assert.Equal(t, true, res.record.Variables["ok"])
	case <-ctx.Done():
		t.Fatal("engine did not finish after backoff")
	}
}

func TestStart_ConcurrentStartsCreateOneRecord(t *testing.T) {
	f := newFixture(t, askFlow("bot"))

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := f.engine.Start(context.Background(), startRequest("bot"))
			if err != nil {
				assert.True(t, engine.IsConcurrencyConflict(err), err)
			}
		}()
	}

	wg.Wait()

	record, err := f.store.ExecutionRepository().Get(context.Background(), "bot", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaiting, record.Status)

	f.sender.AssertNumberOfCalls(t, "Send", 2)
}

func TestStart_LockedConversationConflicts(t *testing.T) {
	f := newFixture(t, askFlow("bot"))

	ok, err := f.locker.Acquire(context.Background(), lock.Key("bot", "conv-1"), "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.engine.Start(context.Background(), startRequest("bot"))
	require.Error(t, err)
	assert.True(t, engine.IsConcurrencyConflict(err))
	assert.True(t, engine.IsTransient(err))

	_, err = f.store.ExecutionRepository().Get(context.Background(), "bot", "conv-1")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

type lostLeaseLocker struct {
	lock.Locker
}

func (lostLeaseLocker) Renew(context.Context, string, string, time.Duration) error {
	return lock.ErrNotHeld
}

func TestStart_LostLeaseStopsStepping(t *testing.T) {
	f := newFixture(t, askFlow("bot"))
	eng := f.newEngine(lostLeaseLocker{Locker: f.locker})

	_, err := eng.Start(context.Background(), startRequest("bot"))
	require.Error(t, err)
	assert.True(t, engine.IsConcurrencyConflict(err))
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStart_ExpiredLeaseNeverOverwritesCancel(t *testing.T) {
	graph := testutil.CreateTestFlow("bot",
		[]*models.Node{
			testutil.ActionNode("lookup", "https://crm.example.com"),
			testutil.EndNode("done", "ok"),
		},
		[]*models.Edge{testutil.Connect("lookup", "done", "")},
	)
	f := newFixture(t, graph)

	var cancelErr error

	f.actions.On("Invoke", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			// the call outlives the lease and a cancel lands meanwhile
			f.clock.Advance(engine.DefaultLockTTL + time.Second)
			_, cancelErr = f.engine.Cancel(context.Background(), "conv-1")
		}).
		Return(map[string]any{"ok": true}, nil).Once()

	_, err := f.engine.Start(context.Background(), startRequest("bot"))
	require.Error(t, err)
	assert.True(t, engine.IsConcurrencyConflict(err))
	require.NoError(t, cancelErr)

	stored, err := f.store.ExecutionRepository().Get(context.Background(), "bot", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Equal(t, engine.ErrCancelled.Error(), *stored.Error)
	assert.NotContains(t, stored.Variables, "ok")
}

func TestStart_ActionTimeoutBoundedByLease(t *testing.T) {
	graph := testutil.CreateTestFlow("bot",
		[]*models.Node{
			testutil.ActionNode("lookup", "https://crm.example.com", func(c *models.ActionConfig) {
				c.Timeout = models.Duration(time.Minute)
			}),
			testutil.EndNode("done", "ok"),
		},
		[]*models.Edge{testutil.Connect("lookup", "done", "")},
	)
	f := newFixture(t, graph)
	f.actions.On("Invoke", mock.Anything, mock.MatchedBy(func(request engine.ActionRequest) bool {
		return request.Timeout == engine.DefaultLockTTL/2
	})).Return(map[string]any{}, nil).Once()

	record, err := f.engine.Start(context.Background(), startRequest("bot"))
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)
	f.actions.AssertExpectations(t)
}

// interferingExecutions runs after once a saved record matches, simulating a
// write from another process landing between two steps.
type interferingExecutions struct {
	persistence.ExecutionRepository
	match func(*models.ExecutionRecord) bool
	after func(persistence.ExecutionRepository, *models.ExecutionRecord)
	once  sync.Once
}

func (r *interferingExecutions) Save(ctx context.Context, record *models.ExecutionRecord) error {
	err := r.ExecutionRepository.Save(ctx, record)
	if err == nil && r.match(record) {
		r.once.Do(func() { r.after(r.ExecutionRepository, record) })
	}

	return err
}

type interferingStore struct {
	persistence.Persistence
	executions persistence.ExecutionRepository
}

func (s interferingStore) ExecutionRepository() persistence.ExecutionRepository {
	return s.executions
}

func TestStart_OutOfBandTerminationAborts(t *testing.T) {
	graph := testutil.CreateTestFlow("bot",
		[]*models.Node{testutil.SendNode("one", "1"), testutil.SendNode("two", "2"), testutil.EndNode("done", "")},
		[]*models.Edge{testutil.Connect("one", "two", ""), testutil.Connect("two", "done", "")},
	)
	f := newFixture(t, graph)

	f.store = interferingStore{
		Persistence: f.store,
		executions: &interferingExecutions{
			ExecutionRepository: f.store.ExecutionRepository(),
			match: func(record *models.ExecutionRecord) bool {
				return record.CurrentNode() == "two"
			},
			after: func(repo persistence.ExecutionRepository, record *models.ExecutionRecord) {
				operator := record.Clone()
				operator.Fail(epoch, "cancelled by operator")
				require.NoError(t, repo.Save(context.Background(), operator))
			},
		},
	}

	record, err := f.newEngine(f.locker).Start(context.Background(), startRequest("bot"))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	assert.Equal(t, "cancelled by operator", *record.Error)
	f.sender.AssertNumberOfCalls(t, "Send", 1)
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, "2")
}

func TestStart_Errors(t *testing.T) {
	f := newFixture(t, askFlow("bot"))
	ctx := context.Background()

	t.Run("invalid request", func(t *testing.T) {
		req := startRequest("bot")
		req.ContactID = ""

		_, err := f.engine.Start(ctx, req)
		require.ErrorIs(t, err, engine.ErrInvalidRequest)
	})

	t.Run("unknown chatbot", func(t *testing.T) {
		_, err := f.engine.Start(ctx, startRequest("ghost"))
		assert.True(t, persistence.IsFlowNotFound(err))
	})

	t.Run("foreign tenant", func(t *testing.T) {
		req := startRequest("bot")
		req.TenantID = "tenant-other"

		_, err := f.engine.Start(ctx, req)
		require.ErrorIs(t, err, engine.ErrInvalidRequest)
	})
}

func TestStart_PersistenceErrorEscapes(t *testing.T) {
	store := mocks.NewMockPersistence()
	store.Flows.On("Latest", mock.Anything, "bot").Return(askFlow("bot"), nil)
	store.Executions.On("Get", mock.Anything, "bot", "conv-1").
		Return(nil, persistence.NewExecutionError("Get", "bot", "conv-1", persistence.ErrExecutionNotFound))
	store.Executions.On("Create", mock.Anything, mock.Anything).Return(errors.New("connection reset"))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(engine.Config{}, store, lock.NewMemory(nil), &mocks.MockMessageSender{}, nil, nil, logger)

	_, err := eng.Start(context.Background(), startRequest("bot"))
	require.Error(t, err)
	assert.True(t, engine.IsPersistenceError(err))
	assert.True(t, engine.IsTransient(err))
}

func TestCancel(t *testing.T) {
	f := newFixture(t, askFlow("bot"))
	ctx := context.Background()

	_, err := f.engine.Cancel(ctx, "conv-1")
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = f.engine.Start(ctx, startRequest("bot"))
	require.NoError(t, err)

	cancelled, err := f.engine.Cancel(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, cancelled.Status)
	assert.Equal(t, "cancelled", *cancelled.Error)
	assert.Nil(t, cancelled.Expectation)
	assert.Nil(t, cancelled.ResumeAt)

	again, err := f.engine.Cancel(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, again.CompletedAt)
	assert.True(t, cancelled.CompletedAt.Equal(*again.CompletedAt))

	state, err := f.engine.State(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, state.Status)
}

func TestState_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.State(context.Background(), "conv-unknown")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

// randomDAG builds a graph of send and branch nodes whose edges only point
// forward, ending in a single end node.
func randomDAG(rng *rand.Rand, chatbotID string, size int) *models.FlowGraph {
	nodes := make([]*models.Node, 0, size)
	edges := make([]*models.Edge, 0, size*2)

	id := func(i int) string { return "n" + strconv.Itoa(i) }

	for i := range size - 1 {
		forward := func() string { return id(i + 1 + rng.IntN(size-1-i)) }

		if rng.IntN(2) == 0 {
			nodes = append(nodes, testutil.SendNode(id(i), "step "+id(i)))
			edges = append(edges, testutil.Connect(id(i), forward(), ""))

			continue
		}

		nodes = append(nodes, testutil.BranchNode(id(i), "flag"))
		edges = append(edges,
			&models.Edge{ID: id(i) + "-t", Source: id(i), Target: forward(), Label: "true"},
			&models.Edge{ID: id(i) + "-d", Source: id(i), Target: forward(), Label: models.EdgeLabelDefault},
		)
	}

	nodes = append(nodes, testutil.EndNode(id(size-1), "done"))

	return testutil.CreateTestFlow(chatbotID, nodes, edges, testutil.WithMaxSteps(size))
}

func TestProperty_AcyclicFlowsTerminateWithinNodeCount(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 42))

	for i := range 25 {
		size := 2 + rng.IntN(15)
		chatbotID := "bot-" + strconv.Itoa(i)
		f := newFixture(t, randomDAG(rng, chatbotID, size))

		req := startRequest(chatbotID)
		req.Variables = map[string]any{"flag": rng.IntN(2) == 0}

		record, err := f.engine.Start(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusCompleted, record.Status, "graph of %d nodes", size)
		assert.LessOrEqual(t, len(record.MessageHistory), size)
	}
}

func TestProperty_StepsNeverExceedMax(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 9))

	for i := range 20 {
		size := 1 + rng.IntN(6)
		maxSteps := 1 + rng.IntN(30)

		nodes := make([]*models.Node, size)
		edges := make([]*models.Edge, size)

		for n := range size {
			id := "n" + strconv.Itoa(n)
			nodes[n] = testutil.SendNode(id, id)
			edges[n] = testutil.Connect(id, "n"+strconv.Itoa(rng.IntN(size)), "")
		}

		chatbotID := "bot-" + strconv.Itoa(i)
		f := newFixture(t, testutil.CreateTestFlow(chatbotID, nodes, edges, testutil.WithMaxSteps(maxSteps)))

		record, err := f.engine.Start(context.Background(), startRequest(chatbotID))
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusFailed, record.Status)
		assert.Equal(t, engine.ErrCycleLimitExceeded.Error(), *record.Error)
		f.sender.AssertNumberOfCalls(t, "Send", maxSteps)
	}
}
