package mocks

import (
	"context"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Flows      *MockFlowRepository
	Executions *MockExecutionRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{Flows: &MockFlowRepository{}, Executions: &MockExecutionRepository{}}
}

func (m *MockPersistence) FlowRepository() persistence.FlowRepository {
	return m.Flows
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.Executions
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockFlowRepository is a mock implementation of persistence.FlowRepository interface.
type MockFlowRepository struct {
	mock.Mock
}

func (m *MockFlowRepository) Save(ctx context.Context, graph *models.FlowGraph) error {
	args := m.Called(ctx, graph)

	return args.Error(0)
}

func (m *MockFlowRepository) Latest(ctx context.Context, chatbotID string) (*models.FlowGraph, error) {
	args := m.Called(ctx, chatbotID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.FlowGraph), args.Error(1)
}

func (m *MockFlowRepository) Version(ctx context.Context, chatbotID string, version int) (*models.FlowGraph, error) {
	args := m.Called(ctx, chatbotID, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.FlowGraph), args.Error(1)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, record *models.ExecutionRecord) error {
	args := m.Called(ctx, record)

	return args.Error(0)
}

func (m *MockExecutionRepository) Save(ctx context.Context, record *models.ExecutionRecord) error {
	args := m.Called(ctx, record)

	return args.Error(0)
}

func (m *MockExecutionRepository) Get(ctx context.Context, chatbotID, conversationID string) (*models.ExecutionRecord, error) {
	args := m.Called(ctx, chatbotID, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionRecord), args.Error(1)
}

func (m *MockExecutionRepository) ByConversation(ctx context.Context, conversationID string) (*models.ExecutionRecord, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionRecord), args.Error(1)
}

func (m *MockExecutionRepository) Status(ctx context.Context, id string) (models.ExecutionStatus, error) {
	args := m.Called(ctx, id)

	return args.Get(0).(models.ExecutionStatus), args.Error(1)
}

func (m *MockExecutionRepository) Due(ctx context.Context, before time.Time, limit int) ([]*models.ExecutionRecord, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionRecord), args.Error(1)
}
