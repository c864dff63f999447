package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates no published flow exists for the chatbot or version.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrFlowVersionExists indicates the chatbot already has a flow with that version.
	ErrFlowVersionExists = errors.New("flow version already exists")

	// ErrExecutionNotFound indicates no execution record matched.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionAlreadyExists indicates a record already exists for the (chatbot, conversation) pair.
	ErrExecutionAlreadyExists = errors.New("execution already exists")
)

// ExecutionError wraps execution record errors with additional context.
type ExecutionError struct {
	Op             string // Operation being performed (e.g., "Get", "Save", "Create")
	ChatbotID      string
	ConversationID string
	Err            error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution of chatbot %s in conversation %s: %v", e.Op, e.ChatbotID, e.ConversationID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewExecutionError(op, chatbotID, conversationID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:             op,
		ChatbotID:      chatbotID,
		ConversationID: conversationID,
		Err:            err,
	}
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsExecutionAlreadyExists checks if an error indicates a duplicate execution.
func IsExecutionAlreadyExists(err error) bool {
	return errors.Is(err, ErrExecutionAlreadyExists)
}
