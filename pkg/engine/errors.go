package engine

import (
	"errors"
	"fmt"

	"github.com/dukex/convoflow/pkg/models"
)

var (
	// ErrCycleLimitExceeded fails an invocation that reached its step bound.
	ErrCycleLimitExceeded = errors.New("cycle limit exceeded")

	// ErrConcurrencyConflict means another invocation holds the conversation
	// lease. It is transient; callers retry later.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrInputTimeout fails a waiting execution whose ask node has no timeout edge.
	ErrInputTimeout = errors.New("timeout waiting for input")

	// ErrCancelled is the failure reason recorded by Cancel.
	ErrCancelled = errors.New("cancelled")

	ErrNodeNotFound   = errors.New("node not found")
	ErrInvalidRequest = errors.New("invalid request")

	errNoActionCaller = errors.New("no action caller configured")
)

// NodeExecutionError is a node-level failure. It never escapes an invocation:
// the engine records it as the execution's failure reason.
type NodeExecutionError struct {
	NodeID string
	Kind   models.NodeKind
	Err    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.NodeID, e.Kind, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// ActionError reports an external action that failed on every attempt.
type ActionError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s failed after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps store failures. The record is left as last
// successfully persisted; the caller is expected to redeliver.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

func IsPersistenceError(err error) bool {
	var target *PersistenceError

	return errors.As(err, &target)
}

func IsNodeExecutionError(err error) bool {
	var target *NodeExecutionError

	return errors.As(err, &target)
}

func IsActionError(err error) bool {
	var target *ActionError

	return errors.As(err, &target)
}

// IsTransient reports whether err should be retried by redelivery.
func IsTransient(err error) bool {
	return IsConcurrencyConflict(err) || IsPersistenceError(err)
}
