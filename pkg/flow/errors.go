// Package flow validates, loads and publishes chatbot flow graphs.
package flow

import (
	"errors"
	"fmt"
	"strings"
)

// Validation problems reported at publish time.
var (
	ErrInvalidFlow       = errors.New("invalid flow")
	ErrInvalidField      = errors.New("invalid field")
	ErrDuplicateNode     = errors.New("duplicate node id")
	ErrMissingEntry      = errors.New("entry node not found")
	ErrDanglingEdge      = errors.New("edge references unknown node")
	ErrMissingEdge       = errors.New("node has no outgoing edge")
	ErrTooManyEdges      = errors.New("node has too many outgoing edges")
	ErrDuplicateLabel    = errors.New("duplicate edge label")
	ErrInvalidNodeConfig = errors.New("invalid node configuration")
)

// ValidationError collects every problem found in a flow graph.
type ValidationError struct {
	ChatbotID string
	Problems  []error
}

func (e *ValidationError) Error() string {
	messages := make([]string, 0, len(e.Problems))
	for _, problem := range e.Problems {
		messages = append(messages, problem.Error())
	}

	return fmt.Sprintf("flow %s is invalid: %s", e.ChatbotID, strings.Join(messages, "; "))
}

func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidFlow
}

// IsValidationError checks if an error indicates a malformed flow graph.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidFlow)
}

func problem(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
