package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		notFound := persistence.NewExecutionError("Get", "bot-1", "conv-1", persistence.ErrExecutionNotFound)
		duplicate := persistence.NewExecutionError("Create", "bot-1", "conv-1", persistence.ErrExecutionAlreadyExists)

		assert.True(t, persistence.IsExecutionNotFound(notFound))
		assert.False(t, persistence.IsExecutionNotFound(duplicate))
		assert.True(t, persistence.IsExecutionAlreadyExists(duplicate))
		assert.True(t, errors.Is(notFound, persistence.ErrExecutionNotFound))
	})

	t.Run("execution error contains context", func(t *testing.T) {
		err := persistence.NewExecutionError("Save", "bot-1", "conv-9", persistence.ErrExecutionNotFound)

		assert.Contains(t, err.Error(), "Save")
		assert.Contains(t, err.Error(), "bot-1")
		assert.Contains(t, err.Error(), "conv-9")
		assert.Contains(t, err.Error(), "execution not found")
	})

	t.Run("flow not found survives wrapping", func(t *testing.T) {
		err := fmt.Errorf("loading: %w", fmt.Errorf("chatbot bot-1: %w", persistence.ErrFlowNotFound))

		assert.True(t, persistence.IsFlowNotFound(err))
		assert.False(t, persistence.IsFlowNotFound(persistence.ErrFlowVersionExists))
	})
}
