package engine

import (
	"context"
	"fmt"

	"github.com/dukex/convoflow/pkg/lock"
	"github.com/google/uuid"
)

type lease struct {
	key   string
	owner string
}

type leaseContextKey struct{}

// WithLock runs fn while holding the conversation's lease. Nested calls for
// the same conversation reuse the held lease. The step loop renews it.
func (e *Engine) WithLock(ctx context.Context, chatbotID, conversationID string, fn func(ctx context.Context) error) error {
	key := lock.Key(chatbotID, conversationID)

	if held, ok := ctx.Value(leaseContextKey{}).(*lease); ok && held.key == key {
		return fn(ctx)
	}

	held := &lease{key: key, owner: e.config.Owner + ":" + uuid.New().String()}

	acquired, err := e.locker.Acquire(ctx, key, held.owner, e.config.LockTTL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	}

	if !acquired {
		return fmt.Errorf("%w: conversation %s of chatbot %s is locked", ErrConcurrencyConflict, conversationID, chatbotID)
	}

	defer func() {
		releaseErr := e.locker.Release(context.WithoutCancel(ctx), key, held.owner)
		if releaseErr != nil {
			e.logger.WarnContext(ctx, "Failed to release lease", "key", key, "error", releaseErr)
		}
	}()

	return fn(context.WithValue(ctx, leaseContextKey{}, held))
}

func heldLease(ctx context.Context) *lease {
	held, _ := ctx.Value(leaseContextKey{}).(*lease)

	return held
}

// renewLease extends the lease held by ctx, if any.
func (e *Engine) renewLease(ctx context.Context) error {
	held := heldLease(ctx)
	if held == nil {
		return nil
	}

	err := e.locker.Renew(ctx, held.key, held.owner, e.config.LockTTL)
	if err != nil {
		return fmt.Errorf("%w: lease %s lost: %w", ErrConcurrencyConflict, held.key, err)
	}

	return nil
}
