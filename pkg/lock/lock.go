// Package lock provides per-conversation leases that serialise engine steps.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrNotHeld is returned when renewing or releasing a lease owned by someone else.
var ErrNotHeld = errors.New("lease not held")

// Locker grants expiring, owner-scoped leases on keys. Acquire is re-entrant
// for the current owner and refreshes the TTL.
type Locker interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, key, owner string, ttl time.Duration) error
	// Release is idempotent when the lease is missing.
	Release(ctx context.Context, key, owner string) error
}

// Key returns the lease key guarding one chatbot's run in a conversation.
func Key(chatbotID, conversationID string) string {
	return "convoflow:lock:" + chatbotID + ":" + conversationID
}

type lease struct {
	owner     string
	expiresAt time.Time
}

// Memory is an in-process Locker for single-node deployments and tests.
type Memory struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	leases map[string]lease
}

func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Memory{clock: clock, leases: make(map[string]lease)}
}

func (m *Memory) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.current(key)
	if ok && current.owner != owner {
		return false, nil
	}

	m.leases[key] = lease{owner: owner, expiresAt: m.clock.Now().Add(ttl)}

	return true, nil
}

func (m *Memory) Renew(_ context.Context, key, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be > 0")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.current(key)
	if !ok || current.owner != owner {
		return ErrNotHeld
	}

	m.leases[key] = lease{owner: owner, expiresAt: m.clock.Now().Add(ttl)}

	return nil
}

func (m *Memory) Release(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.current(key)
	if !ok {
		return nil
	}

	if current.owner != owner {
		return ErrNotHeld
	}

	delete(m.leases, key)

	return nil
}

// current returns the live lease for key, dropping it if expired. Callers hold mu.
func (m *Memory) current(key string) (lease, bool) {
	current, ok := m.leases[key]
	if !ok {
		return lease{}, false
	}

	if !m.clock.Now().Before(current.expiresAt) {
		delete(m.leases, key)

		return lease{}, false
	}

	return current, true
}
