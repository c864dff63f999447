// Package redislock implements lock.Locker with Redis keys and Lua compare-and-set scripts.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/convoflow/pkg/lock"
	"github.com/redis/go-redis/v9"
)

var (
	// Returns 1 if acquired or refreshed by the same owner, 0 otherwise.
	acquireScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

local cur = redis.call('GET', key)
if not cur then
	redis.call('PSETEX', key, ttlms, owner)
	return 1
end
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`)

	renewScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

if redis.call('GET', key) == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`)

	// Returns 1 when released, 0 when missing, -1 when held by another owner.
	releaseScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]

local cur = redis.call('GET', key)
if not cur then
	return 0
end
if cur == owner then
	redis.call('DEL', key)
	return 1
end
return -1
`)
)

// Locker stores each lease as a Redis string holding the owner, with a PX expiry.
type Locker struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

func (l *Locker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}

	res, err := acquireScript.Run(ctx, l.client, []string{key}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}

	return res == 1, nil
}

func (l *Locker) Renew(ctx context.Context, key, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be > 0")
	}

	res, err := renewScript.Run(ctx, l.client, []string{key}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to renew lease %s: %w", key, err)
	}

	if res != 1 {
		return lock.ErrNotHeld
	}

	return nil
}

func (l *Locker) Release(ctx context.Context, key, owner string) error {
	res, err := releaseScript.Run(ctx, l.client, []string{key}, owner).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}

	if res < 0 {
		return lock.ErrNotHeld
	}

	return nil
}
