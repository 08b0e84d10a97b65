/**
 * @description
 * This package implements the TTL-bounded mutual-exclusion lock that serializes
 * transfers sharing a source account. The lock is a single atomic
 * "set-if-absent, expire after TTL" Redis operation; there is never a separate
 * check-then-set, so two callers cannot race past each other.
 *
 * Key properties:
 * - Acquire is one SET NX PX call and never waits: a losing caller gets false
 *   immediately and must surface a conflict, not queue.
 * - Each holder stores a random token; Release runs a Lua compare-and-delete so
 *   a holder whose lock already expired and was re-acquired elsewhere cannot
 *   delete the new holder's lock.
 * - The TTL is a safety net against a process crash while holding the lock.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client, shared with the rest of the service.
 * - github.com/google/uuid: Holder token generation.
 */

package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "transfer_lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// AccountLock is a per-account-id distributed lock over Redis.
type AccountLock struct {
	client redis.UniversalClient

	mu     sync.Mutex
	tokens map[string]string // key -> holder token for locks held by this process
}

// NewAccountLock creates a lock manager over the given Redis client.
func NewAccountLock(client redis.UniversalClient) *AccountLock {
	return &AccountLock{
		client: client,
		tokens: make(map[string]string),
	}
}

func lockKey(accountID string) string {
	return keyPrefix + accountID
}

// Acquire attempts to take the lock for accountID. It returns false without
// waiting when another holder is live.
func (l *AccountLock) Acquire(ctx context.Context, accountID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}

	key := lockKey(accountID)
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

// Release drops the lock for accountID iff this process still holds it. It
// returns false when the lock already expired or belongs to another holder.
func (l *AccountLock) Release(ctx context.Context, accountID string) (bool, error) {
	key := lockKey(accountID)

	l.mu.Lock()
	token, held := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()

	if !held {
		return false, nil
	}

	deleted, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}
