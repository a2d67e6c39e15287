package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"nudge/internal/constants"
)

// Deletes the lock only when this holder's token is still in place, so a
// sweep that outlived the TTL cannot release a lock another replica now holds.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// SweepLock serializes sweeps across dispatcher replicas. Only the instance
// that wins the SETNX runs the sweep; the key expires on its own so a
// crashed holder never blocks the next sweep for long.
type SweepLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

func NewSweepLock(client *redis.Client, ttl time.Duration) *SweepLock {
	if ttl <= 0 {
		ttl = constants.DefaultSweepInterval
	}
	return &SweepLock{
		client: client,
		key:    constants.SweepLockKey,
		ttl:    ttl,
	}
}

// Acquire returns true when this instance won the sweep.
func (l *SweepLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release frees the lock early so a fast sweep does not hold the slot for
// the full TTL.
func (l *SweepLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release sweep lock: %w", err)
	}
	return nil
}
