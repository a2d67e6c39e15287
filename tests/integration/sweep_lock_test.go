package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/dispatcher"
)

func TestSweepLockMutualExclusion(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true, false)
	ctx := context.Background()

	a := dispatcher.NewSweepLock(infra.RedisClient, time.Minute)
	b := dispatcher.NewSweepLock(infra.RedisClient, time.Minute)

	acquired, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, acquired, "second replica must not win a held lock")

	require.NoError(t, a.Release(ctx))

	acquired, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired, "released lock is acquirable again")
	require.NoError(t, b.Release(ctx))
}

func TestSweepLockStaleReleaseKeepsNewHolder(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true, false)
	ctx := context.Background()

	a := dispatcher.NewSweepLock(infra.RedisClient, time.Second)
	b := dispatcher.NewSweepLock(infra.RedisClient, time.Minute)

	acquired, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	// Let a's lease expire, then hand the lock to b.
	require.Eventually(t, func() bool {
		ok, acquireErr := b.Acquire(ctx)
		return acquireErr == nil && ok
	}, 5*time.Second, 100*time.Millisecond)

	// The release from the expired holder must not free b's lock.
	require.NoError(t, a.Release(ctx))

	c := dispatcher.NewSweepLock(infra.RedisClient, time.Minute)
	acquired, err = c.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, acquired, "lock must still be held after a stale release")

	require.NoError(t, b.Release(ctx))
}
