package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beautycort-auth/internal/models"
)

var testPolicy = models.LockoutPolicy{
	MaxAttempts:     5,
	LockoutDuration: 30 * time.Minute,
	ResetWindow:     15 * time.Minute,
}

const testCacheTTL = 24 * time.Hour

func TestLockoutCacheRecordFailedAttempt(t *testing.T) {
	_, redisClient := newTestRedis(t)
	cache := NewLockoutCache(redisClient)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)

	for i := 1; i < testPolicy.MaxAttempts; i++ {
		record, justLocked, err := cache.RecordFailedAttempt(ctx, "user-1", models.LockoutTypeOTP, testPolicy, testCacheTTL, now)
		require.NoError(t, err)
		assert.Equal(t, i, record.Attempts)
		assert.False(t, justLocked)
		assert.Nil(t, record.LockedUntil)
	}

	record, justLocked, err := cache.RecordFailedAttempt(ctx, "user-1", models.LockoutTypeOTP, testPolicy, testCacheTTL, now)
	require.NoError(t, err)
	assert.Equal(t, testPolicy.MaxAttempts, record.Attempts)
	assert.True(t, justLocked)
	require.NotNil(t, record.LockedUntil)
	assert.Equal(t, now.Add(testPolicy.LockoutDuration), *record.LockedUntil)
}

func TestLockoutCacheLockedRecordUntouched(t *testing.T) {
	_, redisClient := newTestRedis(t)
	cache := NewLockoutCache(redisClient)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < testPolicy.MaxAttempts; i++ {
		_, _, err := cache.RecordFailedAttempt(ctx, "user-1", models.LockoutTypeOTP, testPolicy, testCacheTTL, now)
		require.NoError(t, err)
	}

	// Attempts while the lock is in force neither extend it nor count
	record, justLocked, err := cache.RecordFailedAttempt(ctx, "user-1", models.LockoutTypeOTP, testPolicy, testCacheTTL, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, testPolicy.MaxAttempts, record.Attempts)
	assert.False(t, justLocked)
	require.NotNil(t, record.LockedUntil)
	assert.Equal(t, now.Add(testPolicy.LockoutDuration), *record.LockedUntil)
}

func TestLockoutCacheElapsedLockResets(t *testing.T) {
	_, redisClient := newTestRedis(t)
	cache := NewLockoutCache(redisClient)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < testPolicy.MaxAttempts; i++ {
		_, _, err := cache.RecordFailedAttempt(ctx, "user-1", models.LockoutTypeOTP, testPolicy, testCacheTTL, now)
		require.NoError(t, err)
	}

	after := now.Add(testPolicy.LockoutDuration + time.Second)
	record, justLocked, err := cache.RecordFailedAttempt(ctx, "user-1", models.LockoutTypeOTP, testPolicy, testCacheTTL, after)
	require.NoError(t, err)
	assert.Equal(t, 1, record.Attempts, "an elapsed lock starts a fresh count")
	assert.False(t, justLocked)
	assert.Nil(t, record.LockedUntil)
}

func TestLockoutCacheResetWindowElapsed(t *testing.T) {
	_, redisClient := newTestRedis(t)
	cache := NewLockoutCache(redisClient)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		_, _, err := cache.RecordFailedAttempt(ctx, "user-1", models.LockoutTypeOTP, testPolicy, testCacheTTL, now)
		require.NoError(t, err)
	}

	after := now.Add(testPolicy.ResetWindow)
	record, _, err := cache.RecordFailedAttempt(ctx, "user-1", models.LockoutTypeOTP, testPolicy, testCacheTTL, after)
	require.NoError(t, err)
	assert.Equal(t, 1, record.Attempts, "attempts outside the reset window do not accumulate")
	assert.Equal(t, after, record.FirstAttemptAt)
}

func TestLockoutCacheIndependentTypes(t *testing.T) {
	_, redisClient := newTestRedis(t)
	cache := NewLockoutCache(redisClient)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	_, _, err := cache.RecordFailedAttempt(ctx, "user-1", models.LockoutTypeOTP, testPolicy, testCacheTTL, now)
	require.NoError(t, err)

	_, err = cache.GetLockout(ctx, "user-1", models.LockoutTypeMFA)
	assert.ErrorIs(t, err, ErrNoLockoutRecord, "counters are independent per lockout type")
}

func TestLockoutCacheConcurrentAttempts(t *testing.T) {
	_, redisClient := newTestRedis(t)
	cache := NewLockoutCache(redisClient)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)

	const callers = 10
	var locked atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, justLocked, err := cache.RecordFailedAttempt(ctx, "user-1", models.LockoutTypeOTP, testPolicy, testCacheTTL, now)
			assert.NoError(t, err)
			if justLocked {
				locked.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), locked.Load(), "exactly one caller observes the lock transition")

	record, err := cache.GetLockout(ctx, "user-1", models.LockoutTypeOTP)
	require.NoError(t, err)
	assert.Equal(t, testPolicy.MaxAttempts, record.Attempts, "counting stops once locked")
}

func TestLockoutCacheClearExpiredLock(t *testing.T) {
	_, redisClient := newTestRedis(t)
	cache := NewLockoutCache(redisClient)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < testPolicy.MaxAttempts; i++ {
		_, _, err := cache.RecordFailedAttempt(ctx, "user-1", models.LockoutTypeOTP, testPolicy, testCacheTTL, now)
		require.NoError(t, err)
	}

	cleared, err := cache.ClearExpiredLock(ctx, "user-1", models.LockoutTypeOTP, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, cleared, "an in-force lock is not cleared")

	cleared, err = cache.ClearExpiredLock(ctx, "user-1", models.LockoutTypeOTP, now.Add(testPolicy.LockoutDuration+time.Second))
	require.NoError(t, err)
	assert.True(t, cleared)

	_, err = cache.GetLockout(ctx, "user-1", models.LockoutTypeOTP)
	assert.ErrorIs(t, err, ErrNoLockoutRecord)
}

func TestLockoutCacheResetLockout(t *testing.T) {
	_, redisClient := newTestRedis(t)
	cache := NewLockoutCache(redisClient)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	for _, lockoutType := range []string{models.LockoutTypeOTP, models.LockoutTypeCustomer} {
		_, _, err := cache.RecordFailedAttempt(ctx, "user-1", lockoutType, testPolicy, testCacheTTL, now)
		require.NoError(t, err)
	}

	require.NoError(t, cache.ResetLockout(ctx, "user-1", models.LockoutTypeOTP, models.LockoutTypeCustomer))

	for _, lockoutType := range []string{models.LockoutTypeOTP, models.LockoutTypeCustomer} {
		_, err := cache.GetLockout(ctx, "user-1", lockoutType)
		assert.ErrorIs(t, err, ErrNoLockoutRecord)
	}
}
