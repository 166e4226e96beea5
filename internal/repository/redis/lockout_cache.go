package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"beautycort-auth/internal/client"
	"beautycort-auth/internal/models"
	"beautycort-auth/internal/util"
)

const (
	lockoutPrefix = "lockout:"

	lockoutOpTimeout = 5 * time.Second
)

// ErrNoLockoutRecord is returned when no record exists for the pair.
var ErrNoLockoutRecord = errors.New("no lockout record")

// recordAttemptScript is the single mutation point for a lockout record.
// Running it as one script makes increment-and-check atomic per key: two
// replicas recording failures for the same identity cannot lose an update or
// both miss the lockout threshold.
//
// State transitions encoded here: an elapsed lock resets the record to clean;
// an elapsed reset window (with no lock in force) resets the counter; the
// counter reaching max_attempts always sets locked_until. While a lock is in
// force the record is returned untouched.
const recordAttemptScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local max_attempts = tonumber(ARGV[2])
local lockout_seconds = tonumber(ARGV[3])
local reset_window = tonumber(ARGV[4])
local cache_ttl = tonumber(ARGV[5])

local rec = redis.call('HMGET', key, 'attempts', 'first_attempt_at', 'locked_until')
local attempts = tonumber(rec[1]) or 0
local first_at = tonumber(rec[2]) or now
local locked_until = tonumber(rec[3]) or 0

if locked_until > now then
    return {attempts, first_at, locked_until, 0}
end

if locked_until > 0 and locked_until <= now then
    attempts = 0
    locked_until = 0
    first_at = now
end

if attempts > 0 and (now - first_at) >= reset_window then
    attempts = 0
    first_at = now
end

if attempts == 0 then
    first_at = now
end

attempts = attempts + 1
local just_locked = 0
if attempts >= max_attempts then
    locked_until = now + lockout_seconds
    just_locked = 1
end

redis.call('HSET', key, 'attempts', attempts, 'first_attempt_at', first_at, 'last_attempt_at', now, 'locked_until', locked_until)
redis.call('EXPIRE', key, cache_ttl)
return {attempts, first_at, locked_until, just_locked}
`

// clearExpiredLockScript removes a record whose lock has elapsed, so reads
// observe the Locked -> Clean transition without racing a concurrent write.
const clearExpiredLockScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])

local locked_until = tonumber(redis.call('HGET', key, 'locked_until')) or 0
if locked_until > 0 and locked_until <= now then
    redis.call('DEL', key)
    return 1
end
return 0
`

// LockoutCache is the authoritative hot-path store for brute-force lockout
// state, keyed per (identifier, lockout type).
type LockoutCache struct {
	client *client.RedisClient
}

func NewLockoutCache(client *client.RedisClient) *LockoutCache {
	return &LockoutCache{client: client}
}

func lockoutKey(identifier, lockoutType string) string {
	return lockoutPrefix + lockoutType + ":" + identifier
}

// RecordFailedAttempt applies one failed attempt atomically and returns the
// resulting record plus whether this attempt triggered the lockout.
func (c *LockoutCache) RecordFailedAttempt(ctx context.Context, identifier, lockoutType string, policy models.LockoutPolicy, cacheTTL time.Duration, now time.Time) (*models.LockoutRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, lockoutOpTimeout)
	defer cancel()

	result, err := c.client.Eval(ctx, recordAttemptScript,
		[]string{lockoutKey(identifier, lockoutType)},
		now.Unix(),
		policy.MaxAttempts,
		int(policy.LockoutDuration.Seconds()),
		int(policy.ResetWindow.Seconds()),
		int(cacheTTL.Seconds()),
	)
	if err != nil {
		util.Error("Failed to record failed attempt",
			zap.String("identifier", identifier),
			zap.String("lockout_type", lockoutType),
			zap.Error(err))
		return nil, false, fmt.Errorf("failed to record failed attempt: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 4 {
		return nil, false, fmt.Errorf("unexpected result format from lockout script")
	}

	attempts := int(values[0].(int64))
	firstAt := time.Unix(values[1].(int64), 0).UTC()
	lockedUntilUnix := values[2].(int64)
	justLocked := values[3].(int64) == 1

	record := &models.LockoutRecord{
		Identifier:     identifier,
		LockoutType:    lockoutType,
		Attempts:       attempts,
		FirstAttemptAt: firstAt,
		LastAttemptAt:  now.UTC(),
	}
	if lockedUntilUnix > 0 {
		lockedUntil := time.Unix(lockedUntilUnix, 0).UTC()
		record.LockedUntil = &lockedUntil
	}

	util.Debug("Failed attempt recorded",
		zap.String("identifier", identifier),
		zap.String("lockout_type", lockoutType),
		zap.Int("attempts", attempts),
		zap.Bool("just_locked", justLocked))

	return record, justLocked, nil
}

func (c *LockoutCache) GetLockout(ctx context.Context, identifier, lockoutType string) (*models.LockoutRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, lockoutOpTimeout)
	defer cancel()

	fields, err := c.client.HGetAll(ctx, lockoutKey(identifier, lockoutType))
	if err != nil {
		util.Error("Failed to get lockout record",
			zap.String("identifier", identifier),
			zap.String("lockout_type", lockoutType),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get lockout record: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNoLockoutRecord
	}

	return decodeLockoutRecord(identifier, lockoutType, fields)
}

// ClearExpiredLock resets the record if its lock has elapsed. Returns true
// when a reset happened.
func (c *LockoutCache) ClearExpiredLock(ctx context.Context, identifier, lockoutType string, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, lockoutOpTimeout)
	defer cancel()

	result, err := c.client.Eval(ctx, clearExpiredLockScript,
		[]string{lockoutKey(identifier, lockoutType)}, now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to clear expired lock: %w", err)
	}

	cleared, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result format from clear script")
	}
	return cleared == 1, nil
}

func (c *LockoutCache) ResetLockout(ctx context.Context, identifier string, lockoutTypes ...string) error {
	ctx, cancel := context.WithTimeout(ctx, lockoutOpTimeout)
	defer cancel()

	keys := make([]string, 0, len(lockoutTypes))
	for _, lockoutType := range lockoutTypes {
		keys = append(keys, lockoutKey(identifier, lockoutType))
	}

	if err := c.client.Del(ctx, keys...); err != nil {
		util.Error("Failed to reset lockout",
			zap.String("identifier", identifier),
			zap.Error(err))
		return fmt.Errorf("failed to reset lockout: %w", err)
	}

	util.Debug("Lockout reset",
		zap.String("identifier", identifier),
		zap.Int("types", len(lockoutTypes)))
	return nil
}

func decodeLockoutRecord(identifier, lockoutType string, fields map[string]string) (*models.LockoutRecord, error) {
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("invalid lockout record field attempts: %w", err)
	}
	firstAt, err := strconv.ParseInt(fields["first_attempt_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid lockout record field first_attempt_at: %w", err)
	}
	lastAt, err := strconv.ParseInt(fields["last_attempt_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid lockout record field last_attempt_at: %w", err)
	}

	record := &models.LockoutRecord{
		Identifier:     identifier,
		LockoutType:    lockoutType,
		Attempts:       attempts,
		FirstAttemptAt: time.Unix(firstAt, 0).UTC(),
		LastAttemptAt:  time.Unix(lastAt, 0).UTC(),
	}

	if lockedUntilUnix, err := strconv.ParseInt(fields["locked_until"], 10, 64); err == nil && lockedUntilUnix > 0 {
		lockedUntil := time.Unix(lockedUntilUnix, 0).UTC()
		record.LockedUntil = &lockedUntil
	}

	return record, nil
}
