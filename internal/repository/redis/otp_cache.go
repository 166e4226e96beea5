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
	otpPrefix        = "otp:"
	otpAttemptPrefix = "otp_attempts:"

	otpOpTimeout = 5 * time.Second
)

// ErrNoActiveOTP is returned when no OTP record exists for an identity.
var ErrNoActiveOTP = errors.New("no active OTP")

// OTPCache holds the single active OTP record per identity as a Redis hash,
// plus a separate attempt counter mutated with atomic increments. Expiry is
// native key TTL, not a sweep loop.
type OTPCache struct {
	client *client.RedisClient
}

func NewOTPCache(client *client.RedisClient) *OTPCache {
	return &OTPCache{client: client}
}

// StoreOTP replaces any existing record for the identity. The old record and
// its attempt counter are discarded in the same transaction, so a prior
// unverified code can never be verified after a new generate.
func (c *OTPCache) StoreOTP(ctx context.Context, record *models.OTPRecord, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, otpOpTimeout)
	defer cancel()

	key := otpPrefix + record.Identity
	attemptKey := otpAttemptPrefix + record.Identity

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key, attemptKey)
	pipe.HSet(ctx, key,
		"code_hash", record.CodeHash,
		"created_at", record.CreatedAt.Unix(),
		"expires_at", record.ExpiresAt.Unix(),
		"verified", boolField(record.Verified),
	)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to store OTP record",
			zap.String("identity", record.Identity),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to store OTP record: %w", err)
	}

	util.Debug("OTP record stored",
		zap.String("identity", record.Identity),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *OTPCache) GetOTP(ctx context.Context, identity string) (*models.OTPRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, otpOpTimeout)
	defer cancel()

	key := otpPrefix + identity

	fields, err := c.client.HGetAll(ctx, key)
	if err != nil {
		util.Error("Failed to get OTP record",
			zap.String("identity", identity),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get OTP record: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNoActiveOTP
	}

	record, err := decodeOTPRecord(identity, fields)
	if err != nil {
		util.Error("Invalid OTP record format",
			zap.String("identity", identity),
			zap.Error(err))
		return nil, err
	}
	return record, nil
}

// IncrementAttempts bumps the verification attempt counter atomically and
// returns the new count. Two replicas racing on the same identity cannot
// lose an increment.
func (c *OTPCache) IncrementAttempts(ctx context.Context, identity string, ttl time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, otpOpTimeout)
	defer cancel()

	key := otpAttemptPrefix + identity

	count, err := c.client.IncrWithExpire(ctx, key, ttl)
	if err != nil {
		util.Error("Failed to increment OTP attempts",
			zap.String("identity", identity),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}

	util.Debug("OTP attempts incremented",
		zap.String("identity", identity),
		zap.Int("count", int(count)))
	return int(count), nil
}

func (c *OTPCache) GetAttemptCount(ctx context.Context, identity string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, otpOpTimeout)
	defer cancel()

	key := otpAttemptPrefix + identity

	countStr, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, nil // No attempts yet
		}
		return 0, fmt.Errorf("failed to get OTP attempt count: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, fmt.Errorf("invalid attempt count format: %w", err)
	}
	return count, nil
}

// MarkVerified flags the record as consumed and shortens its TTL to the
// replay-grace window, after which it disappears entirely. The attempt
// counter is dropped in the same transaction.
func (c *OTPCache) MarkVerified(ctx context.Context, identity string, grace time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, otpOpTimeout)
	defer cancel()

	key := otpPrefix + identity
	attemptKey := otpAttemptPrefix + identity

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, "verified", "1")
	pipe.Expire(ctx, key, grace)
	pipe.Del(ctx, attemptKey)

	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to mark OTP verified",
			zap.String("identity", identity),
			zap.Error(err))
		return fmt.Errorf("failed to mark OTP verified: %w", err)
	}

	util.Debug("OTP marked verified",
		zap.String("identity", identity),
		zap.Duration("grace", grace))
	return nil
}

func (c *OTPCache) DeleteOTP(ctx context.Context, identity string) error {
	ctx, cancel := context.WithTimeout(ctx, otpOpTimeout)
	defer cancel()

	if err := c.client.Del(ctx, otpPrefix+identity, otpAttemptPrefix+identity); err != nil {
		util.Error("Failed to delete OTP record",
			zap.String("identity", identity),
			zap.Error(err))
		return fmt.Errorf("failed to delete OTP record: %w", err)
	}

	util.Debug("OTP record deleted", zap.String("identity", identity))
	return nil
}

func (c *OTPCache) GetOTPTTL(ctx context.Context, identity string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, otpOpTimeout)
	defer cancel()

	ttl, err := c.client.TTL(ctx, otpPrefix+identity)
	if err != nil {
		return 0, fmt.Errorf("failed to get OTP TTL: %w", err)
	}
	return ttl, nil
}

func decodeOTPRecord(identity string, fields map[string]string) (*models.OTPRecord, error) {
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OTP record field created_at: %w", err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OTP record field expires_at: %w", err)
	}

	return &models.OTPRecord{
		Identity:  identity,
		CodeHash:  fields["code_hash"],
		CreatedAt: time.Unix(createdAt, 0).UTC(),
		ExpiresAt: time.Unix(expiresAt, 0).UTC(),
		Verified:  fields["verified"] == "1",
	}, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
