package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"beautycort-auth/internal/config"
	"beautycort-auth/internal/hashing"
	"beautycort-auth/internal/models"
	redisrepo "beautycort-auth/internal/repository/redis"
	"beautycort-auth/internal/util"
)

// OTPService manages the one-time-password lifecycle: uniform random code
// generation, bounded verification, and replay protection. All state lives
// in the shared cache, so any replica can serve any identity.
type OTPService struct {
	cache  *redisrepo.OTPCache
	hasher *hashing.Hasher
	logger *zap.Logger

	length      int
	expiry      time.Duration
	maxAttempts int
	gracePeriod time.Duration

	clock func() time.Time
}

// OTPGeneration is returned to the caller, which owns delivery.
type OTPGeneration struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewOTPService(cache *redisrepo.OTPCache, hasher *hashing.Hasher, cfg *config.Config, logger *zap.Logger) *OTPService {
	return &OTPService{
		cache:       cache,
		hasher:      hasher,
		logger:      logger,
		length:      cfg.OTP.Length,
		expiry:      cfg.OTP.Expiry,
		maxAttempts: cfg.OTP.MaxAttempts,
		gracePeriod: cfg.OTP.GracePeriod,
		clock:       time.Now,
	}
}

// Generate issues a fresh code for the identity, invalidating any prior
// unverified code. The raw code is returned once and stored only as a hash.
func (s *OTPService) Generate(ctx context.Context, identity string) (*OTPGeneration, error) {
	phone, err := util.ValidatePhone(identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	code, err := generateCode(s.length)
	if err != nil {
		return nil, fmt.Errorf("failed to generate OTP code: %w", err)
	}

	codeHash, err := s.hasher.HashOTP(code)
	if err != nil {
		return nil, fmt.Errorf("failed to hash OTP code: %w", err)
	}

	now := s.clock().UTC()
	record := &models.OTPRecord{
		Identity:  phone,
		CodeHash:  codeHash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.expiry),
	}

	if err := s.cache.StoreOTP(ctx, record, s.expiry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.logger.Info("OTP generated",
		util.String("identity", phone),
		util.Duration("expiry", s.expiry),
	)

	return &OTPGeneration{Code: code, ExpiresAt: record.ExpiresAt}, nil
}

// Verify checks a submitted code against the active record. Every mismatch
// returns the same error shape regardless of cause, and the comparison is
// constant time, so responses reveal nothing beyond the remaining-attempts
// count.
func (s *OTPService) Verify(ctx context.Context, identity, submittedCode string) error {
	phone, err := util.ValidatePhone(identity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	record, err := s.cache.GetOTP(ctx, phone)
	if err != nil {
		if errors.Is(err, redisrepo.ErrNoActiveOTP) {
			return ErrOTPNotFound
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if record.Verified {
		return ErrOTPAlreadyUsed
	}

	now := s.clock().UTC()
	if record.IsExpired(now) {
		_ = s.cache.DeleteOTP(ctx, phone)
		return ErrOTPExpired
	}

	current, err := s.cache.GetAttemptCount(ctx, phone)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if current >= s.maxAttempts {
		_ = s.cache.DeleteOTP(ctx, phone)
		return ErrOTPAttemptsExhausted
	}

	attempts, err := s.cache.IncrementAttempts(ctx, phone, s.expiry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if attempts > s.maxAttempts {
		// Lost the race against concurrent submissions for the last slot
		_ = s.cache.DeleteOTP(ctx, phone)
		return ErrOTPAttemptsExhausted
	}

	match, err := s.hasher.VerifyOTP(submittedCode, record.CodeHash)
	if err != nil {
		return fmt.Errorf("failed to verify OTP code: %w", err)
	}

	if !match {
		if attempts >= s.maxAttempts {
			_ = s.cache.DeleteOTP(ctx, phone)
			s.logger.Warn("OTP attempts exhausted",
				util.String("identity", phone),
				util.Int("attempts", attempts),
			)
			return ErrOTPAttemptsExhausted
		}
		return &InvalidCodeError{AttemptsRemaining: s.maxAttempts - attempts}
	}

	if err := s.cache.MarkVerified(ctx, phone, s.gracePeriod); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.logger.Info("OTP verified",
		util.String("identity", phone),
		util.Int("attempts", attempts),
	)
	return nil
}

// HasValid reports whether an unconsumed, unexpired code exists.
func (s *OTPService) HasValid(ctx context.Context, identity string) (bool, error) {
	phone, err := util.ValidatePhone(identity)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	record, err := s.cache.GetOTP(ctx, phone)
	if err != nil {
		if errors.Is(err, redisrepo.ErrNoActiveOTP) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return !record.Verified && !record.IsExpired(s.clock().UTC()), nil
}

// RemainingTime returns how long the active code stays valid.
func (s *OTPService) RemainingTime(ctx context.Context, identity string) (time.Duration, error) {
	phone, err := util.ValidatePhone(identity)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	ttl, err := s.cache.GetOTPTTL(ctx, phone)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if ttl <= 0 {
		return 0, ErrOTPNotFound
	}
	return ttl, nil
}

// Clear discards any active code for the identity.
func (s *OTPService) Clear(ctx context.Context, identity string) error {
	phone, err := util.ValidatePhone(identity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := s.cache.DeleteOTP(ctx, phone); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// generateCode draws uniformly from [0, 10^length), so every code is equally
// likely and there is no modulo bias.
func generateCode(length int) (string, error) {
	bound := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)

	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", length, n), nil
}
