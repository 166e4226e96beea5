package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"beautycort-auth/internal/audit"
	"beautycort-auth/internal/config"
	"beautycort-auth/internal/models"
	redisrepo "beautycort-auth/internal/repository/redis"
	"beautycort-auth/internal/repository/scylla"
	"beautycort-auth/internal/util"
)

// LockoutService enforces progressive lockout per (identifier, lockout type).
// The cache is the authoritative enforcement source; ScyllaDB keeps an
// eventually consistent mirror for audit and cold-start reads. Availability
// wins over strictness: when both stores are unreachable, reads fail open.
type LockoutService struct {
	cache    *redisrepo.LockoutCache
	store    scylla.LockoutStore
	events   audit.Sink
	logger   *zap.Logger
	policies map[string]models.LockoutPolicy
	cacheTTL time.Duration

	clock func() time.Time
}

func NewLockoutService(cache *redisrepo.LockoutCache, store scylla.LockoutStore, events audit.Sink, cfg *config.Config, logger *zap.Logger) *LockoutService {
	return &LockoutService{
		cache:    cache,
		store:    store,
		events:   events,
		logger:   logger,
		policies: models.DefaultLockoutPolicies,
		cacheTTL: cfg.Lockout.CacheTTL,
		clock:    time.Now,
	}
}

func (s *LockoutService) policyFor(lockoutType string) (models.LockoutPolicy, error) {
	policy, ok := s.policies[lockoutType]
	if !ok {
		return models.LockoutPolicy{}, fmt.Errorf("%w: unknown lockout type %q", ErrInvalidInput, lockoutType)
	}
	return policy, nil
}

// RecordFailedAttempt counts one failure atomically and reports the resulting
// status. Crossing the policy threshold activates the lock and emits an
// account_locked event. A cache outage fails open: the attempt is not
// counted, and the caller proceeds.
func (s *LockoutService) RecordFailedAttempt(ctx context.Context, identifier, lockoutType string) (*models.LockoutStatus, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}
	policy, err := s.policyFor(lockoutType)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	record, justLocked, err := s.cache.RecordFailedAttempt(ctx, identifier, lockoutType, policy, s.cacheTTL, now)
	if err != nil {
		s.logger.Error("Lockout cache unavailable, failing open on failed attempt",
			util.String("identifier", identifier),
			util.String("lockout_type", lockoutType),
			util.ErrorField(err),
		)
		return &models.LockoutStatus{
			IsLocked:          false,
			Attempts:          0,
			RemainingAttempts: policy.MaxAttempts,
		}, nil
	}

	s.mirrorLockout(ctx, record)

	if justLocked {
		s.logger.Warn("Account locked",
			util.String("identifier", identifier),
			util.String("lockout_type", lockoutType),
			util.Int("attempts", record.Attempts),
		)
		s.events.Emit(&models.SecurityEvent{
			Identifier:  identifier,
			EventType:   models.EventAccountLocked,
			LockoutType: lockoutType,
			Metadata: map[string]string{
				"attempts":     strconv.Itoa(record.Attempts),
				"locked_until": record.LockedUntil.UTC().Format(time.RFC3339),
			},
		})
	}

	return s.statusFromRecord(record, policy, now), nil
}

// IsLocked reports whether the identifier is currently locked for the given
// credential type. An elapsed lock is cleared eagerly so the next failure
// starts a fresh count.
func (s *LockoutService) IsLocked(ctx context.Context, identifier, lockoutType string) (bool, error) {
	status, err := s.GetStatus(ctx, identifier, lockoutType)
	if err != nil {
		return false, err
	}
	return status.IsLocked, nil
}

// GetStatus returns the full lockout picture for the identifier: current
// attempt count, remaining headroom, and the lock deadline when active.
func (s *LockoutService) GetStatus(ctx context.Context, identifier, lockoutType string) (*models.LockoutStatus, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}
	policy, err := s.policyFor(lockoutType)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	clean := &models.LockoutStatus{
		IsLocked:          false,
		Attempts:          0,
		RemainingAttempts: policy.MaxAttempts,
	}

	record, err := s.cache.GetLockout(ctx, identifier, lockoutType)
	if err != nil {
		if errors.Is(err, redisrepo.ErrNoLockoutRecord) {
			return clean, nil
		}
		return s.statusFromStore(ctx, identifier, lockoutType, policy, now)
	}

	if record.LockedUntil != nil && !record.IsLocked(now) {
		// Lock elapsed: drop the stale record so the count restarts
		if _, err := s.cache.ClearExpiredLock(ctx, identifier, lockoutType, now); err != nil {
			s.logger.Warn("Failed to clear expired lock",
				util.String("identifier", identifier),
				util.String("lockout_type", lockoutType),
				util.ErrorField(err),
			)
		}
		s.deleteMirror(ctx, identifier, lockoutType)
		return clean, nil
	}

	return s.statusFromRecord(record, policy, now), nil
}

// statusFromStore is the cold-start path: the cache is unreachable, so
// consult the durable mirror. If that also fails, fail open.
func (s *LockoutService) statusFromStore(ctx context.Context, identifier, lockoutType string, policy models.LockoutPolicy, now time.Time) (*models.LockoutStatus, error) {
	clean := &models.LockoutStatus{
		IsLocked:          false,
		Attempts:          0,
		RemainingAttempts: policy.MaxAttempts,
	}

	if s.store == nil {
		s.logger.Error("Lockout cache unavailable and no durable store configured, failing open",
			util.String("identifier", identifier),
			util.String("lockout_type", lockoutType),
		)
		return clean, nil
	}

	record, err := s.store.GetLockout(ctx, identifier, lockoutType)
	if err != nil {
		if errors.Is(err, scylla.ErrLockoutNotFound) {
			return clean, nil
		}
		s.logger.Error("Lockout cache and durable store both unavailable, failing open",
			util.String("identifier", identifier),
			util.String("lockout_type", lockoutType),
			util.ErrorField(err),
		)
		return clean, nil
	}

	if record.LockedUntil != nil && !record.IsLocked(now) {
		return clean, nil
	}
	return s.statusFromRecord(record, policy, now), nil
}

// ResetAttempts clears accumulated failures, typically after a successful
// authentication. With no explicit types, every tracked type is cleared.
func (s *LockoutService) ResetAttempts(ctx context.Context, identifier string, lockoutTypes ...string) error {
	if identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}
	if len(lockoutTypes) == 0 {
		lockoutTypes = models.AllLockoutTypes
	}
	for _, lockoutType := range lockoutTypes {
		if _, err := s.policyFor(lockoutType); err != nil {
			return err
		}
	}

	if err := s.cache.ResetLockout(ctx, identifier, lockoutTypes...); err != nil {
		s.logger.Error("Failed to reset lockout attempts in cache",
			util.String("identifier", identifier),
			util.ErrorField(err),
		)
	}
	if s.store != nil {
		if err := s.store.DeleteLockout(ctx, identifier, lockoutTypes...); err != nil {
			s.logger.Warn("Failed to reset lockout attempts in durable store",
				util.String("identifier", identifier),
				util.ErrorField(err),
			)
		}
	}

	s.events.Emit(&models.SecurityEvent{
		Identifier: identifier,
		EventType:  models.EventLoginSuccess,
		Metadata: map[string]string{
			"reset_types": strconv.Itoa(len(lockoutTypes)),
		},
	})
	return nil
}

// AdminUnlock lifts every lock for the identifier ahead of schedule and
// records who did it.
func (s *LockoutService) AdminUnlock(ctx context.Context, identifier, adminID string) error {
	if identifier == "" || adminID == "" {
		return fmt.Errorf("%w: identifier and admin_id are required", ErrInvalidInput)
	}

	if err := s.cache.ResetLockout(ctx, identifier, models.AllLockoutTypes...); err != nil {
		s.logger.Error("Failed to clear lockouts in cache during admin unlock",
			util.String("identifier", identifier),
			util.ErrorField(err),
		)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if s.store != nil {
		if err := s.store.DeleteLockout(ctx, identifier, models.AllLockoutTypes...); err != nil {
			s.logger.Warn("Failed to clear lockouts in durable store during admin unlock",
				util.String("identifier", identifier),
				util.ErrorField(err),
			)
		}
	}

	s.logger.Info("Admin unlock",
		util.String("identifier", identifier),
		util.String("admin_id", adminID),
	)
	s.events.Emit(&models.SecurityEvent{
		Identifier: identifier,
		EventType:  models.EventAdminUnlock,
		Metadata: map[string]string{
			"admin_id": adminID,
		},
	})
	return nil
}

func (s *LockoutService) statusFromRecord(record *models.LockoutRecord, policy models.LockoutPolicy, now time.Time) *models.LockoutStatus {
	status := &models.LockoutStatus{
		IsLocked: record.IsLocked(now),
		Attempts: record.Attempts,
	}
	if remaining := policy.MaxAttempts - record.Attempts; remaining > 0 {
		status.RemainingAttempts = remaining
	}
	if status.IsLocked {
		status.LockedUntil = record.LockedUntil
	}
	return status
}

// mirrorLockout pushes the cache copy to ScyllaDB best effort.
func (s *LockoutService) mirrorLockout(ctx context.Context, record *models.LockoutRecord) {
	if s.store == nil {
		return
	}
	if err := s.store.UpsertLockout(ctx, record); err != nil {
		s.logger.Warn("Failed to mirror lockout record",
			util.String("identifier", record.Identifier),
			util.String("lockout_type", record.LockoutType),
			util.ErrorField(err),
		)
	}
}

func (s *LockoutService) deleteMirror(ctx context.Context, identifier, lockoutType string) {
	if s.store == nil {
		return
	}
	if err := s.store.DeleteLockout(ctx, identifier, lockoutType); err != nil {
		s.logger.Warn("Failed to delete mirrored lockout record",
			util.String("identifier", identifier),
			util.String("lockout_type", lockoutType),
			util.ErrorField(err),
		)
	}
}
