package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"beautycort-auth/internal/models"
	"beautycort-auth/internal/util"
)

// ErrLockoutNotFound is returned when no durable lockout row exists.
var ErrLockoutNotFound = errors.New("lockout record not found")

type LockoutRepository struct {
	client *ScyllaClient
}

func NewLockoutRepository(client *ScyllaClient, logger *zap.Logger) *LockoutRepository {
	return &LockoutRepository{
		client: client,
	}
}

// UpsertLockout mirrors the cache copy of a lockout record. Last write wins;
// the row is an audit/cold-start copy, not the enforcement source.
func (r *LockoutRepository) UpsertLockout(ctx context.Context, record *models.LockoutRecord) error {
	var lockedUntil time.Time
	if record.LockedUntil != nil {
		lockedUntil = record.LockedUntil.UTC()
	}

	query := r.client.Prepared.UpsertLockout.Bind(
		record.Identifier, record.LockoutType, record.Attempts,
		record.FirstAttemptAt.UTC(), record.LastAttemptAt.UTC(), lockedUntil,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to upsert lockout record",
			zap.String("identifier", record.Identifier),
			zap.String("lockout_type", record.LockoutType),
			zap.Error(err))
		return fmt.Errorf("failed to upsert lockout record: %w", err)
	}

	util.Debug("Lockout record upserted",
		zap.String("identifier", record.Identifier),
		zap.String("lockout_type", record.LockoutType),
		zap.Int("attempts", record.Attempts))
	return nil
}

func (r *LockoutRepository) GetLockout(ctx context.Context, identifier, lockoutType string) (*models.LockoutRecord, error) {
	record := &models.LockoutRecord{}
	var lockedUntil time.Time

	query := r.client.Prepared.GetLockout.Bind(identifier, lockoutType).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&record.Identifier, &record.LockoutType, &record.Attempts,
		&record.FirstAttemptAt, &record.LastAttemptAt, &lockedUntil)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrLockoutNotFound
		}
		util.Error("Failed to get lockout record",
			zap.String("identifier", identifier),
			zap.String("lockout_type", lockoutType),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get lockout record: %w", err)
	}

	if !lockedUntil.IsZero() {
		lockedUntilUTC := lockedUntil.UTC()
		record.LockedUntil = &lockedUntilUTC
	}

	return record, nil
}

func (r *LockoutRepository) DeleteLockout(ctx context.Context, identifier string, lockoutTypes ...string) error {
	for _, lockoutType := range lockoutTypes {
		query := r.client.Prepared.DeleteLockout.Bind(identifier, lockoutType).WithContext(ctx)
		if err := r.client.ExecuteWithRetry(query, 2); err != nil {
			util.Error("Failed to delete lockout record",
				zap.String("identifier", identifier),
				zap.String("lockout_type", lockoutType),
				zap.Error(err))
			return fmt.Errorf("failed to delete lockout record: %w", err)
		}
	}

	util.Debug("Lockout records deleted",
		zap.String("identifier", identifier),
		zap.Int("types", len(lockoutTypes)))
	return nil
}

// InsertSecurityEvent appends to the audit trail.
func (r *LockoutRepository) InsertSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := r.client.Prepared.InsertSecurityEvent.Bind(
		event.Identifier, event.EventID, event.EventType,
		event.LockoutType, event.Metadata, event.CreatedAt,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to insert security event",
			zap.String("identifier", event.Identifier),
			zap.String("event_type", event.EventType),
			zap.Error(err))
		return fmt.Errorf("failed to insert security event: %w", err)
	}

	util.Debug("Security event inserted",
		zap.String("identifier", event.Identifier),
		zap.String("event_type", event.EventType))
	return nil
}

func (r *LockoutRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}
