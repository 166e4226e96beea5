package scylla

import (
	"context"

	"beautycort-auth/internal/models"
)

// LockoutStore is the durable mirror of lockout state plus the security
// audit trail. It is eventually consistent with the cache and never gates
// the hot path; services fall back to it for cold-start reads only.
type LockoutStore interface {
	UpsertLockout(ctx context.Context, record *models.LockoutRecord) error
	GetLockout(ctx context.Context, identifier, lockoutType string) (*models.LockoutRecord, error)
	DeleteLockout(ctx context.Context, identifier string, lockoutTypes ...string) error
	InsertSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
	HealthCheck(ctx context.Context) error
}
