package models

import "time"

// Lockout types. Each credential type has an independent attempt counter
// and its own policy.
const (
	LockoutTypeCustomer = "customer"
	LockoutTypeProvider = "provider"
	LockoutTypeOTP      = "otp"
	LockoutTypeMFA      = "mfa"
)

// AllLockoutTypes enumerates the credential types cleared by resetAttempts
// without a type and by admin unlock.
var AllLockoutTypes = []string{
	LockoutTypeCustomer,
	LockoutTypeProvider,
	LockoutTypeOTP,
	LockoutTypeMFA,
}

// LockoutPolicy configures brute-force protection for one credential type.
type LockoutPolicy struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	ResetWindow     time.Duration
}

// DefaultLockoutPolicies reflect the relative value of each credential type:
// provider accounts and MFA are higher-value targets, so they lock longer.
var DefaultLockoutPolicies = map[string]LockoutPolicy{
	LockoutTypeCustomer: {MaxAttempts: 5, LockoutDuration: 15 * time.Minute, ResetWindow: 60 * time.Minute},
	LockoutTypeProvider: {MaxAttempts: 5, LockoutDuration: 30 * time.Minute, ResetWindow: 60 * time.Minute},
	LockoutTypeOTP:      {MaxAttempts: 5, LockoutDuration: 30 * time.Minute, ResetWindow: 15 * time.Minute},
	LockoutTypeMFA:      {MaxAttempts: 3, LockoutDuration: 60 * time.Minute, ResetWindow: 30 * time.Minute},
}

// LockoutRecord tracks failed attempts for one (identifier, lockout type)
// pair. The cache copy is authoritative for enforcement; the durable copy is
// an eventually-consistent audit/cold-start mirror.
type LockoutRecord struct {
	Identifier     string     `db:"identifier"`
	LockoutType    string     `db:"lockout_type"`
	Attempts       int        `db:"attempts"`
	FirstAttemptAt time.Time  `db:"first_attempt_at"`
	LastAttemptAt  time.Time  `db:"last_attempt_at"`
	LockedUntil    *time.Time `db:"locked_until"`
}

func (r *LockoutRecord) IsLocked(now time.Time) bool {
	return r.LockedUntil != nil && r.LockedUntil.After(now)
}

// LockoutStatus is the computed state returned to callers.
type LockoutStatus struct {
	IsLocked          bool       `json:"is_locked"`
	Attempts          int        `json:"attempts"`
	RemainingAttempts int        `json:"remaining_attempts"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
}
