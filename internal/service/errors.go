package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrOTPNotFound          = errors.New("no active OTP found")
	ErrOTPExpired           = errors.New("OTP has expired")
	ErrOTPAlreadyUsed       = errors.New("OTP already used")
	ErrOTPAttemptsExhausted = errors.New("OTP attempts exhausted")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrTokenReuseDetected   = errors.New("refresh token reuse detected")

	// ErrStorageUnavailable is internal: callers convert it to a fail-open
	// default or a generic unavailability response, never surface it raw.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// InvalidCodeError is the single error shape for every OTP mismatch. Only
// the remaining-attempts hint varies; the cause of the mismatch never does.
type InvalidCodeError struct {
	AttemptsRemaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid OTP code (%d attempts remaining)", e.AttemptsRemaining)
}

// LockedError reports an active lockout with its retry-after hint.
type LockedError struct {
	LockoutType string
	LockedUntil time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked (%s) until %s", e.LockoutType, e.LockedUntil.Format(time.RFC3339))
}
