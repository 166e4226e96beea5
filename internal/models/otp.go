package models

import "time"

// OTPRecord is the single active one-time-password record for an identity.
// Creating a new record for the same identity replaces any prior one.
type OTPRecord struct {
	Identity  string    `json:"identity"`
	CodeHash  string    `json:"code_hash"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Verified  bool      `json:"verified"`
}

func (r *OTPRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
