package models

import "time"

// Blacklist reasons
const (
	BlacklistReasonLogout   = "logout"
	BlacklistReasonSecurity = "security"
	BlacklistReasonExpired  = "expired"
)

// BlacklistEntry records an invalidated session token. Keyed by a one-way
// hash of the token, never the raw token, and retained no longer than the
// token's own remaining lifetime.
type BlacklistEntry struct {
	TokenHash     string    `json:"token_hash"`
	UserID        string    `json:"user_id"`
	Reason        string    `json:"reason"`
	BlacklistedAt time.Time `json:"blacklisted_at"`
}

// RefreshTokenRecord is one member of a token family. Every token issued from
// a chain of rotations shares the family ID of the original issuance, so
// reuse of a rotated-away member is detectable and revokes the whole lineage.
type RefreshTokenRecord struct {
	TokenID     string     `json:"token_id"`
	UserID      string     `json:"user_id"`
	TokenFamily string     `json:"token_family"`
	IsRevoked   bool       `json:"is_revoked"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
}
