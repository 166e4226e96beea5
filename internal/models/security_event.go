package models

import "time"

// Security event types
const (
	EventAccountLocked      = "account_locked"
	EventLoginSuccess       = "login_success"
	EventAdminUnlock        = "admin_unlock"
	EventTokenReuseDetected = "token_reuse_detected"
	EventUserTokensRevoked  = "user_tokens_revoked"
)

// SecurityEvent is a structured audit record. Events are delivered
// fire-and-forget: publishing never blocks a security decision.
type SecurityEvent struct {
	EventID     string            `db:"event_id" json:"event_id"`
	Identifier  string            `db:"identifier" json:"identifier"`
	EventType   string            `db:"event_type" json:"event_type"`
	LockoutType string            `db:"lockout_type" json:"lockout_type,omitempty"`
	Metadata    map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}
