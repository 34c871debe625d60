package models

import "time"

// User represents a user in the multi-user system.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose in JSON
	DisplayName  string    `json:"display_name"`
	Language     string    `json:"language"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastLoginAt  time.Time `json:"last_login_at,omitempty"`
}

// Inbox cache limit bounds. Values outside the range are clamped, and a
// zero value falls back to the default.
const (
	MinCacheLimit     = 5
	MaxCacheLimit     = 100
	DefaultCacheLimit = 15
)

// InboxSettings are the per-user sync preferences.
type InboxSettings struct {
	UserID          string `json:"user_id"`
	InboxCacheLimit int    `json:"inboxCacheLimit"`
}

// ClampCacheLimit normalizes a requested cache limit into the allowed
// range; zero or negative values get the default.
func ClampCacheLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultCacheLimit
	case n < MinCacheLimit:
		return MinCacheLimit
	case n > MaxCacheLimit:
		return MaxCacheLimit
	default:
		return n
	}
}

// DefaultInboxSettings returns the settings a user starts with.
func DefaultInboxSettings(userID string) InboxSettings {
	return InboxSettings{UserID: userID, InboxCacheLimit: DefaultCacheLimit}
}
