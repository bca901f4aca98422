package domain

import "time"

// Record mirrors the currently issued refresh token for a session. Exactly
// one row exists per session; rotation overwrites it, so any previously
// issued token for the session stops matching and is thereby revoked.
type Record struct {
	SessionID string
	AccountID string
	Token     string
	UserAgent string
	ClientIP  string
	ExpiredAt time.Time
	CreatedAt time.Time
}
