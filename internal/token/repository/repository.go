package repository

import (
	"context"
	"time"

	"session-authority/internal/token/domain"
)

// Repository defines persistence for refresh-token records, the durable side
// of the rotation check. The cache mirror accelerates it but is never
// authoritative.
type Repository interface {
	// Replace installs rec as the session's current refresh token,
	// superseding any previous record for the same session.
	Replace(ctx context.Context, rec *domain.Record) error
	// GetBySession returns the current record for the session, or nil if none.
	GetBySession(ctx context.Context, sessionID string) (*domain.Record, error)
	// DeleteBySession removes the session's record. A no-op when absent.
	DeleteBySession(ctx context.Context, sessionID string) error
	// DeleteByAccount removes every record belonging to the account.
	DeleteByAccount(ctx context.Context, accountID string) error
	// DeleteExpired removes records expired before now and returns the
	// number deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
