package repository

import (
	"context"
	"time"

	"session-authority/internal/session/domain"
)

// Repository defines persistence for sessions. Validity is always the pair
// `is_valid AND expired_at > now`; no operation exposes a weaker check.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// FindLatestValid returns the most recently created valid, unexpired
	// session for the account, or nil if none exists.
	FindLatestValid(ctx context.Context, accountID string) (*domain.Session, error)
	// Invalidate marks the session invalid. Invalidating an absent or
	// already-invalid session is not an error.
	Invalidate(ctx context.Context, id string) error
	// InvalidateAll marks every session of the account invalid.
	InvalidateAll(ctx context.Context, accountID string) error
	// Extend moves the session's expiry to newExpiry.
	Extend(ctx context.Context, id string, newExpiry time.Time) error
	// Exists reports whether a valid, unexpired session with the given id
	// belongs to the account.
	Exists(ctx context.Context, id, accountID string) (bool, error)
	// DeleteExpired removes sessions with expired_at before now and returns
	// the number deleted. Safe to run concurrently with live traffic: it
	// never touches currently-valid rows.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
