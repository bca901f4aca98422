package repository

import (
	"context"

	"session-authority/internal/profile/domain"
)

// Repository defines persistence for derived profiles.
type Repository interface {
	// GetByAccountID returns the profile for the account, or nil if not found.
	GetByAccountID(ctx context.Context, accountID string) (*domain.Profile, error)
	// Create persists the profile. Creating an already-existing profile is a
	// no-op, so event redelivery stays idempotent down to the row write.
	Create(ctx context.Context, p *domain.Profile) error
}
