package repository

import (
	"context"

	"session-authority/internal/account/domain"
)

// Repository defines persistence for accounts.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
	// UpdatePasswordDigest replaces the stored digest for the account with
	// the given id and bumps updated_at.
	UpdatePasswordDigest(ctx context.Context, id, digest string) error
}
