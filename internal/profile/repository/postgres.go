package repository

import (
	"context"
	"database/sql"
	"errors"

	"session-authority/internal/profile/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a profile repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByAccountID returns the profile for the account, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByAccountID(ctx context.Context, accountID string) (*domain.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT account_id, email, nickname, created_at FROM profiles WHERE account_id = $1", accountID)
	var p domain.Profile
	err := row.Scan(&p.AccountID, &p.Email, &p.Nickname, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Create persists the profile. ON CONFLICT DO NOTHING keeps redelivered
// events from failing on the unique key.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (account_id, email, nickname, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (account_id) DO NOTHING`,
		p.AccountID, p.Email, p.Nickname, p.CreatedAt)
	return err
}
