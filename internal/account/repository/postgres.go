package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"session-authority/internal/account/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an account repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = "id, email, nickname, password_digest, roles, created_at, updated_at"

// GetByID returns the account for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", id)
	return scanAccount(row)
}

// GetByEmail returns the account for email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE email = $1", email)
	return scanAccount(row)
}

// Create persists the account. The account must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	digest := sql.NullString{String: a.PasswordDigest, Valid: a.PasswordDigest != ""}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, nickname, password_digest, roles, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Email, a.Nickname, digest, strings.Join(a.Roles, ","), a.CreatedAt, a.UpdatedAt)
	return err
}

// UpdatePasswordDigest replaces the stored digest for the account with the given id.
func (r *PostgresRepository) UpdatePasswordDigest(ctx context.Context, id, digest string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE accounts SET password_digest = $2, updated_at = $3 WHERE id = $1",
		id, digest, time.Now().UTC())
	return err
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var (
		a      domain.Account
		digest sql.NullString
		roles  string
	)
	err := row.Scan(&a.ID, &a.Email, &a.Nickname, &digest, &roles, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if digest.Valid {
		a.PasswordDigest = digest.String
	}
	if roles != "" {
		a.Roles = strings.Split(roles, ",")
	}
	return &a, nil
}
