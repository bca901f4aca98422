package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"session-authority/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = "id, account_id, user_agent, client_ip, is_valid, expired_at, created_at, updated_at"

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, account_id, user_agent, client_ip, is_valid, expired_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.AccountID, s.UserAgent, s.ClientIP, s.IsValid, s.ExpiredAt, s.CreatedAt, s.UpdatedAt)
	return err
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = $1", id)
	return scanSession(row)
}

// FindLatestValid returns the newest valid, unexpired session for the
// account, or nil if none exists.
func (r *PostgresRepository) FindLatestValid(ctx context.Context, accountID string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+` FROM sessions
		 WHERE account_id = $1 AND is_valid = TRUE AND expired_at > NOW()
		 ORDER BY created_at DESC LIMIT 1`, accountID)
	return scanSession(row)
}

// Invalidate marks the session invalid. A no-op for absent rows.
func (r *PostgresRepository) Invalidate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET is_valid = FALSE, updated_at = $2 WHERE id = $1",
		id, time.Now().UTC())
	return err
}

// InvalidateAll marks every session of the account invalid.
func (r *PostgresRepository) InvalidateAll(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET is_valid = FALSE, updated_at = $2 WHERE account_id = $1 AND is_valid = TRUE",
		accountID, time.Now().UTC())
	return err
}

// Extend moves the session's expiry to newExpiry.
func (r *PostgresRepository) Extend(ctx context.Context, id string, newExpiry time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET expired_at = $2, updated_at = $3 WHERE id = $1",
		id, newExpiry, time.Now().UTC())
	return err
}

// Exists reports whether a valid, unexpired session with the given id belongs
// to the account.
func (r *PostgresRepository) Exists(ctx context.Context, id, accountID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM sessions
		   WHERE id = $1 AND account_id = $2 AND is_valid = TRUE AND expired_at > NOW()
		 )`, id, accountID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// DeleteExpired removes sessions whose expiry is before now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE expired_at < $1", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.AccountID, &s.UserAgent, &s.ClientIP, &s.IsValid, &s.ExpiredAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
