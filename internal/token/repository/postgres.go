package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"session-authority/internal/token/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh-token repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Replace installs rec as the session's current refresh token. The upsert is
// a single-row atomic write; under concurrent rotation the last write wins,
// which is the documented contract.
func (r *PostgresRepository) Replace(ctx context.Context, rec *domain.Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (session_id, account_id, token, user_agent, client_ip, expired_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id) DO UPDATE SET
		   token = EXCLUDED.token,
		   user_agent = EXCLUDED.user_agent,
		   client_ip = EXCLUDED.client_ip,
		   expired_at = EXCLUDED.expired_at,
		   created_at = EXCLUDED.created_at`,
		rec.SessionID, rec.AccountID, rec.Token, rec.UserAgent, rec.ClientIP, rec.ExpiredAt, rec.CreatedAt)
	return err
}

// GetBySession returns the current record for the session, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetBySession(ctx context.Context, sessionID string) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT session_id, account_id, token, user_agent, client_ip, expired_at, created_at
		 FROM refresh_tokens WHERE session_id = $1`, sessionID)
	var rec domain.Record
	err := row.Scan(&rec.SessionID, &rec.AccountID, &rec.Token, &rec.UserAgent, &rec.ClientIP, &rec.ExpiredAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// DeleteBySession removes the session's record.
func (r *PostgresRepository) DeleteBySession(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE session_id = $1", sessionID)
	return err
}

// DeleteByAccount removes every record belonging to the account.
func (r *PostgresRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE account_id = $1", accountID)
	return err
}

// DeleteExpired removes records expired before now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expired_at < $1", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
