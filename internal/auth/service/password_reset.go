package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"session-authority/internal/cache"
	"session-authority/internal/security"
)

const (
	// resetCodeTTL is how long an issued reset code stays redeemable.
	resetCodeTTL = 5 * time.Minute
	// resetFailTTL is the sliding window over which failed attempts accumulate.
	resetFailTTL = 5 * time.Minute
	// resetAttemptLimit is the number of verification attempts allowed per window.
	resetAttemptLimit = 5
	// resetMismatchLimit is the mismatch count at which the stored code is
	// destroyed, forcing the caller to request a fresh one.
	resetMismatchLimit = 3
)

// SendResetCode generates a six-digit code for the account, stores it with a
// five-minute TTL, and hands it to the mailer. The cache write is
// authoritative here, not a mirror: if it fails the code was never issued.
func (s *AuthService) SendResetCode(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	email = strings.TrimSpace(strings.ToLower(email))
	acct, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("send reset code: lookup account: %w", err)
	}
	if acct == nil {
		return ErrNotFound
	}

	code, err := security.GenerateResetCode()
	if err != nil {
		return fmt.Errorf("send reset code: generate: %w", err)
	}
	if err := s.cache.Put(ctx, cache.ResetCodeKey(email), code, resetCodeTTL); err != nil {
		return fmt.Errorf("send reset code: store: %w", err)
	}
	if err := s.mailer.SendResetCode(ctx, email, code); err != nil {
		return fmt.Errorf("send reset code: deliver: %w", err)
	}
	s.logger.Info("password reset code issued", "account_id", acct.ID)
	return nil
}

// VerifyResetCode checks a code without consuming it, so a client can
// validate user input before collecting the new password. A successful check
// clears the failure counter.
func (s *AuthService) VerifyResetCode(ctx context.Context, email, code string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	email = strings.TrimSpace(strings.ToLower(email))
	return s.checkResetCode(ctx, email, code)
}

// ResetPassword redeems a valid code: it writes the new password digest,
// destroys the code and failure counter, and invalidates every session of the
// account so stolen tokens die with the old password.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	email = strings.TrimSpace(strings.ToLower(email))
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if err := s.checkResetCode(ctx, email, code); err != nil {
		return err
	}

	acct, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("reset password: lookup account: %w", err)
	}
	if acct == nil {
		return ErrNotFound
	}

	digest, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return fmt.Errorf("reset password: hash: %w", err)
	}
	if err := s.accounts.UpdatePasswordDigest(ctx, acct.ID, digest); err != nil {
		return fmt.Errorf("reset password: update digest: %w", err)
	}

	if err := s.cache.Delete(ctx, cache.ResetCodeKey(email), cache.ResetFailKey(email)); err != nil {
		s.logger.Error("reset password: clear code state", "account_id", acct.ID, "error", err)
	}

	if err := s.sessions.InvalidateAll(ctx, acct.ID); err != nil {
		return fmt.Errorf("reset password: invalidate sessions: %w", err)
	}
	if err := s.tokens.DeleteByAccount(ctx, acct.ID); err != nil {
		return fmt.Errorf("reset password: delete refresh records: %w", err)
	}
	if err := s.cache.Delete(ctx, cache.RefreshTokenKey(acct.ID)); err != nil {
		s.logger.Error("reset password: delete cache mirror", "account_id", acct.ID, "error", err)
	}

	s.logger.Info("password reset completed", "account_id", acct.ID)
	return nil
}

// checkResetCode charges one attempt against the window, then compares the
// submitted code to the stored one. At resetMismatchLimit mismatches the
// stored code is destroyed; past resetAttemptLimit attempts every call fails
// with ErrRateLimited until the window lapses. A match clears the counter.
func (s *AuthService) checkResetCode(ctx context.Context, email, code string) error {
	failKey := cache.ResetFailKey(email)
	attempts, err := s.cache.Incr(ctx, failKey, resetFailTTL)
	if err != nil {
		return fmt.Errorf("reset code: count attempt: %w", err)
	}
	if attempts > resetAttemptLimit {
		return ErrRateLimited
	}

	stored, err := s.cache.Get(ctx, cache.ResetCodeKey(email))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return ErrInvalidResetCode
		}
		return fmt.Errorf("reset code: load: %w", err)
	}
	if stored != code {
		if attempts >= resetMismatchLimit {
			if err := s.cache.Delete(ctx, cache.ResetCodeKey(email)); err != nil {
				return fmt.Errorf("reset code: destroy after mismatches: %w", err)
			}
		}
		return ErrInvalidResetCode
	}

	if err := s.cache.Delete(ctx, failKey); err != nil {
		s.logger.Error("reset code: clear failure counter", "email", email, "error", err)
	}
	return nil
}
