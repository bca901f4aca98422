package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"session-authority/internal/cache"
)

func TestSendResetCode_StoresAndDeliversCode(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "a@x.com", "Secret1!")
	ctx := context.Background()

	if err := env.svc.SendResetCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("SendResetCode: %v", err)
	}

	stored, err := env.cache.Get(ctx, cache.ResetCodeKey("a@x.com"))
	if err != nil {
		t.Fatalf("stored code: %v", err)
	}
	if len(stored) != 6 {
		t.Errorf("code = %q, want six digits", stored)
	}
	if mailed := env.mailer.lastCode("a@x.com"); mailed != stored {
		t.Errorf("mailed code %q != stored code %q", mailed, stored)
	}

	ttl, ok := env.cache.TTL(cache.ResetCodeKey("a@x.com"))
	if !ok || ttl > 5*time.Minute || ttl < 4*time.Minute {
		t.Errorf("code ttl = %v, want about 5m", ttl)
	}
}

func TestSendResetCode_UnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	if err := env.svc.SendResetCode(context.Background(), "nobody@x.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestVerifyResetCode_MatchAndMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "a@x.com", "Secret1!")
	ctx := context.Background()

	if err := env.svc.SendResetCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("SendResetCode: %v", err)
	}
	code := env.mailer.lastCode("a@x.com")

	if err := env.svc.VerifyResetCode(ctx, "a@x.com", "000000"); !errors.Is(err, ErrInvalidResetCode) {
		t.Errorf("wrong code: err = %v, want ErrInvalidResetCode", err)
	}
	if err := env.svc.VerifyResetCode(ctx, "a@x.com", code); err != nil {
		t.Errorf("correct code: %v", err)
	}
	// Verification does not consume the code.
	if err := env.svc.VerifyResetCode(ctx, "a@x.com", code); err != nil {
		t.Errorf("correct code again: %v", err)
	}
}

func TestVerifyResetCode_MissingOrExpiredCode(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "a@x.com", "Secret1!")
	if err := env.svc.VerifyResetCode(context.Background(), "a@x.com", "123456"); !errors.Is(err, ErrInvalidResetCode) {
		t.Errorf("no code issued: err = %v, want ErrInvalidResetCode", err)
	}
}

func TestResetCode_ThreeMismatchesDestroyCode(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "a@x.com", "Secret1!")
	ctx := context.Background()

	if err := env.svc.SendResetCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("SendResetCode: %v", err)
	}
	code := env.mailer.lastCode("a@x.com")

	for i := 0; i < 3; i++ {
		if err := env.svc.VerifyResetCode(ctx, "a@x.com", "000000"); !errors.Is(err, ErrInvalidResetCode) {
			t.Fatalf("mismatch %d: err = %v", i+1, err)
		}
	}

	// The correct code now fails too: the stored code was destroyed.
	if err := env.svc.VerifyResetCode(ctx, "a@x.com", code); !errors.Is(err, ErrInvalidResetCode) {
		t.Errorf("correct code after destruction: err = %v, want ErrInvalidResetCode", err)
	}
	if _, err := env.cache.Get(ctx, cache.ResetCodeKey("a@x.com")); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("stored code: err = %v, want ErrMiss", err)
	}
}

func TestResetCode_SixthAttemptIsRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "a@x.com", "Secret1!")
	ctx := context.Background()

	if err := env.svc.SendResetCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("SendResetCode: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := env.svc.VerifyResetCode(ctx, "a@x.com", "000000"); !errors.Is(err, ErrInvalidResetCode) {
			t.Fatalf("attempt %d: err = %v, want ErrInvalidResetCode", i+1, err)
		}
	}
	if err := env.svc.VerifyResetCode(ctx, "a@x.com", "000000"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("sixth attempt: err = %v, want ErrRateLimited", err)
	}
	// ResetPassword shares the same budget.
	if err := env.svc.ResetPassword(ctx, "a@x.com", "000000", "NewSecret1!"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("reset during lockout: err = %v, want ErrRateLimited", err)
	}
}

func TestResetPassword_RedeemsCodeAndRevokesSessions(t *testing.T) {
	env := newTestEnv(t)
	acct := env.seedAccount(t, "a@x.com", "Secret1!")
	ctx := context.Background()

	pair, err := env.svc.Login(ctx, "a@x.com", "Secret1!", "ua", "ip", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := env.svc.SendResetCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("SendResetCode: %v", err)
	}
	code := env.mailer.lastCode("a@x.com")

	if err := env.svc.ResetPassword(ctx, "a@x.com", code, "NewSecret1!"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, err := env.svc.Login(ctx, "a@x.com", "Secret1!", "ua", "ip", nil); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password after reset: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := env.svc.Login(ctx, "a@x.com", "NewSecret1!", "ua", "ip", nil); err != nil {
		t.Errorf("new password after reset: %v", err)
	}

	if ok, _ := env.sessions.Exists(ctx, pair.SessionID, acct.ID); ok {
		t.Error("pre-reset session still valid")
	}
	if _, err := env.svc.Reissue(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("pre-reset refresh token: err = %v, want ErrUnauthorized", err)
	}

	// The code is single use: redeeming it again fails.
	if err := env.svc.ResetPassword(ctx, "a@x.com", code, "YetAnother1!"); !errors.Is(err, ErrInvalidResetCode) {
		t.Errorf("reused code: err = %v, want ErrInvalidResetCode", err)
	}
}

func TestResetPassword_RejectsWeakPasswordBeforeChargingAttempt(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "a@x.com", "Secret1!")
	ctx := context.Background()

	if err := env.svc.SendResetCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("SendResetCode: %v", err)
	}
	code := env.mailer.lastCode("a@x.com")

	if err := env.svc.ResetPassword(ctx, "a@x.com", code, "weak"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("weak password: err = %v, want ErrWeakPassword", err)
	}
	// The rejected request must not have consumed the code.
	if err := env.svc.ResetPassword(ctx, "a@x.com", code, "NewSecret1!"); err != nil {
		t.Errorf("reset after weak-password rejection: %v", err)
	}
}

func TestResetPassword_UnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	// No account and no code: the missing code is reported before any account
	// lookup, so the response carries no enumeration signal.
	err := env.svc.ResetPassword(context.Background(), "nobody@x.com", "123456", "NewSecret1!")
	if !errors.Is(err, ErrInvalidResetCode) {
		t.Errorf("err = %v, want ErrInvalidResetCode", err)
	}
}
