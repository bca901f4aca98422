package reaper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	sessiondomain "session-authority/internal/session/domain"
	tokendomain "session-authority/internal/token/domain"
)

type fakeSessions struct {
	mu      sync.Mutex
	expiry  map[string]time.Time
	failure error
	calls   int
}

func (f *fakeSessions) Create(ctx context.Context, s *sessiondomain.Session) error { return nil }
func (f *fakeSessions) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	return nil, nil
}
func (f *fakeSessions) FindLatestValid(ctx context.Context, accountID string) (*sessiondomain.Session, error) {
	return nil, nil
}
func (f *fakeSessions) Invalidate(ctx context.Context, id string) error             { return nil }
func (f *fakeSessions) InvalidateAll(ctx context.Context, accountID string) error   { return nil }
func (f *fakeSessions) Extend(ctx context.Context, id string, at time.Time) error   { return nil }
func (f *fakeSessions) Exists(ctx context.Context, id, accountID string) (bool, error) {
	return false, nil
}

func (f *fakeSessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failure != nil {
		return 0, f.failure
	}
	var n int64
	for id, at := range f.expiry {
		if at.Before(now) {
			delete(f.expiry, id)
			n++
		}
	}
	return n, nil
}

type fakeTokens struct {
	mu      sync.Mutex
	expiry  map[string]time.Time
	failure error
	calls   int
}

func (f *fakeTokens) Replace(ctx context.Context, rec *tokendomain.Record) error { return nil }
func (f *fakeTokens) GetBySession(ctx context.Context, sessionID string) (*tokendomain.Record, error) {
	return nil, nil
}
func (f *fakeTokens) DeleteBySession(ctx context.Context, sessionID string) error { return nil }
func (f *fakeTokens) DeleteByAccount(ctx context.Context, accountID string) error { return nil }

func (f *fakeTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failure != nil {
		return 0, f.failure
	}
	var n int64
	for id, at := range f.expiry {
		if at.Before(now) {
			delete(f.expiry, id)
			n++
		}
	}
	return n, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweep_DeletesOnlyExpiredRows(t *testing.T) {
	now := time.Now().UTC()
	sessions := &fakeSessions{expiry: map[string]time.Time{
		"live":    now.Add(time.Hour),
		"expired": now.Add(-time.Hour),
	}}
	tokens := &fakeTokens{expiry: map[string]time.Time{
		"expired": now.Add(-time.Minute),
	}}

	New(sessions, tokens, time.Hour, discardLogger()).Sweep(context.Background())

	if _, ok := sessions.expiry["live"]; !ok {
		t.Error("live session deleted")
	}
	if _, ok := sessions.expiry["expired"]; ok {
		t.Error("expired session survived")
	}
	if len(tokens.expiry) != 0 {
		t.Error("expired token record survived")
	}
}

func TestSweep_SessionFailureDoesNotSkipTokens(t *testing.T) {
	sessions := &fakeSessions{failure: errors.New("db down")}
	tokens := &fakeTokens{expiry: map[string]time.Time{}}

	New(sessions, tokens, time.Hour, discardLogger()).Sweep(context.Background())

	if tokens.calls != 1 {
		t.Errorf("token sweep calls = %d, want 1", tokens.calls)
	}
}

func TestRun_SweepsImmediatelyThenOnTicksUntilCancel(t *testing.T) {
	sessions := &fakeSessions{expiry: map[string]time.Time{}}
	tokens := &fakeTokens{expiry: map[string]time.Time{}}
	r := New(sessions, tokens, 5*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	sessions.mu.Lock()
	calls := sessions.calls
	sessions.mu.Unlock()
	if calls < 2 {
		t.Errorf("sweep calls = %d, want at least the immediate sweep plus one tick", calls)
	}
}
