package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	accountdomain "session-authority/internal/account/domain"
	"session-authority/internal/cache"
	"session-authority/internal/events"
	"session-authority/internal/security"
	sessiondomain "session-authority/internal/session/domain"
	tokendomain "session-authority/internal/token/domain"
)

type memAccounts struct {
	mu   sync.Mutex
	byID map[string]*accountdomain.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: make(map[string]*accountdomain.Account)}
}

func (r *memAccounts) GetByID(ctx context.Context, id string) (*accountdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *memAccounts) GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byID {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memAccounts) Create(ctx context.Context, a *accountdomain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Email == a.Email {
			return fmt.Errorf("duplicate email %s", a.Email)
		}
	}
	cp := *a
	r.byID[a.ID] = &cp
	return nil
}

func (r *memAccounts) UpdatePasswordDigest(ctx context.Context, id, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("account %s not found", id)
	}
	a.PasswordDigest = digest
	return nil
}

type memSessions struct {
	mu sync.Mutex
	m  map[string]*sessiondomain.Session
}

func newMemSessions() *memSessions {
	return &memSessions{m: make(map[string]*sessiondomain.Session)}
}

func (r *memSessions) Create(ctx context.Context, s *sessiondomain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.m[s.ID] = &cp
	return nil
}

func (r *memSessions) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memSessions) FindLatestValid(ctx context.Context, accountID string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *sessiondomain.Session
	now := time.Now().UTC()
	for _, s := range r.m {
		if s.AccountID != accountID || !s.Active(now) {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memSessions) Invalidate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.IsValid = false
	}
	return nil
}

func (r *memSessions) InvalidateAll(ctx context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		if s.AccountID == accountID {
			s.IsValid = false
		}
	}
	return nil
}

func (r *memSessions) Extend(ctx context.Context, id string, newExpiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.ExpiredAt = newExpiry
	}
	return nil
}

func (r *memSessions) Exists(ctx context.Context, id, accountID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok || s.AccountID != accountID {
		return false, nil
	}
	return s.Active(time.Now().UTC()), nil
}

func (r *memSessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.m {
		if s.ExpiredAt.Before(now) {
			delete(r.m, id)
			n++
		}
	}
	return n, nil
}

// setExpiry moves a session's expiry directly, bypassing Extend.
func (r *memSessions) setExpiry(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.ExpiredAt = at
	}
}

type memTokens struct {
	mu sync.Mutex
	m  map[string]*tokendomain.Record
}

func newMemTokens() *memTokens {
	return &memTokens{m: make(map[string]*tokendomain.Record)}
}

func (r *memTokens) Replace(ctx context.Context, rec *tokendomain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.m[rec.SessionID] = &cp
	return nil
}

func (r *memTokens) GetBySession(ctx context.Context, sessionID string) (*tokendomain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.m[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *memTokens) DeleteBySession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, sessionID)
	return nil
}

func (r *memTokens) DeleteByAccount(ctx context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.m {
		if rec.AccountID == accountID {
			delete(r.m, id)
		}
	}
	return nil
}

func (r *memTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rec := range r.m {
		if rec.ExpiredAt.Before(now) {
			delete(r.m, id)
			n++
		}
	}
	return n, nil
}

type stubBus struct {
	mu        sync.Mutex
	published []events.UserCreated
	failFirst int
	calls     int
}

func (b *stubBus) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.failFirst {
		return errors.New("broker unavailable")
	}
	if evt, ok := payload.(events.UserCreated); ok {
		b.published = append(b.published, evt)
	}
	return nil
}

type stubMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func newStubMailer() *stubMailer {
	return &stubMailer{codes: make(map[string]string)}
}

func (m *stubMailer) SendResetCode(ctx context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[email] = code
	return nil
}

func (m *stubMailer) lastCode(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

type testEnv struct {
	svc      *AuthService
	accounts *memAccounts
	sessions *memSessions
	tokens   *memTokens
	cache    *cache.Memory
	bus      *stubBus
	mailer   *stubMailer
	codec    *security.TokenCodec
	hasher   *security.Hasher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	codec, err := security.NewTokenCodec("access-secret", "refresh-secret", 15*time.Minute, 168*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	env := &testEnv{
		accounts: newMemAccounts(),
		sessions: newMemSessions(),
		tokens:   newMemTokens(),
		cache:    cache.NewMemory(),
		bus:      &stubBus{},
		mailer:   newStubMailer(),
		codec:    codec,
		hasher:   security.NewHasher(bcrypt.MinCost),
	}
	env.svc = NewAuthService(
		env.accounts, env.sessions, env.tokens, env.cache,
		env.codec, env.hasher, env.bus, env.mailer,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		168*time.Hour, 24*time.Hour,
	)
	return env
}

// seedAccount creates an account directly in the fake store and returns it.
func (env *testEnv) seedAccount(t *testing.T, email, password string) *accountdomain.Account {
	t.Helper()
	digest, err := env.hasher.Hash([]byte(password))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	now := time.Now().UTC()
	acct := &accountdomain.Account{
		ID:             "acct-" + email,
		Email:          email,
		Nickname:       "tester",
		PasswordDigest: digest,
		Roles:          []string{accountdomain.RoleUser},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := env.accounts.Create(context.Background(), acct); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return acct
}
