// Package service implements the token authority: login, registration, token
// reissue (rotation), logout, and password reset, orchestrating the credential
// verifier, token codec, session store, refresh cache, and event bus.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	accountdomain "session-authority/internal/account/domain"
	accountrepo "session-authority/internal/account/repository"
	"session-authority/internal/cache"
	"session-authority/internal/events"
	"session-authority/internal/mail"
	"session-authority/internal/security"
	sessiondomain "session-authority/internal/session/domain"
	sessionrepo "session-authority/internal/session/repository"
	tokendomain "session-authority/internal/token/domain"
	tokenrepo "session-authority/internal/token/repository"
)

// Sentinel errors for the token authority; the HTTP layer maps them to
// status codes. Anything else that escapes is an infrastructure failure and
// surfaces as a 500.
var (
	// ErrInvalidCredentials covers both unknown email and password mismatch,
	// so responses carry no account-enumeration signal.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized covers expired, invalid, or superseded tokens and
	// invalid or expired sessions.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned when the referenced account does not exist.
	ErrNotFound = errors.New("account not found")
	// ErrEmailTaken is returned when registering an email that already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrRateLimited is returned when the reset-code attempt budget is exhausted.
	ErrRateLimited = errors.New("too many reset attempts")
	// ErrInvalidResetCode is returned on a reset-code mismatch or expiry.
	ErrInvalidResetCode = errors.New("invalid or expired reset code")
	// ErrWeakPassword is returned when a new password fails the strength rules.
	ErrWeakPassword = errors.New("password too weak")
	// ErrInvalidEmail is returned when an email address is malformed.
	ErrInvalidEmail = errors.New("invalid email address")
)

// opTimeout bounds each workflow's store, cache, and broker round-trips. A
// timed-out call surfaces as an infrastructure error, never as "token invalid".
const opTimeout = 5 * time.Second

// publishAttempts bounds retries of the user.created publish during Register.
const publishAttempts = 3

// TokenPair is the client-facing result of login, registration, and reissue.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
}

// AuthService is the token authority. All dependencies are long-lived shared
// resources constructed once at startup and passed in by reference.
type AuthService struct {
	accounts accountrepo.Repository
	sessions sessionrepo.Repository
	tokens   tokenrepo.Repository
	cache    cache.Store
	codec    *security.TokenCodec
	hasher   *security.Hasher
	bus      events.Publisher
	mailer   mail.Mailer
	logger   *slog.Logger

	sessionTTL  time.Duration
	renewWithin time.Duration
	nowF        func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies.
// sessionTTL is the lifetime granted at login and on sliding renewal;
// renewWithin is the pre-expiry window in which a reissue extends the session.
func NewAuthService(
	accounts accountrepo.Repository,
	sessions sessionrepo.Repository,
	tokens tokenrepo.Repository,
	cacheStore cache.Store,
	codec *security.TokenCodec,
	hasher *security.Hasher,
	bus events.Publisher,
	mailer mail.Mailer,
	logger *slog.Logger,
	sessionTTL, renewWithin time.Duration,
) *AuthService {
	return &AuthService{
		accounts:    accounts,
		sessions:    sessions,
		tokens:      tokens,
		cache:       cacheStore,
		codec:       codec,
		hasher:      hasher,
		bus:         bus,
		mailer:      mailer,
		logger:      logger,
		sessionTTL:  sessionTTL,
		renewWithin: renewWithin,
		nowF:        func() time.Time { return time.Now().UTC() },
	}
}

// Register creates an account, publishes user.created, and logs the new
// account in, returning its first token pair.
func (s *AuthService) Register(ctx context.Context, email, password, nickname, userAgent, clientIP string, device *security.DeviceMeta) (*TokenPair, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("register: lookup account: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	digest, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, fmt.Errorf("register: hash password: %w", err)
	}

	now := s.nowF()
	acct := &accountdomain.Account{
		ID:             uuid.New().String(),
		Email:          email,
		Nickname:       strings.TrimSpace(nickname),
		PasswordDigest: digest,
		Roles:          []string{accountdomain.RoleUser},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := acct.Validate(); err != nil {
		return nil, err
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		return nil, fmt.Errorf("register: create account: %w", err)
	}

	if err := s.publishUserCreated(ctx, acct); err != nil {
		// The account row is durable at this point; surfacing the failure is
		// preferred over silently dropping the event.
		return nil, err
	}

	sess, err := s.createSession(ctx, acct.ID, userAgent, clientIP)
	if err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, acct, sess, device)
}

// Login authenticates email and password and opens a new session. In the
// single-session policy every prior session of the account is invalidated
// first, so concurrent logins never coexist.
func (s *AuthService) Login(ctx context.Context, email, password, userAgent, clientIP string, device *security.DeviceMeta) (*TokenPair, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	email = strings.TrimSpace(strings.ToLower(email))
	acct, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("login: lookup account: %w", err)
	}
	if acct == nil || !s.hasher.Verify([]byte(password), acct.PasswordDigest) {
		return nil, ErrInvalidCredentials
	}

	if err := s.sessions.InvalidateAll(ctx, acct.ID); err != nil {
		return nil, fmt.Errorf("login: invalidate prior sessions: %w", err)
	}
	if err := s.tokens.DeleteByAccount(ctx, acct.ID); err != nil {
		return nil, fmt.Errorf("login: delete prior refresh records: %w", err)
	}

	sess, err := s.createSession(ctx, acct.ID, userAgent, clientIP)
	if err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, acct, sess, device)
}

// Reissue rotates a refresh token: it validates the presented token, confirms
// the account and session, confirms the token is the session's current one
// (cache fast path, durable fallback), and mints a new pair bound to the same
// session. The old token's record is superseded, so replaying it fails even
// while its signature and expiry still verify.
func (s *AuthService) Reissue(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: refresh token expired", ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	}

	acct, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		return nil, fmt.Errorf("reissue: lookup account: %w", err)
	}
	if acct == nil {
		return nil, fmt.Errorf("%w: account no longer exists", ErrUnauthorized)
	}

	ok, err := s.sessions.Exists(ctx, claims.SessionID, claims.AccountID)
	if err != nil {
		return nil, fmt.Errorf("reissue: check session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: session invalid or expired", ErrUnauthorized)
	}

	current, err := s.currentRefreshToken(ctx, claims.AccountID, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if current != refreshToken {
		return nil, fmt.Errorf("%w: refresh token superseded", ErrUnauthorized)
	}

	sess, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("reissue: load session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: session invalid or expired", ErrUnauthorized)
	}

	now := s.nowF()
	if sess.ExpiredAt.Sub(now) <= s.renewWithin {
		newExpiry := now.Add(s.sessionTTL)
		if err := s.sessions.Extend(ctx, sess.ID, newExpiry); err != nil {
			return nil, fmt.Errorf("reissue: extend session: %w", err)
		}
		sess.ExpiredAt = newExpiry
	}

	return s.issueTokens(ctx, acct, sess, claims.Device)
}

// Logout invalidates the session and removes its refresh record and cache
// mirror. Logging out an already-invalid session is a no-op, not an error.
func (s *AuthService) Logout(ctx context.Context, accountID, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.sessions.Invalidate(ctx, sessionID); err != nil {
		return fmt.Errorf("logout: invalidate session: %w", err)
	}
	if err := s.tokens.DeleteBySession(ctx, sessionID); err != nil {
		return fmt.Errorf("logout: delete refresh record: %w", err)
	}
	if err := s.cache.Delete(ctx, cache.RefreshTokenKey(accountID)); err != nil {
		// Mirror maintenance is best effort; the session row already blocks reissue.
		s.logger.Error("logout: delete cache mirror", "account_id", accountID, "error", err)
	}
	return nil
}

// LogoutCurrent invalidates the account's current session, resolved as its
// most recent valid one. Under the single-session policy there is at most one.
// An account with no live session is a no-op.
func (s *AuthService) LogoutCurrent(ctx context.Context, accountID string) error {
	sess, err := s.sessions.FindLatestValid(ctx, accountID)
	if err != nil {
		return fmt.Errorf("logout: find current session: %w", err)
	}
	if sess == nil {
		return nil
	}
	return s.Logout(ctx, accountID, sess.ID)
}

// cacheEntry is the cache projection of the current refresh-token record,
// structurally identical to the durable row. Timestamps are Unix seconds.
type cacheEntry struct {
	Token     string `json:"token"`
	AccountID string `json:"account_id"`
	SessionID string `json:"session_id"`
	UserAgent string `json:"user_agent"`
	ClientIP  string `json:"client_ip"`
	ExpiredAt int64  `json:"expired_at"`
}

// currentRefreshToken returns the session's currently valid refresh token.
// Cache hits are the fast path; any miss or cache failure falls back to the
// durable record, which stays authoritative. Returns "" when no current token
// exists.
func (s *AuthService) currentRefreshToken(ctx context.Context, accountID, sessionID string) (string, error) {
	val, err := s.cache.Get(ctx, cache.RefreshTokenKey(accountID))
	if err == nil {
		var entry cacheEntry
		if jsonErr := json.Unmarshal([]byte(val), &entry); jsonErr == nil && entry.SessionID == sessionID {
			return entry.Token, nil
		}
		// Corrupt or mismatched entry: treat as a miss.
	} else if !errors.Is(err, cache.ErrMiss) {
		s.logger.Error("reissue: cache read failed, falling back to durable record", "account_id", accountID, "error", err)
	}

	rec, err := s.tokens.GetBySession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("reissue: load refresh record: %w", err)
	}
	if rec == nil {
		return "", nil
	}
	return rec.Token, nil
}

func (s *AuthService) createSession(ctx context.Context, accountID, userAgent, clientIP string) (*sessiondomain.Session, error) {
	now := s.nowF()
	sess := &sessiondomain.Session{
		ID:        uuid.New().String(),
		AccountID: accountID,
		UserAgent: userAgent,
		ClientIP:  clientIP,
		IsValid:   true,
		ExpiredAt: now.Add(s.sessionTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// issueTokens mints a fresh access+refresh pair bound to the session,
// replaces the durable refresh record, and refreshes the cache mirror. The
// durable write must succeed; the mirror write is best effort.
func (s *AuthService) issueTokens(ctx context.Context, acct *accountdomain.Account, sess *sessiondomain.Session, device *security.DeviceMeta) (*TokenPair, error) {
	access, accessExp, err := s.codec.SignAccess(acct.ID, acct.Roles)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, refreshExp, err := s.codec.SignRefresh(acct.ID, sess.ID, sess.UserAgent, sess.ClientIP, sess.CreatedAt, device)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	now := s.nowF()
	rec := &tokendomain.Record{
		SessionID: sess.ID,
		AccountID: acct.ID,
		Token:     refresh,
		UserAgent: sess.UserAgent,
		ClientIP:  sess.ClientIP,
		ExpiredAt: refreshExp,
		CreatedAt: now,
	}
	if err := s.tokens.Replace(ctx, rec); err != nil {
		return nil, fmt.Errorf("replace refresh record: %w", err)
	}
	s.mirrorRefreshRecord(ctx, rec)

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		SessionID:        sess.ID,
	}, nil
}

// mirrorRefreshRecord writes the cache projection of rec. Failures are logged
// and do not fail the surrounding operation; the durable record remains
// authoritative and every read path tolerates a missing mirror.
func (s *AuthService) mirrorRefreshRecord(ctx context.Context, rec *tokendomain.Record) {
	entry := cacheEntry{
		Token:     rec.Token,
		AccountID: rec.AccountID,
		SessionID: rec.SessionID,
		UserAgent: rec.UserAgent,
		ClientIP:  rec.ClientIP,
		ExpiredAt: rec.ExpiredAt.Unix(),
	}
	body, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("encode cache mirror", "account_id", rec.AccountID, "error", err)
		return
	}
	ttl := cache.TTLFloor(rec.ExpiredAt, s.nowF())
	if err := s.cache.Put(ctx, cache.RefreshTokenKey(rec.AccountID), string(body), ttl); err != nil {
		s.logger.Error("write cache mirror", "account_id", rec.AccountID, "error", err)
	}
}

func (s *AuthService) publishUserCreated(ctx context.Context, acct *accountdomain.Account) error {
	evt := events.UserCreated{UUID: acct.ID, Email: acct.Email, Nickname: acct.Nickname}
	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if err = s.bus.Publish(ctx, events.ExchangeUser, events.RoutingKeyUserCreated, evt); err == nil {
			return nil
		}
		s.logger.Warn("publish user.created failed", "account_id", acct.ID, "attempt", attempt, "error", err)
	}
	return fmt.Errorf("register: publish user.created: %w", err)
}

const emailPattern = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`

var emailRe = regexp.MustCompile(emailPattern)

func validateEmail(email string) error {
	if email == "" || !emailRe.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// validatePassword enforces at least 8 characters with one uppercase letter,
// one lowercase letter, one digit, and one symbol.
func validatePassword(password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasNumber || !hasSymbol {
		return ErrWeakPassword
	}
	return nil
}
