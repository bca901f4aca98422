package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, tampered with, or
	// signed with the wrong secret.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a token's signature verifies but its
	// expiry has passed. Callers report this distinctly from tampering.
	ErrTokenExpired = errors.New("token expired")
)

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	AccountID string   `json:"account_id"`
	Roles     []string `json:"roles"`
}

// DeviceMeta is optional device metadata carried on refresh tokens. Explicit
// optional fields, not an open map, so signing stays deterministic.
type DeviceMeta struct {
	Platform   string `json:"platform,omitempty"`
	Model      string `json:"model,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
}

// RefreshClaims holds JWT claims for the refresh token. LoginAt is Unix
// seconds; all registered timestamps are Unix seconds as well.
type RefreshClaims struct {
	jwt.RegisteredClaims
	AccountID string      `json:"account_id"`
	SessionID string      `json:"session_id"`
	UserAgent string      `json:"user_agent"`
	ClientIP  string      `json:"client_ip"`
	LoginAt   int64       `json:"login_at"`
	Device    *DeviceMeta `json:"device,omitempty"`
}

// TokenCodec signs and verifies access and refresh tokens with two
// independent HS256 secrets and independent lifetimes.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenCodec returns a codec for the two signing contexts. Both secrets
// are required; an empty secret is a configuration error the caller treats as
// fatal at startup.
func NewTokenCodec(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*TokenCodec, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("security: both token secrets must be configured")
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 168 * time.Hour
	}
	return &TokenCodec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}, nil
}

// AccessLifetime returns the configured access token lifetime.
func (c *TokenCodec) AccessLifetime() time.Duration { return c.accessTTL }

// RefreshLifetime returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshLifetime() time.Duration { return c.refreshTTL }

// SignAccess issues a short-lived access token for the account. Expiry is
// computed additively from the issue time. Returns the token and its expiry.
func (c *TokenCodec) SignAccess(accountID string, roles []string) (string, time.Time, error) {
	jti, err := generateTokenID()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt := now.Add(c.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AccountID: accountID,
		Roles:     roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	return token, expiresAt, err
}

// SignRefresh issues a refresh token bound to the given session. device may
// be nil. Returns the token and its expiry.
func (c *TokenCodec) SignRefresh(accountID, sessionID, userAgent, clientIP string, loginAt time.Time, device *DeviceMeta) (string, time.Time, error) {
	jti, err := generateTokenID()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt := now.Add(c.refreshTTL)
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AccountID: accountID,
		SessionID: sessionID,
		UserAgent: userAgent,
		ClientIP:  clientIP,
		LoginAt:   loginAt.Unix(),
		Device:    device,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	return token, expiresAt, err
}

// VerifyAccess parses and validates an access token. Returns ErrTokenExpired
// when only the expiry failed, ErrInvalidToken otherwise.
func (c *TokenCodec) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.verify(tokenString, claims, c.accessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh parses and validates a refresh token. Returns ErrTokenExpired
// when only the expiry failed, ErrInvalidToken otherwise.
func (c *TokenCodec) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.verify(tokenString, claims, c.refreshSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *TokenCodec) verify(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// Decode returns the token's claims without verifying the signature, or nil
// if the token cannot be parsed. For diagnostics only; callers must never use
// the result for authorization decisions.
func (c *TokenCodec) Decode(tokenString string) jwt.MapClaims {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil
	}
	return claims
}

func generateTokenID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
