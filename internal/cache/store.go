// Package cache provides the TTL-bound key-value store used for refresh-token
// mirrors, password-reset codes, and reset failure counters. Redis backs it in
// production; Memory backs it in tests. The cache is never the sole source of
// truth: callers fall back to the durable store on any miss.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is the TTL key-value contract shared by the Redis and in-memory
// implementations.
type Store interface {
	// Put stores value under key for ttl. A non-positive ttl is rejected by
	// the implementations; callers compute ttl via TTLFloor.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value for key, or ErrMiss if absent or expired.
	Get(ctx context.Context, key string) (string, error)
	// Delete removes the given keys. Deleting absent keys is not an error.
	Delete(ctx context.Context, keys ...string) error
	// Incr atomically increments the counter at key and returns the new
	// value. The ttl applies only when the increment creates the key, so an
	// existing window is never extended.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// MinTTL is the floor applied to cache entry lifetimes so entries never
// expire before their nominal holder expects.
const MinTTL = 60 * time.Second

// TTLFloor returns the remaining lifetime until expiresAt measured from now,
// floored at MinTTL. Never returns a non-positive duration.
func TTLFloor(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now).Truncate(time.Second)
	if ttl < MinTTL {
		return MinTTL
	}
	return ttl
}

// RefreshTokenKey returns the cache key holding the current refresh-token
// mirror for an account.
func RefreshTokenKey(accountID string) string {
	return fmt.Sprintf("refreshToken:%s", accountID)
}

// ResetCodeKey returns the cache key holding the pending password-reset code
// for an email.
func ResetCodeKey(email string) string {
	return fmt.Sprintf("resetCode:%s", email)
}

// ResetFailKey returns the cache key holding the reset-code failure counter
// for an email.
func ResetFailKey(email string) string {
	return fmt.Sprintf("resetCode:failcount:%s", email)
}
