package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-memory Store implementation used in tests and local
// development without Redis.
type Memory struct {
	mu   sync.Mutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemory returns a new in-memory store.
func NewMemory() *Memory {
	return &Memory{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock. Test use only.
func (s *Memory) SetNow(nowF func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowF = nowF
}

// Put stores value under key for ttl.
func (s *Memory) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("cache: ttl must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = entry{value: value, expiresAt: s.nowF().Add(ttl)}
	return nil
}

// Get returns the value for key if present and not expired.
func (s *Memory) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return "", ErrMiss
	}
	if !e.expiresAt.After(s.nowF()) {
		delete(s.m, key)
		return "", ErrMiss
	}
	return e.value, nil
}

// Delete removes the given keys.
func (s *Memory) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.m, k)
	}
	return nil
}

// Incr increments the counter at key, creating it with ttl if absent or expired.
func (s *Memory) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	e, ok := s.m[key]
	if !ok || !e.expiresAt.After(now) {
		s.m[key] = entry{value: "1", expiresAt: now.Add(ttl)}
		return 1, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	s.m[key] = entry{value: strconv.FormatInt(n, 10), expiresAt: e.expiresAt}
	return n, nil
}

// TTL returns the remaining lifetime of key. Test use only.
func (s *Memory) TTL(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return 0, false
	}
	return e.expiresAt.Sub(s.nowF()), true
}
