// Package reaper deletes expired session and refresh-token rows on a fixed
// interval. Redis entries expire on their own via TTL; only the durable store
// needs sweeping.
package reaper

import (
	"context"
	"log/slog"
	"time"

	sessionrepo "session-authority/internal/session/repository"
	tokenrepo "session-authority/internal/token/repository"
)

// Reaper periodically removes rows whose expired_at has passed. Expired rows
// are already unusable (every read path checks expiry), so the sweep only
// reclaims space and its cadence is not correctness sensitive.
type Reaper struct {
	sessions sessionrepo.Repository
	tokens   tokenrepo.Repository
	interval time.Duration
	logger   *slog.Logger
	nowF     func() time.Time
}

// New returns a Reaper sweeping at the given interval.
func New(sessions sessionrepo.Repository, tokens tokenrepo.Repository, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		sessions: sessions,
		tokens:   tokens,
		interval: interval,
		logger:   logger,
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately, then on every tick until ctx is canceled.
// Intended to be launched as a goroutine alongside the HTTP server.
func (r *Reaper) Run(ctx context.Context) {
	r.Sweep(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one deletion pass. A failure in one store does not stop the
// other; both are logged and retried on the next tick.
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.nowF()

	sessions, err := r.sessions.DeleteExpired(ctx, now)
	if err != nil {
		r.logger.Error("reaper: delete expired sessions", "error", err)
	}
	tokens, err := r.tokens.DeleteExpired(ctx, now)
	if err != nil {
		r.logger.Error("reaper: delete expired refresh records", "error", err)
	}
	if sessions > 0 || tokens > 0 {
		r.logger.Info("reaper sweep", "sessions_deleted", sessions, "tokens_deleted", tokens)
	}
}
