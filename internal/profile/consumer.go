// Package profile holds the dependent service's derived state and its
// idempotent consumer for user.created events.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"session-authority/internal/events"
	"session-authority/internal/profile/domain"
	"session-authority/internal/profile/repository"
)

// Consumer builds profile rows from user.created events.
type Consumer struct {
	profiles repository.Repository
	logger   *slog.Logger
	nowF     func() time.Time
}

// NewConsumer returns a Consumer writing to the given repository.
func NewConsumer(profiles repository.Repository, logger *slog.Logger) *Consumer {
	return &Consumer{
		profiles: profiles,
		logger:   logger,
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// HandleUserCreated processes one user.created message. Redelivery is safe:
// if a profile already exists for the account the event is a no-op.
func (c *Consumer) HandleUserCreated(ctx context.Context, body []byte) error {
	var evt events.UserCreated
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("profile: decode user.created: %w", err)
	}
	if evt.UUID == "" {
		return fmt.Errorf("profile: user.created without uuid")
	}

	existing, err := c.profiles.GetByAccountID(ctx, evt.UUID)
	if err != nil {
		return fmt.Errorf("profile: lookup %s: %w", evt.UUID, err)
	}
	if existing != nil {
		c.logger.Debug("profile already exists, skipping", "account_id", evt.UUID)
		return nil
	}

	p := &domain.Profile{
		AccountID: evt.UUID,
		Email:     evt.Email,
		Nickname:  evt.Nickname,
		CreatedAt: c.nowF(),
	}
	if err := c.profiles.Create(ctx, p); err != nil {
		return fmt.Errorf("profile: create %s: %w", evt.UUID, err)
	}
	c.logger.Info("profile created", "account_id", evt.UUID)
	return nil
}
