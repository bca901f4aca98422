// Package events is the bridge to the durable message broker. The identity
// service publishes domain events on a topic exchange; dependent services
// consume them idempotently to build derived state.
package events

import "context"

const (
	// ExchangeUser is the durable topic exchange for account lifecycle events.
	ExchangeUser = "user"
	// RoutingKeyUserCreated routes account-creation events.
	RoutingKeyUserCreated = "user.created"
	// QueueUserCreated is the dependent service's durable queue bound to
	// RoutingKeyUserCreated.
	QueueUserCreated = "user.created.queue"
)

// UserCreated is the immutable fact published exactly once per account
// creation and consumed idempotently any number of times.
type UserCreated struct {
	UUID     string `json:"uuid"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

// Publisher publishes a JSON-encoded payload on a durable topic exchange.
// Failures are returned to the caller for retry, never swallowed.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload any) error
}

// Handler processes one delivered message body. A returned error is logged by
// the subscriber; the message is acknowledged either way, so handlers must be
// idempotent and must not rely on redelivery.
type Handler func(ctx context.Context, body []byte) error
