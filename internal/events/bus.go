package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Bus implements Publisher over a long-lived AMQP connection and channel,
// shared by all request handlers; publishes are serialized with a mutex
// because AMQP channels are not safe for concurrent writes.
type Bus struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger

	mu sync.Mutex
}

// DialAttempts is the bounded number of connection attempts at startup.
const DialAttempts = 10

// Dial connects to the broker at url with bounded retry (DialAttempts tries,
// fixed delay). Returns an error once the budget is exhausted; callers treat
// that as fatal. Call Close at shutdown.
func Dial(url string, delay time.Duration, logger *slog.Logger) (*Bus, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= DialAttempts; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("broker connect failed", "attempt", attempt, "error", err)
		if attempt < DialAttempts {
			time.Sleep(delay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("events: broker unreachable after %d attempts: %w", DialAttempts, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	return &Bus{conn: conn, ch: ch, logger: logger}, nil
}

// Publish declares the durable topic exchange and publishes payload as a
// persisted JSON message under routingKey.
func (b *Bus) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: encode payload: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.declareExchange(exchange); err != nil {
		return err
	}
	err = b.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("events: publish %s/%s: %w", exchange, routingKey, err)
	}
	return nil
}

// Subscribe declares the exchange, a durable queue bound to routingKey, and
// consumes messages until ctx is canceled. Each message is acknowledged after
// the handler returns; handler errors are logged and the message is still
// acknowledged to avoid poison-message loops, so handlers must be idempotent.
func (b *Bus) Subscribe(ctx context.Context, exchange, routingKey, queueName string, handler Handler) error {
	if err := b.declareExchange(exchange); err != nil {
		return err
	}
	queue, err := b.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("events: declare queue %s: %w", queueName, err)
	}
	if err := b.ch.QueueBind(queue.Name, routingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("events: bind %s to %s/%s: %w", queueName, exchange, routingKey, err)
	}

	deliveries, err := b.ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("events: consume %s: %w", queueName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-deliveries:
				if !ok {
					return
				}
				if err := handler(ctx, msg.Body); err != nil {
					b.logger.Error("event handler failed", "queue", queueName, "error", err)
				}
				if err := msg.Ack(false); err != nil {
					b.logger.Error("event ack failed", "queue", queueName, "error", err)
				}
			}
		}
	}()
	return nil
}

func (b *Bus) declareExchange(exchange string) error {
	if err := b.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("events: declare exchange %s: %w", exchange, err)
	}
	return nil
}

// Close drains and closes the channel and connection. Safe to call once at
// shutdown.
func (b *Bus) Close() error {
	if err := b.ch.Close(); err != nil {
		_ = b.conn.Close()
		return err
	}
	return b.conn.Close()
}
