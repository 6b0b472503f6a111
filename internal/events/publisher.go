// Package events publishes committed domain events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	ExchangeName = "library.events"
	exchangeType = "topic"

	eventVersion = "1.0.0"

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	confirmTimeout = 5 * time.Second
)

var errNotAcked = errors.New("event not acknowledged")

// Envelope wraps every payload on the wire.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  string          `json:"event_version"`
	Timestamp     string          `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	GetNextPublishSeqNo() uint64
	Close() error
}

// Publisher sends events to the library.events topic exchange with
// publisher confirms.
type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	confirms <-chan amqp.Confirmation
	log      *zap.Logger

	// Confirms arrive in publish order, so one publish is in flight at a time.
	mu sync.Mutex
}

// NewPublisher connects, declares the exchange and enables confirms.
func NewPublisher(url string, log *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		ExchangeName,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	log.Info("Connected to RabbitMQ", zap.String("exchange", ExchangeName))

	p := newPublisher(ch, confirms, log)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, confirms <-chan amqp.Confirmation, log *zap.Logger) *Publisher {
	return &Publisher{channel: ch, confirms: confirms, log: log}
}

// Publish marshals payload into an Envelope and sends it under routingKey,
// retrying with exponential backoff until the broker acknowledges it.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     routingKey,
		EventVersion:  eventVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		CorrelationID: middleware.GetReqID(ctx),
		Payload:       data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := p.publishOnce(ctx, routingKey, env, body)
		if err != nil && attempt < maxRetries {
			p.log.Warn("Failed to publish event, retrying",
				zap.Int("attempt", attempt),
				zap.String("routing_key", routingKey),
				zap.Error(err),
			)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(maxRetries),
	)
	if err != nil {
		p.log.Error("Failed to publish event after retries",
			zap.String("event_id", env.EventID),
			zap.String("routing_key", routingKey),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish event after %d attempts: %w", attempt, err)
	}

	p.log.Debug("Event published",
		zap.String("event_id", env.EventID),
		zap.String("routing_key", routingKey),
	)
	return nil
}

func (p *Publisher) publishOnce(ctx context.Context, routingKey string, env Envelope, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tag := p.channel.GetNextPublishSeqNo()
	err := p.channel.PublishWithContext(
		ctx,
		ExchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    env.EventID,
			Body:         body,
			Headers: amqp.Table{
				"event_type":    env.EventType,
				"event_version": env.EventVersion,
			},
		},
	)
	if err != nil {
		return err
	}

	timeout := time.NewTimer(confirmTimeout)
	defer timeout.Stop()
	for {
		select {
		case confirm, ok := <-p.confirms:
			if !ok {
				return backoff.Permanent(amqp.ErrClosed)
			}
			// Confirms for publishes that timed out or were cancelled
			// arrive late; they are not ours.
			if confirm.DeliveryTag < tag {
				p.log.Debug("Discarding stale confirmation",
					zap.Uint64("delivery_tag", confirm.DeliveryTag),
					zap.Uint64("expected", tag),
				)
				continue
			}
			if confirm.DeliveryTag > tag {
				return fmt.Errorf("confirmation %d skipped expected tag %d", confirm.DeliveryTag, tag)
			}
			if !confirm.Ack {
				return errNotAcked
			}
			return nil
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		case <-timeout.C:
			return errors.New("confirmation timeout")
		}
	}
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.MaxInterval = maxBackoff
	return b
}

// IsHealthy checks if the publisher connection is healthy.
func (p *Publisher) IsHealthy() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Error("Failed to close channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.log.Error("Failed to close connection", zap.Error(err))
			return err
		}
	}
	p.log.Info("Publisher closed")
	return nil
}
