package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"ridehail/internal/config"
	"ridehail/internal/service"
)

const (
	publishTimeout  = 5 * time.Second
	maxDialAttempts = 10
	maxDialDelay    = 30 * time.Second
)

// Channel is the part of an AMQP channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends ride events to a topic exchange for downstream consumers.
// Routing keys have the form ride.status.<status>.
type Publisher struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
	log      *zap.Logger
	now      func() time.Time
}

// NewPublisher creates a Publisher on an already opened channel.
func NewPublisher(ch Channel, exchange string, log *zap.Logger) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, log: log, now: time.Now}
}

// Connect dials RabbitMQ, retrying with growing delays, and declares the
// ride exchange.
func Connect(ctx context.Context, cfg config.RabbitMQConfig, log *zap.Logger) (*Publisher, error) {
	delay := time.Second
	for attempt := 1; ; attempt++ {
		conn, ch, err := dial(cfg)
		if err == nil {
			log.Info("connected to rabbitmq",
				zap.String("exchange", cfg.Exchange),
				zap.Int("attempt", attempt),
			)
			p := NewPublisher(ch, cfg.Exchange, log)
			p.conn = conn
			return p, nil
		}
		if attempt == maxDialAttempts {
			return nil, fmt.Errorf("connect rabbitmq after %d attempts: %w", attempt, err)
		}

		log.Warn("rabbitmq connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(time.Duration(float64(delay)*1.5), maxDialDelay)
	}
}

func dial(cfg config.RabbitMQConfig) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	return conn, ch, nil
}

// Message is the body published for every ride event.
type Message struct {
	Event      string           `json:"event"`
	Ride       service.RideView `json:"ride"`
	Recipients []string         `json:"recipients,omitempty"`
	Role       string           `json:"role,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}

// RoutingKey returns the routing key for a ride in status.
func RoutingKey(status string) string {
	return "ride.status." + status
}

// Notify publishes the event as a persistent JSON message.
func (p *Publisher) Notify(ctx context.Context, event service.RideEvent) error {
	now := p.now().UTC()
	body, err := json.Marshal(Message{
		Event:      event.Event,
		Ride:       event.Ride,
		Recipients: event.Recipients,
		Role:       string(event.Role),
		OccurredAt: now,
	})
	if err != nil {
		return fmt.Errorf("marshal ride message: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	key := RoutingKey(event.Ride.Status)
	err = p.ch.PublishWithContext(publishCtx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    now,
		Type:         event.Event,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}

	p.log.Debug("ride event published",
		zap.String("routing_key", key),
		zap.String("ride_id", event.Ride.ID),
	)
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ service.Notifier = (*Publisher)(nil)
