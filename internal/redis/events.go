package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridehail/internal/service"
)

// EventBus fans ride events out to every server instance over Redis pub/sub,
// so a user connected to any instance receives them.
type EventBus struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

// NewEventBus creates a new EventBus publishing on channel.
func NewEventBus(client *redis.Client, channel string, log *zap.Logger) *EventBus {
	return &EventBus{client: client, channel: channel, log: log}
}

// Notify publishes the event to the shared channel.
func (b *EventBus) Notify(ctx context.Context, event service.RideEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ride event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish ride event: %w", err)
	}
	return nil
}

// Subscribe delivers every event published on the channel to local until ctx
// is done. Undecodable payloads are logged and skipped.
func (b *EventBus) Subscribe(ctx context.Context, local service.Notifier) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.Info("subscribed to ride events", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event service.RideEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.log.Warn("dropping undecodable ride event", zap.Error(err))
				continue
			}
			if err := local.Notify(ctx, event); err != nil {
				b.log.Warn("local delivery failed",
					zap.String("event", event.Event),
					zap.String("ride_id", event.Ride.ID),
					zap.Error(err),
				)
			}
		}
	}
}
