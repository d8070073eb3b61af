package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"ridehail/internal/service"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
	deadline bool
}

type fakeChannel struct {
	published  []published
	publishErr error
	closed     bool
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	_, hasDeadline := ctx.Deadline()
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg, deadline: hasDeadline})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublisher_Notify(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, "ride_topic", zap.NewNop())
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	event := service.RideEvent{
		Event:      service.EventRideCompleted,
		Ride:       service.RideView{ID: "ride-1", Status: "completed", PassengerID: "passenger-1", DriverID: "driver-a", Price: 22},
		Recipients: []string{"passenger-1", "driver-a"},
	}
	if err := p.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(ch.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(ch.published))
	}
	got := ch.published[0]
	if got.exchange != "ride_topic" || got.key != "ride.status.completed" {
		t.Errorf("unexpected destination %s/%s", got.exchange, got.key)
	}
	if !got.deadline {
		t.Error("expected publish to be bounded by a deadline")
	}
	if got.msg.DeliveryMode != amqp.Persistent || got.msg.ContentType != "application/json" || got.msg.MessageId == "" {
		t.Errorf("unexpected publishing headers: %+v", got.msg)
	}

	var body Message
	if err := json.Unmarshal(got.msg.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Event != service.EventRideCompleted || body.Ride.Price != 22 || !body.OccurredAt.Equal(fixed) {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestPublisher_NotifyError(t *testing.T) {
	ch := &fakeChannel{publishErr: amqp.ErrClosed}
	p := NewPublisher(ch, "ride_topic", zap.NewNop())

	err := p.Notify(context.Background(), service.RideEvent{Ride: service.RideView{ID: "ride-1", Status: "accepted"}})
	if !errors.Is(err, amqp.ErrClosed) {
		t.Fatalf("expected wrapped channel error, got %v", err)
	}
}

func TestPublisher_Close(t *testing.T) {
	ch := &fakeChannel{}
	if err := NewPublisher(ch, "ride_topic", zap.NewNop()).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !ch.closed {
		t.Error("expected channel closed")
	}
}

func TestRoutingKey(t *testing.T) {
	if got := RoutingKey("in_progress"); got != "ride.status.in_progress" {
		t.Errorf("unexpected routing key %q", got)
	}
}
