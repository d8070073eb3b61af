package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridehail/internal/domain"
	"ridehail/internal/service"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestCacheStore_RoundTripAndInvalidate(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewCacheStore(client)
	ctx := context.Background()

	miss, err := store.GetRide(ctx, "ride-1")
	if err != nil || miss != nil {
		t.Fatalf("expected clean miss, got %+v, %v", miss, err)
	}

	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ride := &domain.Ride{
		ID:          "ride-1",
		PassengerID: "passenger-1",
		DriverID:    "driver-a",
		Status:      domain.RideStatusAccepted,
		Price:       21.75,
		CreatedAt:   created,
		UpdatedAt:   created.Add(time.Minute),
	}
	if err := store.SetRide(ctx, ride); err != nil {
		t.Fatalf("SetRide: %v", err)
	}
	if ttl := mr.TTL(rideCachePrefix + "ride-1"); ttl != RideCacheTTL {
		t.Errorf("expected ttl %v, got %v", RideCacheTTL, ttl)
	}

	got, err := store.GetRide(ctx, "ride-1")
	if err != nil {
		t.Fatalf("GetRide: %v", err)
	}
	if got.DriverID != "driver-a" || got.Status != domain.RideStatusAccepted || !got.UpdatedAt.Equal(ride.UpdatedAt) {
		t.Errorf("unexpected cached ride: %+v", got)
	}

	if err := store.InvalidateRide(ctx, "ride-1"); err != nil {
		t.Fatalf("InvalidateRide: %v", err)
	}
	if mr.Exists(rideCachePrefix + "ride-1") {
		t.Error("expected key removed")
	}
}

func TestCacheStore_ExpiresAfterTTL(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewCacheStore(client)
	ctx := context.Background()

	if err := store.SetRide(ctx, &domain.Ride{ID: "ride-1", Status: domain.RideStatusPending}); err != nil {
		t.Fatalf("SetRide: %v", err)
	}
	mr.FastForward(RideCacheTTL + time.Second)

	got, err := store.GetRide(ctx, "ride-1")
	if err != nil || got != nil {
		t.Errorf("expected expiry, got %+v, %v", got, err)
	}
}

func TestLockStore_ExclusiveUntilReleased(t *testing.T) {
	_, client := newTestClient(t)
	locks := NewLockStore(client)
	ctx := context.Background()

	ok, err := locks.AcquireDriverLock(ctx, "driver-a", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire: %v, %v", ok, err)
	}
	ok, err = locks.AcquireDriverLock(ctx, "driver-a", 5*time.Second)
	if err != nil || ok {
		t.Fatalf("second acquire should fail: %v, %v", ok, err)
	}
	ok, _ = locks.AcquireDriverLock(ctx, "driver-b", 5*time.Second)
	if !ok {
		t.Error("locks must be per driver")
	}

	if err := locks.ReleaseDriverLock(ctx, "driver-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = locks.AcquireDriverLock(ctx, "driver-a", 5*time.Second)
	if !ok {
		t.Error("expected reacquire after release")
	}
}

func TestLockStore_ExpiresWithTTL(t *testing.T) {
	mr, client := newTestClient(t)
	locks := NewLockStore(client)
	ctx := context.Background()

	if ok, _ := locks.AcquireDriverLock(ctx, "driver-a", time.Second); !ok {
		t.Fatal("expected acquire")
	}
	mr.FastForward(2 * time.Second)
	if ok, _ := locks.AcquireDriverLock(ctx, "driver-a", time.Second); !ok {
		t.Error("expected lock to expire")
	}
}

func TestLockStore_LateReleaseKeepsNewHolder(t *testing.T) {
	mr, client := newTestClient(t)
	first := NewLockStore(client)
	second := NewLockStore(client)
	ctx := context.Background()

	if ok, _ := first.AcquireDriverLock(ctx, "driver-a", time.Second); !ok {
		t.Fatal("expected first acquire")
	}
	mr.FastForward(2 * time.Second)
	if ok, _ := second.AcquireDriverLock(ctx, "driver-a", 5*time.Second); !ok {
		t.Fatal("expected takeover after expiry")
	}

	if err := first.ReleaseDriverLock(ctx, "driver-a"); err != nil {
		t.Fatalf("late release: %v", err)
	}
	if !mr.Exists(driverLockPrefix + "driver-a") {
		t.Fatal("late release removed the new holder's lock")
	}
	if ok, _ := first.AcquireDriverLock(ctx, "driver-a", time.Second); ok {
		t.Error("lock should still be held by the second store")
	}

	if err := second.ReleaseDriverLock(ctx, "driver-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists(driverLockPrefix + "driver-a") {
		t.Error("holder's release should remove the lock")
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []service.RideEvent
	got    chan struct{}
}

func (r *recordingNotifier) Notify(_ context.Context, event service.RideEvent) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	select {
	case r.got <- struct{}{}:
	default:
	}
	return nil
}

func TestEventBus_PublishReachesSubscriber(t *testing.T) {
	_, client := newTestClient(t)
	bus := NewEventBus(client, "ride:events", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := &recordingNotifier{got: make(chan struct{}, 1)}
	done := make(chan error, 1)
	go func() { done <- bus.Subscribe(ctx, local) }()

	event := service.RideEvent{
		Event:      service.EventRideAccepted,
		Ride:       service.RideView{ID: "ride-1", Status: "accepted", PassengerID: "passenger-1", DriverID: "driver-a"},
		Recipients: []string{"passenger-1", "driver-a"},
	}

	// Publish until the subscription is live; earlier messages have no receiver.
	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-local.got:
			break wait
		case <-ticker.C:
			if err := bus.Notify(ctx, event); err != nil {
				t.Fatalf("Notify: %v", err)
			}
		case <-deadline:
			t.Fatal("event never delivered")
		}
	}

	local.mu.Lock()
	first := local.events[0]
	local.mu.Unlock()
	if first.Event != service.EventRideAccepted || first.Ride.DriverID != "driver-a" || len(first.Recipients) != 2 {
		t.Errorf("unexpected delivered event: %+v", first)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Subscribe returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Subscribe did not stop on cancel")
	}
}
