package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"ridehail/internal/domain"
)

// RideCacheTTL bounds how stale a cached ride can be if an invalidation is missed.
const RideCacheTTL = 10 * time.Second

const rideCachePrefix = "cache:ride:"

// CacheStore handles ride caching in Redis.
type CacheStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client, ttl: RideCacheTTL}
}

// CachedRide represents a cached ride entity.
type CachedRide struct {
	ID           string    `json:"id"`
	PassengerID  string    `json:"passenger_id"`
	DriverID     string    `json:"driver_id,omitempty"`
	Status       string    `json:"status"`
	Price        float64   `json:"price"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	CancelledAt  time.Time `json:"cancelled_at"`
	CancelReason string    `json:"cancel_reason,omitempty"`
}

// GetRide retrieves a ride from cache. A miss returns nil, nil.
func (s *CacheStore) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	data, err := s.client.Get(ctx, rideCachePrefix+rideID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var cached CachedRide
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &domain.Ride{
		ID:           cached.ID,
		PassengerID:  cached.PassengerID,
		DriverID:     cached.DriverID,
		Status:       domain.RideStatus(cached.Status),
		Price:        cached.Price,
		CreatedAt:    cached.CreatedAt,
		UpdatedAt:    cached.UpdatedAt,
		CancelledAt:  cached.CancelledAt,
		CancelReason: cached.CancelReason,
	}, nil
}

// SetRide stores a ride in cache.
func (s *CacheStore) SetRide(ctx context.Context, ride *domain.Ride) error {
	data, err := json.Marshal(CachedRide{
		ID:           ride.ID,
		PassengerID:  ride.PassengerID,
		DriverID:     ride.DriverID,
		Status:       string(ride.Status),
		Price:        ride.Price,
		CreatedAt:    ride.CreatedAt,
		UpdatedAt:    ride.UpdatedAt,
		CancelledAt:  ride.CancelledAt,
		CancelReason: ride.CancelReason,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, rideCachePrefix+ride.ID, data, s.ttl).Err()
}

// InvalidateRide removes a ride from cache.
func (s *CacheStore) InvalidateRide(ctx context.Context, rideID string) error {
	return s.client.Del(ctx, rideCachePrefix+rideID).Err()
}
