package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ridehail/internal/domain"
	"ridehail/internal/repository"
)

// RideRepository is an in-process implementation of repository.RideRepository.
// Every read returns a copy.
type RideRepository struct {
	mu    sync.RWMutex
	rides map[string]*domain.Ride
}

// NewRideRepository creates an empty in-memory ride repository.
func NewRideRepository() *RideRepository {
	return &RideRepository{rides: make(map[string]*domain.Ride)}
}

var _ repository.RideRepository = (*RideRepository)(nil)

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rides[ride.ID]; exists {
		return fmt.Errorf("ride %s already exists", ride.ID)
	}
	stored := *ride
	r.rides[ride.ID] = &stored
	return nil
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ride, ok := r.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *ride
	return &copy, nil
}

// FindByStatus returns the rides in any of the given statuses, oldest first.
func (r *RideRepository) FindByStatus(ctx context.Context, statuses []domain.RideStatus) ([]*domain.Ride, error) {
	return r.filter(func(ride *domain.Ride) bool {
		return containsStatus(statuses, ride.Status)
	}), nil
}

// FindByDriver returns the rides held by driverID in any of the given statuses.
func (r *RideRepository) FindByDriver(ctx context.Context, driverID string, statuses []domain.RideStatus) ([]*domain.Ride, error) {
	return r.filter(func(ride *domain.Ride) bool {
		return ride.DriverID == driverID && containsStatus(statuses, ride.Status)
	}), nil
}

// CompareAndSetStatus applies update if the ride is still in expected.
func (r *RideRepository) CompareAndSetStatus(ctx context.Context, id string, expected domain.RideStatus, update domain.StatusUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ride, ok := r.rides[id]
	if !ok || ride.Status != expected {
		return false, nil
	}
	updated := ride.Apply(update)
	r.rides[id] = &updated
	return true, nil
}

// BulkSetStatus moves every ride in statuses to newStatus.
func (r *RideRepository) BulkSetStatus(ctx context.Context, statuses []domain.RideStatus, newStatus domain.RideStatus, reason string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var modified int64
	for id, ride := range r.rides {
		if !containsStatus(statuses, ride.Status) {
			continue
		}
		updated := ride.Apply(domain.StatusUpdate{
			Status:       newStatus,
			ClearDriver:  true,
			UpdatedAt:    at,
			CancelledAt:  at,
			CancelReason: reason,
		})
		r.rides[id] = &updated
		modified++
	}
	return modified, nil
}

func (r *RideRepository) filter(keep func(*domain.Ride) bool) []*domain.Ride {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Ride
	for _, ride := range r.rides {
		if keep(ride) {
			copy := *ride
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func containsStatus(statuses []domain.RideStatus, s domain.RideStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
