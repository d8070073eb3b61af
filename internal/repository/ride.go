package repository

import (
	"context"
	"time"

	"ridehail/internal/domain"
)

// RideRepository defines the persistence operations for rides.
type RideRepository interface {
	// Create persists a new ride.
	Create(ctx context.Context, ride *domain.Ride) error

	// GetByID retrieves a ride by ID.
	GetByID(ctx context.Context, id string) (*domain.Ride, error)

	// FindByStatus returns every ride whose status is in statuses, oldest first.
	FindByStatus(ctx context.Context, statuses []domain.RideStatus) ([]*domain.Ride, error)

	// FindByDriver returns the rides held by driverID whose status is in statuses.
	FindByDriver(ctx context.Context, driverID string, statuses []domain.RideStatus) ([]*domain.Ride, error)

	// CompareAndSetStatus applies update only if the ride is currently in
	// expected. It reports whether the write was applied. A missing ride
	// reports false with no error.
	CompareAndSetStatus(ctx context.Context, id string, expected domain.RideStatus, update domain.StatusUpdate) (bool, error)

	// BulkSetStatus moves every ride in statuses to newStatus in one write,
	// clearing the driver, and returns the number of rides modified.
	BulkSetStatus(ctx context.Context, statuses []domain.RideStatus, newStatus domain.RideStatus, reason string, at time.Time) (int64, error)
}
