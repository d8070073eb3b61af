package domain

import "time"

// RideStatus represents the current status of a ride.
type RideStatus string

const (
	RideStatusPending    RideStatus = "pending"
	RideStatusAccepted   RideStatus = "accepted"
	RideStatusCollecting RideStatus = "collecting"
	RideStatusInProgress RideStatus = "in_progress"
	RideStatusCompleted  RideStatus = "completed"
	RideStatusCancelled  RideStatus = "cancelled"
)

// Ride represents a ride request in the system.
type Ride struct {
	ID           string
	PassengerID  string
	DriverID     string // empty until the ride is accepted, cleared on cancel
	Status       RideStatus
	Price        float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CancelledAt  time.Time
	CancelReason string
}

// StatusUpdate carries the fields written together with a status change.
type StatusUpdate struct {
	Status       RideStatus
	DriverID     string
	ClearDriver  bool
	Price        *float64
	UpdatedAt    time.Time
	CancelledAt  time.Time
	CancelReason string
}

// Apply returns a copy of the ride with the update applied.
func (r Ride) Apply(u StatusUpdate) Ride {
	r.Status = u.Status
	r.UpdatedAt = u.UpdatedAt
	if u.DriverID != "" {
		r.DriverID = u.DriverID
	}
	if u.ClearDriver {
		r.DriverID = ""
	}
	if u.Price != nil {
		r.Price = *u.Price
	}
	if !u.CancelledAt.IsZero() {
		r.CancelledAt = u.CancelledAt
		r.CancelReason = u.CancelReason
	}
	return r
}
