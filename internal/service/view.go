package service

import (
	"time"

	"ridehail/internal/domain"
)

// RideView is the client-facing JSON representation of a ride.
type RideView struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	PassengerID  string     `json:"passengerId"`
	DriverID     string     `json:"driverId,omitempty"`
	Price        float64    `json:"price"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty"`
	CancelReason string     `json:"cancelReason,omitempty"`
}

// NewRideView builds the view of a ride.
func NewRideView(r domain.Ride) RideView {
	v := RideView{
		ID:           r.ID,
		Status:       string(r.Status),
		PassengerID:  r.PassengerID,
		DriverID:     r.DriverID,
		Price:        r.Price,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		CancelReason: r.CancelReason,
	}
	if !r.CancelledAt.IsZero() {
		at := r.CancelledAt
		v.CancelledAt = &at
	}
	return v
}

// Ride converts the view back into a domain ride.
func (v RideView) Ride() domain.Ride {
	r := domain.Ride{
		ID:           v.ID,
		Status:       domain.RideStatus(v.Status),
		PassengerID:  v.PassengerID,
		DriverID:     v.DriverID,
		Price:        v.Price,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
		CancelReason: v.CancelReason,
	}
	if v.CancelledAt != nil {
		r.CancelledAt = *v.CancelledAt
	}
	return r
}
