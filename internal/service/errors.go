package service

import (
	"context"
	"errors"

	"ridehail/internal/repository"
)

var (
	// ErrRideNotFound is returned when the ride does not exist.
	ErrRideNotFound = errors.New("ride not found")

	// ErrInvalidTransition is returned when the requested status cannot be
	// reached from the ride's current status.
	ErrInvalidTransition = errors.New("invalid ride transition")

	// ErrAlreadyClaimed is returned when a driver tries to accept a ride
	// that another driver already holds.
	ErrAlreadyClaimed = errors.New("ride already claimed")

	// ErrUnauthorized is returned when the actor may not perform the change.
	ErrUnauthorized = errors.New("not authorized for this ride")

	// ErrStoreUnavailable is returned when the ride store did not answer
	// within the configured attempts.
	ErrStoreUnavailable = errors.New("ride store unavailable")

	// ErrDriverBusy is returned when a driver already holds a ride that has
	// not finished.
	ErrDriverBusy = errors.New("driver already has an active ride")

	// ErrInvalidPrice is returned when a price is negative or supplied for
	// a status other than completed.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrInvalidStatus is returned when a status filter names an unknown status.
	ErrInvalidStatus = errors.New("invalid ride status")
)

// Reason codes sent to clients.
const (
	ReasonNotFound          = "not_found"
	ReasonInvalidTransition = "invalid_transition"
	ReasonAlreadyClaimed    = "already_claimed"
	ReasonUnauthorized      = "unauthorized"
	ReasonStoreUnavailable  = "store_unavailable"
	ReasonDriverBusy        = "driver_busy"
	ReasonInvalidPrice      = "invalid_price"
	ReasonInvalidStatus     = "invalid_status"
	ReasonMalformedMessage  = "malformed_message"
	ReasonInternal          = "internal"
)

// ReasonCode maps an error returned by this package to its client reason code.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrRideNotFound), errors.Is(err, repository.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrInvalidTransition):
		return ReasonInvalidTransition
	case errors.Is(err, ErrAlreadyClaimed):
		return ReasonAlreadyClaimed
	case errors.Is(err, ErrUnauthorized):
		return ReasonUnauthorized
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, repository.ErrStoreUnavailable):
		return ReasonStoreUnavailable
	case errors.Is(err, ErrDriverBusy):
		return ReasonDriverBusy
	case errors.Is(err, ErrInvalidPrice):
		return ReasonInvalidPrice
	case errors.Is(err, ErrInvalidStatus):
		return ReasonInvalidStatus
	default:
		return ReasonInternal
	}
}

func isUnavailable(err error) bool {
	return errors.Is(err, repository.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
