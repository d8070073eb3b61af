package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrStoreUnavailable is returned when the backing store cannot be reached
	// or did not answer in time. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)
