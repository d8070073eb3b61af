// Package sweep cancels every ride that has not reached a terminal status.
// It is run by operators between service deployments.
package sweep

import (
	"context"
	"fmt"
	"io"
	"time"

	"ridehail/internal/domain"
)

// Reason is recorded on every ride the sweep cancels.
const Reason = "maintenance sweep"

// Store is the part of the ride store the sweep needs.
type Store interface {
	FindByStatus(ctx context.Context, statuses []domain.RideStatus) ([]*domain.Ride, error)
	BulkSetStatus(ctx context.Context, statuses []domain.RideStatus, newStatus domain.RideStatus, reason string, at time.Time) (int64, error)
}

// Invalidator drops cached copies of rides.
type Invalidator interface {
	InvalidateRide(ctx context.Context, rideID string) error
}

// Result summarizes one sweep.
type Result struct {
	Matched  int
	Modified int64
	// StaleCached counts listed rides whose cached copy could not be dropped.
	// Those copies expire with the cache TTL.
	StaleCached int
}

// Run lists every unfinished ride to out, cancels them with a single bulk
// update, drops their cached copies when cache is non-nil, and prints a
// summary. Running it again finds nothing to do.
func Run(ctx context.Context, store Store, cache Invalidator, out io.Writer, now time.Time) (Result, error) {
	statuses := domain.NonTerminalStatuses()

	rides, err := store.FindByStatus(ctx, statuses)
	if err != nil {
		return Result{}, fmt.Errorf("find unfinished rides: %w", err)
	}

	for _, r := range rides {
		age := now.Sub(r.CreatedAt).Round(time.Second)
		if _, err := fmt.Fprintf(out, "ride %s status=%s age=%s price=%.2f\n", r.ID, r.Status, age, r.Price); err != nil {
			return Result{}, fmt.Errorf("write report: %w", err)
		}
	}

	modified, err := store.BulkSetStatus(ctx, statuses, domain.RideStatusCancelled, Reason, now)
	if err != nil {
		return Result{Matched: len(rides)}, fmt.Errorf("cancel unfinished rides: %w", err)
	}

	res := Result{Matched: len(rides), Modified: modified}
	if cache != nil {
		for _, r := range rides {
			if err := cache.InvalidateRide(ctx, r.ID); err != nil {
				res.StaleCached++
			}
		}
	}
	if _, err := fmt.Fprintf(out, "matched=%d modified=%d\n", res.Matched, res.Modified); err != nil {
		return res, fmt.Errorf("write summary: %w", err)
	}
	return res, nil
}
