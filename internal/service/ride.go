package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ridehail/internal/domain"
	"ridehail/internal/metrics"
	"ridehail/internal/repository"
)

const (
	minDriverLockTTL = 5 * time.Second

	// maxTransitionAttempts bounds how often a transition is re-read and
	// re-validated after losing a compare-and-set.
	maxTransitionAttempts = 3
)

// RideCache is a read-through cache for single rides.
type RideCache interface {
	GetRide(ctx context.Context, rideID string) (*domain.Ride, error)
	SetRide(ctx context.Context, ride *domain.Ride) error
	InvalidateRide(ctx context.Context, rideID string) error
}

// Options bound every call the service makes to the ride store.
type Options struct {
	StoreTimeout time.Duration
	StoreRetries int
	RetryBackoff time.Duration
}

// RideService owns the ride lifecycle: creation, reads, and every status change.
type RideService struct {
	rideRepo            repository.RideRepository
	locker              DriverLocker
	notificationService *NotificationService
	cache               RideCache
	opts                Options
	log                 *zap.Logger
	now                 func() time.Time
}

// NewRideService creates a new RideService. cache may be nil.
func NewRideService(
	rideRepo repository.RideRepository,
	locker DriverLocker,
	notificationService *NotificationService,
	cache RideCache,
	opts Options,
	log *zap.Logger,
) *RideService {
	if opts.StoreRetries < 1 {
		opts.StoreRetries = 1
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 3 * time.Second
	}
	return &RideService{
		rideRepo:            rideRepo,
		locker:              locker,
		notificationService: notificationService,
		cache:               cache,
		opts:                opts,
		log:                 log,
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// CreateRideRequest contains the parameters for creating a ride.
type CreateRideRequest struct {
	Price float64
}

// CreateRide creates a pending ride for the passenger and announces it to
// drivers.
func (s *RideService) CreateRide(ctx context.Context, actor domain.Principal, req CreateRideRequest) (*domain.Ride, error) {
	if actor.ID == "" || actor.Role != domain.RolePassenger {
		return nil, ErrUnauthorized
	}
	if req.Price < 0 || math.IsNaN(req.Price) || math.IsInf(req.Price, 0) {
		return nil, ErrInvalidPrice
	}

	now := s.now()
	ride := &domain.Ride{
		ID:          uuid.New().String(),
		PassengerID: actor.ID,
		Status:      domain.RideStatusPending,
		Price:       req.Price,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// A timed-out insert may have landed, so creation is attempted once.
	if err := s.call(ctx, "create", 1, func(ctx context.Context) error {
		return s.rideRepo.Create(ctx, ride)
	}); err != nil {
		return nil, err
	}

	s.log.Info("ride created",
		zap.String("ride_id", ride.ID),
		zap.String("passenger_id", ride.PassengerID),
		zap.Float64("price", ride.Price),
	)
	if s.notificationService != nil {
		s.notificationService.NotifyRideRequested(ctx, *ride)
	}
	return ride, nil
}

// GetRide returns the ride if the actor may see it.
func (s *RideService) GetRide(ctx context.Context, actor domain.Principal, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrRideNotFound
	}

	if s.cache != nil {
		cached, err := s.cache.GetRide(ctx, rideID)
		if err != nil {
			s.log.Warn("ride cache read failed", zap.String("ride_id", rideID), zap.Error(err))
		} else if cached != nil {
			if !domain.MayView(*cached, actor) {
				return nil, ErrUnauthorized
			}
			return cached, nil
		}
	}

	ride, err := s.load(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !domain.MayView(*ride, actor) {
		return nil, ErrUnauthorized
	}

	if s.cache != nil {
		if err := s.cache.SetRide(ctx, ride); err != nil {
			s.log.Warn("ride cache write failed", zap.String("ride_id", rideID), zap.Error(err))
		}
	}
	return ride, nil
}

// ListRides returns rides in the given statuses. Admins may list anything;
// drivers may only list open (pending) requests.
func (s *RideService) ListRides(ctx context.Context, actor domain.Principal, statuses []domain.RideStatus) ([]*domain.Ride, error) {
	for _, st := range statuses {
		if !domain.ValidStatus(st) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, st)
		}
	}

	switch actor.Role {
	case domain.RoleAdmin:
		if len(statuses) == 0 {
			statuses = append(domain.NonTerminalStatuses(), domain.RideStatusCompleted, domain.RideStatusCancelled)
		}
	case domain.RoleDriver:
		if len(statuses) == 0 {
			statuses = []domain.RideStatus{domain.RideStatusPending}
		}
		for _, st := range statuses {
			if st != domain.RideStatusPending {
				return nil, ErrUnauthorized
			}
		}
	default:
		return nil, ErrUnauthorized
	}

	var rides []*domain.Ride
	err := s.call(ctx, "find_by_status", s.opts.StoreRetries, func(ctx context.Context) error {
		var err error
		rides, err = s.rideRepo.FindByStatus(ctx, statuses)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rides, nil
}

// TransitionRequest asks for a ride to move to Status on behalf of Actor.
type TransitionRequest struct {
	RideID string
	Actor  domain.Principal
	Status domain.RideStatus
	// Price optionally replaces the ride price on completion.
	Price *float64
}

// Transition validates and applies one status change. The write is a
// compare-and-set on the status read, so of two concurrent acceptances
// exactly one succeeds and the other gets ErrAlreadyClaimed. Events are
// emitted only after the write is confirmed.
func (s *RideService) Transition(ctx context.Context, req TransitionRequest) (*domain.Ride, error) {
	ride, err := s.transition(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = ReasonCode(err)
	}
	metrics.RideTransitions.WithLabelValues(string(req.Status), outcome).Inc()
	return ride, err
}

func (s *RideService) transition(ctx context.Context, req TransitionRequest) (*domain.Ride, error) {
	if req.RideID == "" {
		return nil, ErrRideNotFound
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		ride, err := s.load(ctx, req.RideID)
		if err != nil {
			return nil, err
		}

		// After a lost compare-and-set, the ride may already show this
		// actor's own write from an attempt whose reply was lost.
		if attempt > 0 && s.alreadyApplied(*ride, req) {
			s.afterWrite(ctx, *ride, *ride)
			return ride, nil
		}

		update, err := s.plan(*ride, req)
		if err != nil {
			return nil, err
		}

		applied, err := s.apply(ctx, *ride, req, update)
		if err != nil {
			return nil, err
		}
		if applied {
			updated := ride.Apply(update)
			s.log.Info("ride transitioned",
				zap.String("ride_id", updated.ID),
				zap.String("from", string(ride.Status)),
				zap.String("to", string(updated.Status)),
				zap.String("actor_id", req.Actor.ID),
				zap.String("actor_role", string(req.Actor.Role)),
			)
			s.afterWrite(ctx, *ride, updated)
			return &updated, nil
		}

		s.log.Debug("ride changed concurrently, re-reading",
			zap.String("ride_id", req.RideID),
			zap.Int("attempt", attempt+1),
		)
	}

	return nil, fmt.Errorf("%w: ride %s kept changing", ErrInvalidTransition, req.RideID)
}

// plan validates the request against the persisted ride and returns the
// write to perform.
func (s *RideService) plan(ride domain.Ride, req TransitionRequest) (domain.StatusUpdate, error) {
	to := req.Status
	if !domain.ValidStatus(to) || to == domain.RideStatusPending || domain.IsTerminal(ride.Status) {
		return domain.StatusUpdate{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ride.Status, to)
	}
	if to == domain.RideStatusAccepted && ride.DriverID != "" {
		return domain.StatusUpdate{}, ErrAlreadyClaimed
	}
	if !domain.CanTransition(ride.Status, to) {
		return domain.StatusUpdate{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ride.Status, to)
	}
	if req.Actor.ID == "" || !domain.MayMove(ride, req.Actor, to) {
		return domain.StatusUpdate{}, ErrUnauthorized
	}
	if req.Price != nil {
		p := *req.Price
		if to != domain.RideStatusCompleted || p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return domain.StatusUpdate{}, ErrInvalidPrice
		}
	}

	now := s.now()
	update := domain.StatusUpdate{Status: to, UpdatedAt: now, Price: req.Price}
	switch to {
	case domain.RideStatusAccepted:
		update.DriverID = req.Actor.ID
	case domain.RideStatusCancelled:
		update.ClearDriver = true
		update.CancelledAt = now
		update.CancelReason = "cancelled by " + string(req.Actor.Role)
	}
	return update, nil
}

// apply performs the conditional write. Acceptances hold the driver lock
// and re-check that the driver has no other unfinished ride.
func (s *RideService) apply(ctx context.Context, ride domain.Ride, req TransitionRequest, update domain.StatusUpdate) (bool, error) {
	if req.Status == domain.RideStatusAccepted {
		driverID := req.Actor.ID
		if s.locker != nil {
			acquired, err := s.locker.AcquireDriverLock(ctx, driverID, s.driverLockTTL())
			if err != nil {
				return false, fmt.Errorf("%w: driver lock: %v", ErrStoreUnavailable, err)
			}
			if !acquired {
				return false, ErrDriverBusy
			}
			defer func() {
				if err := s.locker.ReleaseDriverLock(context.WithoutCancel(ctx), driverID); err != nil {
					s.log.Warn("release driver lock failed", zap.String("driver_id", driverID), zap.Error(err))
				}
			}()
		}

		var active []*domain.Ride
		err := s.call(ctx, "find_by_driver", s.opts.StoreRetries, func(ctx context.Context) error {
			var err error
			active, err = s.rideRepo.FindByDriver(ctx, driverID, domain.NonTerminalStatuses())
			return err
		})
		if err != nil {
			return false, err
		}
		for _, r := range active {
			if r.ID != ride.ID {
				return false, ErrDriverBusy
			}
		}
	}

	var applied bool
	err := s.call(ctx, "compare_and_set", s.opts.StoreRetries, func(ctx context.Context) error {
		var err error
		applied, err = s.rideRepo.CompareAndSetStatus(ctx, ride.ID, ride.Status, update)
		return err
	})
	return applied, err
}

// driverLockTTL outlasts the driver-busy read and the write together, each
// at its full retry budget, twice over.
func (s *RideService) driverLockTTL() time.Duration {
	perCall := time.Duration(s.opts.StoreRetries) * s.opts.StoreTimeout
	backoff := s.opts.RetryBackoff
	for i := 1; i < s.opts.StoreRetries; i++ {
		perCall += backoff
		backoff *= 2
	}
	ttl := 2 * 2 * perCall
	if ttl < minDriverLockTTL {
		ttl = minDriverLockTTL
	}
	return ttl
}

func (s *RideService) alreadyApplied(ride domain.Ride, req TransitionRequest) bool {
	if ride.Status != req.Status || req.Status == domain.RideStatusCancelled {
		return false
	}
	return req.Actor.Role == domain.RoleDriver && ride.DriverID == req.Actor.ID
}

func (s *RideService) afterWrite(ctx context.Context, before, after domain.Ride) {
	if s.cache != nil {
		if err := s.cache.InvalidateRide(ctx, after.ID); err != nil {
			s.log.Warn("ride cache invalidation failed", zap.String("ride_id", after.ID), zap.Error(err))
		}
	}
	if s.notificationService != nil {
		s.notificationService.NotifyStatusChanged(ctx, before, after)
	}
}

func (s *RideService) load(ctx context.Context, rideID string) (*domain.Ride, error) {
	var ride *domain.Ride
	err := s.call(ctx, "get", s.opts.StoreRetries, func(ctx context.Context) error {
		var err error
		ride, err = s.rideRepo.GetByID(ctx, rideID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRideNotFound
		}
		return nil, err
	}
	return ride, nil
}

// call runs fn under the store timeout, retrying with doubling backoff
// while the store reports itself unavailable.
func (s *RideService) call(ctx context.Context, op string, attempts int, fn func(context.Context) error) error {
	backoff := s.opts.RetryBackoff
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		err = fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		if !isUnavailable(err) {
			return err
		}
		if ctx.Err() != nil || attempt == attempts {
			break
		}

		metrics.StoreRetries.WithLabelValues(op).Inc()
		s.log.Warn("ride store unavailable, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
