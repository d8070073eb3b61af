package tests

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ridehail/internal/domain"
	"ridehail/internal/repository"
	"ridehail/internal/service"
)

// ──────────────────────────────────────────────
// MOCK RIDE REPOSITORY
// ──────────────────────────────────────────────

// MockRideRepository is a mock implementation of RideRepository with
// compare-and-set semantics and error injection.
type MockRideRepository struct {
	mu    sync.RWMutex
	rides map[string]*domain.Ride

	// Counters for verification
	GetCallCount          int32
	CASCallCount          int32
	FindByDriverCallCount int32
	BulkCallCount         int32

	// Error injection. Queued errors are returned by successive calls
	// before the store behaves normally.
	getErrors   []error
	casErrors   []error
	CreateError error

	// LostReplies makes that many successful compare-and-sets apply the
	// write but report ErrStoreUnavailable.
	LostReplies int32

	// BlockCAS makes compare-and-set wait for its context to end.
	BlockCAS bool

	// BeforeCAS runs before each compare-and-set takes the lock.
	BeforeCAS func()

	// Latency delays driver lookups and compare-and-set, bounded by the
	// call's context.
	Latency time.Duration
}

// NewMockRideRepository creates a new mock ride repository.
func NewMockRideRepository() *MockRideRepository {
	return &MockRideRepository{
		rides: make(map[string]*domain.Ride),
	}
}

var _ repository.RideRepository = (*MockRideRepository)(nil)

// AddRide adds a ride to the mock repository.
func (m *MockRideRepository) AddRide(ride *domain.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *ride
	m.rides[ride.ID] = &copy
}

// FailGets queues errors for the next GetByID calls.
func (m *MockRideRepository) FailGets(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErrors = append(m.getErrors, errs...)
}

// FailCAS queues errors for the next CompareAndSetStatus calls.
func (m *MockRideRepository) FailCAS(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.casErrors = append(m.casErrors, errs...)
}

func (m *MockRideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.AddRide(ride)
	return nil
}

func (m *MockRideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.getErrors) > 0 {
		err := m.getErrors[0]
		m.getErrors = m.getErrors[1:]
		return nil, err
	}
	ride, ok := m.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *ride
	return &copy, nil
}

func (m *MockRideRepository) FindByStatus(ctx context.Context, statuses []domain.RideStatus) ([]*domain.Ride, error) {
	return m.find(func(r *domain.Ride) bool { return hasStatus(statuses, r.Status) }), nil
}

func (m *MockRideRepository) FindByDriver(ctx context.Context, driverID string, statuses []domain.RideStatus) ([]*domain.Ride, error) {
	atomic.AddInt32(&m.FindByDriverCallCount, 1)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.find(func(r *domain.Ride) bool {
		return r.DriverID == driverID && hasStatus(statuses, r.Status)
	}), nil
}

func (m *MockRideRepository) CompareAndSetStatus(ctx context.Context, id string, expected domain.RideStatus, update domain.StatusUpdate) (bool, error) {
	atomic.AddInt32(&m.CASCallCount, 1)
	if m.BeforeCAS != nil {
		m.BeforeCAS()
	}
	if m.BlockCAS {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if err := m.wait(ctx); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.casErrors) > 0 {
		err := m.casErrors[0]
		m.casErrors = m.casErrors[1:]
		return false, err
	}
	ride, ok := m.rides[id]
	if !ok || ride.Status != expected {
		return false, nil
	}
	updated := ride.Apply(update)
	m.rides[id] = &updated
	if atomic.LoadInt32(&m.LostReplies) > 0 {
		atomic.AddInt32(&m.LostReplies, -1)
		return false, repository.ErrStoreUnavailable
	}
	return true, nil
}

func (m *MockRideRepository) BulkSetStatus(ctx context.Context, statuses []domain.RideStatus, newStatus domain.RideStatus, reason string, at time.Time) (int64, error) {
	atomic.AddInt32(&m.BulkCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.rides {
		if hasStatus(statuses, r.Status) {
			updated := r.Apply(domain.StatusUpdate{Status: newStatus, ClearDriver: true, UpdatedAt: at, CancelledAt: at, CancelReason: reason})
			m.rides[id] = &updated
			n++
		}
	}
	return n, nil
}

// GetRide returns the stored ride by ID (for test assertions).
func (m *MockRideRepository) GetRide(id string) *domain.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil
	}
	copy := *ride
	return &copy
}

func (m *MockRideRepository) find(keep func(*domain.Ride) bool) []*domain.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Ride
	for _, r := range m.rides {
		if keep(r) {
			copy := *r
			result = append(result, &copy)
		}
	}
	return result
}

func (m *MockRideRepository) wait(ctx context.Context) error {
	if m.Latency <= 0 {
		return nil
	}
	select {
	case <-time.After(m.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func hasStatus(statuses []domain.RideStatus, s domain.RideStatus) bool {
	for _, c := range statuses {
		if c == s {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────
// MOCK DRIVER LOCKER
// ──────────────────────────────────────────────

// RecordingLocker wraps a LocalDriverLocker and records how long each lock
// was requested for and how long it was actually held.
type RecordingLocker struct {
	inner *service.LocalDriverLocker

	mu       sync.Mutex
	acquired map[string]time.Time
	ttls     []time.Duration
	holds    []time.Duration
}

// NewRecordingLocker creates a new recording locker.
func NewRecordingLocker() *RecordingLocker {
	return &RecordingLocker{inner: service.NewLocalDriverLocker(), acquired: make(map[string]time.Time)}
}

func (l *RecordingLocker) AcquireDriverLock(ctx context.Context, driverID string, ttl time.Duration) (bool, error) {
	ok, err := l.inner.AcquireDriverLock(ctx, driverID, ttl)
	if ok {
		l.mu.Lock()
		l.acquired[driverID] = time.Now()
		l.ttls = append(l.ttls, ttl)
		l.mu.Unlock()
	}
	return ok, err
}

func (l *RecordingLocker) ReleaseDriverLock(ctx context.Context, driverID string) error {
	l.mu.Lock()
	if at, ok := l.acquired[driverID]; ok {
		l.holds = append(l.holds, time.Since(at))
		delete(l.acquired, driverID)
	}
	l.mu.Unlock()
	return l.inner.ReleaseDriverLock(ctx, driverID)
}

// Grants returns the requested ttls and observed hold times, in order.
func (l *RecordingLocker) Grants() (ttls, holds []time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.ttls...), append([]time.Duration(nil), l.holds...)
}

// ──────────────────────────────────────────────
// MOCK NOTIFIER
// ──────────────────────────────────────────────

// MockNotifier records every event it receives.
type MockNotifier struct {
	mu     sync.Mutex
	events []service.RideEvent

	// Error injection
	NotifyError error
}

// NewMockNotifier creates a new mock notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Notify(ctx context.Context, event service.RideEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.NotifyError
}

// Events returns a copy of the recorded events.
func (m *MockNotifier) Events() []service.RideEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]service.RideEvent(nil), m.events...)
}

// ──────────────────────────────────────────────
// MOCK CACHE
// ──────────────────────────────────────────────

// MockRideCache is an in-memory RideCache.
type MockRideCache struct {
	mu    sync.Mutex
	rides map[string]domain.Ride

	InvalidateCallCount int32
}

// NewMockRideCache creates a new mock ride cache.
func NewMockRideCache() *MockRideCache {
	return &MockRideCache{rides: make(map[string]domain.Ride)}
}

func (m *MockRideCache) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[rideID]
	if !ok {
		return nil, nil
	}
	return &ride, nil
}

func (m *MockRideCache) SetRide(ctx context.Context, ride *domain.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.ID] = *ride
	return nil
}

func (m *MockRideCache) InvalidateRide(ctx context.Context, rideID string) error {
	atomic.AddInt32(&m.InvalidateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rides, rideID)
	return nil
}

// ──────────────────────────────────────────────
// HELPERS
// ──────────────────────────────────────────────

var (
	passenger = domain.Principal{ID: "passenger-1", Role: domain.RolePassenger}
	driverA   = domain.Principal{ID: "driver-a", Role: domain.RoleDriver}
	driverB   = domain.Principal{ID: "driver-b", Role: domain.RoleDriver}
	admin     = domain.Principal{ID: "ops-1", Role: domain.RoleAdmin}
)

// newTestService wires a RideService over the mocks with fast retries.
func newTestService(repo *MockRideRepository, notifier *MockNotifier, cache service.RideCache) *service.RideService {
	notifications := service.NewNotificationService(zap.NewNop(), notifier)
	return service.NewRideService(
		repo,
		service.NewLocalDriverLocker(),
		notifications,
		cache,
		service.Options{
			StoreTimeout: 200 * time.Millisecond,
			StoreRetries: 3,
			RetryBackoff: time.Millisecond,
		},
		zap.NewNop(),
	)
}

// rideIn returns a ride fixture in the given status.
func rideIn(id string, status domain.RideStatus, driverID string) *domain.Ride {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Ride{
		ID:          id,
		PassengerID: passenger.ID,
		DriverID:    driverID,
		Status:      status,
		Price:       18.5,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func transition(rideID string, actor domain.Principal, status domain.RideStatus) service.TransitionRequest {
	return service.TransitionRequest{RideID: rideID, Actor: actor, Status: status}
}
