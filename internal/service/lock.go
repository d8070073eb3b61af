package service

import (
	"context"
	"sync"
	"time"
)

// DriverLocker serializes acceptances by the same driver.
type DriverLocker interface {
	AcquireDriverLock(ctx context.Context, driverID string, ttl time.Duration) (bool, error)
	ReleaseDriverLock(ctx context.Context, driverID string) error
}

// LocalDriverLocker is a DriverLocker for a single process.
type LocalDriverLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewLocalDriverLocker creates a new LocalDriverLocker.
func NewLocalDriverLocker() *LocalDriverLocker {
	return &LocalDriverLocker{held: make(map[string]time.Time), clock: time.Now}
}

// AcquireDriverLock takes the lock unless another holder has it and its ttl
// has not run out.
func (l *LocalDriverLocker) AcquireDriverLock(ctx context.Context, driverID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if expires, ok := l.held[driverID]; ok && now.Before(expires) {
		return false, nil
	}
	l.held[driverID] = now.Add(ttl)
	return true, nil
}

// ReleaseDriverLock releases the lock for the given driver.
func (l *LocalDriverLocker) ReleaseDriverLock(ctx context.Context, driverID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, driverID)
	return nil
}
