package redis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const driverLockPrefix = "lock:driver:"

// releaseScript deletes the lock only while it still carries the holder's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore is a DriverLocker shared by every instance through Redis. Each
// acquisition writes a fresh token, and a release never removes a lock that
// expired and was taken by someone else.
type LockStore struct {
	client *redis.Client

	mu     sync.Mutex
	tokens map[string]string
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client, tokens: make(map[string]string)}
}

// AcquireDriverLock reports whether the driver's lock was free and is now
// held for ttl.
func (s *LockStore) AcquireDriverLock(ctx context.Context, driverID string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, driverLockPrefix+driverID, token, ttl).Result()
	if err != nil || !ok {
		return false, err
	}

	s.mu.Lock()
	s.tokens[driverID] = token
	s.mu.Unlock()
	return true, nil
}

// ReleaseDriverLock drops the driver's lock if this store still holds it.
func (s *LockStore) ReleaseDriverLock(ctx context.Context, driverID string) error {
	s.mu.Lock()
	token, ok := s.tokens[driverID]
	delete(s.tokens, driverID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, s.client, []string{driverLockPrefix + driverID}, token).Err()
}
