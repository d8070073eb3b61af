package redis

import "ridehail/internal/service"

// Ensure concrete types implement the service contracts.
var (
	_ service.RideCache    = (*CacheStore)(nil)
	_ service.DriverLocker = (*LockStore)(nil)
	_ service.Notifier     = (*EventBus)(nil)
)
