package domain

import "errors"

var (
	// ErrNotFound is returned by stores and caches when no record exists.
	ErrNotFound = errors.New("not found")

	// ErrCacheUnavailable wraps cache backend failures. It is retryable:
	// callers degrade to event-payload data rather than fail.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrLockHeld is returned when a distributed lock is owned elsewhere.
	ErrLockHeld = errors.New("lock already held")
)
