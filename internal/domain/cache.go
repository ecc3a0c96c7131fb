package domain

import (
	"context"
	"time"
)

// AuctionCache holds the last-known snapshot per auction with expiry.
type AuctionCache interface {
	// Get returns the cached snapshot, or ErrNotFound when no entry exists.
	Get(ctx context.Context, auctionID string) (AuctionState, error)
	// Merge applies a shallow partial update and returns the resulting state.
	// The merge must reflect a serializable ordering of concurrent callers;
	// it refreshes both UpdatedAt and the entry's TTL. A backend failure is
	// retryable and must not be treated as fatal by callers.
	Merge(ctx context.Context, auctionID string, patch StatePatch) (AuctionState, error)
	// Expire drops the cached projection. The auction itself is unaffected.
	Expire(ctx context.Context, auctionID string) error
}

// StreamMessage is a single entry read back from an event journal stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus mirrors envelopes to cross-process pub/sub and keeps a durable
// per-auction event journal. The pub/sub read side lives in external
// consumers; subscribing in-process would double-deliver to local rooms.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides distributed locking, used by the lifecycle monitor so
// that replicated instances emit each clock-driven transition once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides distributed rate limiting for the HTTP surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
