package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/redis/go-redis/v9"
)

// defaultStateTTL is how long a cached auction snapshot lives without being
// touched. Expiry only drops the projection; the auction itself is rebuilt
// from the store or the next event.
const defaultStateTTL = 24 * time.Hour

// mergeRetries bounds the optimistic-concurrency retry loop in Merge.
const mergeRetries = 5

// AuctionCache implements domain.AuctionCache using one JSON value per
// auction.
//
// Key schema:
//
//	auction:state:{id} - JSON-serialized domain.AuctionState
//
// Merge is a WATCH-guarded read-modify-write, so concurrent partial updates
// for the same auction resolve to a serializable order (last writer wins per
// field). The TTL is refreshed on every merge.
type AuctionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAuctionCache creates an AuctionCache backed by the given Client. A
// non-positive ttl falls back to the 24h default.
func NewAuctionCache(c *Client, ttl time.Duration) *AuctionCache {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &AuctionCache{rdb: c.Underlying(), ttl: ttl}
}

func stateKey(id string) string { return "auction:state:" + id }

// Get retrieves the cached snapshot for an auction. It returns
// domain.ErrNotFound when no entry exists and wraps domain.ErrCacheUnavailable
// on backend failure so callers can degrade instead of aborting.
func (ac *AuctionCache) Get(ctx context.Context, auctionID string) (domain.AuctionState, error) {
	data, err := ac.rdb.Get(ctx, stateKey(auctionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AuctionState{}, domain.ErrNotFound
		}
		return domain.AuctionState{}, fmt.Errorf("redis: get auction state %s: %w (%v)", auctionID, domain.ErrCacheUnavailable, err)
	}

	var st domain.AuctionState
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.AuctionState{}, fmt.Errorf("redis: unmarshal auction state %s: %w", auctionID, err)
	}
	return st, nil
}

// Merge applies a shallow partial update to the cached snapshot and returns
// the resulting state. A missing entry starts from the empty state, so an
// event for an unknown auction creates its projection rather than failing.
func (ac *AuctionCache) Merge(ctx context.Context, auctionID string, patch domain.StatePatch) (domain.AuctionState, error) {
	key := stateKey(auctionID)
	var merged domain.AuctionState

	txn := func(tx *redis.Tx) error {
		var st domain.AuctionState
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if uerr := json.Unmarshal(data, &st); uerr != nil {
				// A corrupt entry is overwritten rather than wedging the
				// auction forever.
				st = domain.AuctionState{}
			}
		case errors.Is(err, redis.Nil):
			// First write for this auction.
		default:
			return err
		}

		if st.AuctionID == "" {
			st.AuctionID = auctionID
		}
		st.Apply(patch, time.Now().UTC())

		out, err := json.Marshal(st)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ac.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		merged = st
		return nil
	}

	for i := 0; i < mergeRetries; i++ {
		err := ac.rdb.Watch(ctx, txn, key)
		if err == nil {
			return merged, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // lost the race, re-read and retry
		}
		return domain.AuctionState{}, fmt.Errorf("redis: merge auction state %s: %w (%v)", auctionID, domain.ErrCacheUnavailable, err)
	}
	return domain.AuctionState{}, fmt.Errorf("redis: merge auction state %s: %w (tx contention)", auctionID, domain.ErrCacheUnavailable)
}

// Expire drops the cached projection for an auction.
func (ac *AuctionCache) Expire(ctx context.Context, auctionID string) error {
	if err := ac.rdb.Del(ctx, stateKey(auctionID)).Err(); err != nil {
		return fmt.Errorf("redis: expire auction state %s: %w", auctionID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AuctionCache = (*AuctionCache)(nil)
