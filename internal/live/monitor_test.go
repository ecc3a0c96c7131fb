package live

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// fakeAuctionStore is an in-memory domain.AuctionStore covering what the
// monitor touches.
type fakeAuctionStore struct {
	mu       sync.Mutex
	auctions map[string]domain.Auction
}

func newFakeAuctionStore() *fakeAuctionStore {
	return &fakeAuctionStore{auctions: make(map[string]domain.Auction)}
}

func (s *fakeAuctionStore) Upsert(ctx context.Context, a domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[a.ID] = a
	return nil
}

func (s *fakeAuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *fakeAuctionStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Auction
	for _, a := range s.auctions {
		if a.Status == domain.AuctionActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeAuctionStore) ListExpired(ctx context.Context, asOf time.Time) ([]domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Auction
	for _, a := range s.auctions {
		if a.Status == domain.AuctionActive && a.EndsAt.Before(asOf) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeAuctionStore) SetCurrentBid(ctx context.Context, id, bidder, amount string, count int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.auctions[id]
	a.CurrentBidder, a.CurrentBid, a.BidCount = bidder, amount, count
	a.LastBidAt = &at
	s.auctions[id] = a
	return nil
}

func (s *fakeAuctionStore) UpdateStatus(ctx context.Context, id string, status domain.AuctionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.auctions[id]
	a.Status = status
	s.auctions[id] = a
	return nil
}

func (s *fakeAuctionStore) SetResult(ctx context.Context, id string, status domain.AuctionStatus, winner, finalPrice string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.auctions[id]
	a.Status, a.Winner, a.FinalPrice = status, winner, finalPrice
	s.auctions[id] = a
	return nil
}

func (s *fakeAuctionStore) SetCompliance(ctx context.Context, id string, passed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.auctions[id]
	a.CompliancePassed = &passed
	if passed {
		a.Status = domain.AuctionActive
	} else {
		a.Status = domain.AuctionFailedCompliance
	}
	s.auctions[id] = a
	return nil
}

func (s *fakeAuctionStore) ListSettledUnarchived(ctx context.Context, limit int) ([]domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Auction
	for _, a := range s.auctions {
		if a.Status == domain.AuctionSettled && a.ArchivedAt == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeAuctionStore) MarkArchived(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.auctions[id]
	now := time.Now().UTC()
	a.ArchivedAt = &now
	s.auctions[id] = a
	return nil
}

var _ domain.AuctionStore = (*fakeAuctionStore)(nil)

// recordingSink captures events handed to it.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSink) Handle(ctx context.Context, ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) ofKind(kind domain.EventKind) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

var _ domain.LockManager = (*fakeLocks)(nil)

func newTestMonitor(t *testing.T, store domain.AuctionStore, cache domain.AuctionCache, sink EventSink, reg *Registry) *Monitor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return NewMonitor(store, cache, &fakeLocks{}, reg, sink, time.Minute, 5*time.Second, logger)
}

func TestMonitorClosesExpiredAuctionOnce(t *testing.T) {
	ctx := context.Background()
	store := newFakeAuctionStore()
	cache := newFakeCache()
	sink := &recordingSink{}
	m := newTestMonitor(t, store, cache, sink, NewRegistry())

	now := time.Now().UTC()
	require.NoError(t, store.Upsert(ctx, domain.Auction{
		ID:            "a1",
		Status:        domain.AuctionActive,
		CurrentBid:    "40",
		CurrentBidder: "0xrow",
		BidCount:      3,
		EndsAt:        now.Add(-time.Minute),
	}))

	// The cache is one bid ahead of the read model.
	amount, bidder, count := "55", "0xcache", int64(4)
	_, err := cache.Merge(ctx, "a1", domain.StatePatch{
		CurrentBid: &amount, CurrentBidder: &bidder, BidCount: &count,
	})
	require.NoError(t, err)

	m.ScanOnce(ctx)

	ended := sink.ofKind(domain.EventAuctionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "0xcache", ended[0].End.Winner)
	assert.Equal(t, "55", ended[0].End.FinalPrice)

	a, err := store.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionEnded, a.Status)
	assert.Equal(t, "0xcache", a.Winner)

	// A second scan finds nothing to close and emits nothing.
	m.ScanOnce(ctx)
	assert.Len(t, sink.ofKind(domain.EventAuctionEnded), 1)
}

func TestMonitorSkipsAuctionAlreadyClosedUnderLock(t *testing.T) {
	ctx := context.Background()
	store := newFakeAuctionStore()
	sink := &recordingSink{}
	m := newTestMonitor(t, store, newFakeCache(), sink, NewRegistry())

	now := time.Now().UTC()
	require.NoError(t, store.Upsert(ctx, domain.Auction{
		ID:     "a1",
		Status: domain.AuctionActive,
		EndsAt: now.Add(-time.Minute),
	}))

	// Simulate the chain close event landing between list and lock.
	m.now = func() time.Time { return now }
	listed, err := store.ListExpired(ctx, now)
	require.Len(t, listed, 1)
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, "a1", domain.AuctionEnded))

	m.closeExpired(ctx, listed[0])
	assert.Empty(t, sink.ofKind(domain.EventAuctionEnded))
}

func TestMonitorTicksOnlyOccupiedActiveRooms(t *testing.T) {
	ctx := context.Background()
	store := newFakeAuctionStore()
	sink := &recordingSink{}
	reg := NewRegistry()
	m := newTestMonitor(t, store, newFakeCache(), sink, reg)

	now := time.Now().UTC()
	m.now = func() time.Time { return now }

	require.NoError(t, store.Upsert(ctx, domain.Auction{
		ID: "active", Status: domain.AuctionActive, EndsAt: now.Add(90 * time.Second),
	}))
	require.NoError(t, store.Upsert(ctx, domain.Auction{
		ID: "done", Status: domain.AuctionEnded, EndsAt: now.Add(-time.Hour),
	}))
	require.NoError(t, store.Upsert(ctx, domain.Auction{
		ID: "empty-room", Status: domain.AuctionActive, EndsAt: now.Add(time.Hour),
	}))

	reg.Join("active", Member{ConnID: "c1", Address: "0xa"})
	reg.Join("done", Member{ConnID: "c2", Address: "0xb"})

	m.tickCountdowns(ctx)

	ticks := sink.ofKind(domain.EventCountdownTick)
	require.Len(t, ticks, 1)
	assert.Equal(t, "active", ticks[0].AuctionID)
	assert.Equal(t, 90*time.Second, ticks[0].Tick.Remaining)
}

func TestMonitorCountdownClampsAtZero(t *testing.T) {
	ctx := context.Background()
	store := newFakeAuctionStore()
	sink := &recordingSink{}
	reg := NewRegistry()
	m := newTestMonitor(t, store, newFakeCache(), sink, reg)

	now := time.Now().UTC()
	m.now = func() time.Time { return now }

	require.NoError(t, store.Upsert(ctx, domain.Auction{
		ID: "late", Status: domain.AuctionActive, EndsAt: now.Add(-time.Second),
	}))
	reg.Join("late", Member{ConnID: "c1", Address: "0xa"})

	m.tickCountdowns(ctx)

	ticks := sink.ofKind(domain.EventCountdownTick)
	require.Len(t, ticks, 1)
	assert.Equal(t, time.Duration(0), ticks[0].Tick.Remaining)
}
