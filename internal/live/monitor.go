package live

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// EventSink consumes confirmed domain events. Implemented by Gateway.
type EventSink interface {
	Handle(ctx context.Context, ev domain.Event)
}

// Monitor drives the clock side of the auction lifecycle: it closes auctions
// whose end time has passed without an on-chain close event, and ticks
// countdowns into occupied rooms. Chain events remain authoritative; the
// monitor only fills the gap when the chain is late.
type Monitor struct {
	store             domain.AuctionStore
	cache             domain.AuctionCache
	locks             domain.LockManager
	registry          *Registry
	sink              EventSink
	scanInterval      time.Duration
	countdownInterval time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

// NewMonitor creates a Monitor. locks may be nil when the service runs as a
// single replica.
func NewMonitor(
	store domain.AuctionStore,
	cache domain.AuctionCache,
	locks domain.LockManager,
	registry *Registry,
	sink EventSink,
	scanInterval, countdownInterval time.Duration,
	logger *slog.Logger,
) *Monitor {
	if scanInterval <= 0 {
		scanInterval = time.Minute
	}
	if countdownInterval <= 0 {
		countdownInterval = 5 * time.Second
	}
	return &Monitor{
		store:             store,
		cache:             cache,
		locks:             locks,
		registry:          registry,
		sink:              sink,
		scanInterval:      scanInterval,
		countdownInterval: countdownInterval,
		logger:            logger.With(slog.String("component", "monitor")),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until the context is cancelled, running the expiry scan and the
// countdown ticker concurrently.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(m.scanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				m.ScanOnce(ctx)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(m.countdownInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				m.tickCountdowns(ctx)
			}
		}
	})

	return g.Wait()
}

// ScanOnce finds auctions whose end time has passed while still marked active
// and closes each at most once. Exported so tests can drive scans without the
// ticker.
func (m *Monitor) ScanOnce(ctx context.Context) {
	asOf := m.now()
	expired, err := m.store.ListExpired(ctx, asOf)
	if err != nil {
		m.logger.ErrorContext(ctx, "expiry scan failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, a := range expired {
		m.closeExpired(ctx, a)
	}
}

func (m *Monitor) closeExpired(ctx context.Context, a domain.Auction) {
	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, "auction:end:"+a.ID, 30*time.Second)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				// Another replica is closing this auction.
				return
			}
			m.logger.WarnContext(ctx, "end lock failed, skipping auction",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		defer unlock()
	}

	// Re-read under the lock: the chain close event or another replica may
	// have transitioned the row since the scan listed it.
	fresh, err := m.store.GetByID(ctx, a.ID)
	if err != nil {
		m.logger.WarnContext(ctx, "re-read of expired auction failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if fresh.Status != domain.AuctionActive {
		return
	}

	// Prefer the cache snapshot for the winning bid; it absorbs events the
	// read model has not caught up with. Fall back to the row.
	winner, finalPrice := fresh.CurrentBidder, fresh.CurrentBid
	if st, err := m.cache.Get(ctx, a.ID); err == nil && st.BidCount >= fresh.BidCount {
		winner, finalPrice = st.CurrentBidder, st.CurrentBid
	}

	if err := m.store.SetResult(ctx, a.ID, domain.AuctionEnded, winner, finalPrice); err != nil {
		m.logger.ErrorContext(ctx, "persisting auction end failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	m.logger.InfoContext(ctx, "auction expired by clock",
		slog.String("auction_id", a.ID),
		slog.String("winner", winner),
		slog.String("final_price", finalPrice),
	)

	m.sink.Handle(ctx, domain.Event{
		Kind:      domain.EventAuctionEnded,
		AuctionID: a.ID,
		Time:      m.now(),
		End: &domain.AuctionEndedPayload{
			Winner:     winner,
			FinalPrice: finalPrice,
		},
	})
}

// tickCountdowns emits a countdown_tick into every occupied room whose
// auction is still running. Empty rooms cost nothing.
func (m *Monitor) tickCountdowns(ctx context.Context) {
	now := m.now()
	for _, auctionID := range m.registry.Rooms() {
		a, err := m.store.GetByID(ctx, auctionID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				m.logger.WarnContext(ctx, "countdown lookup failed",
					slog.String("auction_id", auctionID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		if a.Status != domain.AuctionActive {
			continue
		}
		remaining := a.EndsAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}

		m.sink.Handle(ctx, domain.Event{
			Kind:      domain.EventCountdownTick,
			AuctionID: auctionID,
			Time:      now,
			Tick:      &domain.CountdownTickPayload{Remaining: remaining},
		})
	}
}
