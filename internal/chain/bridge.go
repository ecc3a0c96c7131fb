// Package chain subscribes to the auction house contract's event logs and
// turns them into confirmed domain events. The chain is the source of truth:
// everything downstream (cache, read model, broadcasts) is rebuilt from what
// this package observes.
package chain

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"

	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/alanyoungcy/auctiond/internal/live"
)

const (
	reconnectBase = 2 * time.Second
	reconnectMax  = 60 * time.Second
)

// Bridge maintains a WebSocket subscription to the contract's logs and feeds
// decoded events into the store and the broadcast gateway. It reconnects with
// exponential backoff on disconnect; the node redelivers at least once, so
// downstream consumers tolerate duplicates.
type Bridge struct {
	wsURL    string
	contract common.Address
	auctions domain.AuctionStore
	bids     domain.BidStore
	cache    domain.AuctionCache
	sink     live.EventSink
	logger   *slog.Logger
}

// NewBridge creates a Bridge for the given node endpoint and contract.
func NewBridge(
	wsURL, contractAddress string,
	auctions domain.AuctionStore,
	bids domain.BidStore,
	cache domain.AuctionCache,
	sink live.EventSink,
	logger *slog.Logger,
) *Bridge {
	return &Bridge{
		wsURL:    wsURL,
		contract: common.HexToAddress(contractAddress),
		auctions: auctions,
		bids:     bids,
		cache:    cache,
		sink:     sink,
		logger:   logger.With(slog.String("component", "chain_bridge")),
	}
}

// Run connects and consumes logs until ctx is cancelled. Reconnects with
// backoff on disconnect.
func (b *Bridge) Run(ctx context.Context) error {
	backoff := reconnectBase
	for {
		err := b.runSubscription(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn("chain subscription lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (b *Bridge) runSubscription(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, b.wsURL)
	if err != nil {
		return err
	}
	defer client.Close()

	logs := make(chan types.Log, 256)
	sub, err := client.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{b.contract},
	}, logs)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	b.logger.Info("subscribed to contract logs",
		slog.String("contract", b.contract.Hex()),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case lg := <-logs:
			b.handleLog(ctx, lg)
		}
	}
}

// handleLog decodes and applies one log. Persistence failures are logged and
// the broadcast proceeds anyway; the read model catches up on redelivery.
func (b *Bridge) handleLog(ctx context.Context, lg types.Log) {
	dec, ok, err := DecodeLog(lg)
	if err != nil {
		b.logger.Warn("undecodable contract log",
			slog.String("tx", lg.TxHash.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		return
	}

	switch {
	case dec.Created != nil:
		b.handleCreated(ctx, *dec.Created)
	case dec.Cancelled != "":
		b.handleCancelled(ctx, dec.Cancelled)
	case dec.Event != nil:
		b.persist(ctx, *dec.Event, lg)
		b.sink.Handle(ctx, *dec.Event)
	}
}

func (b *Bridge) handleCreated(ctx context.Context, ev AuctionCreatedEvent) {
	status := domain.AuctionCreated
	if !ev.StartsAt.After(time.Now().UTC()) {
		status = domain.AuctionActive
	}
	err := b.auctions.Upsert(ctx, domain.Auction{
		ID:           ev.AuctionID,
		LotID:        ev.LotID,
		Seller:       ev.Seller,
		ReservePrice: ev.ReservePrice,
		Status:       status,
		StartsAt:     ev.StartsAt,
		EndsAt:       ev.EndsAt,
	})
	if err != nil {
		b.logger.Error("persist created auction failed",
			slog.String("auction_id", ev.AuctionID),
			slog.String("error", err.Error()),
		)
		return
	}

	// Seed the cache so the first viewer sees a status before any bid.
	if _, err := b.cache.Merge(ctx, ev.AuctionID, domain.StatePatch{Status: &status}); err != nil {
		b.logger.Warn("seed cache for created auction failed",
			slog.String("auction_id", ev.AuctionID),
			slog.String("error", err.Error()),
		)
	}

	b.logger.Info("auction created",
		slog.String("auction_id", ev.AuctionID),
		slog.String("seller", ev.Seller),
		slog.Time("ends_at", ev.EndsAt),
	)
}

func (b *Bridge) handleCancelled(ctx context.Context, auctionID string) {
	if err := b.auctions.UpdateStatus(ctx, auctionID, domain.AuctionCancelled); err != nil {
		b.logger.Error("persist cancelled auction failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	}
	cancelled := domain.AuctionCancelled
	if _, err := b.cache.Merge(ctx, auctionID, domain.StatePatch{Status: &cancelled}); err != nil {
		b.logger.Warn("cache merge for cancelled auction failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	}
	b.logger.Info("auction cancelled", slog.String("auction_id", auctionID))
}

func (b *Bridge) persist(ctx context.Context, ev domain.Event, lg types.Log) {
	var err error
	switch ev.Kind {
	case domain.EventBidPlaced:
		err = b.bids.Insert(ctx, domain.Bid{
			ID:          uuid.New().String(),
			AuctionID:   ev.AuctionID,
			Bidder:      ev.Bid.Bidder,
			Amount:      ev.Bid.Amount,
			Count:       ev.Bid.Count,
			TxHash:      lg.TxHash.Hex(),
			BlockNumber: lg.BlockNumber,
			PlacedAt:    ev.Bid.PlacedAt,
		})
		if err == nil {
			err = b.auctions.SetCurrentBid(ctx, ev.AuctionID,
				ev.Bid.Bidder, ev.Bid.Amount, ev.Bid.Count, ev.Bid.PlacedAt)
		}
	case domain.EventAuctionEnded:
		err = b.auctions.SetResult(ctx, ev.AuctionID,
			domain.AuctionEnded, ev.End.Winner, ev.End.FinalPrice)
	case domain.EventAuctionSettled:
		err = b.auctions.SetResult(ctx, ev.AuctionID,
			domain.AuctionSettled, ev.Settlement.Winner, ev.Settlement.FinalPrice)
	case domain.EventComplianceUpdated:
		err = b.auctions.SetCompliance(ctx, ev.AuctionID, ev.Compliance.Passed)
	}
	if err != nil {
		b.logger.Warn("read model update failed",
			slog.String("auction_id", ev.AuctionID),
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}
