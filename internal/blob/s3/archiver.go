package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// Narrow store interfaces: the archiver only requires the methods it actually
// calls, not the full domain store interfaces. The Postgres stores satisfy
// them implicitly.

// AuctionArchiveStore provides the settled-auction queries used for archival.
type AuctionArchiveStore interface {
	ListSettledUnarchived(ctx context.Context, limit int) ([]domain.Auction, error)
	MarkArchived(ctx context.Context, id string) error
}

// BidArchiveStore provides read access to an auction's bid history.
type BidArchiveStore interface {
	ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error)
}

// archiveBatchSize caps how many auctions one sweep uploads.
const archiveBatchSize = 100

// record is the archived object layout: the final auction row plus its full
// bid history, one JSON document per auction.
type record struct {
	Auction    domain.AuctionState `json:"auction"`
	Winner     string              `json:"winner"`
	FinalPrice string              `json:"final_price"`
	Bids       []domain.Bid        `json:"bids"`
	ArchivedAt time.Time           `json:"archived_at"`
}

// Archiver sweeps settled auctions into S3 cold storage so the primary store
// holds only live data. An auction is marked archived only after its object
// upload succeeds; a crashed sweep re-uploads on the next pass.
type Archiver struct {
	writer   domain.BlobWriter
	auctions AuctionArchiveStore
	bids     BidArchiveStore
	interval time.Duration
	logger   *slog.Logger
}

// NewArchiver creates an Archiver sweeping at the given interval.
func NewArchiver(
	writer domain.BlobWriter,
	auctions AuctionArchiveStore,
	bids BidArchiveStore,
	interval time.Duration,
	logger *slog.Logger,
) *Archiver {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Archiver{
		writer:   writer,
		auctions: auctions,
		bids:     bids,
		interval: interval,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := a.SweepOnce(ctx); err != nil {
				a.logger.Error("archive sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.Info("archive sweep complete", slog.Int64("archived", n))
			}
		}
	}
}

// SweepOnce archives one batch of settled auctions and returns how many were
// written.
func (a *Archiver) SweepOnce(ctx context.Context) (int64, error) {
	settled, err := a.auctions.ListSettledUnarchived(ctx, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list settled auctions: %w", err)
	}

	var archived int64
	for _, auction := range settled {
		if err := a.archiveOne(ctx, auction); err != nil {
			// One bad auction must not block the rest of the batch.
			a.logger.Warn("archiving auction failed",
				slog.String("auction_id", auction.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		archived++
	}
	return archived, nil
}

func (a *Archiver) archiveOne(ctx context.Context, auction domain.Auction) error {
	bids, err := a.bids.ListByAuction(ctx, auction.ID, domain.ListOpts{Limit: 10000})
	if err != nil {
		return fmt.Errorf("list bids: %w", err)
	}

	buf, err := marshalRecord(record{
		Auction:    auction.State(),
		Winner:     auction.Winner,
		FinalPrice: auction.FinalPrice,
		Bids:       bids,
		ArchivedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	path := objectPath(auction.ID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}

	if err := a.auctions.MarkArchived(ctx, auction.ID); err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}
	return nil
}

// objectPath builds the S3 key for an archived auction.
//
//	auctions/0x1234....json
func objectPath(auctionID string) string {
	return fmt.Sprintf("auctions/%s.json", auctionID)
}

func marshalRecord(rec record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
