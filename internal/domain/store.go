package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// AuctionStore persists the auction read model.
type AuctionStore interface {
	Upsert(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Auction, error)
	// ListExpired returns auctions still marked active whose end time has
	// passed as of the given instant. The lifecycle monitor scans this.
	ListExpired(ctx context.Context, asOf time.Time) ([]Auction, error)
	// SetCurrentBid records the absolute latest bid mirror on the row.
	SetCurrentBid(ctx context.Context, id, bidder, amount string, count int64, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status AuctionStatus) error
	// SetResult records winner and final price alongside a status change.
	SetResult(ctx context.Context, id string, status AuctionStatus, winner, finalPrice string) error
	SetCompliance(ctx context.Context, id string, passed bool) error
	ListSettledUnarchived(ctx context.Context, limit int) ([]Auction, error)
	MarkArchived(ctx context.Context, id string) error
}

// BidStore persists the append-only bid history.
type BidStore interface {
	Insert(ctx context.Context, b Bid) error
	ListByAuction(ctx context.Context, auctionID string, opts ListOpts) ([]Bid, error)
	CountByAuction(ctx context.Context, auctionID string) (int64, error)
}

// BlobWriter uploads an object to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
