package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL. The bids table is
// append-only; duplicates from at-least-once chain delivery are absorbed by a
// unique constraint.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a new BidStore backed by the given connection pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

// Insert stores a confirmed bid. Re-inserting the same confirmed bid is a
// no-op.
func (s *BidStore) Insert(ctx context.Context, b domain.Bid) error {
	const query = `
		INSERT INTO bids (
			id, auction_id, bidder, amount, bid_count,
			tx_hash, block_number, placed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (auction_id, bid_count, tx_hash) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		b.ID, b.AuctionID, b.Bidder, b.Amount, b.Count,
		b.TxHash, b.BlockNumber, b.PlacedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bid %s: %w", b.ID, err)
	}
	return nil
}

// ListByAuction returns an auction's bids, most recent first.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, auction_id, bidder, amount, bid_count,
			tx_hash, block_number, placed_at
		 FROM bids
		 WHERE auction_id = $1
		 ORDER BY placed_at DESC
		 LIMIT $2 OFFSET $3`,
		auctionID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	var out []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate bids: %w", err)
	}
	return out, nil
}

// CountByAuction returns the number of stored bids for an auction.
func (s *BidStore) CountByAuction(ctx context.Context, auctionID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bids WHERE auction_id = $1`, auctionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count bids for auction %s: %w", auctionID, err)
	}
	return n, nil
}

func scanBid(row pgx.Row) (domain.Bid, error) {
	var b domain.Bid
	err := row.Scan(
		&b.ID, &b.AuctionID, &b.Bidder, &b.Amount, &b.Count,
		&b.TxHash, &b.BlockNumber, &b.PlacedAt,
	)
	if err != nil {
		return domain.Bid{}, err
	}
	return b, nil
}

// Compile-time interface check.
var _ domain.BidStore = (*BidStore)(nil)
