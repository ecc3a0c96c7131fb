package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given connection
// pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionCols = `id, lot_id, seller, reserve_price, status,
	current_bid, current_bidder, bid_count, winner, final_price,
	compliance_passed, starts_at, ends_at, last_bid_at, archived_at,
	created_at, updated_at`

// Upsert inserts or updates a single auction row.
func (s *AuctionStore) Upsert(ctx context.Context, a domain.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, lot_id, seller, reserve_price, status,
			current_bid, current_bidder, bid_count, winner, final_price,
			compliance_passed, starts_at, ends_at, last_bid_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			lot_id            = EXCLUDED.lot_id,
			seller            = EXCLUDED.seller,
			reserve_price     = EXCLUDED.reserve_price,
			status            = EXCLUDED.status,
			current_bid       = EXCLUDED.current_bid,
			current_bidder    = EXCLUDED.current_bidder,
			bid_count         = EXCLUDED.bid_count,
			winner            = EXCLUDED.winner,
			final_price       = EXCLUDED.final_price,
			compliance_passed = EXCLUDED.compliance_passed,
			starts_at         = EXCLUDED.starts_at,
			ends_at           = EXCLUDED.ends_at,
			last_bid_at       = EXCLUDED.last_bid_at,
			updated_at        = NOW()`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.LotID, a.Seller, a.ReservePrice, string(a.Status),
		a.CurrentBid, a.CurrentBidder, a.BidCount, a.Winner, a.FinalPrice,
		a.CompliancePassed, a.StartsAt, a.EndsAt, a.LastBidAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert auction %s: %w", a.ID, err)
	}
	return nil
}

// scanAuction scans a single auction row into a domain.Auction.
func scanAuction(row pgx.Row) (domain.Auction, error) {
	var a domain.Auction
	var status string
	err := row.Scan(
		&a.ID, &a.LotID, &a.Seller, &a.ReservePrice, &status,
		&a.CurrentBid, &a.CurrentBidder, &a.BidCount, &a.Winner, &a.FinalPrice,
		&a.CompliancePassed, &a.StartsAt, &a.EndsAt, &a.LastBidAt, &a.ArchivedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}
	a.Status = domain.AuctionStatus(status)
	return a, nil
}

// GetByID retrieves an auction by its primary key. It returns
// domain.ErrNotFound when no row exists.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// ListActive returns active auctions ordered by end time.
func (s *AuctionStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionCols+` FROM auctions
		 WHERE status = $1
		 ORDER BY ends_at ASC
		 LIMIT $2 OFFSET $3`,
		string(domain.AuctionActive), limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active auctions: %w", err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

// ListExpired returns auctions still marked active whose end time has passed
// as of the given instant.
func (s *AuctionStore) ListExpired(ctx context.Context, asOf time.Time) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionCols+` FROM auctions
		 WHERE status = $1 AND ends_at < $2
		 ORDER BY ends_at ASC`,
		string(domain.AuctionActive), asOf)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired auctions: %w", err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

// SetCurrentBid records the absolute latest confirmed bid on the row.
func (s *AuctionStore) SetCurrentBid(ctx context.Context, id, bidder, amount string, count int64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE auctions SET
			current_bid = $2, current_bidder = $3, bid_count = $4,
			last_bid_at = $5, updated_at = NOW()
		 WHERE id = $1`,
		id, amount, bidder, count, at)
	if err != nil {
		return fmt.Errorf("postgres: set current bid for auction %s: %w", id, err)
	}
	return nil
}

// UpdateStatus moves an auction to the given status.
func (s *AuctionStore) UpdateStatus(ctx context.Context, id string, status domain.AuctionStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE auctions SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update auction %s status: %w", id, err)
	}
	return nil
}

// SetResult records winner and final price alongside a status change.
func (s *AuctionStore) SetResult(ctx context.Context, id string, status domain.AuctionStatus, winner, finalPrice string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE auctions SET
			status = $2, winner = $3, final_price = $4, updated_at = NOW()
		 WHERE id = $1`,
		id, string(status), winner, finalPrice)
	if err != nil {
		return fmt.Errorf("postgres: set result for auction %s: %w", id, err)
	}
	return nil
}

// SetCompliance records the outcome of one compliance cycle.
func (s *AuctionStore) SetCompliance(ctx context.Context, id string, passed bool) error {
	status := domain.AuctionActive
	if !passed {
		status = domain.AuctionFailedCompliance
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE auctions SET
			compliance_passed = $2, status = $3, updated_at = NOW()
		 WHERE id = $1`,
		id, passed, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set compliance for auction %s: %w", id, err)
	}
	return nil
}

// ListSettledUnarchived returns settled auctions not yet written to cold
// storage.
func (s *AuctionStore) ListSettledUnarchived(ctx context.Context, limit int) ([]domain.Auction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionCols+` FROM auctions
		 WHERE status = $1 AND archived_at IS NULL
		 ORDER BY updated_at ASC
		 LIMIT $2`,
		string(domain.AuctionSettled), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled unarchived auctions: %w", err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

// MarkArchived stamps an auction as written to cold storage.
func (s *AuctionStore) MarkArchived(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE auctions SET archived_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark auction %s archived: %w", id, err)
	}
	return nil
}

func collectAuctions(rows pgx.Rows) ([]domain.Auction, error) {
	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate auctions: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.AuctionStore = (*AuctionStore)(nil)
