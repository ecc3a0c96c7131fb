package domain

import "time"

// Bid is one confirmed bid as mirrored from the chain. Amounts are base-unit
// strings to avoid float truncation of uint256 values.
type Bid struct {
	ID          string    `json:"id"`
	AuctionID   string    `json:"auction_id"`
	Bidder      string    `json:"bidder"`
	Amount      string    `json:"amount"`
	Count       int64     `json:"bid_count"` // running bid count at the time of this bid
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	PlacedAt    time.Time `json:"placed_at"`
}
