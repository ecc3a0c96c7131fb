package domain

import "time"

// EventKind discriminates the DomainEvent union.
type EventKind string

const (
	EventBidPlaced         EventKind = "bid_placed"
	EventAuctionEnded      EventKind = "auction_ended"
	EventAuctionSettled    EventKind = "auction_settled"
	EventComplianceUpdated EventKind = "compliance_updated"
	EventCountdownTick     EventKind = "countdown_tick"
)

// Event is a confirmed domain event flowing from the chain bridge or the
// lifecycle monitor into the broadcast gateway. Exactly one payload pointer
// matching Kind is set. Payloads carry full resulting values (never deltas)
// so that duplicate delivery is harmless and any single message is enough
// for a lossy client to resynchronize.
type Event struct {
	Kind      EventKind
	AuctionID string
	Time      time.Time

	Bid        *BidPlacedPayload
	End        *AuctionEndedPayload
	Settlement *AuctionSettledPayload
	Compliance *ComplianceUpdatedPayload
	Tick       *CountdownTickPayload
}

// BidPlacedPayload mirrors one confirmed bid. Count is the absolute bid count
// after this bid, not an increment.
type BidPlacedPayload struct {
	Bidder   string
	Amount   string
	Count    int64
	PlacedAt time.Time
}

// AuctionEndedPayload carries the outcome of a closed auction.
type AuctionEndedPayload struct {
	Winner     string
	FinalPrice string
}

// AuctionSettledPayload carries the on-chain settlement result.
type AuctionSettledPayload struct {
	Winner        string
	FinalPrice    string
	SettlementRef string
}

// ComplianceUpdatedPayload carries the result of one compliance cycle.
type ComplianceUpdatedPayload struct {
	Passed bool
}

// CountdownTickPayload is advisory only and never merged into the cache.
type CountdownTickPayload struct {
	Remaining time.Duration
}
