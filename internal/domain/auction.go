package domain

import "time"

// AuctionStatus represents the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionCreated          AuctionStatus = "created"
	AuctionActive           AuctionStatus = "active"
	AuctionEnded            AuctionStatus = "ended"
	AuctionSettled          AuctionStatus = "settled"
	AuctionFailedCompliance AuctionStatus = "failed_compliance"
	AuctionCancelled        AuctionStatus = "cancelled"
)

// Terminal reports whether the status accepts no further bid or compliance
// mutations. Settlement of an ended auction is still permitted; see
// CanTransition.
func (s AuctionStatus) Terminal() bool {
	switch s {
	case AuctionEnded, AuctionSettled, AuctionCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from one status to another is allowed
// by the auction state machine:
//
//	created -> active -> ended -> settled
//	active -> failed_compliance -> active
//	any non-terminal -> cancelled
//
// An empty "from" status means the auction has no known state yet (first
// event or cache miss); any target is accepted in that case.
func CanTransition(from, to AuctionStatus) bool {
	if from == "" || from == to {
		return true
	}
	switch from {
	case AuctionCreated:
		return to == AuctionActive || to == AuctionCancelled
	case AuctionActive:
		return to == AuctionEnded || to == AuctionFailedCompliance || to == AuctionCancelled
	case AuctionFailedCompliance:
		return to == AuctionActive || to == AuctionCancelled
	case AuctionEnded:
		return to == AuctionSettled
	}
	// settled and cancelled accept nothing.
	return false
}

// Auction is the persisted read model of one on-chain auction. The chain is
// the source of truth; rows here are rebuilt from confirmed events and exist
// so the lifecycle monitor and the HTTP API can query without hitting the
// ledger.
type Auction struct {
	ID               string
	LotID            string
	Seller           string
	ReservePrice     string // base-unit amount, base-10 string
	Status           AuctionStatus
	CurrentBid       string
	CurrentBidder    string
	BidCount         int64
	Winner           string
	FinalPrice       string
	CompliancePassed *bool
	StartsAt         time.Time
	EndsAt           time.Time
	LastBidAt        *time.Time
	ArchivedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// State projects the persisted auction row into the cached snapshot shape.
// Used when a viewer asks for an auction whose cache entry has expired.
func (a Auction) State() AuctionState {
	st := AuctionState{
		AuctionID:        a.ID,
		Status:           a.Status,
		CurrentBid:       a.CurrentBid,
		CurrentBidder:    a.CurrentBidder,
		BidCount:         a.BidCount,
		Winner:           a.Winner,
		FinalPrice:       a.FinalPrice,
		CompliancePassed: a.CompliancePassed,
		LastBidTime:      a.LastBidAt,
		UpdatedAt:        a.UpdatedAt,
	}
	return st
}

// AuctionState is the ephemeral per-auction snapshot held in the cache and
// sent to newly joining viewers. It is rebuildable from the store, so cache
// expiry never destroys the auction, only its projection.
type AuctionState struct {
	AuctionID        string        `json:"auction_id,omitempty"`
	Status           AuctionStatus `json:"status,omitempty"`
	CurrentBid       string        `json:"current_bid,omitempty"`
	CurrentBidder    string        `json:"current_bidder,omitempty"`
	BidCount         int64         `json:"bid_count,omitempty"`
	Winner           string        `json:"winner,omitempty"`
	FinalPrice       string        `json:"final_price,omitempty"`
	SettlementRef    string        `json:"settlement_ref,omitempty"`
	CompliancePassed *bool         `json:"compliance_passed,omitempty"`
	LastBidTime      *time.Time    `json:"last_bid_time,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// StatePatch is a shallow partial update of AuctionState. Nil fields are left
// untouched by Apply. Patches carry absolute resulting values, never deltas,
// so re-applying the same patch is idempotent.
type StatePatch struct {
	Status           *AuctionStatus
	CurrentBid       *string
	CurrentBidder    *string
	BidCount         *int64
	Winner           *string
	FinalPrice       *string
	SettlementRef    *string
	CompliancePassed *bool
	LastBidTime      *time.Time
}

// Apply merges the patch into the state field by field and stamps UpdatedAt.
func (s *AuctionState) Apply(p StatePatch, now time.Time) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.CurrentBid != nil {
		s.CurrentBid = *p.CurrentBid
	}
	if p.CurrentBidder != nil {
		s.CurrentBidder = *p.CurrentBidder
	}
	if p.BidCount != nil {
		s.BidCount = *p.BidCount
	}
	if p.Winner != nil {
		s.Winner = *p.Winner
	}
	if p.FinalPrice != nil {
		s.FinalPrice = *p.FinalPrice
	}
	if p.SettlementRef != nil {
		s.SettlementRef = *p.SettlementRef
	}
	if p.CompliancePassed != nil {
		v := *p.CompliancePassed
		s.CompliancePassed = &v
	}
	if p.LastBidTime != nil {
		t := *p.LastBidTime
		s.LastBidTime = &t
	}
	s.UpdatedAt = now
}
