package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_ForwardPath(t *testing.T) {
	assert.True(t, CanTransition(AuctionCreated, AuctionActive))
	assert.True(t, CanTransition(AuctionActive, AuctionEnded))
	assert.True(t, CanTransition(AuctionEnded, AuctionSettled))
}

func TestCanTransition_ComplianceCycle(t *testing.T) {
	assert.True(t, CanTransition(AuctionActive, AuctionFailedCompliance))
	assert.True(t, CanTransition(AuctionFailedCompliance, AuctionActive))
}

func TestCanTransition_CancelFromNonTerminal(t *testing.T) {
	assert.True(t, CanTransition(AuctionCreated, AuctionCancelled))
	assert.True(t, CanTransition(AuctionActive, AuctionCancelled))
	assert.True(t, CanTransition(AuctionFailedCompliance, AuctionCancelled))
	assert.False(t, CanTransition(AuctionEnded, AuctionCancelled))
	assert.False(t, CanTransition(AuctionSettled, AuctionCancelled))
}

func TestCanTransition_NeverBackward(t *testing.T) {
	assert.False(t, CanTransition(AuctionEnded, AuctionActive))
	assert.False(t, CanTransition(AuctionSettled, AuctionEnded))
	assert.False(t, CanTransition(AuctionCancelled, AuctionActive))
	assert.False(t, CanTransition(AuctionActive, AuctionCreated))
}

func TestCanTransition_UnknownStateAcceptsAnything(t *testing.T) {
	assert.True(t, CanTransition("", AuctionActive))
	assert.True(t, CanTransition("", AuctionSettled))
}

func TestTerminal(t *testing.T) {
	assert.True(t, AuctionEnded.Terminal())
	assert.True(t, AuctionSettled.Terminal())
	assert.True(t, AuctionCancelled.Terminal())
	assert.False(t, AuctionActive.Terminal())
	assert.False(t, AuctionFailedCompliance.Terminal())
	assert.False(t, AuctionCreated.Terminal())
}

func TestStatePatch_ApplyMergesOnlySetFields(t *testing.T) {
	passed := true
	st := AuctionState{
		AuctionID:     "a1",
		Status:        AuctionActive,
		CurrentBid:    "100",
		CurrentBidder: "0xaaa",
		BidCount:      3,
	}

	bid := "150"
	bidder := "0xbbb"
	count := int64(4)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	st.Apply(StatePatch{CurrentBid: &bid, CurrentBidder: &bidder, BidCount: &count}, now)

	assert.Equal(t, "150", st.CurrentBid)
	assert.Equal(t, "0xbbb", st.CurrentBidder)
	assert.Equal(t, int64(4), st.BidCount)
	assert.Equal(t, AuctionActive, st.Status, "unset fields untouched")
	assert.Equal(t, now, st.UpdatedAt)
	assert.Nil(t, st.CompliancePassed)

	st.Apply(StatePatch{CompliancePassed: &passed}, now.Add(time.Second))
	assert.NotNil(t, st.CompliancePassed)
	assert.True(t, *st.CompliancePassed)
	assert.Equal(t, "150", st.CurrentBid)
}

func TestStatePatch_ApplyIsIdempotent(t *testing.T) {
	bid := "42"
	count := int64(7)
	now := time.Now().UTC()

	var a, b AuctionState
	p := StatePatch{CurrentBid: &bid, BidCount: &count}
	a.Apply(p, now)
	b.Apply(p, now)
	b.Apply(p, now)

	assert.Equal(t, a, b)
}

func TestAuctionState_ProjectionFromRow(t *testing.T) {
	last := time.Now().UTC()
	a := Auction{
		ID:            "a9",
		Status:        AuctionEnded,
		CurrentBid:    "500",
		CurrentBidder: "0xccc",
		BidCount:      12,
		Winner:        "0xccc",
		FinalPrice:    "500",
		LastBidAt:     &last,
	}
	st := a.State()
	assert.Equal(t, "a9", st.AuctionID)
	assert.Equal(t, AuctionEnded, st.Status)
	assert.Equal(t, int64(12), st.BidCount)
	assert.Equal(t, "0xccc", st.Winner)
	assert.Equal(t, &last, st.LastBidTime)
}
