package chain

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

func packLog(t *testing.T, event string, topics []common.Hash, args ...any) types.Log {
	t.Helper()
	ev, ok := contractABI.Events[event]
	require.True(t, ok, "unknown event %s", event)

	data, err := ev.Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)

	return types.Log{
		Topics:      append([]common.Hash{ev.ID}, topics...),
		Data:        data,
		TxHash:      common.HexToHash("0xfeed"),
		BlockNumber: 42,
	}
}

func auctionTopic(id string) common.Hash {
	return common.HexToHash(id)
}

func addressTopic(addr string) common.Hash {
	return common.BytesToHash(common.HexToAddress(addr).Bytes())
}

func TestDecodeBidPlaced(t *testing.T) {
	placedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lg := packLog(t, "BidPlaced",
		[]common.Hash{auctionTopic("0x01"), addressTopic("0xabc0000000000000000000000000000000000001")},
		big.NewInt(1_500_000), big.NewInt(7), big.NewInt(placedAt.Unix()),
	)

	dec, ok, err := DecodeLog(lg)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, dec.Event)

	ev := dec.Event
	assert.Equal(t, domain.EventBidPlaced, ev.Kind)
	assert.Equal(t, auctionTopic("0x01").Hex(), ev.AuctionID)
	require.NotNil(t, ev.Bid)
	assert.Equal(t, "1500000", ev.Bid.Amount)
	assert.Equal(t, int64(7), ev.Bid.Count)
	assert.Equal(t, placedAt, ev.Bid.PlacedAt)
	assert.Equal(t, common.HexToAddress("0xabc0000000000000000000000000000000000001").Hex(), ev.Bid.Bidder)
}

func TestDecodeAuctionCreated(t *testing.T) {
	starts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ends := starts.Add(24 * time.Hour)
	var lot [32]byte
	copy(lot[:], []byte("lot-9"))

	lg := packLog(t, "AuctionCreated",
		[]common.Hash{auctionTopic("0x02"), addressTopic("0x5e11e4000000000000000000000000000000000a")},
		lot, big.NewInt(1000), big.NewInt(starts.Unix()), big.NewInt(ends.Unix()),
	)

	dec, ok, err := DecodeLog(lg)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, dec.Created)

	c := dec.Created
	assert.Equal(t, auctionTopic("0x02").Hex(), c.AuctionID)
	assert.Equal(t, "1000", c.ReservePrice)
	assert.Equal(t, starts, c.StartsAt)
	assert.Equal(t, ends, c.EndsAt)
	assert.Equal(t, common.BytesToHash(lot[:]).Hex(), c.LotID)
}

func TestDecodeSettlementAndCompliance(t *testing.T) {
	var ref [32]byte
	copy(ref[:], []byte("settle-1"))
	lg := packLog(t, "AuctionSettled",
		[]common.Hash{auctionTopic("0x03"), addressTopic("0xabc0000000000000000000000000000000000002")},
		big.NewInt(999), ref,
	)

	dec, ok, err := DecodeLog(lg)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, dec.Event)
	require.NotNil(t, dec.Event.Settlement)
	assert.Equal(t, "999", dec.Event.Settlement.FinalPrice)
	assert.Equal(t, common.BytesToHash(ref[:]).Hex(), dec.Event.Settlement.SettlementRef)

	lg = packLog(t, "ComplianceUpdated", []common.Hash{auctionTopic("0x03")}, false)
	dec, ok, err = DecodeLog(lg)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, dec.Event)
	require.NotNil(t, dec.Event.Compliance)
	assert.False(t, dec.Event.Compliance.Passed)
}

func TestDecodeIgnoresForeignAndRemovedLogs(t *testing.T) {
	_, ok, err := DecodeLog(types.Log{
		Topics: []common.Hash{common.HexToHash("0xdead")},
	})
	require.NoError(t, err)
	assert.False(t, ok)

	lg := packLog(t, "AuctionCancelled", []common.Hash{auctionTopic("0x04")})
	lg.Removed = true
	_, ok, err = DecodeLog(lg)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeCancelled(t *testing.T) {
	lg := packLog(t, "AuctionCancelled", []common.Hash{auctionTopic("0x05")})
	dec, ok, err := DecodeLog(lg)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, auctionTopic("0x05").Hex(), dec.Cancelled)
}
