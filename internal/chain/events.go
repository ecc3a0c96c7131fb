package chain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// auctionABI describes the auction house events this service consumes. Only
// events are listed; the service never calls contract methods.
const auctionABI = `[
	{"type":"event","name":"AuctionCreated","inputs":[
		{"name":"auctionId","type":"bytes32","indexed":true},
		{"name":"seller","type":"address","indexed":true},
		{"name":"lotId","type":"bytes32","indexed":false},
		{"name":"reservePrice","type":"uint256","indexed":false},
		{"name":"startTime","type":"uint256","indexed":false},
		{"name":"endTime","type":"uint256","indexed":false}]},
	{"type":"event","name":"BidPlaced","inputs":[
		{"name":"auctionId","type":"bytes32","indexed":true},
		{"name":"bidder","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"bidCount","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"AuctionEnded","inputs":[
		{"name":"auctionId","type":"bytes32","indexed":true},
		{"name":"winner","type":"address","indexed":true},
		{"name":"finalPrice","type":"uint256","indexed":false}]},
	{"type":"event","name":"AuctionSettled","inputs":[
		{"name":"auctionId","type":"bytes32","indexed":true},
		{"name":"winner","type":"address","indexed":true},
		{"name":"finalPrice","type":"uint256","indexed":false},
		{"name":"settlementRef","type":"bytes32","indexed":false}]},
	{"type":"event","name":"ComplianceUpdated","inputs":[
		{"name":"auctionId","type":"bytes32","indexed":true},
		{"name":"passed","type":"bool","indexed":false}]},
	{"type":"event","name":"AuctionCancelled","inputs":[
		{"name":"auctionId","type":"bytes32","indexed":true}]}
]`

var contractABI = mustParseABI()

func mustParseABI() abi.ABI {
	a, err := abi.JSON(strings.NewReader(auctionABI))
	if err != nil {
		panic(fmt.Sprintf("chain: parse auction ABI: %v", err))
	}
	return a
}

// AuctionCreatedEvent is the decoded form of an AuctionCreated log. It seeds
// the read model rather than flowing through the broadcast gateway.
type AuctionCreatedEvent struct {
	AuctionID    string
	Seller       string
	LotID        string
	ReservePrice string
	StartsAt     time.Time
	EndsAt       time.Time
}

// Decoded is the union of everything a contract log can decode into. Exactly
// one field is set.
type Decoded struct {
	Created   *AuctionCreatedEvent
	Event     *domain.Event
	Cancelled string // auction ID
}

// DecodeLog decodes one contract log. The bool is false for logs that do not
// match any known event signature (other contracts, removed events).
func DecodeLog(lg types.Log) (Decoded, bool, error) {
	if lg.Removed || len(lg.Topics) == 0 {
		return Decoded{}, false, nil
	}
	ev, err := contractABI.EventByID(lg.Topics[0])
	if err != nil {
		return Decoded{}, false, nil
	}
	if len(lg.Topics) < 2 {
		return Decoded{}, false, fmt.Errorf("chain: %s log missing auction id topic", ev.Name)
	}
	auctionID := lg.Topics[1].Hex()

	fields := make(map[string]any)
	if err := contractABI.UnpackIntoMap(fields, ev.Name, lg.Data); err != nil {
		return Decoded{}, false, fmt.Errorf("chain: unpack %s: %w", ev.Name, err)
	}

	switch ev.Name {
	case "AuctionCreated":
		return Decoded{Created: &AuctionCreatedEvent{
			AuctionID:    auctionID,
			Seller:       topicAddress(lg, 2),
			LotID:        hashField(fields, "lotId"),
			ReservePrice: bigField(fields, "reservePrice"),
			StartsAt:     timeField(fields, "startTime"),
			EndsAt:       timeField(fields, "endTime"),
		}}, true, nil

	case "BidPlaced":
		placedAt := timeField(fields, "timestamp")
		count := int64(0)
		if n, ok := fields["bidCount"].(*big.Int); ok {
			count = n.Int64()
		}
		return Decoded{Event: &domain.Event{
			Kind:      domain.EventBidPlaced,
			AuctionID: auctionID,
			Time:      placedAt,
			Bid: &domain.BidPlacedPayload{
				Bidder:   topicAddress(lg, 2),
				Amount:   bigField(fields, "amount"),
				Count:    count,
				PlacedAt: placedAt,
			},
		}}, true, nil

	case "AuctionEnded":
		return Decoded{Event: &domain.Event{
			Kind:      domain.EventAuctionEnded,
			AuctionID: auctionID,
			Time:      time.Now().UTC(),
			End: &domain.AuctionEndedPayload{
				Winner:     topicAddress(lg, 2),
				FinalPrice: bigField(fields, "finalPrice"),
			},
		}}, true, nil

	case "AuctionSettled":
		return Decoded{Event: &domain.Event{
			Kind:      domain.EventAuctionSettled,
			AuctionID: auctionID,
			Time:      time.Now().UTC(),
			Settlement: &domain.AuctionSettledPayload{
				Winner:        topicAddress(lg, 2),
				FinalPrice:    bigField(fields, "finalPrice"),
				SettlementRef: hashField(fields, "settlementRef"),
			},
		}}, true, nil

	case "ComplianceUpdated":
		passed, _ := fields["passed"].(bool)
		return Decoded{Event: &domain.Event{
			Kind:       domain.EventComplianceUpdated,
			AuctionID:  auctionID,
			Time:       time.Now().UTC(),
			Compliance: &domain.ComplianceUpdatedPayload{Passed: passed},
		}}, true, nil

	case "AuctionCancelled":
		return Decoded{Cancelled: auctionID}, true, nil
	}

	return Decoded{}, false, nil
}

func topicAddress(lg types.Log, idx int) string {
	if len(lg.Topics) <= idx {
		return ""
	}
	return common.HexToAddress(lg.Topics[idx].Hex()).Hex()
}

// bigField renders a uint256 field as a base-10 string; amounts never pass
// through float or int64.
func bigField(fields map[string]any, name string) string {
	n, ok := fields[name].(*big.Int)
	if !ok {
		return "0"
	}
	return n.String()
}

func timeField(fields map[string]any, name string) time.Time {
	n, ok := fields[name].(*big.Int)
	if !ok {
		return time.Now().UTC()
	}
	return time.Unix(n.Int64(), 0).UTC()
}

func hashField(fields map[string]any, name string) string {
	b, ok := fields[name].([32]byte)
	if !ok {
		return ""
	}
	return common.BytesToHash(b[:]).Hex()
}
