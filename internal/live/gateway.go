// Package live implements the real-time auction state sync core: room
// membership, per-auction ordered event dispatch, the broadcast gateway that
// mirrors confirmed events into the state cache and fans them out to viewers,
// and the clock-driven lifecycle monitor.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// Fanout is the transport-side delivery surface the gateway pushes envelopes
// through. Implementations must never block the caller: a slow or failed
// connection is the transport's problem and must not stall delivery to the
// rest of the room.
type Fanout interface {
	Send(connID string, payload []byte)
	Broadcast(auctionID string, payload []byte)
	BroadcastExcept(auctionID, exceptConnID string, payload []byte)
}

// Notifier delivers operator alerts. Implemented by notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Envelope is the wire format pushed to WebSocket clients.
type Envelope struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// MirrorChannel is the pub/sub channel an auction's envelopes are mirrored to
// for out-of-process consumers.
func MirrorChannel(auctionID string) string { return "ch:auction:" + auctionID }

// JournalStream is the durable per-auction envelope journal. Countdown ticks
// are not journaled.
func JournalStream(auctionID string) string { return "journal:auction:" + auctionID }

// Gateway applies confirmed domain events to the state cache and fans the
// result out to the auction's room. Events for one auction are applied in
// delivery order through the per-auction dispatcher; the gateway never
// reorders by block position, that is the bridge's contract.
type Gateway struct {
	cache    domain.AuctionCache
	registry *Registry
	fanout   Fanout
	bus      domain.SignalBus // optional, mirrors envelopes cross-process
	notifier Notifier         // optional
	dispatch *Dispatcher
	logger   *slog.Logger
}

// NewGateway creates a Gateway. bus and notifier may be nil.
func NewGateway(
	cache domain.AuctionCache,
	registry *Registry,
	fanout Fanout,
	bus domain.SignalBus,
	notifier Notifier,
	dispatch *Dispatcher,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		cache:    cache,
		registry: registry,
		fanout:   fanout,
		bus:      bus,
		notifier: notifier,
		dispatch: dispatch,
		logger:   logger.With(slog.String("component", "gateway")),
	}
}

// Handle enqueues one confirmed event for ordered application. It never
// returns an error: failures inside the gateway are scoped to the auction or
// connection involved and reported through logging.
func (g *Gateway) Handle(ctx context.Context, ev domain.Event) {
	if ev.AuctionID == "" {
		g.logger.WarnContext(ctx, "event without auction id dropped",
			slog.String("kind", string(ev.Kind)),
		)
		return
	}
	g.dispatch.Submit(ev.AuctionID, func() {
		g.apply(ctx, ev)
	})
}

func (g *Gateway) apply(ctx context.Context, ev domain.Event) {
	switch ev.Kind {
	case domain.EventBidPlaced:
		g.applyBid(ctx, ev)
	case domain.EventAuctionEnded:
		g.applyEnded(ctx, ev)
	case domain.EventAuctionSettled:
		g.applySettled(ctx, ev)
	case domain.EventComplianceUpdated:
		g.applyCompliance(ctx, ev)
	case domain.EventCountdownTick:
		g.applyTick(ctx, ev)
	default:
		g.logger.WarnContext(ctx, "unknown event kind ignored",
			slog.String("kind", string(ev.Kind)),
			slog.String("auction_id", ev.AuctionID),
		)
	}
}

// current reads the cached snapshot, degrading to the empty state on a cache
// miss or backend failure. The bool reports whether the snapshot is usable
// for a terminal-status guard (a failed cache read is not).
func (g *Gateway) current(ctx context.Context, auctionID string) (domain.AuctionState, bool) {
	st, err := g.cache.Get(ctx, auctionID)
	switch {
	case err == nil:
		return st, true
	case errors.Is(err, domain.ErrNotFound):
		// Unknown auction: start from the empty state rather than fail.
		return domain.AuctionState{AuctionID: auctionID}, true
	default:
		g.logger.WarnContext(ctx, "cache read failed, proceeding from event payload",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		return domain.AuctionState{AuctionID: auctionID}, false
	}
}

// merge applies the patch to the cache. On cache failure it falls back to an
// in-memory projection built from prior (the degraded snapshot), so the
// broadcast still carries full values from the event itself.
func (g *Gateway) merge(ctx context.Context, auctionID string, prior domain.AuctionState, patch domain.StatePatch) domain.AuctionState {
	st, err := g.cache.Merge(ctx, auctionID, patch)
	if err != nil {
		g.logger.WarnContext(ctx, "cache merge failed, broadcasting from event payload",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		prior.Apply(patch, time.Now().UTC())
		return prior
	}
	return st
}

func (g *Gateway) applyBid(ctx context.Context, ev domain.Event) {
	bid := ev.Bid
	if bid == nil {
		return
	}

	st, guarded := g.current(ctx, ev.AuctionID)
	if guarded && st.Status.Terminal() {
		g.logger.WarnContext(ctx, "bid for terminal auction ignored",
			slog.String("auction_id", ev.AuctionID),
			slog.String("status", string(st.Status)),
			slog.String("bidder", bid.Bidder),
		)
		return
	}

	placedAt := bid.PlacedAt
	st = g.merge(ctx, ev.AuctionID, st, domain.StatePatch{
		CurrentBid:    &bid.Amount,
		CurrentBidder: &bid.Bidder,
		BidCount:      &bid.Count,
		LastBidTime:   &placedAt,
	})

	// Full resulting values, not deltas: any single message is enough for a
	// late-joining or lossy client to resynchronize.
	g.emit(ctx, ev.AuctionID, Envelope{
		Type: "new_bid",
		Payload: map[string]any{
			"auction_id": ev.AuctionID,
			"bidder":     bid.Bidder,
			"amount":     bid.Amount,
			"bid_count":  st.BidCount,
			"timestamp":  placedAt.UTC().Format(time.RFC3339),
		},
	})
}

func (g *Gateway) applyEnded(ctx context.Context, ev domain.Event) {
	end := ev.End
	if end == nil {
		return
	}

	st, guarded := g.current(ctx, ev.AuctionID)
	if guarded && !domain.CanTransition(st.Status, domain.AuctionEnded) {
		g.logger.WarnContext(ctx, "auction_ended for terminal auction ignored",
			slog.String("auction_id", ev.AuctionID),
			slog.String("status", string(st.Status)),
		)
		return
	}

	ended := domain.AuctionEnded
	g.merge(ctx, ev.AuctionID, st, domain.StatePatch{
		Status:     &ended,
		Winner:     &end.Winner,
		FinalPrice: &end.FinalPrice,
	})

	g.emit(ctx, ev.AuctionID, Envelope{
		Type: "auction_ended",
		Payload: map[string]any{
			"auction_id":  ev.AuctionID,
			"winner":      end.Winner,
			"final_price": end.FinalPrice,
			"timestamp":   ev.Time.UTC().Format(time.RFC3339),
		},
	})
	g.notify(ctx, "auction_ended", "Auction ended",
		"auction "+ev.AuctionID+" won by "+end.Winner+" at "+end.FinalPrice)
}

func (g *Gateway) applySettled(ctx context.Context, ev domain.Event) {
	settle := ev.Settlement
	if settle == nil {
		return
	}

	st, guarded := g.current(ctx, ev.AuctionID)
	if guarded && !domain.CanTransition(st.Status, domain.AuctionSettled) {
		g.logger.WarnContext(ctx, "auction_settled rejected by status guard",
			slog.String("auction_id", ev.AuctionID),
			slog.String("status", string(st.Status)),
		)
		return
	}

	settled := domain.AuctionSettled
	g.merge(ctx, ev.AuctionID, st, domain.StatePatch{
		Status:        &settled,
		Winner:        &settle.Winner,
		FinalPrice:    &settle.FinalPrice,
		SettlementRef: &settle.SettlementRef,
	})

	g.emit(ctx, ev.AuctionID, Envelope{
		Type: "auction_settled",
		Payload: map[string]any{
			"auction_id":     ev.AuctionID,
			"winner":         settle.Winner,
			"final_price":    settle.FinalPrice,
			"settlement_ref": settle.SettlementRef,
			"timestamp":      ev.Time.UTC().Format(time.RFC3339),
		},
	})
	g.notify(ctx, "auction_settled", "Auction settled",
		"auction "+ev.AuctionID+" settled for "+settle.FinalPrice)
}

func (g *Gateway) applyCompliance(ctx context.Context, ev domain.Event) {
	comp := ev.Compliance
	if comp == nil {
		return
	}

	target := domain.AuctionActive
	if !comp.Passed {
		target = domain.AuctionFailedCompliance
	}

	st, guarded := g.current(ctx, ev.AuctionID)
	if guarded && !domain.CanTransition(st.Status, target) {
		g.logger.WarnContext(ctx, "compliance update for terminal auction ignored",
			slog.String("auction_id", ev.AuctionID),
			slog.String("status", string(st.Status)),
		)
		return
	}

	passed := comp.Passed
	g.merge(ctx, ev.AuctionID, st, domain.StatePatch{
		Status:           &target,
		CompliancePassed: &passed,
	})

	g.emit(ctx, ev.AuctionID, Envelope{
		Type: "compliance_update",
		Payload: map[string]any{
			"auction_id": ev.AuctionID,
			"passed":     comp.Passed,
			"timestamp":  ev.Time.UTC().Format(time.RFC3339),
		},
	})
	if !comp.Passed {
		g.notify(ctx, "compliance_failed", "Compliance failed",
			"auction "+ev.AuctionID+" failed its compliance check")
	}
}

// applyTick broadcasts the remaining time without touching the cache: ticks
// are advisory and carry no durable state.
func (g *Gateway) applyTick(ctx context.Context, ev domain.Event) {
	tick := ev.Tick
	if tick == nil {
		return
	}
	g.emit(ctx, ev.AuctionID, Envelope{
		Type: "countdown_update",
		Payload: map[string]any{
			"auction_id":     ev.AuctionID,
			"time_remaining": int64(tick.Remaining.Seconds()),
			"timestamp":      ev.Time.UTC().Format(time.RFC3339),
		},
	})
}

// HandleJoin admits a connection to an auction room. The caller immediately
// receives the current snapshot (possibly empty) so no prior event is needed
// to render the auction; existing members are told someone joined.
func (g *Gateway) HandleJoin(ctx context.Context, auctionID, userAddress, connID string) {
	newly := g.registry.Join(auctionID, Member{ConnID: connID, Address: userAddress})

	st, _ := g.current(ctx, auctionID)
	g.send(connID, Envelope{
		Type: "auction_joined",
		Payload: map[string]any{
			"auction_id":   auctionID,
			"state":        st,
			"viewer_count": g.registry.CountOf(auctionID),
		},
	})

	if newly {
		g.broadcastExcept(auctionID, connID, Envelope{
			Type: "user_joined",
			Payload: map[string]any{
				"auction_id":   auctionID,
				"user_address": userAddress,
				"viewer_count": g.registry.CountOf(auctionID),
			},
		})
	}
}

// HandleLeave removes a connection from one room and tells the remaining
// members.
func (g *Gateway) HandleLeave(ctx context.Context, auctionID, connID string) {
	m, ok := g.registry.Leave(auctionID, connID)
	if !ok {
		return
	}
	g.broadcastExcept(auctionID, connID, Envelope{
		Type: "user_left",
		Payload: map[string]any{
			"auction_id":   auctionID,
			"user_address": m.Address,
			"viewer_count": g.registry.CountOf(auctionID),
		},
	})
}

// HandleDisconnect clears every membership of a dropped connection. The
// transport calls this unconditionally on teardown; no leave message is
// required.
func (g *Gateway) HandleDisconnect(ctx context.Context, connID string) {
	for auctionID, m := range g.registry.RemoveConnection(connID) {
		g.broadcastExcept(auctionID, connID, Envelope{
			Type: "user_left",
			Payload: map[string]any{
				"auction_id":   auctionID,
				"user_address": m.Address,
				"viewer_count": g.registry.CountOf(auctionID),
			},
		})
	}
}

// emit broadcasts an envelope to the room and mirrors it on the signal bus
// and the auction's journal stream.
func (g *Gateway) emit(ctx context.Context, auctionID string, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		g.logger.ErrorContext(ctx, "marshal envelope",
			slog.String("auction_id", auctionID),
			slog.String("type", env.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	g.fanout.Broadcast(auctionID, data)

	if g.bus != nil {
		if err := g.bus.Publish(ctx, MirrorChannel(auctionID), data); err != nil {
			g.logger.WarnContext(ctx, "bus publish failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		}
		if env.Type != "countdown_update" {
			if err := g.bus.StreamAppend(ctx, JournalStream(auctionID), data); err != nil {
				g.logger.WarnContext(ctx, "journal append failed",
					slog.String("auction_id", auctionID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (g *Gateway) send(connID string, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		g.logger.Error("marshal envelope", slog.String("error", err.Error()))
		return
	}
	g.fanout.Send(connID, data)
}

func (g *Gateway) broadcastExcept(auctionID, connID string, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		g.logger.Error("marshal envelope", slog.String("error", err.Error()))
		return
	}
	g.fanout.BroadcastExcept(auctionID, connID, data)
}

func (g *Gateway) notify(ctx context.Context, event, title, message string) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.Notify(ctx, event, title, message); err != nil {
		g.logger.WarnContext(ctx, "notifier failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
