package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/alanyoungcy/auctiond/internal/live"
)

// AuctionHandler serves the read-only auction endpoints. Writes never happen
// here; all mutations flow from the chain bridge and the lifecycle monitor.
type AuctionHandler struct {
	auctions domain.AuctionStore
	bids     domain.BidStore
	cache    domain.AuctionCache
	bus      domain.SignalBus
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctions domain.AuctionStore, bids domain.BidStore, cache domain.AuctionCache, bus domain.SignalBus, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		bids:     bids,
		cache:    cache,
		bus:      bus,
		logger:   logger,
	}
}

// ListAuctions returns active auctions ordered by end time.
// GET /api/auctions
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	log := logHandler(h.logger, "list_auctions")

	auctions, err := h.auctions.ListActive(r.Context(), parseListOpts(r))
	if err != nil {
		log.Error("list active auctions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list auctions")
		return
	}

	out := make([]domain.AuctionState, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, a.State())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"auctions": out,
		"count":    len(out),
	})
}

// GetAuction returns one auction's live snapshot. The cache is consulted
// first because it absorbs events the read model has not caught up with; a
// cold or unavailable cache falls back to the persisted row.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	log := logHandler(h.logger, "get_auction")
	id := pathParam(r, "id")

	st, err := h.cache.Get(r.Context(), id)
	if err == nil {
		writeJSON(w, http.StatusOK, st)
		return
	}
	if !errors.Is(err, domain.ErrNotFound) {
		log.Warn("cache read failed, falling back to store",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
	}

	a, err := h.auctions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "auction not found")
			return
		}
		log.Error("get auction", slog.String("auction_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get auction")
		return
	}
	writeJSON(w, http.StatusOK, a.State())
}

// ListBids returns an auction's confirmed bid history, most recent first.
// GET /api/auctions/{id}/bids
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	log := logHandler(h.logger, "list_bids")
	id := pathParam(r, "id")

	if _, err := h.auctions.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "auction not found")
			return
		}
		log.Error("get auction", slog.String("auction_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get auction")
		return
	}

	bids, err := h.bids.ListByAuction(r.Context(), id, parseListOpts(r))
	if err != nil {
		log.Error("list bids", slog.String("auction_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list bids")
		return
	}
	if bids == nil {
		bids = []domain.Bid{}
	}

	// total covers the whole history; count is just this page.
	total, err := h.bids.CountByAuction(r.Context(), id)
	if err != nil {
		log.Error("count bids", slog.String("auction_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list bids")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"bids":       bids,
		"count":      len(bids),
		"total":      total,
	})
}

// ListEvents replays an auction's journal: the durable stream of broadcast
// envelopes the gateway appends for every event except countdown ticks. A
// client that missed live messages pages forward with ?after=<stream id>.
// GET /api/auctions/{id}/events
func (h *AuctionHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	log := logHandler(h.logger, "list_events")
	id := pathParam(r, "id")

	if _, err := h.auctions.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "auction not found")
			return
		}
		log.Error("get auction", slog.String("auction_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get auction")
		return
	}

	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0" // from the beginning of the journal
	}
	limit := parseListOpts(r).Limit

	msgs, err := h.bus.StreamRead(r.Context(), live.JournalStream(id), after, limit)
	if err != nil {
		log.Error("read journal", slog.String("auction_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	events := make([]journalEvent, 0, len(msgs))
	for _, m := range msgs {
		var env live.Envelope
		if err := json.Unmarshal(m.Payload, &env); err != nil {
			log.Warn("malformed journal entry skipped",
				slog.String("auction_id", id),
				slog.String("stream_id", m.ID),
			)
			continue
		}
		events = append(events, journalEvent{ID: m.ID, Type: env.Type, Payload: env.Payload})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"events":     events,
		"count":      len(events),
	})
}

// journalEvent is one replayed envelope; ID is the stream cursor for the
// client's next ?after.
type journalEvent struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}
