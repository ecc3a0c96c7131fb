package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/alanyoungcy/auctiond/internal/live"
)

type stubAuctionStore struct {
	domain.AuctionStore
	auctions map[string]domain.Auction
}

func (s *stubAuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	a, ok := s.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *stubAuctionStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	var out []domain.Auction
	for _, a := range s.auctions {
		if a.Status == domain.AuctionActive {
			out = append(out, a)
		}
	}
	return out, nil
}

type stubBidStore struct {
	domain.BidStore
	bids map[string][]domain.Bid
}

func (s *stubBidStore) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	return s.bids[auctionID], nil
}

func (s *stubBidStore) CountByAuction(ctx context.Context, auctionID string) (int64, error) {
	return int64(len(s.bids[auctionID])), nil
}

// stubBus serves canned journal entries keyed by stream name.
type stubBus struct {
	domain.SignalBus
	streams map[string][]domain.StreamMessage
}

func (b *stubBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if lastID != "0" && m.ID <= lastID {
			continue
		}
		out = append(out, m)
		if len(out) == count {
			break
		}
	}
	return out, nil
}

type stubCache struct {
	domain.AuctionCache
	states map[string]domain.AuctionState
	err    error
}

func (c *stubCache) Get(ctx context.Context, auctionID string) (domain.AuctionState, error) {
	if c.err != nil {
		return domain.AuctionState{}, c.err
	}
	st, ok := c.states[auctionID]
	if !ok {
		return domain.AuctionState{}, domain.ErrNotFound
	}
	return st, nil
}

func newTestMux(t *testing.T, auctions *stubAuctionStore, bids *stubBidStore, cache *stubCache) *http.ServeMux {
	t.Helper()
	return newTestMuxBus(t, auctions, bids, cache, &stubBus{})
}

func newTestMuxBus(t *testing.T, auctions *stubAuctionStore, bids *stubBidStore, cache *stubCache, bus *stubBus) *http.ServeMux {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(logWriter{t}, nil))
	h := NewAuctionHandler(auctions, bids, cache, bus, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auctions", h.ListAuctions)
	mux.HandleFunc("GET /api/auctions/{id}", h.GetAuction)
	mux.HandleFunc("GET /api/auctions/{id}/bids", h.ListBids)
	mux.HandleFunc("GET /api/auctions/{id}/events", h.ListEvents)
	return mux
}

type logWriter struct{ t *testing.T }

func (w logWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestGetAuctionPrefersCacheSnapshot(t *testing.T) {
	store := &stubAuctionStore{auctions: map[string]domain.Auction{
		"a1": {ID: "a1", Status: domain.AuctionActive, CurrentBid: "10"},
	}}
	cache := &stubCache{states: map[string]domain.AuctionState{
		"a1": {AuctionID: "a1", Status: domain.AuctionActive, CurrentBid: "25", BidCount: 3},
	}}
	mux := newTestMux(t, store, &stubBidStore{}, cache)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auctions/a1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var st domain.AuctionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "25", st.CurrentBid)
	assert.Equal(t, int64(3), st.BidCount)
}

func TestGetAuctionFallsBackToStoreOnCacheFailure(t *testing.T) {
	store := &stubAuctionStore{auctions: map[string]domain.Auction{
		"a1": {ID: "a1", Status: domain.AuctionEnded, Winner: "0xw", FinalPrice: "99"},
	}}
	cache := &stubCache{err: domain.ErrCacheUnavailable}
	mux := newTestMux(t, store, &stubBidStore{}, cache)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auctions/a1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var st domain.AuctionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, domain.AuctionEnded, st.Status)
	assert.Equal(t, "99", st.FinalPrice)
}

func TestGetAuctionUnknownReturns404(t *testing.T) {
	mux := newTestMux(t, &stubAuctionStore{auctions: map[string]domain.Auction{}},
		&stubBidStore{}, &stubCache{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auctions/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBidsReturnsHistory(t *testing.T) {
	store := &stubAuctionStore{auctions: map[string]domain.Auction{
		"a1": {ID: "a1", Status: domain.AuctionActive},
	}}
	bids := &stubBidStore{bids: map[string][]domain.Bid{
		"a1": {
			{ID: "b2", AuctionID: "a1", Amount: "20", Count: 2, PlacedAt: time.Now().UTC()},
			{ID: "b1", AuctionID: "a1", Amount: "10", Count: 1, PlacedAt: time.Now().UTC()},
		},
	}}
	mux := newTestMux(t, store, bids, &stubCache{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auctions/a1/bids", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		AuctionID string       `json:"auction_id"`
		Bids      []domain.Bid `json:"bids"`
		Count     int          `json:"count"`
		Total     int64        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, int64(2), body.Total)
	assert.Equal(t, "20", body.Bids[0].Amount)
}

func TestListEventsReplaysJournal(t *testing.T) {
	store := &stubAuctionStore{auctions: map[string]domain.Auction{
		"a1": {ID: "a1", Status: domain.AuctionActive},
	}}
	bus := &stubBus{streams: map[string][]domain.StreamMessage{
		live.JournalStream("a1"): {
			{ID: "1-0", Payload: []byte(`{"type":"new_bid","payload":{"auction_id":"a1","amount":"10"}}`)},
			{ID: "2-0", Payload: []byte(`not json`)},
			{ID: "3-0", Payload: []byte(`{"type":"auction_ended","payload":{"auction_id":"a1","winner":"0xw"}}`)},
		},
	}}
	mux := newTestMuxBus(t, store, &stubBidStore{}, &stubCache{}, bus)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auctions/a1/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Events []struct {
			ID      string         `json:"id"`
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		} `json:"events"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	// The malformed entry is skipped, not fatal.
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "new_bid", body.Events[0].Type)
	assert.Equal(t, "1-0", body.Events[0].ID)
	assert.Equal(t, "auction_ended", body.Events[1].Type)

	// Paging forward from the first cursor skips already-seen entries.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auctions/a1/events?after=1-0", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "auction_ended", body.Events[0].Type)
}

func TestListEventsUnknownAuctionReturns404(t *testing.T) {
	mux := newTestMux(t, &stubAuctionStore{auctions: map[string]domain.Auction{}},
		&stubBidStore{}, &stubCache{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auctions/nope/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAuctionsProjectsState(t *testing.T) {
	store := &stubAuctionStore{auctions: map[string]domain.Auction{
		"a1": {ID: "a1", Status: domain.AuctionActive, CurrentBid: "5"},
		"a2": {ID: "a2", Status: domain.AuctionSettled},
	}}
	mux := newTestMux(t, store, &stubBidStore{}, &stubCache{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auctions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Auctions []domain.AuctionState `json:"auctions"`
		Count    int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "a1", body.Auctions[0].AuctionID)
}
