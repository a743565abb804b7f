// Package service maintains the read model: an in-memory projection of
// auction summaries built from the committed notification feed, decoupled
// from the engine hotpath by a buffered channel.
package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/event"
	"auction_go/internal/infra/storage"
)

// QueryService consumes committed notifications and serves auction
// summaries to external readers without touching engine state.
type QueryService struct {
	mu       sync.RWMutex
	auctions map[uint64]*domain.AuctionRecord
	eventCh  chan projected
	store    *storage.Storage // optional; nil disables durable summaries
}

// projected is a copy of the fields the read model needs. Committed
// notifications may be pooled, so the ingest boundary copies immediately.
type projected struct {
	seq       uint64
	typ       string
	auctionID uint64
	handle    string
	actor     string
	asset     string
	amount    string
	contract  string
	assetID   uint64
}

// NewQueryService creates the read model. store may be nil.
func NewQueryService(store *storage.Storage) *QueryService {
	return &QueryService{
		auctions: make(map[uint64]*domain.AuctionRecord),
		eventCh:  make(chan projected, 1000), // enough buffer for bid bursts
		store:    store,
	}
}

// Ingest accepts one committed notification. Safe to hand to the engine as
// its event sink; it copies what it keeps and never blocks the caller for
// long (a full buffer drops the projection update, never the event log).
func (s *QueryService) Ingest(ev event.Event) {
	p := projected{
		seq:       ev.GetSeq(),
		typ:       ev.GetType(),
		auctionID: ev.GetAuctionID(),
	}
	switch e := ev.(type) {
	case *event.AuctionCreatedEvent:
		p.handle = string(e.Handle)
		p.actor = string(e.Seller)
		p.contract = string(e.AssetContract)
		p.assetID = uint64(e.AssetID)
	case *event.BidPlacedEvent:
		p.actor = string(e.Bidder)
		p.asset = string(e.Asset)
		p.amount = e.Amount.String()
	case *event.AuctionEndedEvent:
		p.actor = string(e.Winner)
		p.amount = e.FinalAmount.String()
	}

	select {
	case s.eventCh <- p:
	default:
		slog.Warn("Read model buffer full, dropping projection update",
			slog.Uint64("seq", p.seq), slog.String("type", p.typ))
	}
}

// Start runs the background projection loop.
func (s *QueryService) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-s.eventCh:
				s.apply(ctx, p)
			}
		}
	}()
}

func (s *QueryService) apply(ctx context.Context, p projected) {
	s.mu.Lock()
	rec, exists := s.auctions[p.auctionID]
	if !exists {
		rec = &domain.AuctionRecord{AuctionID: p.auctionID, CreatedAt: time.Now()}
		s.auctions[p.auctionID] = rec
	}

	switch p.typ {
	case event.TypeAuctionCreated:
		rec.Handle = p.handle
		rec.Seller = p.actor
		rec.AssetContract = p.contract
		rec.AssetID = p.assetID
		rec.Status = string(domain.StatusActive)
	case event.TypeBidPlaced:
		rec.HighestBidder = p.actor
		rec.HighestBid = p.amount
		rec.BidAsset = p.asset
	case event.TypeAuctionEnded:
		rec.Status = string(domain.StatusEnded)
		rec.HighestBidder = p.actor
		rec.HighestBid = p.amount
	}
	rec.UpdatedAt = time.Now()
	snapshot := *rec
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.UpsertAuction(ctx, &snapshot); err != nil {
			slog.Error("Failed to persist auction summary",
				slog.Uint64("auction_id", p.auctionID), slog.Any("error", err))
		}
	}
}

// GetAll returns all auction summaries sorted by id.
func (s *QueryService) GetAll() []domain.AuctionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuctionRecord, 0, len(s.auctions))
	for _, rec := range s.auctions {
		result = append(result, *rec)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AuctionID < result[j].AuctionID
	})
	return result
}

// Get returns the summary for one auction, or nil if unknown.
func (s *QueryService) Get(auctionID uint64) *domain.AuctionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.auctions[auctionID]
	if !ok {
		return nil
	}
	snapshot := *rec
	return &snapshot
}
