package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"auction_go/pkg/quant"
)

// Status is the derived lifecycle state of an auction instance.
// A single ended flag plus a time comparison backs all three states;
// keeping them distinct makes queries unambiguous.
type Status string

const (
	StatusPending Status = "PENDING" // created, bidding window not yet open
	StatusActive  Status = "ACTIVE"  // accepting bids
	StatusEnded   Status = "ENDED"   // terminal
)

// AuctionConfig is the immutable configuration snapshot taken at creation
// time. Fee fields are copied from the factory at that moment; later fee
// changes never affect an existing auction.
type AuctionConfig struct {
	Seller        Identity
	AssetContract Identity
	AssetID       AssetID
	StartTime     time.Time
	Duration      time.Duration
	ReservePrice  decimal.Decimal // denominated in PaymentAsset
	PaymentAsset  AssetRef
	FeeRateBps    quant.BasisPoints
	FeeRecipient  Identity
}

// EndTime returns the first instant at which the bidding window is closed.
func (c *AuctionConfig) EndTime() time.Time {
	return c.StartTime.Add(c.Duration)
}

// AuctionState is the mutable half of an auction instance.
// Ended is monotonic: once true it never reverts. The normalized highest
// bid strictly increases across accepted bids.
type AuctionState struct {
	Ended           bool
	HighestBidder   Identity
	HighestBid      decimal.Decimal
	HighestBidAsset AssetRef
}

// HasBids reports whether any bid has been accepted.
func (s *AuctionState) HasBids() bool {
	return !s.HighestBidder.IsZero()
}

// StatusAt derives the lifecycle state at the given instant.
func (s *AuctionState) StatusAt(cfg *AuctionConfig, now time.Time) Status {
	if s.Ended {
		return StatusEnded
	}
	if now.Before(cfg.StartTime) {
		return StatusPending
	}
	return StatusActive
}

// AuctionInfo is the consistent read snapshot exposed to clients.
// Field order is stable; indexer code matches positionally.
type AuctionInfo struct {
	Ended         bool            `json:"ended"`
	Seller        Identity        `json:"seller"`
	AssetID       AssetID         `json:"assetId"`
	PayToken      AssetRef        `json:"payToken"`
	HighestBidder Identity        `json:"highestBidder"`
	HighestBid    decimal.Decimal `json:"highestBid"`
	Status        Status          `json:"status"`
}
