package event

import (
	"github.com/shopspring/decimal"

	"auction_go/internal/domain"
)

// Event is a notification emitted by the engine after a state change has
// been committed. Seq is the position in the single total order of applied
// operations. Field order within each event is stable; the external
// indexer matches positionally.
type Event interface {
	GetSeq() uint64
	SetSeq(uint64)
	GetType() string
	GetAuctionID() uint64
}

// BaseEvent carries the fields common to all notifications.
type BaseEvent struct {
	Seq uint64 `json:"seq"`
	Ts  int64  `json:"ts"` // unix microseconds at commit time
}

func (e *BaseEvent) GetSeq() uint64    { return e.Seq }
func (e *BaseEvent) SetSeq(seq uint64) { e.Seq = seq }

// Event type names, stable wire identifiers.
const (
	TypeAuctionCreated = "AuctionCreated"
	TypeBidPlaced      = "BidPlaced"
	TypeAuctionEnded   = "AuctionEnded"
	TypeRefundQueued   = "RefundQueued"
	TypeRefundClaimed  = "RefundClaimed"
)

// AuctionCreatedEvent announces a new auction instance.
type AuctionCreatedEvent struct {
	BaseEvent
	AuctionID     uint64          `json:"auctionId"`
	Handle        domain.Identity `json:"handle"`
	Seller        domain.Identity `json:"seller"`
	AssetContract domain.Identity `json:"assetContract"`
	AssetID       domain.AssetID  `json:"assetId"`
}

func (e *AuctionCreatedEvent) GetType() string      { return TypeAuctionCreated }
func (e *AuctionCreatedEvent) GetAuctionID() uint64 { return e.AuctionID }

// BidPlacedEvent announces an accepted bid. This is the hot event type and
// is pooled; see pool.go.
type BidPlacedEvent struct {
	BaseEvent
	AuctionID uint64          `json:"auctionId"`
	Bidder    domain.Identity `json:"bidder"`
	Asset     domain.AssetRef `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
}

func (e *BidPlacedEvent) GetType() string      { return TypeBidPlaced }
func (e *BidPlacedEvent) GetAuctionID() uint64 { return e.AuctionID }

// AuctionEndedEvent announces settlement. Winner is zero for a no-bid close.
type AuctionEndedEvent struct {
	BaseEvent
	AuctionID   uint64          `json:"auctionId"`
	Winner      domain.Identity `json:"winner"`
	FinalAmount decimal.Decimal `json:"finalAmount"`
}

func (e *AuctionEndedEvent) GetType() string      { return TypeAuctionEnded }
func (e *AuctionEndedEvent) GetAuctionID() uint64 { return e.AuctionID }

// RefundQueuedEvent announces a refund that could not be delivered
// synchronously and now sits in the refund book.
type RefundQueuedEvent struct {
	BaseEvent
	AuctionID uint64          `json:"auctionId"`
	Payer     domain.Identity `json:"payer"`
	Asset     domain.AssetRef `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
}

func (e *RefundQueuedEvent) GetType() string      { return TypeRefundQueued }
func (e *RefundQueuedEvent) GetAuctionID() uint64 { return e.AuctionID }

// RefundClaimedEvent announces a successful pull withdrawal.
type RefundClaimedEvent struct {
	BaseEvent
	AuctionID uint64          `json:"auctionId"`
	Claimant  domain.Identity `json:"claimant"`
	Asset     domain.AssetRef `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
}

func (e *RefundClaimedEvent) GetType() string      { return TypeRefundClaimed }
func (e *RefundClaimedEvent) GetAuctionID() uint64 { return e.AuctionID }
