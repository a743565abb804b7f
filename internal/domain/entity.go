package domain

import (
	"time"
)

// AuctionRecord is the indexer-facing summary row for one auction.
// It mirrors committed engine state; the engine itself never reads it back.
type AuctionRecord struct {
	AuctionID     uint64    `gorm:"primaryKey" json:"auction_id"`
	Handle        string    `gorm:"index" json:"handle"`
	Seller        string    `json:"seller"`
	AssetContract string    `json:"asset_contract"`
	AssetID       uint64    `json:"asset_id"`
	Status        string    `gorm:"index" json:"status"`
	HighestBidder string    `json:"highest_bidder"`
	HighestBid    string    `json:"highest_bid"` // decimal string, exact
	BidAsset      string    `json:"bid_asset"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NotificationRecord is one emitted notification in the durable feed
// consumed by the external indexer. Seq is the global total-order position.
type NotificationRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Seq       uint64    `gorm:"uniqueIndex" json:"seq"`
	Type      string    `gorm:"index" json:"type"`
	AuctionID uint64    `gorm:"index" json:"auction_id"`
	Payload   string    `json:"payload"` // positional JSON, field order stable
	CreatedAt time.Time `json:"created_at"`
}
