package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetRegistry is the external collaborator owning unique asset records.
// The engine only moves custody; it never mints or burns.
type AssetRegistry interface {
	OwnerOf(contract Identity, id AssetID) (Identity, error)
	GetApproved(contract Identity, id AssetID) (Identity, error)
	Approve(contract Identity, owner, operator Identity, id AssetID) error
	// TransferFrom moves custody. The caller must be the current owner or
	// the approved operator for the asset.
	TransferFrom(contract Identity, caller, from, to Identity, id AssetID) error
}

// PaymentLedger is the external collaborator for fungible payment assets,
// the native currency included (NativeAsset ref). Implementations report
// failure through the returned error; callers must never assume success.
type PaymentLedger interface {
	BalanceOf(asset AssetRef, who Identity) decimal.Decimal
	Allowance(asset AssetRef, owner, spender Identity) decimal.Decimal
	// TransferFrom spends the spender's allowance to move owner funds.
	TransferFrom(asset AssetRef, spender, from, to Identity, amount decimal.Decimal) error
	// Transfer moves the sender's own funds.
	Transfer(asset AssetRef, from, to Identity, amount decimal.Decimal) error
}

// FeedRef names an external price feed.
type FeedRef string

// PriceSource exposes the latest observation of a price feed.
// Zero or stale data must be treated as "unavailable" by the consumer.
type PriceSource interface {
	LatestPrice(feed FeedRef) (price decimal.Decimal, updatedAt time.Time, err error)
}

// Normalizer converts an amount of a payment asset into the common
// comparison unit. Used only for bid comparison, never for settlement.
type Normalizer interface {
	// Normalize rejects (ErrUnpricedAsset) when no usable feed exists for
	// the asset, forcing the caller to fail the bid.
	Normalize(asset AssetRef, amount decimal.Decimal) (decimal.Decimal, error)
}
