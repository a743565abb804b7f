// Package factory instantiates independent auction instances and owns the
// protocol fee policy. Fee configuration is snapshotted into each instance
// at creation; later changes never affect existing auctions.
package factory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"auction_go/internal/auction"
	"auction_go/internal/domain"
	"auction_go/internal/event"
	"auction_go/internal/infra"
	"auction_go/pkg/quant"
)

// Deps are the collaborators handed down to each created instance.
type Deps struct {
	Registry domain.AssetRegistry
	Payments domain.PaymentLedger
	Oracle   domain.Normalizer
	Now      func() time.Time
	Notify   func(event.Event)
}

// Factory creates auction instances and keeps the id registry.
// Like the instances, its state-changing methods must run inside the
// engine's single total order.
type Factory struct {
	handle       domain.Identity // custody identity used during the pull
	owner        domain.Identity
	feeRateBps   quant.BasisPoints
	feeRecipient domain.Identity

	// Ids are assigned sequentially starting at 1 and never reused.
	nextAuctionID uint64
	auctions      map[uint64]*auction.Auction
	byHandle      map[domain.Identity]*auction.Auction

	deps Deps
}

// New creates a factory. rate must be a valid basis-point rate.
func New(owner, feeRecipient domain.Identity, rate quant.BasisPoints, deps Deps) (*Factory, error) {
	if !rate.Valid() {
		return nil, fmt.Errorf("fee rate %d exceeds %d bps", rate, quant.BpsDenominator)
	}
	if owner.IsZero() || feeRecipient.IsZero() {
		return nil, fmt.Errorf("owner and fee recipient are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Factory{
		handle:        domain.Identity("factory:" + uuid.NewString()),
		owner:         owner,
		feeRateBps:    rate,
		feeRecipient:  feeRecipient,
		nextAuctionID: 1,
		auctions:      make(map[uint64]*auction.Auction),
		byHandle:      make(map[domain.Identity]*auction.Auction),
		deps:          deps,
	}, nil
}

// Handle returns the factory's custody identity. Sellers approve this
// identity on the asset registry before creating an auction.
func (f *Factory) Handle() domain.Identity { return f.handle }

// Owner returns the admin identity.
func (f *Factory) Owner() domain.Identity { return f.owner }

// FeeRate returns the current fee configuration (future auctions only).
func (f *Factory) FeeRate() (quant.BasisPoints, domain.Identity) {
	return f.feeRateBps, f.feeRecipient
}

// SetFee updates the fee policy for auctions created after this call.
// Restricted to the factory owner.
func (f *Factory) SetFee(caller domain.Identity, rate quant.BasisPoints, recipient domain.Identity) error {
	if caller != f.owner {
		return fmt.Errorf("%w: fee update restricted to owner", domain.ErrUnauthorized)
	}
	if !rate.Valid() {
		return fmt.Errorf("fee rate %d exceeds %d bps", rate, quant.BpsDenominator)
	}
	if recipient.IsZero() {
		return fmt.Errorf("fee recipient is required")
	}
	f.feeRateBps = rate
	f.feeRecipient = recipient
	return nil
}

// CreateAuction pulls custody of the asset from the seller into a new
// instance and registers it under the next sequential id. The seller must
// own the asset and have approved the factory for it; this is the point
// of no return for the seller unless the auction closes with no bids.
func (f *Factory) CreateAuction(
	seller domain.Identity,
	assetContract domain.Identity,
	assetID domain.AssetID,
	duration time.Duration,
	reservePrice decimal.Decimal,
	paymentAsset domain.AssetRef,
) (*auction.Auction, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("non-positive duration %s", duration)
	}
	if reservePrice.Sign() < 0 || !quant.IsIntegral(reservePrice) {
		return nil, fmt.Errorf("invalid reserve price %s", reservePrice)
	}

	owner, err := f.deps.Registry.OwnerOf(assetContract, assetID)
	if err != nil {
		return nil, domain.NewCustodyError("custody", err)
	}
	if owner != seller {
		return nil, fmt.Errorf("%w: not the owner", domain.ErrUnauthorized)
	}
	approved, err := f.deps.Registry.GetApproved(assetContract, assetID)
	if err != nil {
		return nil, domain.NewCustodyError("custody", err)
	}
	if approved != f.handle {
		return nil, fmt.Errorf("%w: not approved", domain.ErrUnauthorized)
	}

	now := f.deps.Now()
	id := f.nextAuctionID
	handle := domain.Identity("auction:" + uuid.NewString())

	cfg := domain.AuctionConfig{
		Seller:        seller,
		AssetContract: assetContract,
		AssetID:       assetID,
		StartTime:     now,
		Duration:      duration,
		ReservePrice:  reservePrice,
		PaymentAsset:  paymentAsset,
		FeeRateBps:    f.feeRateBps,
		FeeRecipient:  f.feeRecipient,
	}

	if err := f.deps.Registry.TransferFrom(assetContract, f.handle, seller, handle, assetID); err != nil {
		return nil, domain.NewCustodyError("custody", err)
	}

	inst := auction.New(id, handle, f.owner, cfg, auction.Deps{
		Registry: f.deps.Registry,
		Payments: f.deps.Payments,
		Oracle:   f.deps.Oracle,
		Now:      f.deps.Now,
		Notify:   f.deps.Notify,
	})

	// The counter moves exactly once per successful create; every failure
	// above returns before this point.
	f.nextAuctionID++
	f.auctions[id] = inst
	f.byHandle[handle] = inst

	infra.GlobalMetrics.RecordAuctionCreated()

	if f.deps.Notify != nil {
		f.deps.Notify(&event.AuctionCreatedEvent{
			BaseEvent:     event.BaseEvent{Ts: now.UnixMicro()},
			AuctionID:     id,
			Handle:        handle,
			Seller:        seller,
			AssetContract: assetContract,
			AssetID:       assetID,
		})
	}

	return inst, nil
}

// GetAuctionAddress returns the instance handle for an id.
func (f *Factory) GetAuctionAddress(id uint64) (domain.Identity, error) {
	inst, ok := f.auctions[id]
	if !ok {
		return domain.ZeroIdentity, fmt.Errorf("%w: id %d", domain.ErrNotFound, id)
	}
	return inst.Handle(), nil
}

// Get returns the instance for an id.
func (f *Factory) Get(id uint64) (*auction.Auction, error) {
	inst, ok := f.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", domain.ErrNotFound, id)
	}
	return inst, nil
}

// NextAuctionID returns the id the next successful create will use.
func (f *Factory) NextAuctionID() uint64 { return f.nextAuctionID }

// Auctions returns every instance created so far.
func (f *Factory) Auctions() []*auction.Auction {
	out := make([]*auction.Auction, 0, len(f.auctions))
	for _, inst := range f.auctions {
		out = append(out, inst)
	}
	return out
}
