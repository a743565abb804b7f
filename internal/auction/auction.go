// Package auction implements the state machine for one listing: a
// single-item, ascending-bid auction holding the asset in custody and the
// current highest bid in escrow until settlement.
package auction

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"auction_go/internal/domain"
	"auction_go/internal/event"
	"auction_go/internal/infra"
	"auction_go/pkg/quant"
)

// Deps are the external collaborators of an instance. All of them are
// required except Notify, which may be nil.
type Deps struct {
	Registry domain.AssetRegistry
	Payments domain.PaymentLedger
	Oracle   domain.Normalizer
	Now      func() time.Time
	Notify   func(event.Event)
}

// Auction is one auction instance. Methods are NOT safe for concurrent
// use: every state-changing call must be applied through the engine's
// single total order (see internal/engine). Each call either fully applies
// or fully reverts.
type Auction struct {
	id     uint64
	handle domain.Identity // custody identity of this instance
	admin  domain.Identity // factory owner; may trigger early end

	cfg     domain.AuctionConfig
	state   domain.AuctionState
	escrow  domain.EscrowSlot
	refunds *domain.RefundBook

	deps Deps
}

// New creates an instance. The factory has already moved the asset into
// the handle's custody; from here on custody is exactly one of
// {seller, instance, winner}.
func New(id uint64, handle, admin domain.Identity, cfg domain.AuctionConfig, deps Deps) *Auction {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Auction{
		id:      id,
		handle:  handle,
		admin:   admin,
		cfg:     cfg,
		refunds: domain.NewRefundBook(),
		deps:    deps,
	}
}

// ID returns the factory-assigned auction id.
func (a *Auction) ID() uint64 { return a.id }

// Handle returns the instance's custody identity.
func (a *Auction) Handle() domain.Identity { return a.handle }

// Config returns a copy of the immutable configuration snapshot.
func (a *Auction) Config() domain.AuctionConfig { return a.cfg }

// Info returns a consistent snapshot of config and state.
func (a *Auction) Info() domain.AuctionInfo {
	return domain.AuctionInfo{
		Ended:         a.state.Ended,
		Seller:        a.cfg.Seller,
		AssetID:       a.cfg.AssetID,
		PayToken:      a.cfg.PaymentAsset,
		HighestBidder: a.state.HighestBidder,
		HighestBid:    a.state.HighestBid,
		Status:        a.state.StatusAt(&a.cfg, a.deps.Now()),
	}
}

// EscrowHeld returns the current escrow record, if any.
func (a *Auction) EscrowHeld() (domain.EscrowRecord, bool) {
	return a.escrow.Held()
}

// Claimable returns the claimant's outstanding refund-book balances.
func (a *Auction) Claimable(claimant domain.Identity) []domain.EscrowRecord {
	return a.refunds.Claimable(claimant)
}

// PlaceBid accepts a strictly improving bid. value is the native currency
// attached to the call; native bids must carry exactly the bid amount,
// fungible bids carry none and are pulled from the bidder's allowance.
func (a *Auction) PlaceBid(bidder domain.Identity, bidAsset domain.AssetRef, amount, value decimal.Decimal) error {
	if a.state.Ended {
		return domain.ErrAlreadyEnded
	}
	now := a.deps.Now()
	if now.Before(a.cfg.StartTime) {
		return domain.ErrAuctionNotStarted
	}
	if !now.Before(a.cfg.EndTime()) {
		return domain.ErrAuctionExpired
	}
	if bidder.IsZero() {
		return fmt.Errorf("%w: zero bidder", domain.ErrUnauthorized)
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive amount %s", domain.ErrInsufficientBid, amount)
	}
	if !quant.IsIntegral(amount) {
		return fmt.Errorf("%w: fractional amount %s", domain.ErrInsufficientBid, amount)
	}

	if err := a.checkImprovement(bidAsset, amount); err != nil {
		infra.GlobalMetrics.RecordBidRejected()
		return err
	}

	if err := a.deposit(bidder, bidAsset, amount, value); err != nil {
		infra.GlobalMetrics.RecordBidRejected()
		return err
	}

	// Commit point: the deposit is in. Accepting the new bid never depends
	// on the old refund going through.
	old, displaced := a.escrow.Replace(bidder, bidAsset, amount)
	if displaced {
		a.refund(old)
	}

	a.state.HighestBidder = bidder
	a.state.HighestBid = amount
	a.state.HighestBidAsset = bidAsset

	infra.GlobalMetrics.RecordBidAccepted()

	ev := event.AcquireBidPlacedEvent()
	ev.Ts = now.UnixMicro()
	ev.AuctionID = a.id
	ev.Bidder = bidder
	ev.Asset = bidAsset
	ev.Amount = amount
	a.emit(ev)

	return nil
}

// checkImprovement enforces the strict-improvement rule against the
// current benchmark: the highest bid, or the reserve price before any bid
// exists. Same-asset comparisons stay raw; cross-asset comparisons always
// go through the oracle and fail closed when a feed is unavailable.
func (a *Auction) checkImprovement(bidAsset domain.AssetRef, amount decimal.Decimal) error {
	benchAsset := a.cfg.PaymentAsset
	benchAmount := a.cfg.ReservePrice
	if a.state.HasBids() {
		benchAsset = a.state.HighestBidAsset
		benchAmount = a.state.HighestBid
	}

	if bidAsset == benchAsset {
		if amount.LessThanOrEqual(benchAmount) {
			return fmt.Errorf("%w: %s <= %s", domain.ErrInsufficientBid, amount, benchAmount)
		}
		return nil
	}

	normBid, err := a.deps.Oracle.Normalize(bidAsset, amount)
	if err != nil {
		return err
	}
	normBench, err := a.deps.Oracle.Normalize(benchAsset, benchAmount)
	if err != nil {
		return err
	}
	if normBid.LessThanOrEqual(normBench) {
		return fmt.Errorf("%w: normalized %s <= %s", domain.ErrInsufficientBid, normBid, normBench)
	}
	return nil
}

// deposit pulls the bid amount into the instance's custody and verifies
// the resulting balance rather than assuming success.
func (a *Auction) deposit(bidder domain.Identity, bidAsset domain.AssetRef, amount, value decimal.Decimal) error {
	before := a.deps.Payments.BalanceOf(bidAsset, a.handle)

	if bidAsset.IsNative() {
		if !value.Equal(amount) {
			return domain.NewTransferError("deposit", bidAsset,
				fmt.Errorf("attached value %s does not match bid %s", value, amount))
		}
		if err := a.deps.Payments.Transfer(bidAsset, bidder, a.handle, amount); err != nil {
			return domain.NewTransferError("deposit", bidAsset, err)
		}
	} else {
		if value.Sign() != 0 {
			return domain.NewTransferError("deposit", bidAsset,
				fmt.Errorf("fungible bid must not attach native value"))
		}
		if allowance := a.deps.Payments.Allowance(bidAsset, bidder, a.handle); allowance.LessThan(amount) {
			return domain.NewTransferError("deposit", bidAsset,
				fmt.Errorf("allowance %s below bid %s", allowance, amount))
		}
		if err := a.deps.Payments.TransferFrom(bidAsset, a.handle, bidder, a.handle, amount); err != nil {
			return domain.NewTransferError("deposit", bidAsset, err)
		}
	}

	after := a.deps.Payments.BalanceOf(bidAsset, a.handle)
	if !after.Sub(before).Equal(amount) {
		return domain.NewTransferError("deposit", bidAsset,
			fmt.Errorf("balance moved %s, expected %s", after.Sub(before), amount))
	}
	return nil
}

// refund returns the displaced escrow to its payer in its original asset.
// A failed refund is rerouted to the refund book and never blocks the new
// leading bid.
func (a *Auction) refund(old domain.EscrowRecord) {
	err := a.deps.Payments.Transfer(old.Asset, a.handle, old.Payer, old.Amount)
	if err == nil {
		return
	}

	a.refunds.Credit(old.Payer, old.Asset, old.Amount)
	infra.GlobalMetrics.RecordRefundQueued()
	slog.Warn("Refund deferred to withdrawal path",
		slog.Uint64("auction_id", a.id),
		slog.String("payer", string(old.Payer)),
		slog.String("amount", old.Amount.String()),
		slog.Any("error", err))

	ev := event.AcquireRefundQueuedEvent()
	ev.Ts = a.deps.Now().UnixMicro()
	ev.AuctionID = a.id
	ev.Payer = old.Payer
	ev.Asset = old.Asset
	ev.Amount = old.Amount
	a.emit(ev)
}

// EndAuction settles the auction. After the bidding window has passed it
// is callable by anyone, so no single party can withhold settlement;
// before that only the seller or the platform admin may end early.
func (a *Auction) EndAuction(caller domain.Identity) error {
	if a.state.Ended {
		return domain.ErrAlreadyEnded
	}
	now := a.deps.Now()
	if now.Before(a.cfg.EndTime()) {
		if caller != a.cfg.Seller && caller != a.admin {
			return fmt.Errorf("%w: early end restricted to seller or admin", domain.ErrUnauthorized)
		}
	}

	if !a.state.HasBids() {
		// No bids: custody back to the seller, no funds move.
		if err := a.deps.Registry.TransferFrom(a.cfg.AssetContract, a.handle, a.handle, a.cfg.Seller, a.cfg.AssetID); err != nil {
			return domain.NewCustodyError("return", err)
		}
		a.state.Ended = true
		infra.GlobalMetrics.RecordAuctionSettled()
		a.emit(&event.AuctionEndedEvent{
			BaseEvent:   event.BaseEvent{Ts: now.UnixMicro()},
			AuctionID:   a.id,
			Winner:      domain.ZeroIdentity,
			FinalAmount: decimal.Zero,
		})
		return nil
	}

	winner := a.state.HighestBidder
	finalAmount := a.state.HighestBid
	payAsset := a.state.HighestBidAsset
	fee, proceeds := quant.SplitSettlement(finalAmount, a.cfg.FeeRateBps)

	if err := a.deps.Registry.TransferFrom(a.cfg.AssetContract, a.handle, a.handle, winner, a.cfg.AssetID); err != nil {
		return domain.NewCustodyError("custody", err)
	}
	if fee.Sign() > 0 {
		if err := a.deps.Payments.Transfer(payAsset, a.handle, a.cfg.FeeRecipient, fee); err != nil {
			// Roll back custody so the whole operation reverts.
			a.mustTransferBack(winner)
			return domain.NewTransferError("payout", payAsset, err)
		}
	}
	if err := a.deps.Payments.Transfer(payAsset, a.handle, a.cfg.Seller, proceeds); err != nil {
		if fee.Sign() > 0 {
			a.mustPaymentBack(payAsset, a.cfg.FeeRecipient, fee)
		}
		a.mustTransferBack(winner)
		return domain.NewTransferError("payout", payAsset, err)
	}

	a.escrow.Clear()
	a.state.Ended = true
	infra.GlobalMetrics.RecordAuctionSettled()
	a.emit(&event.AuctionEndedEvent{
		BaseEvent:   event.BaseEvent{Ts: now.UnixMicro()},
		AuctionID:   a.id,
		Winner:      winner,
		FinalAmount: finalAmount,
	})
	return nil
}

// Withdraw pays out the claimant's refund-book balances. Idempotent: a
// claimant with nothing outstanding gets an empty result and no error.
func (a *Auction) Withdraw(claimant domain.Identity) ([]domain.EscrowRecord, error) {
	claims := a.refunds.Take(claimant)
	if len(claims) == 0 {
		return nil, nil
	}

	now := a.deps.Now()
	var paid []domain.EscrowRecord
	var failed error
	for _, claim := range claims {
		if err := a.deps.Payments.Transfer(claim.Asset, a.handle, claimant, claim.Amount); err != nil {
			// Still undeliverable: keep it claimable.
			a.refunds.Credit(claimant, claim.Asset, claim.Amount)
			failed = errors.Join(failed, domain.NewRecoverableTransferError("withdraw", claim.Asset, err))
			continue
		}
		paid = append(paid, claim)
		a.emit(&event.RefundClaimedEvent{
			BaseEvent: event.BaseEvent{Ts: now.UnixMicro()},
			AuctionID: a.id,
			Claimant:  claimant,
			Asset:     claim.Asset,
			Amount:    claim.Amount,
		})
	}
	return paid, failed
}

// mustTransferBack compensates a custody transfer during a failed
// settlement. The instance was the owner a moment ago; a failure here
// means the registry collaborator broke its own contract.
func (a *Auction) mustTransferBack(from domain.Identity) {
	if err := a.deps.Registry.TransferFrom(a.cfg.AssetContract, from, from, a.handle, a.cfg.AssetID); err != nil {
		panic(fmt.Sprintf("SETTLEMENT_ROLLBACK_FAILED: custody %s/%d: %v",
			a.cfg.AssetContract, a.cfg.AssetID, err))
	}
}

func (a *Auction) mustPaymentBack(asset domain.AssetRef, from domain.Identity, amount decimal.Decimal) {
	if err := a.deps.Payments.Transfer(asset, from, a.handle, amount); err != nil {
		panic(fmt.Sprintf("SETTLEMENT_ROLLBACK_FAILED: payment %s %s: %v", asset, amount, err))
	}
}

func (a *Auction) emit(ev event.Event) {
	if a.deps.Notify != nil {
		a.deps.Notify(ev)
	}
}
