package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// EscrowRecord is the funds held by an auction instance on behalf of the
// current highest bidder. Single-slot: at most one record exists per
// instance, replaced atomically on each accepted bid.
type EscrowRecord struct {
	Payer  Identity        `json:"payer"`
	Asset  AssetRef        `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// EscrowSlot holds the single live escrow record for an instance.
// This is the core structure for the escrow conservation invariant: the
// instance's held payment balance equals exactly the slot amount.
type EscrowSlot struct {
	rec *EscrowRecord
}

// Held returns a copy of the current record, or false if the slot is empty.
func (s *EscrowSlot) Held() (EscrowRecord, bool) {
	if s.rec == nil {
		return EscrowRecord{}, false
	}
	return *s.rec, true
}

// Replace installs a new record and returns the displaced one, if any.
func (s *EscrowSlot) Replace(payer Identity, asset AssetRef, amount decimal.Decimal) (old EscrowRecord, displaced bool) {
	if s.rec != nil {
		old, displaced = *s.rec, true
	}
	s.rec = &EscrowRecord{Payer: payer, Asset: asset, Amount: amount}
	s.VerifyInvariant()
	return old, displaced
}

// Clear empties the slot at settlement and returns the final record.
func (s *EscrowSlot) Clear() (EscrowRecord, bool) {
	if s.rec == nil {
		return EscrowRecord{}, false
	}
	rec := *s.rec
	s.rec = nil
	return rec, true
}

// VerifyInvariant checks that the slot satisfies its invariants.
// Call this after any state change to ensure data integrity.
func (s *EscrowSlot) VerifyInvariant() {
	if s.rec == nil {
		return
	}
	if s.rec.Amount.Sign() <= 0 {
		panic(fmt.Sprintf("ESCROW_INVARIANT_NONPOSITIVE_AMOUNT: %s holds %s",
			s.rec.Payer, s.rec.Amount))
	}
	if s.rec.Payer.IsZero() {
		panic("ESCROW_INVARIANT_ZERO_PAYER")
	}
}

// RefundBook tracks refunds that could not be delivered synchronously.
// Amounts stay claimable by their rightful owner via Withdraw; a failed
// refund must never block acceptance of the new leading bid.
type RefundBook struct {
	claims map[Identity]map[AssetRef]decimal.Decimal
}

// NewRefundBook creates an empty refund book.
func NewRefundBook() *RefundBook {
	return &RefundBook{
		claims: make(map[Identity]map[AssetRef]decimal.Decimal),
	}
}

// Credit records an undeliverable refund for later withdrawal.
func (b *RefundBook) Credit(payer Identity, asset AssetRef, amount decimal.Decimal) {
	if amount.Sign() <= 0 {
		panic(fmt.Sprintf("REFUND_INVARIANT_NONPOSITIVE_CREDIT: %s for %s", amount, payer))
	}
	byAsset, ok := b.claims[payer]
	if !ok {
		byAsset = make(map[AssetRef]decimal.Decimal)
		b.claims[payer] = byAsset
	}
	byAsset[asset] = byAsset[asset].Add(amount)
}

// Claimable returns the outstanding balances for a claimant, copied.
func (b *RefundBook) Claimable(claimant Identity) []EscrowRecord {
	byAsset, ok := b.claims[claimant]
	if !ok {
		return nil
	}
	out := make([]EscrowRecord, 0, len(byAsset))
	for asset, amount := range byAsset {
		out = append(out, EscrowRecord{Payer: claimant, Asset: asset, Amount: amount})
	}
	return out
}

// Take removes and returns all balances owed to the claimant.
// Taking from an empty book returns nil; Withdraw stays idempotent.
func (b *RefundBook) Take(claimant Identity) []EscrowRecord {
	out := b.Claimable(claimant)
	delete(b.claims, claimant)
	return out
}

// Outstanding returns the total amount owed per asset across all claimants.
func (b *RefundBook) Outstanding() map[AssetRef]decimal.Decimal {
	totals := make(map[AssetRef]decimal.Decimal)
	for _, byAsset := range b.claims {
		for asset, amount := range byAsset {
			totals[asset] = totals[asset].Add(amount)
		}
	}
	return totals
}
