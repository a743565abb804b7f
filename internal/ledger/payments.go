package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"auction_go/internal/domain"
)

var (
	// ErrInsufficientFunds is returned when the sender balance cannot cover
	// the transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientAllowance is returned when the spender allowance cannot
	// cover a TransferFrom.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

type allowanceKey struct {
	asset   domain.AssetRef
	owner   domain.Identity
	spender domain.Identity
}

type balanceKey struct {
	asset domain.AssetRef
	who   domain.Identity
}

// PaymentBook is an in-memory payment ledger for the native currency and
// any number of fungible assets. Transfer semantics mirror the external
// token interface: explicit errors, allowance spent on TransferFrom.
type PaymentBook struct {
	mu         sync.RWMutex
	balances   map[balanceKey]decimal.Decimal
	allowances map[allowanceKey]decimal.Decimal
}

// NewPaymentBook creates an empty payment book.
func NewPaymentBook() *PaymentBook {
	return &PaymentBook{
		balances:   make(map[balanceKey]decimal.Decimal),
		allowances: make(map[allowanceKey]decimal.Decimal),
	}
}

// Mint credits freshly created funds. Test and bootstrap helper.
func (p *PaymentBook) Mint(asset domain.AssetRef, who domain.Identity, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := balanceKey{asset, who}
	p.balances[key] = p.balances[key].Add(amount)
}

// BalanceOf returns the current balance.
func (p *PaymentBook) BalanceOf(asset domain.AssetRef, who domain.Identity) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.balances[balanceKey{asset, who}]
}

// Approve sets the spender allowance.
func (p *PaymentBook) Approve(asset domain.AssetRef, owner, spender domain.Identity, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.allowances[allowanceKey{asset, owner, spender}] = amount
}

// Allowance returns the remaining spender allowance.
func (p *PaymentBook) Allowance(asset domain.AssetRef, owner, spender domain.Identity) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.allowances[allowanceKey{asset, owner, spender}]
}

// Transfer moves the sender's own funds.
func (p *PaymentBook) Transfer(asset domain.AssetRef, from, to domain.Identity, amount decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.move(asset, from, to, amount)
}

// TransferFrom spends the spender's allowance to move owner funds.
func (p *PaymentBook) TransferFrom(asset domain.AssetRef, spender, from, to domain.Identity, amount decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	akey := allowanceKey{asset, from, spender}
	allowance := p.allowances[akey]
	if allowance.LessThan(amount) {
		return fmt.Errorf("%w: %s allows %s, need %s", ErrInsufficientAllowance, from, allowance, amount)
	}
	if err := p.move(asset, from, to, amount); err != nil {
		return err
	}
	p.allowances[akey] = allowance.Sub(amount)
	return nil
}

// move runs under the write lock held by the caller.
func (p *PaymentBook) move(asset domain.AssetRef, from, to domain.Identity, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount %s", amount)
	}
	fromKey := balanceKey{asset, from}
	balance := p.balances[fromKey]
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s, need %s", ErrInsufficientFunds, from, balance, amount)
	}
	toKey := balanceKey{asset, to}
	p.balances[fromKey] = balance.Sub(amount)
	p.balances[toKey] = p.balances[toKey].Add(amount)
	return nil
}
