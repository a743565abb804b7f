// Package ledger holds in-memory implementations of the external
// collaborators: the unique-asset registry and the payment ledgers.
// The engine only depends on the domain interfaces; these concrete types
// back the wiring binary and the tests.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"auction_go/internal/domain"
)

var (
	// ErrUnknownAsset is returned for an asset id with no record.
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrNotOwner is returned when the from party does not hold the asset.
	ErrNotOwner = errors.New("not the owner")

	// ErrNotApproved is returned when the caller lacks transfer rights.
	ErrNotApproved = errors.New("not approved")
)

type assetKey struct {
	contract domain.Identity
	id       domain.AssetID
}

// Registry is an in-memory unique-asset registry covering any number of
// asset contracts. Transfer rules mirror the external registry: the caller
// must own the asset or be its approved operator, and a transfer consumes
// the approval.
type Registry struct {
	mu       sync.RWMutex
	owners   map[assetKey]domain.Identity
	approved map[assetKey]domain.Identity
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		owners:   make(map[assetKey]domain.Identity),
		approved: make(map[assetKey]domain.Identity),
	}
}

// Mint records a new unique asset. Test and bootstrap helper; the engine
// itself never mints.
func (r *Registry) Mint(contract domain.Identity, id domain.AssetID, owner domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.owners[assetKey{contract, id}] = owner
}

// OwnerOf returns the current custody holder.
func (r *Registry) OwnerOf(contract domain.Identity, id domain.AssetID) (domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.owners[assetKey{contract, id}]
	if !ok {
		return domain.ZeroIdentity, fmt.Errorf("%w: %s/%d", ErrUnknownAsset, contract, id)
	}
	return owner, nil
}

// GetApproved returns the approved operator, ZeroIdentity if none.
func (r *Registry) GetApproved(contract domain.Identity, id domain.AssetID) (domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.owners[assetKey{contract, id}]; !ok {
		return domain.ZeroIdentity, fmt.Errorf("%w: %s/%d", ErrUnknownAsset, contract, id)
	}
	return r.approved[assetKey{contract, id}], nil
}

// Approve grants transfer rights on a single asset to an operator.
func (r *Registry) Approve(contract domain.Identity, owner, operator domain.Identity, id domain.AssetID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := assetKey{contract, id}
	current, ok := r.owners[key]
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrUnknownAsset, contract, id)
	}
	if current != owner {
		return fmt.Errorf("%w: %s does not own %s/%d", ErrNotOwner, owner, contract, id)
	}
	r.approved[key] = operator
	return nil
}

// TransferFrom moves custody. The caller must be the owner or the approved
// operator; the approval is cleared on transfer.
func (r *Registry) TransferFrom(contract domain.Identity, caller, from, to domain.Identity, id domain.AssetID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := assetKey{contract, id}
	owner, ok := r.owners[key]
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrUnknownAsset, contract, id)
	}
	if owner != from {
		return fmt.Errorf("%w: %s does not own %s/%d", ErrNotOwner, from, contract, id)
	}
	if caller != owner && r.approved[key] != caller {
		return fmt.Errorf("%w: %s may not move %s/%d", ErrNotApproved, caller, contract, id)
	}

	r.owners[key] = to
	delete(r.approved, key)
	return nil
}
