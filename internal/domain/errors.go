package domain

import "errors"

// Error taxonomy. Every operation reports exactly one of these categories
// to its immediate caller; there is no background retry.
var (
	// ErrInvalidState is returned when an operation is attempted outside its
	// valid lifecycle state (bid after end, end before expiry without
	// authorization, double-end).
	ErrInvalidState = errors.New("invalid auction state")

	// ErrAlreadyEnded is the double-end condition. It is a kind of ErrInvalidState.
	ErrAlreadyEnded = &stateError{msg: "auction already ended"}

	// ErrAuctionNotStarted is a bid before the window opens. A kind of ErrInvalidState.
	ErrAuctionNotStarted = &stateError{msg: "auction not started"}

	// ErrAuctionExpired is a bid after the window closed. A kind of ErrInvalidState.
	ErrAuctionExpired = &stateError{msg: "auction expired"}

	// ErrInsufficientBid is returned when a bid does not strictly exceed the
	// normalized current highest (or reserve). Equality is rejected.
	ErrInsufficientBid = errors.New("bid not higher than current")

	// ErrUnpricedAsset is returned when the value oracle cannot normalize one
	// of the two compared amounts. Fails closed: the bid is rejected, never
	// silently accepted.
	ErrUnpricedAsset = errors.New("unpriced asset")

	// ErrTransferFailed is returned when a custody or payment transfer did
	// not complete.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when looking up a nonexistent auction id.
	ErrNotFound = errors.New("auction not found")
)

// stateError is an ErrInvalidState refinement with its own message.
type stateError struct {
	msg string
}

func (e *stateError) Error() string { return e.msg }

func (e *stateError) Is(target error) bool { return target == ErrInvalidState }

// RecoverableError marks errors whose effect is recoverable through a
// separate path rather than lost. A refund transfer that fails during
// PlaceBid is recoverable: the amount moves to the refund book and stays
// claimable via Withdraw.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return false
}

// TransferError carries the failing operation and asset of a custody or
// payment transfer.
type TransferError struct {
	Op          string   // Operation that failed (e.g., "deposit", "refund", "payout")
	Asset       AssetRef // Payment asset being moved; ignored for custody moves
	Custody     bool     // Unique-asset custody move, not a payment
	Err         error    // Underlying error
	Recoverable bool     // Whether the amount stays claimable elsewhere
}

func (e *TransferError) Error() string {
	asset := string(e.Asset)
	if e.Custody {
		asset = "custody"
	} else if e.Asset.IsNative() {
		asset = "native"
	}
	return e.Op + " [" + asset + "]: " + e.Err.Error()
}

func (e *TransferError) IsRecoverable() bool {
	return e.Recoverable
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func (e *TransferError) Is(target error) bool {
	return target == ErrTransferFailed
}

// NewTransferError creates a non-recoverable transfer error: the triggering
// operation must fully revert.
func NewTransferError(op string, asset AssetRef, err error) *TransferError {
	return &TransferError{Op: op, Asset: asset, Err: err, Recoverable: false}
}

// NewRecoverableTransferError creates a transfer error whose amount was
// rerouted to the refund book.
func NewRecoverableTransferError(op string, asset AssetRef, err error) *TransferError {
	return &TransferError{Op: op, Asset: asset, Err: err, Recoverable: true}
}

// NewCustodyError creates a transfer error for a unique-asset custody move,
// which has no payment asset.
func NewCustodyError(op string, err error) *TransferError {
	return &TransferError{Op: op, Custody: true, Err: err}
}
