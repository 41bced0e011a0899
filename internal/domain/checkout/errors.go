package checkout

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/inventory"
	"github.com/xenking/pos-checkout/internal/domain/sale"
	"github.com/xenking/pos-checkout/internal/domain/tender"
)

// Sentinel errors for finalization.
var (
	ErrEmptyCart             = errors.New("cart is empty")
	ErrStockConflict         = errors.New("stock conflict")
	ErrPartiallyCommitted    = errors.New("sale partially committed")
	ErrChangeNotAcknowledged = errors.New("change due not acknowledged")
	ErrMissingSeller         = errors.New("seller is required")
	ErrIdempotencyKeyReused  = errors.New("sale id already used for a different sale")
)

// Conflict describes one cart line that live stock can no longer satisfy.
type Conflict struct {
	ProductID string
	Requested int
	Available int
}

// StockConflictError is returned when another sale consumed stock after the
// lines were added to the cart. The cart is left intact.
type StockConflictError struct {
	Conflicts []Conflict
}

func (e *StockConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = fmt.Sprintf("%s (requested %d, available %d)", c.ProductID, c.Requested, c.Available)
	}
	return "stock conflict: " + strings.Join(parts, ", ")
}

// Is makes errors.Is(err, ErrStockConflict) succeed.
func (e *StockConflictError) Is(target error) bool {
	return target == ErrStockConflict
}

// ChangeDueError is returned when cash change must be handed back and the
// operator has not confirmed it.
type ChangeDueError struct {
	ChangeDue decimal.Decimal
}

func (e *ChangeDueError) Error() string {
	return fmt.Sprintf("change due %s must be acknowledged", e.ChangeDue.StringFixed(2))
}

// Is makes errors.Is(err, ErrChangeNotAcknowledged) succeed.
func (e *ChangeDueError) Is(target error) bool {
	return target == ErrChangeNotAcknowledged
}

// PartiallyCommittedError is returned when the sale was recorded but some
// stock decrements could not be confirmed. The sale stands; Pending lists the
// adjustments left for reconciliation.
type PartiallyCommittedError struct {
	Sale    *sale.Sale
	Pending []inventory.Adjustment
	Err     error
}

func (e *PartiallyCommittedError) Error() string {
	return fmt.Sprintf("sale %s recorded, %d stock adjustments pending: %v", e.Sale.ID, len(e.Pending), e.Err)
}

func (e *PartiallyCommittedError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrPartiallyCommitted) succeed.
func (e *PartiallyCommittedError) Is(target error) bool {
	return target == ErrPartiallyCommitted
}

// IdempotencyKeyReusedError is returned when a request carries the ID of a
// recorded sale that another seller made or that sold different lines. The
// cart is left intact and nothing is written.
type IdempotencyKeyReusedError struct {
	SaleID string
	Reason string
}

func (e *IdempotencyKeyReusedError) Error() string {
	return fmt.Sprintf("sale id %q already used: %s", e.SaleID, e.Reason)
}

// Is makes errors.Is(err, ErrIdempotencyKeyReused) succeed.
func (e *IdempotencyKeyReusedError) Is(target error) bool {
	return target == ErrIdempotencyKeyReused
}

// StateOf reports the terminal state a Finalize error corresponds to.
func StateOf(err error) State {
	switch {
	case err == nil:
		return StateCompleted
	case errors.Is(err, ErrPartiallyCommitted):
		return StatePartiallyCommitted
	default:
		return StateRejected
	}
}

// Retryable reports whether err came from a transient failure before any
// sale was recorded, so the same request may be submitted again.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrStockConflict),
		errors.Is(err, ErrPartiallyCommitted),
		errors.Is(err, ErrChangeNotAcknowledged),
		errors.Is(err, ErrMissingSeller),
		errors.Is(err, ErrIdempotencyKeyReused),
		errors.Is(err, tender.ErrInsufficientPayment),
		errors.Is(err, tender.ErrInvalidTender):
		return false
	}
	return true
}
