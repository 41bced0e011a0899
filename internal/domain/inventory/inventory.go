// Package inventory defines the durable stock store consumed by checkout.
//
// Stock is the only mutable state shared between terminals. Stores must
// apply decrements per product atomically and record every applied
// Adjustment so that replaying it is a no-op.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// ErrConflict is returned by a strict decrement that would drive stock
// below zero.
var ErrConflict = errors.New("stock conflict")

// ErrUnknownProduct is returned when a store has no stock entry for a product.
var ErrUnknownProduct = errors.New("unknown product")

// Mode selects how a decrement behaves when stock is insufficient.
type Mode int

const (
	// ModeClamp floors the resulting stock at zero.
	ModeClamp Mode = iota
	// ModeStrict refuses the decrement with ErrConflict.
	ModeStrict
)

func (m Mode) String() string {
	switch m {
	case ModeClamp:
		return "clamp"
	case ModeStrict:
		return "strict"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Adjustment is the stock decrement implied by one sold line. The pair
// (SaleID, ProductID) identifies it; stores apply it at most once.
type Adjustment struct {
	SaleID    string
	ProductID string
	Quantity  int
}

// Key returns the idempotency key of the adjustment.
func (a Adjustment) Key() string {
	return a.SaleID + "/" + a.ProductID
}

// Result describes the store state after a decrement.
type Result struct {
	// Stock is the product stock after the call.
	Stock int
	// Applied is false when the adjustment had already been applied.
	Applied bool
}

// Snapshot is a point-in-time copy of every stock level.
type Snapshot struct {
	TakenAt time.Time
	Levels  map[string]int
}

// Store is the durable product id -> stock mapping.
type Store interface {
	// Levels returns the live stock of the given products. Unknown products
	// are omitted from the result.
	Levels(ctx context.Context, productIDs []string) (map[string]int, error)
	// Decrement applies adj once.
	Decrement(ctx context.Context, adj Adjustment, mode Mode) (Result, error)
	// Snapshot captures all stock levels.
	Snapshot(ctx context.Context) (Snapshot, error)
	// Restore overwrites stock levels for the given products and records
	// applied as already applied. Backends without multi-item transactions
	// of unbounded size apply it in ordered atomic batches; repeating a
	// failed Restore with the same arguments converges.
	Restore(ctx context.Context, levels map[string]int, applied []Adjustment) error
}

// Clamp returns stock - qty floored at zero.
func Clamp(stock, qty int) int {
	if n := stock - qty; n > 0 {
		return n
	}
	return 0
}
