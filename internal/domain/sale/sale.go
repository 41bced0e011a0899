package sale

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/tender"
)

// Sentinel errors for ledger access.
var (
	ErrNotFound  = errors.New("sale not found")
	ErrDuplicate = errors.New("sale already recorded")
)

// Seller identifies the operator who finalized a sale.
type Seller struct {
	ID   string
	Name string
}

// Line is a sold product. Unit cost is captured at sale time so later cost
// changes do not alter historical margin.
type Line struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// Sale is the immutable record of a finalized sale.
type Sale struct {
	ID           string
	CreatedAt    time.Time
	Seller       Seller
	Lines        []Line
	Total        decimal.Decimal
	Method       tender.Method
	Installments int
	Note         string
	// Reconciled is set by the ledger on reads: every stock adjustment of
	// the sale has been confirmed.
	Reconciled bool
}

// Units returns the total number of units sold.
func (s *Sale) Units() int {
	var n int
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

// Cost returns the cost of goods sold.
func (s *Sale) Cost() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.UnitCost.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

// RetainedChangeNote is the note recorded when cash overpayment is kept.
func RetainedChangeNote(change decimal.Decimal) string {
	return fmt.Sprintf("change of %s retained as profit", change.StringFixed(2))
}

// Range is a half-open time interval [From, To). A zero bound is unbounded.
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Ledger is the durable, append-only collection of finalized sales.
//
// Reconciliation state is kept beside the sales: a sale is unreconciled until
// every stock adjustment it implies has been confirmed.
type Ledger interface {
	// Append records s and returns its ID. It returns ErrDuplicate when a sale
	// with the same ID already exists.
	Append(ctx context.Context, s *Sale) (string, error)
	Get(ctx context.Context, id string) (*Sale, error)
	ListByDateRange(ctx context.Context, r Range) ([]Sale, error)
	ListBySeller(ctx context.Context, sellerID string, r Range) ([]Sale, error)
	ListUnreconciled(ctx context.Context) ([]Sale, error)
	MarkReconciled(ctx context.Context, id string) error
}
