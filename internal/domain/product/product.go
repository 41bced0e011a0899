package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog item as seen by the point of sale.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
	// Cost is the unit acquisition cost. Zero when unknown.
	Cost  decimal.Decimal
	Stock int
}

// Available reports how many units remain once inCart units are set aside.
func (p Product) Available(inCart int) int {
	return p.Stock - inCart
}

// Catalog defines read operations for the product catalog.
type Catalog interface {
	List(ctx context.Context) ([]Product, error)
	// Search returns products whose name contains query, case-insensitively.
	Search(ctx context.Context, query string) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
