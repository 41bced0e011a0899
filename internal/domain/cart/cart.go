// Package cart implements the per-session shopping cart of a sales terminal.
//
// A Cart is owned by exactly one operator session and is not safe for
// concurrent use; the session registry serializes access to it.
package cart

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/product"
)

// ErrOutOfStock is matched by OutOfStockError.
var ErrOutOfStock = errors.New("out of stock")

// OutOfStockError indicates that every available unit of a product is
// already in the cart.
type OutOfStockError struct {
	ProductID string
	Stock     int
	InCart    int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %s out of stock: stock %d, already in cart %d", e.ProductID, e.Stock, e.InCart)
}

// Is makes errors.Is(err, ErrOutOfStock) succeed.
func (e *OutOfStockError) Is(target error) bool {
	return target == ErrOutOfStock
}

// Line is a single product entry in the cart. Price and Cost are captured
// when the line is created and do not follow later catalog changes.
type Line struct {
	ProductID string
	Name      string
	Quantity  int
	Price     decimal.Decimal
	Cost      decimal.Decimal
}

// Subtotal returns Price * Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is an ordered set of lines keyed by product ID. The zero value is an
// empty cart ready to use.
type Cart struct {
	lines []Line
	index map[string]int
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{index: make(map[string]int)}
}

// Add places one unit of p into the cart. The product snapshot must carry
// the current catalog stock; units already in this cart are treated as
// reserved. The cart is left unchanged when no unit is available.
func (c *Cart) Add(p product.Product) error {
	inCart := c.Quantity(p.ID)
	if p.Available(inCart) <= 0 {
		return &OutOfStockError{ProductID: p.ID, Stock: p.Stock, InCart: inCart}
	}

	if i, ok := c.index[p.ID]; ok {
		c.lines[i].Quantity++
		return nil
	}

	if c.index == nil {
		c.index = make(map[string]int)
	}
	c.index[p.ID] = len(c.lines)
	c.lines = append(c.lines, Line{
		ProductID: p.ID,
		Name:      p.Name,
		Quantity:  1,
		Price:     p.Price,
		Cost:      p.Cost,
	})
	return nil
}

// Remove deletes the whole line for productID. Missing lines are ignored.
func (c *Cart) Remove(productID string) {
	i, ok := c.index[productID]
	if !ok {
		return
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	delete(c.index, productID)
	for j := i; j < len(c.lines); j++ {
		c.index[c.lines[j].ProductID] = j
	}
}

// Quantity returns how many units of productID are in the cart.
func (c *Cart) Quantity(productID string) int {
	if i, ok := c.index[productID]; ok {
		return c.lines[i].Quantity
	}
	return 0
}

// Total returns the sum of all line subtotals.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Lines returns a copy of the lines in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Len returns the number of distinct products in the cart.
func (c *Cart) Len() int {
	return len(c.lines)
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Clear removes every line.
func (c *Cart) Clear() {
	c.lines = nil
	clear(c.index)
}
