package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/pos-checkout/internal/domain/sale"
)

var _ sale.Ledger = (*Ledger)(nil)

// Ledger is an append-only in-memory sale ledger.
type Ledger struct {
	mu         sync.RWMutex
	sales      []sale.Sale
	index      map[string]int
	reconciled map[string]bool
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		index:      make(map[string]int),
		reconciled: make(map[string]bool),
	}
}

// Append records s. The stored copy does not share its lines slice with s.
func (l *Ledger) Append(_ context.Context, s *sale.Sale) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[s.ID]; ok {
		return "", sale.ErrDuplicate
	}
	cp := *s
	cp.Lines = slices.Clone(s.Lines)
	cp.Reconciled = false
	l.index[s.ID] = len(l.sales)
	l.sales = append(l.sales, cp)
	return s.ID, nil
}

// Get returns the sale with id or sale.ErrNotFound.
func (l *Ledger) Get(_ context.Context, id string) (*sale.Sale, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return nil, sale.ErrNotFound
	}
	cp := l.sales[i]
	cp.Lines = slices.Clone(cp.Lines)
	cp.Reconciled = l.reconciled[id]
	return &cp, nil
}

// ListByDateRange returns sales created within r, oldest first.
func (l *Ledger) ListByDateRange(_ context.Context, r sale.Range) ([]sale.Sale, error) {
	return l.filter(func(s *sale.Sale) bool { return r.Contains(s.CreatedAt) }), nil
}

// ListBySeller returns sales of sellerID created within r, oldest first.
func (l *Ledger) ListBySeller(_ context.Context, sellerID string, r sale.Range) ([]sale.Sale, error) {
	return l.filter(func(s *sale.Sale) bool {
		return s.Seller.ID == sellerID && r.Contains(s.CreatedAt)
	}), nil
}

// ListUnreconciled returns sales not yet marked reconciled, oldest first.
func (l *Ledger) ListUnreconciled(_ context.Context) ([]sale.Sale, error) {
	return l.filter(func(s *sale.Sale) bool { return !l.reconciled[s.ID] }), nil
}

// MarkReconciled flags a sale as fully applied to stock.
func (l *Ledger) MarkReconciled(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[id]; !ok {
		return sale.ErrNotFound
	}
	l.reconciled[id] = true
	return nil
}

func (l *Ledger) filter(keep func(*sale.Sale) bool) []sale.Sale {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []sale.Sale
	for i := range l.sales {
		s := &l.sales[i]
		if keep(s) {
			cp := *s
			cp.Lines = slices.Clone(s.Lines)
			cp.Reconciled = l.reconciled[s.ID]
			out = append(out, cp)
		}
	}
	slices.SortStableFunc(out, func(a, b sale.Sale) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}
