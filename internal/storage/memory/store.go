// Package memory provides in-process implementations of the catalog, stock
// store and sale ledger. Data lives for the lifetime of the process.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xenking/pos-checkout/internal/domain/inventory"
	"github.com/xenking/pos-checkout/internal/domain/product"
)

var (
	_ product.Catalog = (*Store)(nil)
	_ inventory.Store = (*Store)(nil)
)

// Store holds products and their stock. It serves both as the catalog and
// as the stock store so that catalog reads always see live stock.
type Store struct {
	mu       sync.RWMutex
	products map[string]product.Product
	applied  map[string]struct{}
	now      func() time.Time
}

// NewStore returns a Store seeded with products.
func NewStore(products ...product.Product) *Store {
	s := &Store{
		products: make(map[string]product.Product, len(products)),
		applied:  make(map[string]struct{}),
		now:      time.Now,
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

// Put inserts or replaces a product.
func (s *Store) Put(p product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// List returns all products ordered by ID.
func (s *Store) List(_ context.Context) ([]product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(func(product.Product) bool { return true }), nil
}

// Search returns products whose name contains query, case-insensitively.
func (s *Store) Search(_ context.Context, query string) ([]product.Product, error) {
	q := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(func(p product.Product) bool {
		return strings.Contains(strings.ToLower(p.Name), q)
	}), nil
}

func (s *Store) sorted(keep func(product.Product) bool) []product.Product {
	out := make([]product.Product, 0, len(s.products))
	for _, p := range s.products {
		if keep(p) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b product.Product) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// GetByID returns a product or product.ErrNotFound.
func (s *Store) GetByID(_ context.Context, id string) (*product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// GetByIDs returns the products matching ids; unknown IDs are skipped.
func (s *Store) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Levels returns live stock for ids.
func (s *Store) Levels(_ context.Context, ids []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	levels := make(map[string]int, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			levels[id] = p.Stock
		}
	}
	return levels, nil
}

// Decrement applies adj once.
func (s *Store) Decrement(_ context.Context, adj inventory.Adjustment, mode inventory.Mode) (inventory.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[adj.ProductID]
	if !ok {
		return inventory.Result{}, inventory.ErrUnknownProduct
	}
	if _, done := s.applied[adj.Key()]; done {
		return inventory.Result{Stock: p.Stock}, nil
	}
	if mode == inventory.ModeStrict && p.Stock < adj.Quantity {
		return inventory.Result{Stock: p.Stock}, inventory.ErrConflict
	}

	p.Stock = inventory.Clamp(p.Stock, adj.Quantity)
	s.products[p.ID] = p
	s.applied[adj.Key()] = struct{}{}
	return inventory.Result{Stock: p.Stock, Applied: true}, nil
}

// Snapshot copies every stock level.
func (s *Store) Snapshot(_ context.Context) (inventory.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	levels := make(map[string]int, len(s.products))
	for id, p := range s.products {
		levels[id] = p.Stock
	}
	return inventory.Snapshot{TakenAt: s.now().UTC(), Levels: levels}, nil
}

// Restore overwrites stock levels and records applied adjustments.
func (s *Store) Restore(_ context.Context, levels map[string]int, applied []inventory.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range levels {
		p, ok := s.products[id]
		if !ok {
			continue
		}
		p.Stock = n
		s.products[id] = p
	}
	for _, adj := range applied {
		s.applied[adj.Key()] = struct{}{}
	}
	return nil
}
