package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-checkout/internal/domain/inventory"
	"github.com/xenking/pos-checkout/internal/domain/product"
	"github.com/xenking/pos-checkout/internal/domain/sale"
)

func seeded() *Store {
	return NewStore(
		product.Product{ID: "b", Name: "Brownie", Price: decimal.NewFromInt(5), Stock: 3},
		product.Product{ID: "a", Name: "Americano", Price: decimal.NewFromInt(4), Stock: 10},
		product.Product{ID: "c", Name: "Cold brew", Price: decimal.NewFromInt(6), Stock: 0},
	)
}

func TestStore_Catalog(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)

	found, err := s.Search(ctx, "BR")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, []string{"b", "c"}, []string{found[0].ID, found[1].ID})

	_, err = s.GetByID(ctx, "zz")
	require.ErrorIs(t, err, product.ErrNotFound)

	some, err := s.GetByIDs(ctx, []string{"c", "zz", "a"})
	require.NoError(t, err)
	assert.Len(t, some, 2)
}

func TestStore_Decrement(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	adj := inventory.Adjustment{SaleID: "s1", ProductID: "b", Quantity: 2}
	res, err := s.Decrement(ctx, adj, inventory.ModeClamp)
	require.NoError(t, err)
	assert.Equal(t, inventory.Result{Stock: 1, Applied: true}, res)

	// Same sale and product: already applied.
	res, err = s.Decrement(ctx, adj, inventory.ModeClamp)
	require.NoError(t, err)
	assert.Equal(t, inventory.Result{Stock: 1}, res)

	_, err = s.Decrement(ctx, inventory.Adjustment{SaleID: "s2", ProductID: "b", Quantity: 5}, inventory.ModeStrict)
	require.ErrorIs(t, err, inventory.ErrConflict)

	res, err = s.Decrement(ctx, inventory.Adjustment{SaleID: "s2", ProductID: "b", Quantity: 5}, inventory.ModeClamp)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stock, "clamped at zero")

	_, err = s.Decrement(ctx, inventory.Adjustment{SaleID: "s3", ProductID: "zz", Quantity: 1}, inventory.ModeClamp)
	require.ErrorIs(t, err, inventory.ErrUnknownProduct)
}

func TestStore_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 10, "b": 3, "c": 0}, snap.Levels)
	assert.False(t, snap.TakenAt.IsZero())

	applied := []inventory.Adjustment{{SaleID: "s1", ProductID: "a", Quantity: 4}}
	require.NoError(t, s.Restore(ctx, map[string]int{"a": 6, "zz": 1}, applied))

	levels, err := s.Levels(ctx, []string{"a", "zz"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 6}, levels)

	res, err := s.Decrement(ctx, applied[0], inventory.ModeClamp)
	require.NoError(t, err)
	assert.False(t, res.Applied)
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"late", "early", "mid"} {
		offset := map[string]time.Duration{"early": 0, "mid": time.Hour, "late": 2 * time.Hour}[id]
		seller := sale.Seller{ID: "u1"}
		if i == 2 {
			seller.ID = "u2"
		}
		_, err := l.Append(ctx, &sale.Sale{
			ID:        id,
			CreatedAt: base.Add(offset),
			Seller:    seller,
			Lines:     []sale.Line{{ProductID: "a", Quantity: 1}},
		})
		require.NoError(t, err)
	}

	_, err := l.Append(ctx, &sale.Sale{ID: "mid"})
	require.ErrorIs(t, err, sale.ErrDuplicate)

	all, err := l.ListByDateRange(ctx, sale.Range{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"early", "mid", "late"}, []string{all[0].ID, all[1].ID, all[2].ID})

	window, err := l.ListByDateRange(ctx, sale.Range{From: base.Add(time.Hour), To: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "mid", window[0].ID)

	mine, err := l.ListBySeller(ctx, "u1", sale.Range{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	got, err := l.Get(ctx, "early")
	require.NoError(t, err)
	got.Lines[0].Quantity = 99
	again, err := l.Get(ctx, "early")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Lines[0].Quantity, "returned copies do not alias")

	assert.False(t, again.Reconciled)

	require.NoError(t, l.MarkReconciled(ctx, "early"))
	require.ErrorIs(t, l.MarkReconciled(ctx, "nope"), sale.ErrNotFound)
	pending, err := l.ListUnreconciled(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	again, err = l.Get(ctx, "early")
	require.NoError(t, err)
	assert.True(t, again.Reconciled)
	all, err = l.ListByDateRange(ctx, sale.Range{})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false}, []bool{all[0].Reconciled, all[1].Reconciled, all[2].Reconciled})

	_, err = l.Get(ctx, "nope")
	require.ErrorIs(t, err, sale.ErrNotFound)
}
