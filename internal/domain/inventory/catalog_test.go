package inventory_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-checkout/internal/domain/inventory"
	"github.com/xenking/pos-checkout/internal/domain/product"
	"github.com/xenking/pos-checkout/internal/storage/memory"
)

func TestLiveCatalog(t *testing.T) {
	ctx := context.Background()
	rows := memory.NewStore(
		product.Product{ID: "a", Name: "Apple pie", Price: decimal.NewFromInt(7), Stock: 99},
		product.Product{ID: "b", Name: "Banana bread", Price: decimal.NewFromInt(6), Stock: 99},
	)
	stock := memory.NewStore(product.Product{ID: "a", Stock: 2})

	c := inventory.NewLiveCatalog(rows, stock)

	all, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 2, all[0].Stock)
	assert.Equal(t, 0, all[1].Stock, "no stock entry reads as zero")
	assert.Equal(t, "Apple pie", all[0].Name)

	p, err := c.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stock)

	_, err = c.GetByID(ctx, "zz")
	require.ErrorIs(t, err, product.ErrNotFound)

	_, err = stock.Decrement(ctx, inventory.Adjustment{SaleID: "s", ProductID: "a", Quantity: 1}, inventory.ModeStrict)
	require.NoError(t, err)

	found, err := c.Search(ctx, "pie")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 1, found[0].Stock)

	none, err := c.GetByIDs(ctx, []string{"zz"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
