package dynamo

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-checkout/internal/domain/inventory"
)

var testTables = Tables{Stock: "stock", Adjustments: "adjustments"}

func newTestStore(t *testing.T, levels map[string]int) (*InventoryStore, *mockDynamo) {
	t.Helper()
	mock := newMockDynamo()
	s := NewInventoryStore(mock, testTables)
	for id, n := range levels {
		require.NoError(t, s.PutStock(context.Background(), id, n))
	}
	return s, mock
}

func TestInventoryStore_Decrement(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, map[string]int{"p1": 3})

	adj := inventory.Adjustment{SaleID: "s1", ProductID: "p1", Quantity: 2}
	res, err := s.Decrement(ctx, adj, inventory.ModeClamp)
	require.NoError(t, err)
	assert.Equal(t, inventory.Result{Stock: 1, Applied: true}, res)

	res, err = s.Decrement(ctx, adj, inventory.ModeClamp)
	require.NoError(t, err)
	assert.Equal(t, inventory.Result{Stock: 1}, res)

	_, err = s.Decrement(ctx, inventory.Adjustment{SaleID: "s2", ProductID: "p1", Quantity: 2}, inventory.ModeStrict)
	require.ErrorIs(t, err, inventory.ErrConflict)

	res, err = s.Decrement(ctx, inventory.Adjustment{SaleID: "s2", ProductID: "p1", Quantity: 2}, inventory.ModeClamp)
	require.NoError(t, err)
	assert.Equal(t, inventory.Result{Stock: 0, Applied: true}, res)

	_, err = s.Decrement(ctx, inventory.Adjustment{SaleID: "s3", ProductID: "nope", Quantity: 1}, inventory.ModeClamp)
	require.ErrorIs(t, err, inventory.ErrUnknownProduct)
}

func TestInventoryStore_DecrementRetriesOnRace(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, map[string]int{"p1": 10})

	// Another writer sells 4 units between our read and our transaction.
	mock.beforeTransact = func(m *mockDynamo) {
		m.setStockLocked(testTables.Stock, "p1", 6)
	}

	res, err := s.Decrement(ctx, inventory.Adjustment{SaleID: "s1", ProductID: "p1", Quantity: 1}, inventory.ModeClamp)
	require.NoError(t, err)
	assert.Equal(t, inventory.Result{Stock: 5, Applied: true}, res)
	assert.Equal(t, 2, mock.transactCalls)
}

func TestInventoryStore_DecrementConcurrentMarker(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, map[string]int{"p1": 10})
	adj := inventory.Adjustment{SaleID: "s1", ProductID: "p1", Quantity: 2}

	// The same adjustment lands from elsewhere while we are deciding.
	mock.beforeTransact = func(m *mockDynamo) {
		m.table(testTables.Adjustments)[adj.Key()] = map[string]types.AttributeValue{
			adjustmentKey: &types.AttributeValueMemberS{Value: adj.Key()},
		}
		m.setStockLocked(testTables.Stock, "p1", 8)
	}

	res, err := s.Decrement(ctx, adj, inventory.ModeClamp)
	require.NoError(t, err)
	assert.Equal(t, inventory.Result{Stock: 8}, res)
}

func TestInventoryStore_DecrementGivesUp(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, map[string]int{"p1": 10})
	s.maxAttempts = 1
	mock.beforeTransact = func(m *mockDynamo) {
		m.setStockLocked(testTables.Stock, "p1", 9)
	}

	_, err := s.Decrement(ctx, inventory.Adjustment{SaleID: "s1", ProductID: "p1", Quantity: 1}, inventory.ModeClamp)
	require.ErrorIs(t, err, ErrContention)
}

func TestInventoryStore_TransactError(t *testing.T) {
	s, mock := newTestStore(t, map[string]int{"p1": 10})
	mock.failTransact = errors.New("throttled")

	_, err := s.Decrement(context.Background(), inventory.Adjustment{SaleID: "s1", ProductID: "p1", Quantity: 1}, inventory.ModeClamp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestInventoryStore_LevelsSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, map[string]int{"p1": 4, "p2": 7})

	levels, err := s.Levels(ctx, []string{"p2", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p2": 7}, levels)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 4, "p2": 7}, snap.Levels)

	applied := []inventory.Adjustment{{SaleID: "s9", ProductID: "p1", Quantity: 1}}
	require.NoError(t, s.Restore(ctx, map[string]int{"p1": 2, "ghost": 5}, applied))

	levels, err = s.Levels(ctx, []string{"p1", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 2}, levels)

	res, err := s.Decrement(ctx, applied[0], inventory.ModeClamp)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, 2, res.Stock)
}

func TestInventoryStore_RestoreBatchesTransactions(t *testing.T) {
	ctx := context.Background()
	seed := make(map[string]int, 150)
	restored := make(map[string]int, 150)
	ids := make([]string, 0, 150)
	for i := range 150 {
		id := fmt.Sprintf("p%03d", i)
		seed[id] = 50
		restored[id] = i
		ids = append(ids, id)
	}
	s, mock := newTestStore(t, seed)

	applied := []inventory.Adjustment{
		{SaleID: "s1", ProductID: "p000", Quantity: 1},
		{SaleID: "s1", ProductID: "p000", Quantity: 1},
		{SaleID: "s2", ProductID: "p149", Quantity: 2},
	}
	restored["ghost"] = 3

	before := mock.transactCalls
	require.NoError(t, s.Restore(ctx, restored, applied))
	assert.Equal(t, 2, mock.transactCalls-before)

	levels, err := s.Levels(ctx, append(ids, "ghost"))
	require.NoError(t, err)
	delete(restored, "ghost")
	assert.Equal(t, restored, levels)

	res, err := s.Decrement(ctx, applied[2], inventory.ModeClamp)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, 149, res.Stock)
}

func TestInventoryStore_RestoreReportsFailedBatch(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, map[string]int{"p1": 4})
	mock.failTransact = errors.New("throttled")

	err := s.Restore(ctx, map[string]int{"p1": 1}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restore items 0-0")

	levels, err := s.Levels(ctx, []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 4}, levels)
}
