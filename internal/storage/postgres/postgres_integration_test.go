//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/pos-checkout/internal/domain/auth"
	"github.com/xenking/pos-checkout/internal/domain/cart"
	"github.com/xenking/pos-checkout/internal/domain/checkout"
	"github.com/xenking/pos-checkout/internal/domain/inventory"
	"github.com/xenking/pos-checkout/internal/domain/product"
	"github.com/xenking/pos-checkout/internal/domain/sale"
	"github.com/xenking/pos-checkout/internal/domain/tender"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "pos",
				"POSTGRES_PASSWORD": "pos",
				"POSTGRES_DB":       "pos",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pg.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := pg.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://pos:pos@%s:%s/pos?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn, 20)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	// Applying the schema twice must be harmless.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations rerun: %v", err)
	}

	return m.Run()
}

func seedProducts(t *testing.T, products ...product.Product) {
	t.Helper()
	require.NoError(t, NewProductRepository(testPool).Upsert(context.Background(), products))
}

func TestProductRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testPool)
	seedProducts(t,
		product.Product{ID: "pr-1", Name: "Espresso 100%", Price: decimal.RequireFromString("3.50"), Cost: decimal.RequireFromString("0.80"), Stock: 4},
		product.Product{ID: "pr-2", Name: "Espresso doppio", Price: decimal.RequireFromString("4.50"), Stock: 2},
	)

	p, err := repo.GetByID(ctx, "pr-1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("3.50").Equal(p.Price))
	assert.True(t, decimal.RequireFromString("0.80").Equal(p.Cost))
	assert.Equal(t, 4, p.Stock)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, product.ErrNotFound)

	found, err := repo.Search(ctx, "espresso")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(found), 2)

	literal, err := repo.Search(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, literal, 1)
	assert.Equal(t, "pr-1", literal[0].ID)

	some, err := repo.GetByIDs(ctx, []string{"pr-1", "pr-2", "missing"})
	require.NoError(t, err)
	assert.Len(t, some, 2)
}

func TestInventoryStore_Decrement(t *testing.T) {
	ctx := context.Background()
	store := NewInventoryStore(testPool)
	seedProducts(t, product.Product{ID: "inv-1", Name: "Muffin", Price: decimal.NewFromInt(3), Stock: 3})

	adj := inventory.Adjustment{SaleID: "inv-sale-1", ProductID: "inv-1", Quantity: 2}
	res, err := store.Decrement(ctx, adj, inventory.ModeClamp)
	require.NoError(t, err)
	assert.Equal(t, inventory.Result{Stock: 1, Applied: true}, res)

	res, err = store.Decrement(ctx, adj, inventory.ModeClamp)
	require.NoError(t, err)
	assert.Equal(t, inventory.Result{Stock: 1}, res)

	strict := inventory.Adjustment{SaleID: "inv-sale-2", ProductID: "inv-1", Quantity: 2}
	_, err = store.Decrement(ctx, strict, inventory.ModeStrict)
	require.ErrorIs(t, err, inventory.ErrConflict)

	// The refused decrement left no adjustment behind.
	res, err = store.Decrement(ctx, strict, inventory.ModeClamp)
	require.NoError(t, err)
	assert.Equal(t, inventory.Result{Stock: 0, Applied: true}, res)

	_, err = store.Decrement(ctx, inventory.Adjustment{SaleID: "inv-sale-3", ProductID: "nope", Quantity: 1}, inventory.ModeClamp)
	require.ErrorIs(t, err, inventory.ErrUnknownProduct)
}

func TestInventoryStore_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	store := NewInventoryStore(testPool)
	seedProducts(t, product.Product{ID: "snap-1", Name: "Tea", Price: decimal.NewFromInt(2), Stock: 9})

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, snap.Levels["snap-1"])

	applied := []inventory.Adjustment{{SaleID: "snap-sale", ProductID: "snap-1", Quantity: 3}}
	require.NoError(t, store.Restore(ctx, map[string]int{"snap-1": 6}, applied))

	levels, err := store.Levels(ctx, []string{"snap-1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"snap-1": 6}, levels)

	res, err := store.Decrement(ctx, applied[0], inventory.ModeClamp)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, 6, res.Stock)
}

func TestSaleRepository(t *testing.T) {
	ctx := context.Background()
	ledger := NewSaleRepository(testPool)
	at := time.Date(2025, 11, 3, 15, 4, 5, 0, time.UTC)

	s := &sale.Sale{
		ID:        "ledger-1",
		CreatedAt: at,
		Seller:    sale.Seller{ID: "ledger-seller", Name: "Bia"},
		Lines: []sale.Line{{
			ProductID: "p", Name: "Cake", Quantity: 2,
			UnitPrice: decimal.RequireFromString("9.00"), UnitCost: decimal.RequireFromString("3.10"),
		}},
		Total:        decimal.RequireFromString("20.00"),
		Method:       tender.Cash,
		Installments: 1,
		Note:         sale.RetainedChangeNote(decimal.RequireFromString("2.00")),
	}
	id, err := ledger.Append(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "ledger-1", id)

	_, err = ledger.Append(ctx, s)
	require.ErrorIs(t, err, sale.ErrDuplicate)

	got, err := ledger.Get(ctx, "ledger-1")
	require.NoError(t, err)
	assert.Equal(t, at, got.CreatedAt)
	assert.Equal(t, s.Seller, got.Seller)
	assert.Equal(t, tender.Cash, got.Method)
	assert.True(t, s.Total.Equal(got.Total))
	require.Len(t, got.Lines, 1)
	assert.True(t, decimal.RequireFromString("6.20").Equal(got.Cost()))
	assert.Equal(t, s.Note, got.Note)
	assert.False(t, got.Reconciled)

	_, err = ledger.Get(ctx, "ledger-missing")
	require.ErrorIs(t, err, sale.ErrNotFound)

	inRange, err := ledger.ListByDateRange(ctx, sale.Range{From: at, To: at.Add(time.Second)})
	require.NoError(t, err)
	require.Len(t, inRange, 1)

	mine, err := ledger.ListBySeller(ctx, "ledger-seller", sale.Range{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	pending, err := ledger.ListUnreconciled(ctx)
	require.NoError(t, err)
	assert.True(t, containsSale(pending, "ledger-1"))

	require.NoError(t, ledger.MarkReconciled(ctx, "ledger-1"))
	require.NoError(t, ledger.MarkReconciled(ctx, "ledger-1"))
	require.ErrorIs(t, ledger.MarkReconciled(ctx, "ledger-missing"), sale.ErrNotFound)

	pending, err = ledger.ListUnreconciled(ctx)
	require.NoError(t, err)
	assert.False(t, containsSale(pending, "ledger-1"))

	got, err = ledger.Get(ctx, "ledger-1")
	require.NoError(t, err)
	assert.True(t, got.Reconciled)
}

func containsSale(sales []sale.Sale, id string) bool {
	for i := range sales {
		if sales[i].ID == id {
			return true
		}
	}
	return false
}

func TestTerminalKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewTerminalKeyRepository(testPool)
	pepper := []byte("integration")

	require.NoError(t, repo.Upsert(ctx, auth.TerminalKey{
		ID:         "term-1",
		KeyHash:    auth.HashKey(pepper, "front-desk"),
		SellerID:   "u-7",
		SellerName: "Caio",
	}))

	seller, err := auth.NewAuthenticator(repo, pepper).Authenticate(ctx, "front-desk")
	require.NoError(t, err)
	assert.Equal(t, sale.Seller{ID: "u-7", Name: "Caio"}, seller)

	_, err = repo.FindByHash(ctx, "nope")
	require.Error(t, err)
}

func TestAdvisoryLocker(t *testing.T) {
	locks := NewAdvisoryLocker(testPool)

	unlock, err := locks.Lock(context.Background(), []string{"lock-a", "lock-b"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, []string{"lock-b"})
	require.Error(t, err)

	unlock()

	again, err := locks.Lock(context.Background(), []string{"lock-b"})
	require.NoError(t, err)
	again()
}

func TestFinalize_ConcurrentLastUnitAcrossLockers(t *testing.T) {
	seedProducts(t, product.Product{ID: "last-unit", Name: "Display model", Price: decimal.NewFromInt(50), Stock: 1})

	catalog := NewProductRepository(testPool)
	ledger := NewSaleRepository(testPool)
	stock := NewInventoryStore(testPool)

	// Two services with their own lockers stand in for two server processes.
	services := make([]*checkout.Service, 2)
	for i := range services {
		svc, err := checkout.NewService(ledger, stock, NewAdvisoryLocker(testPool), checkout.Options{})
		require.NoError(t, err)
		services[i] = svc
	}

	p, err := catalog.GetByID(context.Background(), "last-unit")
	require.NoError(t, err)

	errs := make([]error, len(services))
	var wg sync.WaitGroup
	for i, svc := range services {
		c := cart.New()
		require.NoError(t, c.Add(*p))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Finalize(context.Background(), checkout.Request{
				Cart:   c,
				Tender: tender.Info{Method: tender.Pix},
				Seller: sale.Seller{ID: "u1", Name: "Ana"},
			})
		}()
	}
	wg.Wait()

	var completed, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			completed++
		case errors.Is(err, checkout.ErrStockConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, conflicts)

	levels, err := stock.Levels(context.Background(), []string{"last-unit"})
	require.NoError(t, err)
	assert.Equal(t, 0, levels["last-unit"])
}
