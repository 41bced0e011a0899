package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/domain/auth"
	"github.com/xenking/pos-checkout/internal/domain/inventory"
	"github.com/xenking/pos-checkout/internal/domain/product"
	"github.com/xenking/pos-checkout/internal/domain/sale"
	"github.com/xenking/pos-checkout/internal/seed"
	"github.com/xenking/pos-checkout/internal/storage/dynamo"
	"github.com/xenking/pos-checkout/internal/storage/memory"
	"github.com/xenking/pos-checkout/internal/storage/postgres"
	"github.com/xenking/pos-checkout/pkg/health"
)

type readinessCheck struct {
	name  string
	check health.CheckFunc
}

// backend is the set of stores the domain services run on.
type backend struct {
	catalog product.Catalog
	stock   inventory.Store
	ledger  sale.Ledger
	keys    auth.Repository
	locks   inventory.Locker
	checks  []readinessCheck
	close   func()
}

// openBackend connects the configured storage and, when selected, swaps the
// stock store for DynamoDB. Catalog reads then overlay DynamoDB stock.
func openBackend(ctx context.Context, lg *zap.Logger, cfg *Config) (*backend, error) {
	var (
		b   *backend
		err error
	)
	switch cfg.Storage {
	case StorageMemory:
		b, err = openMemory(cfg)
	default:
		b, err = openPostgres(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Inventory == InventoryDynamoDB {
		client, err := dynamo.NewClient(ctx, cfg.Dynamo.Client)
		if err != nil {
			b.close()
			return nil, errors.Wrap(err, "create dynamodb client")
		}
		stock := dynamo.NewInventoryStore(client, cfg.Dynamo.Tables)
		b.stock = stock
		b.catalog = inventory.NewLiveCatalog(b.catalog, stock)
		b.checks = append(b.checks, readinessCheck{
			name: "dynamodb",
			check: func(ctx context.Context) error {
				_, err := stock.Levels(ctx, []string{"readiness-check"})
				return err
			},
		})
		lg.Info("Stock served from DynamoDB",
			zap.String("region", cfg.Dynamo.Client.Region),
			zap.String("table", cfg.Dynamo.Tables.Stock),
		)
	}
	return b, nil
}

func openMemory(cfg *Config) (*backend, error) {
	f, err := seed.ReadFile(cfg.SeedFile)
	if err != nil {
		return nil, errors.Wrap(err, "load seed")
	}
	store := memory.NewStore(f.Products...)
	return &backend{
		catalog: store,
		stock:   store,
		ledger:  memory.NewLedger(),
		keys:    memory.NewKeys(f.TerminalKeys([]byte(cfg.APIKeyPepper))...),
		locks:   inventory.NewKeyMutex(),
		close:   func() {},
	}, nil
}

func openPostgres(ctx context.Context, cfg *Config) (*backend, error) {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.MaxConns)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return &backend{
		catalog: postgres.NewProductRepository(pool),
		stock:   postgres.NewInventoryStore(pool),
		ledger:  postgres.NewSaleRepository(pool),
		keys:    postgres.NewTerminalKeyRepository(pool),
		locks:   postgres.NewAdvisoryLocker(pool),
		checks: []readinessCheck{{
			name:  "postgres",
			check: pool.Ping,
		}},
		close: pool.Close,
	}, nil
}
