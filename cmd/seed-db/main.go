package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-checkout/internal/seed"
	"github.com/xenking/pos-checkout/internal/storage/dynamo"
	"github.com/xenking/pos-checkout/internal/storage/postgres"
)

type options struct {
	databaseURL string
	seedFile    string
	pepper      string
	dynamoStock bool
	dynamo      dynamo.ClientConfig
	tables      dynamo.Tables
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.seedFile, "seed-file", "db/seed/catalog.json", "path to the catalog seed file")
	flag.StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for terminal key hashing (or POS_API_KEY_PEPPER env)")
	flag.BoolVar(&opts.dynamoStock, "dynamodb", false, "also write stock levels to DynamoDB")
	flag.StringVar(&opts.dynamo.Region, "dynamodb-region", "us-east-1", "DynamoDB region")
	flag.StringVar(&opts.dynamo.Endpoint, "dynamodb-endpoint", "", "DynamoDB endpoint override, e.g. http://localhost:8000")
	flag.StringVar(&opts.tables.Stock, "stock-table", "pos-stock", "DynamoDB stock table")
	flag.StringVar(&opts.tables.Adjustments, "adjustments-table", "pos-stock-adjustments", "DynamoDB adjustments table")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.pepper == "" {
		opts.pepper = os.Getenv("POS_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("reading seed file", slog.String("path", opts.seedFile))

	f, err := seed.ReadFile(opts.seedFile)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL, 2)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := postgres.NewProductRepository(pool).Upsert(ctx, f.Products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	slog.Info("upserted products", slog.Int("count", len(f.Products)))

	keys := postgres.NewTerminalKeyRepository(pool)
	for _, k := range f.TerminalKeys([]byte(opts.pepper)) {
		if err := keys.Upsert(ctx, k); err != nil {
			return errors.Wrapf(err, "seed terminal %s", k.ID)
		}
		slog.Info("upserted terminal key",
			slog.String("id", k.ID),
			slog.String("seller", k.SellerID),
		)
	}

	if !opts.dynamoStock {
		return nil
	}

	client, err := dynamo.NewClient(ctx, opts.dynamo)
	if err != nil {
		return errors.Wrap(err, "create dynamodb client")
	}
	stock := dynamo.NewInventoryStore(client, opts.tables)
	for _, p := range f.Products {
		if err := stock.PutStock(ctx, p.ID, p.Stock); err != nil {
			return err
		}
	}
	slog.Info("wrote stock to dynamodb",
		slog.String("table", opts.tables.Stock),
		slog.Int("count", len(f.Products)),
	)

	return nil
}
