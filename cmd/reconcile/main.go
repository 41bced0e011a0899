// Command reconcile repairs stock from the sales ledger.
//
// Modes:
//
//	replay    apply the missing adjustments of every unreconciled sale
//	snapshot  write current stock levels to -out
//	rebuild   restore stock from the snapshot at -in minus later sales
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-checkout/internal/domain/checkout"
	"github.com/xenking/pos-checkout/internal/domain/inventory"
	"github.com/xenking/pos-checkout/internal/snapshot"
	"github.com/xenking/pos-checkout/internal/storage/dynamo"
	"github.com/xenking/pos-checkout/internal/storage/postgres"
)

const (
	modeReplay   = "replay"
	modeSnapshot = "snapshot"
	modeRebuild  = "rebuild"
)

type options struct {
	mode        string
	databaseURL string
	out         string
	in          string
	force       bool
	concurrency int
	dynamoStock bool
	dynamo      dynamo.ClientConfig
	tables      dynamo.Tables
}

func main() {
	var opts options

	flag.StringVar(&opts.mode, "mode", modeReplay, "replay, snapshot or rebuild")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.out, "out", "stock.snapshot.gz", "snapshot output path")
	flag.StringVar(&opts.in, "in", "stock.snapshot.gz", "snapshot input path for rebuild")
	flag.BoolVar(&opts.force, "force", false, "take a snapshot even while sales are unreconciled")
	flag.IntVar(&opts.concurrency, "concurrency", 4, "sales replayed in parallel")
	flag.BoolVar(&opts.dynamoStock, "dynamodb", false, "stock lives in DynamoDB")
	flag.StringVar(&opts.dynamo.Region, "dynamodb-region", "us-east-1", "DynamoDB region")
	flag.StringVar(&opts.dynamo.Endpoint, "dynamodb-endpoint", "", "DynamoDB endpoint override")
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("reconcile failed", slog.String("mode", opts.mode), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	pool, err := postgres.NewPool(ctx, opts.databaseURL, int32(opts.concurrency)+2)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	ledger := postgres.NewSaleRepository(pool)
	var stock inventory.Store = postgres.NewInventoryStore(pool)
	if opts.dynamoStock {
		client, err := dynamo.NewClient(ctx, opts.dynamo)
		if err != nil {
			return errors.Wrap(err, "create dynamodb client")
		}
		stock = dynamo.NewInventoryStore(client, opts.tables)
	}

	// Advisory locks serialize with running API servers.
	r, err := checkout.NewReconciler(ledger, stock, postgres.NewAdvisoryLocker(pool), checkout.ReconcilerOptions{
		Concurrency: opts.concurrency,
	})
	if err != nil {
		return err
	}

	switch opts.mode {
	case modeReplay:
		report, err := r.ReplayPending(ctx)
		for id, reason := range report.Failed {
			slog.Warn("sale not reconciled", slog.String("sale_id", id), slog.String("reason", reason))
		}
		if err != nil {
			return err
		}
		slog.Info("replay finished",
			slog.Int("sales", report.Sales),
			slog.Int("applied", report.Applied),
			slog.Int("skipped", report.Skipped),
		)
		return nil

	case modeSnapshot:
		snap, err := r.Capture(ctx, opts.force)
		if errors.Is(err, checkout.ErrUnreconciledSales) {
			return errors.Wrap(err, "run replay first or pass -force")
		}
		if err != nil {
			return err
		}
		if err := snapshot.WriteFile(opts.out, snap); err != nil {
			return err
		}
		slog.Info("snapshot written",
			slog.String("path", opts.out),
			slog.Int("products", len(snap.Levels)),
			slog.Time("taken_at", snap.TakenAt),
		)
		return nil

	case modeRebuild:
		snap, err := snapshot.ReadFile(opts.in)
		if err != nil {
			return err
		}
		levels, err := r.Rebuild(ctx, snap)
		if err != nil {
			return err
		}
		slog.Info("stock rebuilt",
			slog.String("path", opts.in),
			slog.Time("taken_at", snap.TakenAt),
			slog.Int("products", len(levels)),
		)
		return nil

	default:
		return errors.Errorf("unknown mode %q", opts.mode)
	}
}
