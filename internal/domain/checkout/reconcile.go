package checkout

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pos-checkout/internal/domain/inventory"
	"github.com/xenking/pos-checkout/internal/domain/sale"
)

const defaultReconcileConcurrency = 4

// ReplayResult reports what replaying one sale changed.
type ReplayResult struct {
	SaleID string
	// Applied counts adjustments written by this replay; Skipped counts
	// adjustments that had already been applied.
	Applied int
	Skipped int
}

// Report summarizes a reconciliation pass.
type Report struct {
	Sales   int
	Applied int
	Skipped int
	// Failed maps sale ID to the reason it could not be reconciled.
	Failed map[string]string
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	// Concurrency bounds how many sales are replayed at once.
	Concurrency   int
	MeterProvider metric.MeterProvider
}

// Reconciler repairs stock for sales whose decrements were not confirmed.
// Every adjustment is keyed by sale ID and product ID, so any replay can be
// repeated safely.
type Reconciler struct {
	ledger      sale.Ledger
	stock       inventory.Store
	locks       inventory.Locker
	concurrency int
	metrics     *metrics
}

// NewReconciler creates a Reconciler over the same stores used by Service.
func NewReconciler(
	ledger sale.Ledger,
	stock inventory.Store,
	locks inventory.Locker,
	opts ReconcilerOptions,
) (*Reconciler, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultReconcileConcurrency
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	m, err := newMetrics(opts.MeterProvider.Meter("github.com/xenking/pos-checkout/checkout"))
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}
	return &Reconciler{
		ledger:      ledger,
		stock:       stock,
		locks:       locks,
		concurrency: opts.Concurrency,
		metrics:     m,
	}, nil
}

// Replay applies any missing adjustments of one sale and marks it
// reconciled.
func (r *Reconciler) Replay(ctx context.Context, saleID string) (ReplayResult, error) {
	sl, err := r.ledger.Get(ctx, saleID)
	if err != nil {
		return ReplayResult{}, errors.Wrapf(err, "get sale %s", saleID)
	}
	return r.replay(ctx, sl)
}

// ReplayPending replays every unreconciled sale. Failures of individual
// sales do not stop the pass; they are listed in the report and summarized
// in the returned error.
func (r *Reconciler) ReplayPending(ctx context.Context) (Report, error) {
	sales, err := r.ledger.ListUnreconciled(ctx)
	if err != nil {
		return Report{}, errors.Wrap(err, "list unreconciled sales")
	}

	var (
		mu     sync.Mutex
		report = Report{Failed: make(map[string]string)}
	)

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i := range sales {
		sl := &sales[i]
		g.Go(func() error {
			res, err := r.replay(ctx, sl)

			mu.Lock()
			defer mu.Unlock()
			report.Sales++
			report.Applied += res.Applied
			report.Skipped += res.Skipped
			if err != nil {
				report.Failed[sl.ID] = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	zctx.From(ctx).Info("Reconciliation pass finished",
		zap.Int("sales", report.Sales),
		zap.Int("applied", report.Applied),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)),
	)

	if len(report.Failed) > 0 {
		return report, errors.Errorf("%d of %d sales failed to reconcile", len(report.Failed), report.Sales)
	}
	return report, nil
}

func (r *Reconciler) replay(ctx context.Context, sl *sale.Sale) (ReplayResult, error) {
	res := ReplayResult{SaleID: sl.ID}

	ids := make([]string, len(sl.Lines))
	for i, l := range sl.Lines {
		ids[i] = l.ProductID
	}
	unlock, err := r.locks.Lock(ctx, ids)
	if err != nil {
		return res, errors.Wrap(err, "lock products")
	}
	defer unlock()

	for _, l := range sl.Lines {
		adj := inventory.Adjustment{SaleID: sl.ID, ProductID: l.ProductID, Quantity: l.Quantity}
		out, err := r.stock.Decrement(ctx, adj, inventory.ModeClamp)
		if err != nil {
			return res, errors.Wrapf(err, "decrement %s", l.ProductID)
		}
		if out.Applied {
			res.Applied++
		} else {
			res.Skipped++
		}
	}
	r.metrics.reconciled(ctx, res.Applied)

	if err := r.ledger.MarkReconciled(ctx, sl.ID); err != nil {
		return res, errors.Wrap(err, "mark reconciled")
	}
	return res, nil
}

// ErrUnreconciledSales is returned by Capture while some sales still have
// pending adjustments.
var ErrUnreconciledSales = errors.New("sales are unreconciled")

const captureAttempts = 3

// Capture reads a stock snapshot that agrees with the ledger. It holds the
// lock of every product while reading, so no sale is between its ledger write
// and its decrements: every sale created before TakenAt is fully reflected in
// the levels or still unreconciled. Unless force is set, Capture refuses
// while unreconciled sales exist.
func (r *Reconciler) Capture(ctx context.Context, force bool) (inventory.Snapshot, error) {
	seen, err := r.stock.Snapshot(ctx)
	if err != nil {
		return inventory.Snapshot{}, errors.Wrap(err, "list products")
	}
	for range captureAttempts {
		snap, retry, err := r.capture(ctx, seen, force)
		if err != nil || !retry {
			return snap, err
		}
		// Products were added meanwhile; lock the new set.
		seen = snap
	}
	return inventory.Snapshot{}, errors.New("product set kept changing during capture")
}

func (r *Reconciler) capture(ctx context.Context, seen inventory.Snapshot, force bool) (_ inventory.Snapshot, retry bool, _ error) {
	ids := make([]string, 0, len(seen.Levels))
	for id := range seen.Levels {
		ids = append(ids, id)
	}
	unlock, err := r.locks.Lock(ctx, ids)
	if err != nil {
		return inventory.Snapshot{}, false, errors.Wrap(err, "lock products")
	}
	defer unlock()

	if !force {
		pending, err := r.ledger.ListUnreconciled(ctx)
		if err != nil {
			return inventory.Snapshot{}, false, errors.Wrap(err, "list unreconciled sales")
		}
		if len(pending) > 0 {
			return inventory.Snapshot{}, false, errors.Wrapf(ErrUnreconciledSales, "%d pending", len(pending))
		}
	}

	snap, err := r.stock.Snapshot(ctx)
	if err != nil {
		return inventory.Snapshot{}, false, errors.Wrap(err, "capture stock")
	}
	for id := range snap.Levels {
		if _, ok := seen.Levels[id]; !ok {
			return snap, true, nil
		}
	}
	return snap, false, nil
}

// Rebuild re-derives stock from a last-known-good snapshot by subtracting
// every sale recorded after it, clamping at zero. The sales replayed this way
// are recorded as applied, so a later Replay of them is a no-op. A sale with a
// product the snapshot does not know stays unreconciled. The snapshot should
// come from Capture.
//
// Rebuild holds the locks of every product in the snapshot while it runs.
func (r *Reconciler) Rebuild(ctx context.Context, snap inventory.Snapshot) (map[string]int, error) {
	lg := zctx.From(ctx)

	ids := make([]string, 0, len(snap.Levels))
	for id := range snap.Levels {
		ids = append(ids, id)
	}
	unlock, err := r.locks.Lock(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock products")
	}
	defer unlock()

	sales, err := r.ledger.ListByDateRange(ctx, sale.Range{From: snap.TakenAt})
	if err != nil {
		return nil, errors.Wrap(err, "list sales since snapshot")
	}

	levels := make(map[string]int, len(snap.Levels))
	for id, n := range snap.Levels {
		levels[id] = n
	}

	var (
		applied  []inventory.Adjustment
		replayed []string
	)
	for i := range sales {
		sl := &sales[i]
		if !sl.CreatedAt.After(snap.TakenAt) {
			continue
		}
		complete := true
		for _, l := range sl.Lines {
			stock, ok := levels[l.ProductID]
			if !ok {
				// Left for ReplayPending: the sale stays unreconciled.
				lg.Warn("Sold product missing from snapshot",
					zap.String("sale_id", sl.ID),
					zap.String("product_id", l.ProductID),
				)
				complete = false
				continue
			}
			levels[l.ProductID] = inventory.Clamp(stock, l.Quantity)
			applied = append(applied, inventory.Adjustment{
				SaleID:    sl.ID,
				ProductID: l.ProductID,
				Quantity:  l.Quantity,
			})
		}
		if complete {
			replayed = append(replayed, sl.ID)
		}
	}

	if err := r.stock.Restore(ctx, levels, applied); err != nil {
		return nil, errors.Wrap(err, "restore stock")
	}
	for _, id := range replayed {
		if err := r.ledger.MarkReconciled(ctx, id); err != nil {
			return nil, errors.Wrapf(err, "mark %s reconciled", id)
		}
	}

	lg.Info("Stock rebuilt from snapshot",
		zap.Time("taken_at", snap.TakenAt),
		zap.Int("products", len(levels)),
		zap.Int("sales", len(replayed)),
	)
	return levels, nil
}
