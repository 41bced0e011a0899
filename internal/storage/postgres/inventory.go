package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-checkout/internal/domain/inventory"
)

const (
	stockLevelsSQL = `SELECT id, stock FROM products WHERE id = ANY($1)`

	allStockLevelsSQL = `SELECT id, stock FROM products`

	recordAdjustmentSQL = `INSERT INTO stock_adjustments (sale_id, product_id, quantity)
		VALUES ($1, $2, $3) ON CONFLICT (sale_id, product_id) DO NOTHING`

	clampDecrementSQL = `UPDATE products SET stock = GREATEST(stock - $2, 0), updated_at = now()
		WHERE id = $1 RETURNING stock`

	strictDecrementSQL = `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2 RETURNING stock`

	currentStockSQL = `SELECT stock FROM products WHERE id = $1`

	restoreStockSQL = `UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`
)

var _ inventory.Store = (*InventoryStore)(nil)

// InventoryStore implements inventory.Store on the products table. Applied
// adjustments are recorded in stock_adjustments within the same transaction
// as the stock update.
type InventoryStore struct {
	pool *pgxpool.Pool
}

// NewInventoryStore returns an InventoryStore that uses the given pool.
func NewInventoryStore(pool *pgxpool.Pool) *InventoryStore {
	return &InventoryStore{pool: pool}
}

// Levels returns live stock for ids. Unknown IDs are absent from the result.
func (s *InventoryStore) Levels(ctx context.Context, ids []string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, stockLevelsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query stock levels")
	}
	return collectLevels(rows, len(ids))
}

// Decrement applies adj at most once.
func (s *InventoryStore) Decrement(ctx context.Context, adj inventory.Adjustment, mode inventory.Mode) (inventory.Result, error) {
	var res inventory.Result
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, recordAdjustmentSQL, adj.SaleID, adj.ProductID, adj.Quantity)
		if err != nil {
			return errors.Wrap(err, "record adjustment")
		}

		if tag.RowsAffected() == 0 {
			// Already applied by an earlier attempt.
			if err := tx.QueryRow(ctx, currentStockSQL, adj.ProductID).Scan(&res.Stock); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return inventory.ErrUnknownProduct
				}
				return errors.Wrap(err, "read stock")
			}
			return nil
		}

		query := clampDecrementSQL
		if mode == inventory.ModeStrict {
			query = strictDecrementSQL
		}
		err = tx.QueryRow(ctx, query, adj.ProductID, adj.Quantity).Scan(&res.Stock)
		if errors.Is(err, pgx.ErrNoRows) {
			return s.missingRow(ctx, tx, adj.ProductID, mode)
		}
		if err != nil {
			return errors.Wrap(err, "update stock")
		}
		res.Applied = true
		return nil
	})
	if err != nil {
		return inventory.Result{}, errors.Wrapf(err, "decrement %s", adj.Key())
	}
	return res, nil
}

// missingRow tells a strict-mode refusal apart from an unknown product.
func (s *InventoryStore) missingRow(ctx context.Context, tx pgx.Tx, productID string, mode inventory.Mode) error {
	if mode != inventory.ModeStrict {
		return inventory.ErrUnknownProduct
	}
	var stock int
	if err := tx.QueryRow(ctx, currentStockSQL, productID).Scan(&stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.ErrUnknownProduct
		}
		return errors.Wrap(err, "read stock")
	}
	return inventory.ErrConflict
}

// Snapshot reads every stock level.
func (s *InventoryStore) Snapshot(ctx context.Context) (inventory.Snapshot, error) {
	taken := time.Now().UTC()
	rows, err := s.pool.Query(ctx, allStockLevelsSQL)
	if err != nil {
		return inventory.Snapshot{}, errors.Wrap(err, "query stock levels")
	}
	levels, err := collectLevels(rows, 0)
	if err != nil {
		return inventory.Snapshot{}, err
	}
	return inventory.Snapshot{TakenAt: taken, Levels: levels}, nil
}

// Restore overwrites stock levels and records applied adjustments in one
// transaction.
func (s *InventoryStore) Restore(ctx context.Context, levels map[string]int, applied []inventory.Adjustment) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for id, n := range levels {
			batch.Queue(restoreStockSQL, id, n)
		}
		for _, adj := range applied {
			batch.Queue(recordAdjustmentSQL, adj.SaleID, adj.ProductID, adj.Quantity)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "restore stock")
		}
		return nil
	})
}

func collectLevels(rows pgx.Rows, hint int) (map[string]int, error) {
	levels := make(map[string]int, hint)
	var (
		id    string
		stock int
	)
	_, err := pgx.ForEachRow(rows, []any{&id, &stock}, func() error {
		levels[id] = stock
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan stock levels")
	}
	return levels, nil
}
