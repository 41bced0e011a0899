package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-checkout/internal/domain/sale"
	"github.com/xenking/pos-checkout/internal/domain/tender"
)

const (
	saleColumns = `s.id, s.created_at, s.seller_id, s.seller_name, s.lines, s.total, s.method, s.installments, s.note,
		r.sale_id IS NOT NULL`

	saleFrom = ` FROM sales s LEFT JOIN sale_reconciliations r ON r.sale_id = s.id`

	insertSaleSQL = `INSERT INTO sales (id, created_at, seller_id, seller_name, lines, total, method, installments, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	getSaleSQL = `SELECT ` + saleColumns + saleFrom + ` WHERE s.id = $1`

	listSalesSQL = `SELECT ` + saleColumns + saleFrom + `
		WHERE ($1::timestamptz IS NULL OR s.created_at >= $1)
		  AND ($2::timestamptz IS NULL OR s.created_at < $2)
		ORDER BY s.created_at, s.id`

	listSalesBySellerSQL = `SELECT ` + saleColumns + saleFrom + `
		WHERE s.seller_id = $3
		  AND ($1::timestamptz IS NULL OR s.created_at >= $1)
		  AND ($2::timestamptz IS NULL OR s.created_at < $2)
		ORDER BY s.created_at, s.id`

	listUnreconciledSQL = `SELECT ` + saleColumns + saleFrom + `
		WHERE r.sale_id IS NULL
		ORDER BY s.created_at, s.id`

	markReconciledSQL = `INSERT INTO sale_reconciliations (sale_id)
		SELECT id FROM sales WHERE id = $1
		ON CONFLICT (sale_id) DO NOTHING`

	saleExistsSQL = `SELECT EXISTS (SELECT 1 FROM sales WHERE id = $1)`
)

var _ sale.Ledger = (*SaleRepository)(nil)

// SaleRepository implements sale.Ledger backed by PostgreSQL. Sale lines are
// stored in a JSONB column; reconciliation markers live in
// sale_reconciliations.
type SaleRepository struct {
	pool *pgxpool.Pool
}

// NewSaleRepository returns a SaleRepository that uses the given pool.
func NewSaleRepository(pool *pgxpool.Pool) *SaleRepository {
	return &SaleRepository{pool: pool}
}

// Append persists a new sale.
func (r *SaleRepository) Append(ctx context.Context, s *sale.Sale) (string, error) {
	linesJSON, err := json.Marshal(s.Lines)
	if err != nil {
		return "", errors.Wrap(err, "marshal sale lines")
	}

	tag, err := r.pool.Exec(ctx, insertSaleSQL,
		s.ID, s.CreatedAt, s.Seller.ID, s.Seller.Name, linesJSON,
		s.Total, s.Method.String(), s.Installments, s.Note,
	)
	if err != nil {
		return "", errors.Wrapf(err, "insert sale %q", s.ID)
	}
	if tag.RowsAffected() == 0 {
		return "", sale.ErrDuplicate
	}
	return s.ID, nil
}

// Get returns a sale by ID.
func (r *SaleRepository) Get(ctx context.Context, id string) (*sale.Sale, error) {
	rows, err := r.pool.Query(ctx, getSaleSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get sale %q", id)
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanSale)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sale.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get sale %q", id)
	}
	return &s, nil
}

// ListByDateRange returns sales created within rng, oldest first.
func (r *SaleRepository) ListByDateRange(ctx context.Context, rng sale.Range) ([]sale.Sale, error) {
	from, to := bounds(rng)
	rows, err := r.pool.Query(ctx, listSalesSQL, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "list sales")
	}
	return pgx.CollectRows(rows, scanSale)
}

// ListBySeller returns sales of sellerID created within rng, oldest first.
func (r *SaleRepository) ListBySeller(ctx context.Context, sellerID string, rng sale.Range) ([]sale.Sale, error) {
	from, to := bounds(rng)
	rows, err := r.pool.Query(ctx, listSalesBySellerSQL, from, to, sellerID)
	if err != nil {
		return nil, errors.Wrapf(err, "list sales of seller %q", sellerID)
	}
	return pgx.CollectRows(rows, scanSale)
}

// ListUnreconciled returns sales without a reconciliation marker.
func (r *SaleRepository) ListUnreconciled(ctx context.Context) ([]sale.Sale, error) {
	rows, err := r.pool.Query(ctx, listUnreconciledSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list unreconciled sales")
	}
	return pgx.CollectRows(rows, scanSale)
}

// MarkReconciled records that every adjustment of the sale was applied.
func (r *SaleRepository) MarkReconciled(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, markReconciledSQL, id)
	if err != nil {
		return errors.Wrapf(err, "mark sale %q reconciled", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Either already marked or missing.
	var exists bool
	if err := r.pool.QueryRow(ctx, saleExistsSQL, id).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check sale %q", id)
	}
	if !exists {
		return sale.ErrNotFound
	}
	return nil
}

func bounds(rng sale.Range) (from, to *time.Time) {
	if !rng.From.IsZero() {
		from = &rng.From
	}
	if !rng.To.IsZero() {
		to = &rng.To
	}
	return from, to
}

func scanSale(row pgx.CollectableRow) (sale.Sale, error) {
	var (
		s         sale.Sale
		linesJSON []byte
		method    string
	)
	err := row.Scan(
		&s.ID, &s.CreatedAt, &s.Seller.ID, &s.Seller.Name, &linesJSON,
		&s.Total, &method, &s.Installments, &s.Note, &s.Reconciled,
	)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(linesJSON, &s.Lines); err != nil {
		return s, errors.Wrapf(err, "unmarshal lines of sale %q", s.ID)
	}
	if s.Method, err = tender.ParseMethod(method); err != nil {
		return s, errors.Wrapf(err, "sale %q", s.ID)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}
