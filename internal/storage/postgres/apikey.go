package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-checkout/internal/domain/auth"
)

const (
	findTerminalKeySQL = `SELECT id, key_hash, seller_id, seller_name
		FROM terminal_keys WHERE key_hash = $1 AND active`

	upsertTerminalKeySQL = `INSERT INTO terminal_keys (id, key_hash, seller_id, seller_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			seller_id = EXCLUDED.seller_id,
			seller_name = EXCLUDED.seller_name,
			active = TRUE`
)

var _ auth.Repository = (*TerminalKeyRepository)(nil)

// TerminalKeyRepository provides terminal key lookups backed by PostgreSQL.
type TerminalKeyRepository struct {
	pool *pgxpool.Pool
}

// NewTerminalKeyRepository returns a TerminalKeyRepository that uses the
// given pool.
func NewTerminalKeyRepository(pool *pgxpool.Pool) *TerminalKeyRepository {
	return &TerminalKeyRepository{pool: pool}
}

// FindByHash looks up an active terminal key by its HMAC-SHA256 hash.
// Returns an error wrapping pgx.ErrNoRows when no matching key exists.
func (r *TerminalKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.TerminalKey, error) {
	var k auth.TerminalKey
	err := r.pool.QueryRow(ctx, findTerminalKeySQL, hash).Scan(&k.ID, &k.KeyHash, &k.SellerID, &k.SellerName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrap(err, "terminal key not found")
		}
		return nil, errors.Wrap(err, "find terminal key by hash")
	}
	return &k, nil
}

// Upsert stores k, reactivating it if it was disabled.
func (r *TerminalKeyRepository) Upsert(ctx context.Context, k auth.TerminalKey) error {
	if _, err := r.pool.Exec(ctx, upsertTerminalKeySQL, k.ID, k.KeyHash, k.SellerID, k.SellerName); err != nil {
		return errors.Wrapf(err, "upsert terminal key %q", k.ID)
	}
	return nil
}
