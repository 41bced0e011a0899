package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-checkout/internal/domain/inventory"
)

// advisoryNamespace scopes product locks in the two-key advisory lock space.
const advisoryNamespace = 7301

const (
	advisoryLockSQL   = `SELECT pg_advisory_lock($1, hashtext($2))`
	advisoryUnlockSQL = `SELECT pg_advisory_unlock($1, hashtext($2))`

	unlockTimeout = 5 * time.Second
)

var _ inventory.Locker = (*AdvisoryLocker)(nil)

// AdvisoryLocker serializes work on a product across every process sharing
// the database. Locks are session-level and held on a dedicated pooled
// connection until unlock is called.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

// NewAdvisoryLocker returns an AdvisoryLocker that uses the given pool.
func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// Lock acquires the advisory lock of every key, in sorted order.
func (l *AdvisoryLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	keys = inventory.SortedKeys(keys)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire connection")
	}

	held := make([]string, 0, len(keys))
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if _, err := conn.Exec(ctx, advisoryUnlockSQL, advisoryNamespace, held[i]); err != nil {
				// A session that cannot unlock must not go back to the
				// pool still holding locks.
				_ = conn.Conn().Close(ctx)
				break
			}
		}
		conn.Release()
	}

	for _, k := range keys {
		if _, err := conn.Exec(ctx, advisoryLockSQL, advisoryNamespace, k); err != nil {
			release()
			return nil, errors.Wrapf(err, "lock %q", k)
		}
		held = append(held, k)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}
