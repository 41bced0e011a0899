package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than limit goroutines are running.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds %d", n, limit)
		}
		return nil
	}
}

// BacklogCheck fails when count reports more than limit pending items. The
// server uses it for sales whose stock adjustments are still unconfirmed.
func BacklogCheck(limit int, count func(ctx context.Context) (int, error)) CheckFunc {
	return func(ctx context.Context) error {
		n, err := count(ctx)
		if err != nil {
			return errors.Wrap(err, "count backlog")
		}
		if n > limit {
			return errors.Errorf("backlog %d exceeds %d", n, limit)
		}
		return nil
	}
}
