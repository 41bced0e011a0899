package session

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-checkout/internal/domain/cart"
	"github.com/xenking/pos-checkout/internal/domain/product"
)

func TestRegistry_OpenGetClose(t *testing.T) {
	r := NewRegistry(0)
	s := r.Open("u1")
	require.NotEmpty(t, s.ID)

	got, err := r.Get(s.ID, "u1")
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = r.Get(s.ID, "u2")
	require.ErrorIs(t, err, ErrNotFound, "sessions are private to their seller")

	require.ErrorIs(t, r.Close(s.ID, "u2"), ErrNotFound)
	require.NoError(t, r.Close(s.ID, "u1"))
	_, err = r.Get(s.ID, "u1")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, r.Len())
}

func TestRegistry_SeparateCarts(t *testing.T) {
	r := NewRegistry(0)
	a, b := r.Open("u1"), r.Open("u1")
	p := product.Product{ID: "p", Name: "P", Price: decimal.NewFromInt(1), Stock: 5}

	require.NoError(t, a.Do(func(c *cart.Cart) error { return c.Add(p) }))

	require.NoError(t, b.Do(func(c *cart.Cart) error {
		assert.True(t, c.IsEmpty())
		return nil
	}))
}

func TestSession_DoSerializes(t *testing.T) {
	s := NewRegistry(0).Open("u1")
	p := product.Product{ID: "p", Name: "P", Price: decimal.NewFromInt(1), Stock: 1000}

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(func(c *cart.Cart) error { return c.Add(p) })
		}()
	}
	wg.Wait()

	require.NoError(t, s.Do(func(c *cart.Cart) error {
		assert.Equal(t, 100, c.Quantity("p"))
		return nil
	}))
}

func TestRegistry_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(time.Hour)
	r.now = func() time.Time { return now }

	stale := r.Open("u1")
	now = now.Add(45 * time.Minute)
	fresh := r.Open("u1")
	now = now.Add(30 * time.Minute)

	assert.Equal(t, 1, r.Sweep())
	_, err := r.Get(stale.ID, "u1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get(fresh.ID, "u1")
	require.NoError(t, err)

	assert.Zero(t, NewRegistry(0).Sweep())
}
