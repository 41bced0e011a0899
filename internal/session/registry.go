// Package session keeps one cart per open operator session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/domain/cart"
)

// ErrNotFound is returned for unknown, expired or foreign sessions.
var ErrNotFound = errors.New("session not found")

// Session owns a cart. All access to the cart goes through Do, which
// serializes callers.
type Session struct {
	ID       string
	SellerID string

	mu      sync.Mutex
	cart    *cart.Cart
	touched time.Time
}

// Do runs fn with exclusive access to the session cart.
func (s *Session) Do(fn func(c *cart.Cart) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.cart)
}

// Registry maps session IDs to sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idle     time.Duration
	now      func() time.Time
}

// NewRegistry creates a registry that forgets sessions idle for longer than
// idle. A zero idle keeps sessions until they are closed.
func NewRegistry(idle time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		idle:     idle,
		now:      time.Now,
	}
}

// Open starts a session with an empty cart for sellerID.
func (r *Registry) Open(sellerID string) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		SellerID: sellerID,
		cart:     cart.New(),
		touched:  r.now(),
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns the session id owned by sellerID.
func (r *Registry) Get(id, sellerID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.SellerID != sellerID {
		return nil, ErrNotFound
	}
	s.touched = r.now()
	return s, nil
}

// Close removes the session and clears its cart.
func (r *Registry) Close(id, sellerID string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || s.SellerID != sellerID {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	return s.Do(func(c *cart.Cart) error {
		c.Clear()
		return nil
	})
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops sessions idle for longer than the registry idle timeout and
// returns how many were dropped.
func (r *Registry) Sweep() int {
	if r.idle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for id, s := range r.sessions {
		if s.touched.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := r.Sweep(); n > 0 {
				zctx.From(ctx).Info("Expired idle sessions", zap.Int("count", n))
			}
		}
	}
}
