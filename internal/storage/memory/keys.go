package memory

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-checkout/internal/domain/auth"
)

var _ auth.Repository = (*Keys)(nil)

// Keys is an in-memory terminal key repository.
type Keys struct {
	mu     sync.RWMutex
	byHash map[string]auth.TerminalKey
}

// NewKeys returns a repository holding keys.
func NewKeys(keys ...auth.TerminalKey) *Keys {
	k := &Keys{byHash: make(map[string]auth.TerminalKey, len(keys))}
	for _, key := range keys {
		k.byHash[key.KeyHash] = key
	}
	return k
}

// FindByHash looks up a key by its HMAC hash.
func (k *Keys) FindByHash(_ context.Context, hash string) (*auth.TerminalKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.byHash[hash]
	if !ok {
		return nil, errors.New("terminal key not found")
	}
	return &key, nil
}
