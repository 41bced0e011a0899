package inventory

import (
	"context"
	"slices"
	"sync"
)

// Locker provides mutual exclusion per product ID. Lock blocks until every
// key is held or ctx is done, and returns a function releasing all of them.
type Locker interface {
	Lock(ctx context.Context, keys []string) (unlock func(), err error)
}

var _ Locker = (*KeyMutex)(nil)

// KeyMutex is an in-process Locker. Keys are acquired in sorted order so
// concurrent callers with overlapping key sets cannot deadlock.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyMutex returns an empty KeyMutex.
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires every key.
func (m *KeyMutex) Lock(ctx context.Context, keys []string) (func(), error) {
	keys = SortedKeys(keys)

	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.unlock(held[i])
		}
	}

	for _, k := range keys {
		if err := m.lock(ctx, k); err != nil {
			release()
			return nil, err
		}
		held = append(held, k)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (m *KeyMutex) lock(ctx context.Context, key string) error {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.drop(key, l)
		return ctx.Err()
	}
}

func (m *KeyMutex) unlock(key string) {
	m.mu.Lock()
	l := m.locks[key]
	m.mu.Unlock()

	<-l.ch
	m.drop(key, l)
}

// drop releases one reference and forgets the key when nobody waits on it.
func (m *KeyMutex) drop(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// SortedKeys returns a sorted copy of keys without duplicates.
func SortedKeys(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
