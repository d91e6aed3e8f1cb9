package locks

import (
	"context"
	"sync"
)

// KeyedLocker provides per-key mutual exclusion. Each key (a workspace id, a
// session id) gets its own single-slot semaphore, so different keys never
// block each other while the same key is strictly single-holder. A key's
// entry lives only while someone holds or waits for it.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	slot chan struct{}
	refs int // holders plus waiters
}

// New creates a KeyedLocker.
func New() *KeyedLocker {
	return &KeyedLocker{
		locks: make(map[string]*entry),
	}
}

func (k *KeyedLocker) acquire(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, exists := k.locks[key]
	if !exists {
		e = &entry{slot: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedLocker) drop(key string, e *entry) {
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock blocks until key is held or ctx is done.
func (k *KeyedLocker) Lock(ctx context.Context, key string) error {
	e := k.acquire(key)
	select {
	case e.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.mu.Lock()
		k.drop(key, e)
		k.mu.Unlock()
		return ctx.Err()
	}
}

// Unlock releases key. Unlocking a key that is not held is a no-op.
func (k *KeyedLocker) Unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, exists := k.locks[key]
	if !exists {
		return
	}
	select {
	case <-e.slot:
		k.drop(key, e)
	default:
	}
}

// Len returns the number of keys currently held or waited on.
func (k *KeyedLocker) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
