// Package lock provides per-entity mutation locks. Store writes for a
// given conversation are serialized so a push-driven update and a
// caller-driven update never interleave partially; writes to different
// conversations proceed independently.
package lock

import "sync"

// Keyed hands out one mutex per key, created on demand and released when
// the last holder unlocks.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyed creates an empty keyed lock set.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
