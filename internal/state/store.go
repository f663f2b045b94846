// Package state holds the last-known manifest per resource key.
//
// Store is the only shared mutable structure in the controller. Structural
// mutation and snapshot reads go through a store-wide mutex; read-modify-use
// sequences for a single key go through RunExclusive, which serializes callers
// per key without blocking unrelated keys or snapshot readers.
package state

import (
	"context"
	"sync"
)

// Entry is one element of a Snapshot.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// keyLock is a per-key semaphore. refs counts holders and waiters so the lock
// is only discarded once nobody can still be using it.
type keyLock struct {
	sem  chan struct{}
	refs int
}

// Store is a keyed map with per-key mutual exclusion.
type Store[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]V
	order []K

	locksMu sync.Mutex
	locks   map[K]*keyLock
}

// New returns an empty Store.
func New[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{
		items: make(map[K]V),
		locks: make(map[K]*keyLock),
	}
}

// Set stores v under key. Re-setting an existing key keeps its position in Snapshot order.
func (s *Store[K, V]) Set(key K, v V) {
	s.mu.Lock()
	if _, ok := s.items[key]; !ok {
		s.order = append(s.order, key)
	}
	s.items[key] = v
	s.mu.Unlock()
}

// Remove deletes key and disposes of its lock once no caller references it.
func (s *Store[K, V]) Remove(key K) {
	s.mu.Lock()
	if _, ok := s.items[key]; ok {
		delete(s.items, key)
		for i, k := range s.order {
			if k == key {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	s.locksMu.Lock()
	if l, ok := s.locks[key]; ok && l.refs == 0 {
		delete(s.locks, key)
	}
	s.locksMu.Unlock()
}

// Exists reports whether key is stored.
func (s *Store[K, V]) Exists(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	return ok
}

// Get returns the value stored under key.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok
}

// Len returns the number of stored keys.
func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Snapshot returns every entry in insertion order.
func (s *Store[K, V]) Snapshot() []Entry[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry[K, V], 0, len(s.order))
	for _, k := range s.order {
		out = append(out, Entry[K, V]{Key: k, Value: s.items[k]})
	}
	return out
}

// RunExclusive invokes fn with the current value of key while holding the key's
// lock. If key is not stored, fn is not invoked and RunExclusive returns nil.
// Two RunExclusive calls for the same key never run fn concurrently.
// It returns ctx.Err() if ctx ends while waiting for the lock.
func (s *Store[K, V]) RunExclusive(ctx context.Context, key K, fn func(V) error) error {
	if !s.Exists(key) {
		return nil
	}

	l := s.acquireRef(key)
	defer s.releaseRef(key, l)

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	v, ok := s.Get(key)
	if !ok {
		return nil
	}
	return fn(v)
}

func (s *Store[K, V]) acquireRef(key K) *keyLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	return l
}

func (s *Store[K, V]) releaseRef(key K, l *keyLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l.refs--
	if l.refs == 0 && !s.Exists(key) {
		delete(s.locks, key)
	}
}

// lockCount reports the number of live per-key locks.
func (s *Store[K, V]) lockCount() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}
