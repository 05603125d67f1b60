// Package syncmap provides a small generic concurrent map. The teacher
// (viant/jsonrpc) references an internal/collection.SyncMap[K,V] from its
// transport/server/base/store.go SessionStore implementation, but that
// package was not present in the retrieved sources, so this module provides
// its own implementation of the same four-method contract
// (Get/Put/Delete/Range) over a plain map guarded by sync.RWMutex.
package syncmap

import "sync"

// Map is a concurrency-safe map from K to V.
type Map[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// New creates an empty Map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

// Get returns the value stored for key, if any.
func (s *Map[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Put stores value under key, replacing any prior value.
func (s *Map[K, V]) Put(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// Delete removes key, if present. Deleting an absent key is a no-op.
func (s *Map[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

// Range calls f for each entry, in unspecified order. Range stops early if
// f returns false. f must not call back into the same Map.
func (s *Map[K, V]) Range(f func(key K, value V) bool) {
	s.mu.RLock()
	snapshot := make(map[K]V, len(s.m))
	for k, v := range s.m {
		snapshot[k] = v
	}
	s.mu.RUnlock()
	for k, v := range snapshot {
		if !f(k, v) {
			return
		}
	}
}

// Len returns the current number of entries.
func (s *Map[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
