package csync

import "sync"

// Map provides a minimal concurrent map implementation for simple use cases.
type Map[K comparable, V any] struct {
	mu    sync.RWMutex
	inner map[K]V
}

// NewMap allocates an empty Map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{inner: make(map[K]V)}
}

// SetIfAbsent stores value only when key is missing. It reports whether the
// value was stored together with the value now held for key.
func (m *Map[K, V]) SetIfAbsent(key K, value V) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.inner[key]; ok {
		return existing, false
	}
	m.inner[key] = value
	return value, true
}

// DeleteIf removes key when match returns true for its current value.
func (m *Map[K, V]) DeleteIf(key K, match func(V) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.inner[key]
	if !ok || !match(v) {
		return false
	}
	delete(m.inner, key)
	return true
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.inner[key]
	return v, ok
}

// Keys returns the current keys in no particular order.
func (m *Map[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]K, 0, len(m.inner))
	for k := range m.inner {
		keys = append(keys, k)
	}
	return keys
}
