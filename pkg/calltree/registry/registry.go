package registry

import (
	"cmp"
	"slices"
	"sync"
)

// Table is a thread-safe name-indexed table.
// Reads take a shared lock, so lookups on the call path do not contend.
type Table[K cmp.Ordered, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// New creates an empty table.
func New[K cmp.Ordered, V any]() *Table[K, V] {
	return &Table[K, V]{
		entries: make(map[K]V),
	}
}

// Register stores value under key, replacing any previous entry.
// It reports whether an entry was replaced.
func (t *Table[K, V]) Register(key K, value V) (replaced bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, replaced = t.entries[key]
	t.entries[key] = value
	return replaced
}

// Get returns the value for key and whether it exists.
func (t *Table[K, V]) Get(key K) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.entries[key]
	return v, ok
}

// Has reports whether key exists.
func (t *Table[K, V]) Has(key K) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[key]
	return ok
}

// Delete removes key. Deleting a missing key is a no-op.
func (t *Table[K, V]) Delete(key K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// DeleteFunc removes key only if match returns true for its current value.
// It reports whether the entry was removed.
func (t *Table[K, V]) DeleteFunc(key K, match func(V) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.entries[key]
	if !ok || !match(v) {
		return false
	}
	delete(t.entries, key)
	return true
}

// Keys returns all keys in ascending order.
func (t *Table[K, V]) Keys() []K {
	t.mu.RLock()
	keys := make([]K, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	t.mu.RUnlock()

	slices.Sort(keys)
	return keys
}

// Len returns the number of entries.
func (t *Table[K, V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
