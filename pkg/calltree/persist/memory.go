package persist

import (
	"context"
	"sync"
)

// MemoryBackend keeps the document in process memory.
// Data is lost when the process exits.
type MemoryBackend struct {
	mu     sync.RWMutex
	doc    Document
	writes int
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load implements Backend.
func (m *MemoryBackend) Load(_ context.Context) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrBackendClosed
	}
	// Return a copy to prevent modification
	return m.doc.Clone(), nil
}

// Store implements Backend.
func (m *MemoryBackend) Store(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrBackendClosed
	}

	// Copy to avoid retaining caller's entries
	m.doc = doc.Clone()
	if m.doc == nil {
		m.doc = Document{}
	}
	m.writes++
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.doc = nil
	return nil
}

// Writes returns how many times Store succeeded.
// Useful for testing.
func (m *MemoryBackend) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
