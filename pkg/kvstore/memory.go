package kvstore

import (
	"context"
	"sync"
)

// MemoryBackend keeps entries in a map
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]string
	hub     hub
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]string)}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *MemoryBackend) Set(ctx context.Context, origin, key, value string) error {
	m.mu.Lock()
	m.entries[key] = value
	m.mu.Unlock()

	m.hub.publish(Change{Key: key, Value: value, Origin: origin})
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, origin string, keys ...string) error {
	var changes []Change

	m.mu.Lock()
	for _, key := range keys {
		if _, ok := m.entries[key]; ok {
			delete(m.entries, key)
			changes = append(changes, Change{Key: key, Deleted: true, Origin: origin})
		}
	}
	m.mu.Unlock()

	m.hub.publish(changes...)
	return nil
}

func (m *MemoryBackend) Watch(fn func(Change)) func() {
	return m.hub.watch(fn)
}

// Len returns the number of stored entries
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryBackend) Close() error {
	m.hub.reset()
	return nil
}
