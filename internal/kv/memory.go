package kv

import (
	"context"
	"sync"
)

// MemoryStore is a Store held entirely in RAM. It is not durable and is
// meant for tests and throwaway development sessions.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, namespace, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[namespace][key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *MemoryStore) Set(_ context.Context, namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bucket(namespace)[key] = value
	return nil
}

func (m *MemoryStore) SetMulti(_ context.Context, namespace string, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.bucket(namespace)
	for key, value := range entries {
		bucket[key] = value
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data[namespace], key)
	return nil
}

func (m *MemoryStore) ClearAll(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, namespace)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// Len reports how many keys namespace holds.
func (m *MemoryStore) Len(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[namespace])
}

// bucket must be called with mu held for writing.
func (m *MemoryStore) bucket(namespace string) map[string]string {
	b, ok := m.data[namespace]
	if !ok {
		b = make(map[string]string)
		m.data[namespace] = b
	}
	return b
}
