package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore implements KV in process memory. It is used by tests and by
// the companion when no database path is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	data       map[string]string
	quotaBytes int64
}

// NewMemory returns an empty MemoryStore. A positive quotaBytes caps the
// summed length of all keys and values.
func NewMemory(quotaBytes int64) *MemoryStore {
	return &MemoryStore{data: make(map[string]string), quotaBytes: quotaBytes}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quotaBytes > 0 {
		var used int64
		for k, v := range m.data {
			if k != key {
				used += int64(len(k) + len(v))
			}
		}
		if used+int64(len(key)+len(value)) > m.quotaBytes {
			return fmt.Errorf("set %q: %w", key, ErrQuotaExceeded)
		}
	}
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
