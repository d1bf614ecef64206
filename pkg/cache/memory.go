package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

const backendMemory = "memory"

// MemoryStorage keeps stores in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		stores: make(map[string]*memoryStore),
	}
}

// Open returns the named store, creating it if absent.
func (m *MemoryStorage) Open(ctx context.Context, name string) (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stores[name]
	if !ok {
		s = &memoryStore{name: name, items: make(map[string]*CacheEntry)}
		m.stores[name] = s
	}
	return s, nil
}

// Delete removes the named store.
func (m *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stores[name]
	if !ok {
		return false, nil
	}
	delete(m.stores, name)

	// Handles still held by callers see an empty store and reject writes.
	s.mu.Lock()
	s.items = make(map[string]*CacheEntry)
	s.deleted = true
	s.mu.Unlock()

	StoresDeleted.WithLabelValues(backendMemory).Inc()
	return true, nil
}

// Keys lists store names in sorted order.
func (m *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.stores))
	for name := range m.stores {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

type memoryStore struct {
	name    string
	mu      sync.RWMutex
	items   map[string]*CacheEntry
	deleted bool
}

func (s *memoryStore) Name() string { return s.name }

func (s *memoryStore) Match(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	s.mu.RLock()
	entry, ok := s.items[key.String()]
	s.mu.RUnlock()

	if !ok {
		CacheMisses.WithLabelValues(backendMemory).Inc()
		return nil, ErrCacheMiss
	}
	CacheHits.WithLabelValues(backendMemory).Inc()
	return entry.Clone(), nil
}

func (s *memoryStore) Put(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if err := validatePut(key, entry); err != nil {
		CacheErrors.WithLabelValues(backendMemory, "put").Inc()
		return err
	}
	snapshot := entry.Clone()

	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		CacheErrors.WithLabelValues(backendMemory, "put").Inc()
		return fmt.Errorf("%w: %s", ErrStoreDeleted, s.name)
	}
	s.items[key.String()] = snapshot
	s.mu.Unlock()

	CachePuts.WithLabelValues(backendMemory).Inc()
	return nil
}
