package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// CacheNamePrefix prefixes every version-named store.
const CacheNamePrefix = "content-v"

var (
	// ErrCacheMiss indicates the requested key was not found in the store
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrUnsupportedMethod indicates an attempt to store a non-GET request
	ErrUnsupportedMethod = errors.New("only GET requests can be cached")

	// ErrStoreDeleted indicates a write through a handle whose store was deleted
	ErrStoreDeleted = errors.New("store was deleted")
)

// Storage is a collection of named stores.
type Storage interface {
	// Open returns the named store, creating it if absent.
	Open(ctx context.Context, name string) (Store, error)

	// Delete permanently removes a store and all its entries.
	// Reports whether the store existed.
	Delete(ctx context.Context, name string) (bool, error)

	// Keys lists the names of all persisted stores in sorted order.
	Keys(ctx context.Context) ([]string, error)
}

// Store is a single named request→response map.
type Store interface {
	// Name returns the store name.
	Name() string

	// Match returns the entry stored for key, or ErrCacheMiss.
	Match(ctx context.Context, key CacheKey) (*CacheEntry, error)

	// Put stores a snapshot of entry under key, replacing any prior entry.
	// Returns ErrStoreDeleted once the store has been deleted.
	Put(ctx context.Context, key CacheKey, entry *CacheEntry) error
}

// CacheName returns the store name for a cache version.
func CacheName(version int) string {
	return fmt.Sprintf("%s%d", CacheNamePrefix, version)
}

// ParseCacheName extracts the version from a content-v<N> store name.
func ParseCacheName(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, CacheNamePrefix)
	if !ok || rest == "" {
		return 0, false
	}
	v, err := strconv.Atoi(rest)
	if err != nil || v < 0 || strconv.Itoa(v) != rest {
		return 0, false
	}
	return v, true
}

// validatePut performs the checks every backend applies before writing.
func validatePut(key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if key.Method != http.MethodGet {
		return fmt.Errorf("%w: %s", ErrUnsupportedMethod, key.Method)
	}
	if key.URL == "" {
		return fmt.Errorf("cache key url cannot be empty")
	}
	return nil
}
