package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const backendLevelDB = "leveldb"

// LevelDBStorage keeps all stores in one LevelDB database.
//
// Layout:
//
//	s:<name>               store registration (empty value)
//	e:<name>\x00<key>      gob-encoded CacheEntry
type LevelDBStorage struct {
	db *leveldb.DB

	// Put holds the read side so Delete never races a write into the store
	// it is dropping.
	mu sync.RWMutex
}

// OpenLevelDBStorage opens (or creates) the database at path.
func OpenLevelDBStorage(path string) (*LevelDBStorage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBStorage{db: db}, nil
}

// Close releases the database.
func (l *LevelDBStorage) Close() error {
	return l.db.Close()
}

func registryKey(name string) []byte { return []byte("s:" + name) }

func entryPrefix(name string) []byte { return []byte("e:" + name + "\x00") }

func entryKey(name string, key CacheKey) []byte {
	return append(entryPrefix(name), key.String()...)
}

// Open registers the store and returns its handle.
func (l *LevelDBStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := l.db.Put(registryKey(name), nil, nil); err != nil {
		CacheErrors.WithLabelValues(backendLevelDB, "open").Inc()
		return nil, fmt.Errorf("leveldb register store %s: %w", name, err)
	}
	return &levelDBStore{storage: l, name: name}, nil
}

// Delete removes the registration and every entry of the store in one batch.
func (l *LevelDBStorage) Delete(ctx context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existed, err := l.db.Has(registryKey(name), nil)
	if err != nil {
		CacheErrors.WithLabelValues(backendLevelDB, "delete").Inc()
		return false, fmt.Errorf("leveldb has %s: %w", name, err)
	}

	batch := new(leveldb.Batch)
	batch.Delete(registryKey(name))

	it := l.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		CacheErrors.WithLabelValues(backendLevelDB, "delete").Inc()
		return false, fmt.Errorf("leveldb iterate %s: %w", name, err)
	}

	if err := l.db.Write(batch, nil); err != nil {
		CacheErrors.WithLabelValues(backendLevelDB, "delete").Inc()
		return false, fmt.Errorf("leveldb delete store %s: %w", name, err)
	}
	if existed || batch.Len() > 1 {
		StoresDeleted.WithLabelValues(backendLevelDB).Inc()
		return true, nil
	}
	return false, nil
}

// Keys lists registered store names in sorted order.
func (l *LevelDBStorage) Keys(ctx context.Context) ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte("s:")), nil)
	defer it.Release()

	var names []string
	for it.Next() {
		names = append(names, string(bytes.TrimPrefix(it.Key(), []byte("s:"))))
	}
	if err := it.Error(); err != nil {
		CacheErrors.WithLabelValues(backendLevelDB, "keys").Inc()
		return nil, fmt.Errorf("leveldb list stores: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

type levelDBStore struct {
	storage *LevelDBStorage
	name    string
}

func (s *levelDBStore) Name() string { return s.name }

func (s *levelDBStore) Match(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	b, err := s.storage.db.Get(entryKey(s.name, key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			CacheMisses.WithLabelValues(backendLevelDB).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues(backendLevelDB, "match").Inc()
		return nil, fmt.Errorf("leveldb get: %w", err)
	}

	var entry CacheEntry
	if err := decodeGob(b, &entry); err != nil {
		CacheErrors.WithLabelValues(backendLevelDB, "match").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.WithLabelValues(backendLevelDB).Inc()
	return &entry, nil
}

func (s *levelDBStore) Put(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if err := validatePut(key, entry); err != nil {
		CacheErrors.WithLabelValues(backendLevelDB, "put").Inc()
		return err
	}

	b, err := encodeGob(entry)
	if err != nil {
		CacheErrors.WithLabelValues(backendLevelDB, "put").Inc()
		return fmt.Errorf("encode cache entry: %w", err)
	}

	s.storage.mu.RLock()
	defer s.storage.mu.RUnlock()

	registered, err := s.storage.db.Has(registryKey(s.name), nil)
	if err != nil {
		CacheErrors.WithLabelValues(backendLevelDB, "put").Inc()
		return fmt.Errorf("leveldb has %s: %w", s.name, err)
	}
	if !registered {
		CacheErrors.WithLabelValues(backendLevelDB, "put").Inc()
		return fmt.Errorf("%w: %s", ErrStoreDeleted, s.name)
	}
	if err := s.storage.db.Put(entryKey(s.name, key), b, nil); err != nil {
		CacheErrors.WithLabelValues(backendLevelDB, "put").Inc()
		return fmt.Errorf("leveldb put: %w", err)
	}

	CachePuts.WithLabelValues(backendLevelDB).Inc()
	return nil
}

// ---- encoding ----

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func init() {
	gob.Register(http.Header{})
}
