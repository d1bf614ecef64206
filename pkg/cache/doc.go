// Package cache provides the versioned response stores behind the offline cache.
//
// A Storage holds any number of named stores. Each store maps a request
// identity (method plus normalized absolute URL) to an immutable snapshot of
// a response. Store names follow the content-v<N> convention, where N is the
// cache version; the name doubles as the token compared during garbage
// collection of legacy versions.
//
// Three backends are provided:
//
//   - MemoryStorage: in-process maps, used by tests and ephemeral hosts
//   - RedisStorage: one Redis hash per store plus a set of store names
//   - LevelDBStorage: a single on-disk LevelDB database
//
// # Basic Usage
//
//	storage := cache.NewRedisStorage(redisClient)
//
//	store, err := storage.Open(ctx, cache.CacheName(10))
//	if err != nil {
//		return err
//	}
//
//	key, err := cache.NewKey(req)
//	if err != nil {
//		return err
//	}
//
//	entry, err := store.Match(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from network
//	}
//
// # HTTP Response Snapshots
//
//	// Snapshot a response; resp.Body stays readable for the caller
//	entry, err := cache.ResponseToEntry(resp, cache.TypeBasic)
//	if err != nil {
//		return err
//	}
//	if err := store.Put(ctx, key, entry); err != nil {
//		return err
//	}
//
//	// Replay it later
//	resp := cache.EntryToResponse(entry, req)
//
// # Metrics
//
//   - offline_cache_hits_total{backend} - Store matches
//   - offline_cache_misses_total{backend} - Store misses
//   - offline_cache_puts_total{backend} - Entries written
//   - offline_cache_stores_deleted_total{backend} - Stores removed
//   - offline_cache_errors_total{backend,operation} - Backend failures
package cache
