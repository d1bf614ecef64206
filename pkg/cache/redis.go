package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	backendRedis = "redis"

	// DefaultRedisPrefix namespaces all keys written by RedisStorage.
	DefaultRedisPrefix = "offline-cache:"
)

// RedisStorage keeps each store in a Redis hash and tracks store names in a
// Redis set, so a whole version can be dropped with a single DEL.
//
// Layout:
//
//	<prefix>stores          SET  of store names
//	<prefix>store:<name>    HASH of CacheKey.String() -> JSON CacheEntry
type RedisStorage struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStorage creates a storage backed by redisClient using DefaultRedisPrefix.
func NewRedisStorage(redisClient *redis.Client) *RedisStorage {
	return NewRedisStorageWithPrefix(redisClient, DefaultRedisPrefix)
}

// NewRedisStorageWithPrefix creates a storage whose keys all start with prefix.
func NewRedisStorageWithPrefix(redisClient *redis.Client, prefix string) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStorage{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (r *RedisStorage) namesKey() string { return r.prefix + "stores" }

func (r *RedisStorage) hashKey(name string) string { return r.prefix + "store:" + name }

// Open registers the store name and returns its handle.
func (r *RedisStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := r.redis.SAdd(ctx, r.namesKey(), name).Err(); err != nil {
		CacheErrors.WithLabelValues(backendRedis, "open").Inc()
		return nil, fmt.Errorf("redis sadd: %w", err)
	}
	return &redisStore{storage: r, name: name}, nil
}

// Delete drops the store hash and its registration atomically.
func (r *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.hashKey(name))
		removed = pipe.SRem(ctx, r.namesKey(), name)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues(backendRedis, "delete").Inc()
		return false, fmt.Errorf("redis delete store %s: %w", name, err)
	}
	existed := removed.Val() > 0
	if existed {
		StoresDeleted.WithLabelValues(backendRedis).Inc()
	}
	return existed, nil
}

// Keys lists registered store names in sorted order.
func (r *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := r.redis.SMembers(ctx, r.namesKey()).Result()
	if err != nil {
		CacheErrors.WithLabelValues(backendRedis, "keys").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Ping reports whether the Redis server is reachable.
func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.redis.Ping(ctx).Err()
}

type redisStore struct {
	storage *RedisStorage
	name    string
}

func (s *redisStore) Name() string { return s.name }

func (s *redisStore) Match(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	data, err := s.storage.redis.HGet(ctx, s.storage.hashKey(s.name), key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.WithLabelValues(backendRedis).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues(backendRedis, "match").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues(backendRedis, "match").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.WithLabelValues(backendRedis).Inc()
	return &entry, nil
}

// putAttempts bounds retries when a concurrent Open or Delete touches the
// store registry during a Put.
const putAttempts = 3

// Put writes the entry only while the store is registered. The registry is
// watched so a concurrent Delete cannot be undone by an in-flight write.
func (s *redisStore) Put(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if err := validatePut(key, entry); err != nil {
		CacheErrors.WithLabelValues(backendRedis, "put").Inc()
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues(backendRedis, "put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	namesKey := s.storage.namesKey()
	put := func(tx *redis.Tx) error {
		registered, err := tx.SIsMember(ctx, namesKey, s.name).Result()
		if err != nil {
			return err
		}
		if !registered {
			return fmt.Errorf("%w: %s", ErrStoreDeleted, s.name)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.storage.hashKey(s.name), key.String(), data)
			return nil
		})
		return err
	}

	for attempt := 1; ; attempt++ {
		err = s.storage.redis.Watch(ctx, put, namesKey)
		if !errors.Is(err, redis.TxFailedErr) || attempt == putAttempts {
			break
		}
	}
	if err != nil {
		CacheErrors.WithLabelValues(backendRedis, "put").Inc()
		if errors.Is(err, ErrStoreDeleted) {
			return err
		}
		return fmt.Errorf("redis hset: %w", err)
	}

	CachePuts.WithLabelValues(backendRedis).Inc()
	return nil
}
