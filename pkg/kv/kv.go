// Package kv provides the string key-value stores backing the listing cache.
//
// Stores enforce expiry themselves: a Get never returns an entry whose
// TTL has elapsed. Per-key atomicity of Get and Put is the store's
// responsibility; callers do no locking of their own.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound indicates the key is absent or its entry has expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string key-value store with per-entry expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisStore is a Store backed by Redis.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Get returns the value stored under key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Put stores value under key with the given TTL, overwriting any entry.
func (s *RedisStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive (got %s)", ttl)
	}
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// DefaultMaxEntries bounds a MemoryStore created without an explicit size.
const DefaultMaxEntries = 100000

// MemoryStore is an in-process Store holding at most maxEntries keys.
// Expired entries are dropped on read; when full, the least recently used
// key is evicted, so listings that stop appearing age out.
type MemoryStore struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, memoryEntry]
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process store. A non-positive
// maxEntries uses DefaultMaxEntries.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	// NewLRU only fails for a non-positive size.
	entries, _ := simplelru.NewLRU[string, memoryEntry](maxEntries, nil)
	return &MemoryStore{
		entries: entries,
		now:     time.Now,
	}
}

// SetClock replaces the time source (for testing).
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Get returns the value stored under key, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	if !s.now().Before(e.expiresAt) {
		s.entries.Remove(key)
		return "", ErrNotFound
	}
	return e.value, nil
}

// Put stores value under key with the given TTL, overwriting any entry.
func (s *MemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive (got %s)", ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Add(key, memoryEntry{value: value, expiresAt: s.now().Add(ttl)})
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}
