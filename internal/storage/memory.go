package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryIdempotencyStore is a map-backed IdempotencyStore for tests and
// single-instance use.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	createdAt time.Time
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates an empty in-memory store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements IdempotencyStore.
func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Put implements IdempotencyStore.
func (s *MemoryIdempotencyStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries[key] = memoryEntry{value: value, createdAt: now, expiresAt: now.Add(ttl)}
	return nil
}

// MemoryReceiptStore is a map-backed ReceiptStore. The mutex makes the
// claim-if-absent transition atomic for concurrent callers in-process.
type MemoryReceiptStore struct {
	mu       sync.Mutex
	consumed map[string]time.Time
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryReceiptStore creates an empty in-memory receipt store.
func NewMemoryReceiptStore() *MemoryReceiptStore {
	return &MemoryReceiptStore{
		consumed: make(map[string]time.Time),
		ttl:      DefaultReceiptTTL,
		now:      time.Now,
	}
}

// ConsumeOnce implements ReceiptStore.
func (s *MemoryReceiptStore) ConsumeOnce(_ context.Context, namespace, receiptID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := namespace + ":" + receiptID
	now := s.now()
	if expiresAt, ok := s.consumed[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.consumed[key] = now.Add(s.ttl)
	return true, nil
}

// MemoryCache is a map-backed Cache with stale-while-revalidate metadata.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, _, err := c.GetWithRevalidate(ctx, key)
	return value, ok, err
}

// GetWithRevalidate implements Cache. An entry older than half its TTL is
// flagged for background refresh but still served.
func (c *MemoryCache) GetWithRevalidate(_ context.Context, key string) ([]byte, bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, false, nil
	}
	now := c.now()
	if now.After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, false, nil
	}
	age := now.Sub(e.createdAt)
	ttl := e.expiresAt.Sub(e.createdAt)
	return e.value, true, age > ttl/2, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = memoryEntry{value: value, createdAt: now, expiresAt: now.Add(ttl)}
	return nil
}
