package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes shared by all replicas.
const (
	idempotencyKeyPrefix = "idem:"
	receiptKeyPrefix     = "receipt:"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// NewRedisClient creates a Redis client from config.
func NewRedisClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisIdempotencyStore implements IdempotencyStore on Redis.
type RedisIdempotencyStore struct {
	client *redis.Client
}

// NewRedisIdempotencyStore creates a Redis-backed idempotency store.
func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Get implements IdempotencyStore.
func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, idempotencyKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get idempotency record: %w", err)
	}
	return data, true, nil
}

// Put implements IdempotencyStore. Last write wins.
func (s *RedisIdempotencyStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, idempotencyKeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("put idempotency record: %w", err)
	}
	return nil
}

// RedisReceiptStore implements ReceiptStore on Redis. SET NX gives the
// atomic single-winner claim across all replicas sharing the instance.
type RedisReceiptStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisReceiptStore creates a Redis-backed receipt store.
func NewRedisReceiptStore(client *redis.Client) *RedisReceiptStore {
	return &RedisReceiptStore{client: client, ttl: DefaultReceiptTTL}
}

// ConsumeOnce implements ReceiptStore.
func (s *RedisReceiptStore) ConsumeOnce(ctx context.Context, namespace, receiptID string) (bool, error) {
	key := fmt.Sprintf("%s%s:%s", receiptKeyPrefix, namespace, receiptID)
	claimed, err := s.client.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("consume receipt %s/%s: %w", namespace, receiptID, err)
	}
	return claimed, nil
}

// RedisCache implements Cache on Redis. Revalidation age is tracked with
// a companion key holding the entry's creation time.
type RedisCache struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, now: time.Now}
}

func cacheMetaKey(key string) string { return "cache:meta:" + key }

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, _, err := c.GetWithRevalidate(ctx, key)
	return value, ok, err
}

// GetWithRevalidate implements Cache.
func (c *RedisCache) GetWithRevalidate(ctx context.Context, key string) ([]byte, bool, bool, error) {
	data, err := c.client.Get(ctx, "cache:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, false, nil
	}
	if err != nil {
		return nil, false, false, fmt.Errorf("get cache entry: %w", err)
	}

	// Flag refresh once past half the original TTL. Meta loss just
	// means no revalidation hint.
	revalidate := false
	meta, err := c.client.HGetAll(ctx, cacheMetaKey(key)).Result()
	if err == nil && meta["created_unix_ms"] != "" && meta["ttl_ms"] != "" {
		var createdMs, ttlMs int64
		fmt.Sscanf(meta["created_unix_ms"], "%d", &createdMs)
		fmt.Sscanf(meta["ttl_ms"], "%d", &ttlMs)
		age := c.now().UnixMilli() - createdMs
		revalidate = ttlMs > 0 && age > ttlMs/2
	}
	return data, true, revalidate, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	pipe := c.client.Pipeline()
	pipe.Set(ctx, "cache:"+key, value, ttl)
	pipe.HSet(ctx, cacheMetaKey(key), map[string]any{
		"created_unix_ms": c.now().UnixMilli(),
		"ttl_ms":          ttl.Milliseconds(),
	})
	pipe.Expire(ctx, cacheMetaKey(key), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}
