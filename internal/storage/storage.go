// Package storage defines the shared-state contracts behind the payout
// pipeline: idempotency records, consume-once receipts, and response
// caching with stale-while-revalidate semantics.
//
// The orchestrator depends only on these contracts. Map-backed defaults
// serve tests and single-instance use; Redis and Postgres adapters back
// multi-replica deployments.
package storage

import (
	"context"
	"time"
)

// DefaultReceiptTTL is how long a consumed receipt marker is held.
const DefaultReceiptTTL = 24 * time.Hour

// IdempotencyStore caches payout responses keyed by idempotency key.
// Last write wins; reads must be consulted before any dispatch.
type IdempotencyStore interface {
	// Get returns the cached value for key, or ok=false when absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Put stores value under key with the given TTL, overwriting any
	// previous value.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ReceiptStore marks funding receipts as consumed exactly once.
type ReceiptStore interface {
	// ConsumeOnce atomically claims {namespace, receiptID}. It returns
	// true iff this call is the first to claim the composite key;
	// later calls return false until the marker's TTL expires. The
	// conditional write must be atomic across concurrent callers.
	ConsumeOnce(ctx context.Context, namespace, receiptID string) (bool, error)
}

// Cache is a TTL cache with stale-while-revalidate metadata.
type Cache interface {
	// Get returns the cached value, or ok=false when absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// GetWithRevalidate additionally reports whether the entry has aged
	// past half its TTL and should be refreshed in the background.
	GetWithRevalidate(ctx context.Context, key string) (value []byte, ok bool, revalidate bool, err error)
	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
