package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore()

	base := time.Now()
	store.now = func() time.Time { return base }

	require.NoError(t, store.Put(ctx, "k1", []byte("result"), time.Hour))

	value, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("result"), value)

	store.now = func() time.Time { return base.Add(61 * time.Minute) }
	_, ok, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryReceiptConsumeOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReceiptStore()

	fresh, err := store.ConsumeOnce(ctx, "aft", "rcpt-1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.ConsumeOnce(ctx, "aft", "rcpt-1")
	require.NoError(t, err)
	assert.False(t, fresh)

	// A different namespace is a different claim.
	fresh, err = store.ConsumeOnce(ctx, "pis", "rcpt-1")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemoryReceiptSingleWinnerUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReceiptStore()

	const goroutines = 32
	var wg sync.WaitGroup
	winners := make(chan struct{}, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := store.ConsumeOnce(ctx, "aft", "contested")
			require.NoError(t, err)
			if fresh {
				winners <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(winners)

	assert.Len(t, winners, 1)
}

func TestMemoryReceiptExpiredMarkerReclaimable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReceiptStore()

	base := time.Now()
	store.now = func() time.Time { return base }

	fresh, err := store.ConsumeOnce(ctx, "aft", "rcpt-2")
	require.NoError(t, err)
	require.True(t, fresh)

	store.now = func() time.Time { return base.Add(DefaultReceiptTTL + time.Minute) }
	fresh, err = store.ConsumeOnce(ctx, "aft", "rcpt-2")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemoryCacheRevalidateFlag(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	base := time.Now()
	cache.now = func() time.Time { return base }

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Minute))

	_, ok, revalidate, err := cache.GetWithRevalidate(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, revalidate)

	// Past half the TTL the entry is served but flagged stale.
	cache.now = func() time.Time { return base.Add(31 * time.Second) }
	value, ok, revalidate, err := cache.GetWithRevalidate(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, revalidate)
	assert.Equal(t, []byte("v"), value)

	// Past the full TTL the entry is gone.
	cache.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok, _, err = cache.GetWithRevalidate(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
