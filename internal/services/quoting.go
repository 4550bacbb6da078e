package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"payoutnet/internal/storage"
)

const fxLockPath = "/forexrates/v2/lock"

// QuoteRequest asks the FX service to lock a rate for a corridor.
type QuoteRequest struct {
	SourceCurrency      string `json:"sourceCurrency" validate:"required,len=3"`
	DestinationCurrency string `json:"destinationCurrency" validate:"required,len=3"`
	SourceAmountMinor   int64  `json:"sourceAmountMinor,omitempty"`
}

// Quote is a locked FX rate. Dispatch must happen before ExpiresAt.
type Quote struct {
	QuoteID             string    `json:"quoteId"`
	Rate                string    `json:"rate"`
	SourceCurrency      string    `json:"sourceCurrency"`
	DestinationCurrency string    `json:"destinationCurrency"`
	ExpiresAt           time.Time `json:"expiresAt"`
}

// Expired reports whether the lock has lapsed at the given instant.
func (q *Quote) Expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && !now.Before(q.ExpiresAt)
}

// QuotingService locks FX rates. Quotes are cached per currency pair
// so repeated pricing of the same corridor reuses one lock until it
// nears expiry; a hit past half its TTL is served immediately while a
// background re-lock replaces it. Refresh failures are logged, never
// surfaced.
type QuotingService struct {
	client HTTPClient
	cache  storage.Cache
	ttl    time.Duration
	logger *slog.Logger

	now func() time.Time
}

// NewQuotingService creates the service. A nil cache disables caching.
func NewQuotingService(client HTTPClient, cache storage.Cache, ttl time.Duration, logger *slog.Logger) *QuotingService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QuotingService{client: client, cache: cache, ttl: ttl, logger: logger, now: time.Now}
}

// LockRate obtains a rate lock for the corridor, reusing a cached,
// still-valid quote when one exists.
func (s *QuotingService) LockRate(ctx context.Context, req QuoteRequest) (*Quote, error) {
	cacheKey := fmt.Sprintf("fx:%s:%s", req.SourceCurrency, req.DestinationCurrency)

	if s.cache != nil {
		if value, ok, revalidate, err := s.cache.GetWithRevalidate(ctx, cacheKey); err == nil && ok {
			var cached Quote
			if err := json.Unmarshal(value, &cached); err == nil && !cached.Expired(s.now()) {
				if revalidate {
					go s.refreshLock(req, cacheKey)
				}
				return &cached, nil
			}
		}
	}

	quote, err := s.lock(ctx, req)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, cacheKey, quote)
	return quote, nil
}

func (s *QuotingService) lock(ctx context.Context, req QuoteRequest) (*Quote, error) {
	resp, err := s.client.Post(ctx, fxLockPath, req, nil)
	if err != nil {
		return nil, fmt.Errorf("locking fx rate: %w", err)
	}

	var quote Quote
	if err := json.Unmarshal(resp.Body, &quote); err != nil {
		return nil, fmt.Errorf("decoding fx quote: %w", err)
	}
	return &quote, nil
}

// refreshLock re-locks a rate in the background after a stale cache
// hit was served.
func (s *QuotingService) refreshLock(req QuoteRequest, cacheKey string) {
	refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	quote, err := s.lock(refreshCtx, req)
	if err != nil {
		s.logger.Debug("background quote refresh failed", "key", cacheKey, "error", err)
		return
	}
	s.toCache(refreshCtx, cacheKey, quote)
}

// toCache stores the quote with its TTL clamped to the lock's expiry.
func (s *QuotingService) toCache(ctx context.Context, key string, quote *Quote) {
	if s.cache == nil {
		return
	}
	ttl := s.ttl
	if remaining := quote.ExpiresAt.Sub(s.now()); !quote.ExpiresAt.IsZero() && remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(quote)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, ttl); err != nil {
		s.logger.Debug("quote cache write failed", "key", key, "error", err)
	}
}
