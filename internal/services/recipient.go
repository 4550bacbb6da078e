package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"payoutnet/internal/storage"
)

const (
	aliasResolvePath       = "/visaaliasdirectory/v1/resolve"
	cardValidationPath     = "/pav/v1/cardvalidation"
	transferAttributesPath = "/paai/fundstransferattributes/v1/cardattributes"
)

// AliasResolution is the directory's answer for a payout alias.
type AliasResolution struct {
	Alias         string `json:"alias"`
	AliasType     string `json:"aliasType"`
	CardToken     string `json:"cardToken"`
	RecipientName string `json:"recipientName"`
	IssuerCountry string `json:"issuerCountry"`
}

// CardValidation is the account validation verdict for a card token.
type CardValidation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// TransferAttributes describes a card's push-payment eligibility.
type TransferAttributes struct {
	FastFundsEligible bool   `json:"fastFundsEligible"`
	PushFundsBlocked  bool   `json:"pushFundsBlocked"`
	Network           string `json:"network,omitempty"`
}

// RecipientService resolves aliases and checks card eligibility.
// Lookups are cached; a hit past half its TTL is served immediately
// while a background refresh replaces it. Refresh failures are logged,
// never surfaced.
type RecipientService struct {
	client HTTPClient
	cache  storage.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewRecipientService creates the service. A nil cache disables
// caching entirely.
func NewRecipientService(client HTTPClient, cache storage.Cache, ttl time.Duration, logger *slog.Logger) *RecipientService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecipientService{client: client, cache: cache, ttl: ttl, logger: logger}
}

// ResolveAlias looks up a payout alias in the network directory.
func (s *RecipientService) ResolveAlias(ctx context.Context, alias, aliasType string) (*AliasResolution, error) {
	cacheKey := fmt.Sprintf("alias:%s:%s", aliasType, alias)

	var cached AliasResolution
	if hit := s.fromCache(ctx, cacheKey, &cached, func(ctx context.Context) (any, error) {
		return s.resolveAlias(ctx, alias, aliasType)
	}); hit {
		return &cached, nil
	}

	out, err := s.resolveAlias(ctx, alias, aliasType)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, cacheKey, out)
	return out, nil
}

func (s *RecipientService) resolveAlias(ctx context.Context, alias, aliasType string) (*AliasResolution, error) {
	body := map[string]string{"alias": alias, "aliasType": aliasType}
	resp, err := s.client.Post(ctx, aliasResolvePath, body, nil)
	if err != nil {
		return nil, fmt.Errorf("resolving alias: %w", err)
	}

	var out AliasResolution
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decoding alias resolution: %w", err)
	}
	return &out, nil
}

// ValidateCard runs payment account validation on a card token.
func (s *RecipientService) ValidateCard(ctx context.Context, cardToken string) (*CardValidation, error) {
	cacheKey := "cardvalidation:" + cardToken

	var cached CardValidation
	if hit := s.fromCache(ctx, cacheKey, &cached, func(ctx context.Context) (any, error) {
		return s.validateCard(ctx, cardToken)
	}); hit {
		return &cached, nil
	}

	out, err := s.validateCard(ctx, cardToken)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, cacheKey, out)
	return out, nil
}

func (s *RecipientService) validateCard(ctx context.Context, cardToken string) (*CardValidation, error) {
	body := map[string]string{"cardToken": cardToken}
	resp, err := s.client.Post(ctx, cardValidationPath, body, nil)
	if err != nil {
		return nil, fmt.Errorf("validating card: %w", err)
	}

	var out CardValidation
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decoding card validation: %w", err)
	}
	return &out, nil
}

// TransferAttributes fetches push-payment eligibility for a card token.
func (s *RecipientService) TransferAttributes(ctx context.Context, cardToken string) (*TransferAttributes, error) {
	cacheKey := "attributes:" + cardToken

	var cached TransferAttributes
	if hit := s.fromCache(ctx, cacheKey, &cached, func(ctx context.Context) (any, error) {
		return s.transferAttributes(ctx, cardToken)
	}); hit {
		return &cached, nil
	}

	out, err := s.transferAttributes(ctx, cardToken)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, cacheKey, out)
	return out, nil
}

func (s *RecipientService) transferAttributes(ctx context.Context, cardToken string) (*TransferAttributes, error) {
	body := map[string]string{"cardToken": cardToken}
	resp, err := s.client.Post(ctx, transferAttributesPath, body, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching transfer attributes: %w", err)
	}

	var out TransferAttributes
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decoding transfer attributes: %w", err)
	}
	return &out, nil
}

// fromCache reports a hit after decoding into dst. A stale-but-valid
// hit kicks off a detached refresh before returning.
func (s *RecipientService) fromCache(ctx context.Context, key string, dst any, refresh func(ctx context.Context) (any, error)) bool {
	if s.cache == nil {
		return false
	}

	value, ok, revalidate, err := s.cache.GetWithRevalidate(ctx, key)
	if err != nil || !ok {
		return false
	}
	if err := json.Unmarshal(value, dst); err != nil {
		return false
	}

	if revalidate {
		go func() {
			refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			fresh, err := refresh(refreshCtx)
			if err != nil {
				s.logger.Debug("background refresh failed", "key", key, "error", err)
				return
			}
			s.toCache(refreshCtx, key, fresh)
		}()
	}
	return true
}

func (s *RecipientService) toCache(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.logger.Debug("cache write failed", "key", key, "error", err)
	}
}
