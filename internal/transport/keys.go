package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// ErrNoEncryptionKey is returned when the key set holds no usable
// encryption key.
var ErrNoEncryptionKey = errors.New("transport: no encryption key in key set")

// KeySetConfig configures signing-key publisher access.
type KeySetConfig struct {
	JWKSURL  string        `envconfig:"MLE_JWKS_URL"`
	CacheTTL time.Duration `envconfig:"MLE_KEY_CACHE_TTL" default:"5m"`
}

// KeySet caches the JSON Web Key Set published by the payment network's
// key publisher. Fetches go through a circuit breaker so a publisher
// outage degrades fast instead of stalling every payout. Private keys
// registered locally take precedence for decryption.
type KeySet struct {
	cfg     KeySetConfig
	client  *http.Client
	breaker *Breaker
	logger  *slog.Logger

	mu        sync.RWMutex
	keys      map[string]jose.JSONWebKey
	private   map[string]any
	fetchedAt time.Time

	now func() time.Time
}

// NewKeySet creates a key set backed by the publisher at cfg.JWKSURL.
func NewKeySet(cfg KeySetConfig, client *http.Client, breaker *Breaker, logger *slog.Logger) *KeySet {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if client == nil {
		client = http.DefaultClient
	}
	if breaker == nil {
		breaker = NewBreaker(BreakerConfig{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeySet{
		cfg:     cfg,
		client:  client,
		breaker: breaker,
		logger:  logger,
		keys:    make(map[string]jose.JSONWebKey),
		private: make(map[string]any),
		now:     time.Now,
	}
}

// RegisterPrivateKey installs a local decryption key under kid.
func (k *KeySet) RegisterPrivateKey(kid string, key any) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.private[kid] = key
}

// EncryptionKey returns a public key suitable for envelope encryption,
// fetching the key set first if the cache is stale.
func (k *KeySet) EncryptionKey(ctx context.Context) (jose.JSONWebKey, error) {
	if err := k.ensureFresh(ctx); err != nil {
		return jose.JSONWebKey{}, err
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, jwk := range k.keys {
		if jwk.Use != "enc" && jwk.Use != "" {
			continue
		}
		if jwk.IsPublic() {
			return jwk, nil
		}
		return jwk.Public(), nil
	}
	return jose.JSONWebKey{}, ErrNoEncryptionKey
}

// DecryptionKey resolves the key for an inbound envelope's kid header.
// Locally registered private keys win; otherwise a published key with
// private material is used.
func (k *KeySet) DecryptionKey(kid string) (any, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if key, ok := k.private[kid]; ok {
		return key, true
	}
	if jwk, ok := k.keys[kid]; ok && !jwk.IsPublic() {
		return jwk.Key, true
	}
	return nil, false
}

// Refresh fetches the key set unconditionally.
func (k *KeySet) Refresh(ctx context.Context) error {
	return k.breaker.Execute(ctx, k.fetch)
}

// Clear drops the cached key set; the next use refetches.
func (k *KeySet) Clear() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = make(map[string]jose.JSONWebKey)
	k.fetchedAt = time.Time{}
}

// Rebind points the key set at a new publisher configuration and HTTP
// client, dropping cached published keys. Locally registered private
// keys survive.
func (k *KeySet) Rebind(cfg KeySetConfig, client *http.Client) {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if client == nil {
		client = http.DefaultClient
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cfg = cfg
	k.client = client
	k.keys = make(map[string]jose.JSONWebKey)
	k.fetchedAt = time.Time{}
}

func (k *KeySet) ensureFresh(ctx context.Context) error {
	k.mu.RLock()
	fresh := !k.fetchedAt.IsZero() && k.now().Sub(k.fetchedAt) < k.cfg.CacheTTL
	k.mu.RUnlock()
	if fresh {
		return nil
	}
	return k.Refresh(ctx)
}

func (k *KeySet) fetch(ctx context.Context) error {
	k.mu.RLock()
	jwksURL, client := k.cfg.JWKSURL, k.client
	k.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return fmt.Errorf("building key set request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching key set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching key set: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading key set: %w", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("parsing key set: %w", err)
	}

	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID == "" {
			continue
		}
		keys[jwk.KeyID] = jwk
	}

	k.mu.Lock()
	k.keys = keys
	k.fetchedAt = k.now()
	k.mu.Unlock()

	k.logger.Debug("key set refreshed", "keys", len(keys))
	return nil
}
