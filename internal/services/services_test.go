package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payoutnet/internal/payerr"
	"payoutnet/internal/storage"
	"payoutnet/internal/transport"
)

// fakeClient scripts transport responses per path and records calls.
type fakeClient struct {
	mu      sync.Mutex
	calls   []string
	respond map[string]any
	err     error
	posted  chan string
}

func newFakeClient() *fakeClient {
	return &fakeClient{respond: make(map[string]any), posted: make(chan string, 16)}
}

func (f *fakeClient) Post(_ context.Context, path string, _ any, _ http.Header) (*transport.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()

	select {
	case f.posted <- path:
	default:
	}

	if f.err != nil {
		return nil, f.err
	}
	body, _ := json.Marshal(f.respond[path])
	return &transport.Response{StatusCode: http.StatusOK, Body: body}, nil
}

func (f *fakeClient) Get(ctx context.Context, path string, hdr http.Header) (*transport.Response, error) {
	return f.Post(ctx, path, nil, hdr)
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// stubCache always reports a stale hit.
type stubCache struct {
	value []byte
	sets  int
}

func (c *stubCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, _, err := c.GetWithRevalidate(ctx, key)
	return v, ok, err
}

func (c *stubCache) GetWithRevalidate(context.Context, string) ([]byte, bool, bool, error) {
	return c.value, true, true, nil
}

func (c *stubCache) Set(context.Context, string, []byte, time.Duration) error {
	c.sets++
	return nil
}

func TestResolveAliasCachesResult(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.respond[aliasResolvePath] = AliasResolution{Alias: "+15551234", CardToken: "tok-1", IssuerCountry: "US"}

	svc := NewRecipientService(client, storage.NewMemoryCache(), time.Minute, nil)

	first, err := svc.ResolveAlias(ctx, "+15551234", "PHONE")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", first.CardToken)

	second, err := svc.ResolveAlias(ctx, "+15551234", "PHONE")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, client.callCount(), "second lookup must come from cache")
}

func TestResolveAliasServesStaleAndRefreshesInBackground(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.respond[aliasResolvePath] = AliasResolution{Alias: "a@b.co", CardToken: "tok-new"}

	stale, _ := json.Marshal(AliasResolution{Alias: "a@b.co", CardToken: "tok-old"})
	cache := &stubCache{value: stale}

	svc := NewRecipientService(client, cache, time.Minute, nil)

	got, err := svc.ResolveAlias(ctx, "a@b.co", "EMAIL")
	require.NoError(t, err)
	assert.Equal(t, "tok-old", got.CardToken, "stale value served immediately")

	select {
	case path := <-client.posted:
		assert.Equal(t, aliasResolvePath, path)
	case <-time.After(2 * time.Second):
		t.Fatal("background refresh never fired")
	}
}

func TestValidateCardDecodesVerdict(t *testing.T) {
	client := newFakeClient()
	client.respond[cardValidationPath] = CardValidation{Valid: false, Reason: "closed account"}

	svc := NewRecipientService(client, nil, time.Minute, nil)
	v, err := svc.ValidateCard(context.Background(), "tok-9")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "closed account", v.Reason)
}

func TestLockRateCachesUnexpiredQuote(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.respond[fxLockPath] = Quote{
		QuoteID: "q-1", Rate: "58.21",
		SourceCurrency: "GBP", DestinationCurrency: "PHP",
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}

	svc := NewQuotingService(client, storage.NewMemoryCache(), 5*time.Minute, nil)

	req := QuoteRequest{SourceCurrency: "GBP", DestinationCurrency: "PHP"}
	first, err := svc.LockRate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "q-1", first.QuoteID)

	second, err := svc.LockRate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "q-1", second.QuoteID)
	assert.Equal(t, 1, client.callCount())
}

func TestLockRateIgnoresExpiredCachedQuote(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.respond[fxLockPath] = Quote{QuoteID: "q-2", ExpiresAt: time.Now().Add(5 * time.Minute)}

	cache := storage.NewMemoryCache()
	expired, _ := json.Marshal(Quote{QuoteID: "q-stale", ExpiresAt: time.Now().Add(-time.Minute)})
	require.NoError(t, cache.Set(ctx, "fx:GBP:PHP", expired, time.Minute))

	svc := NewQuotingService(client, cache, 5*time.Minute, nil)
	quote, err := svc.LockRate(ctx, QuoteRequest{SourceCurrency: "GBP", DestinationCurrency: "PHP"})
	require.NoError(t, err)
	assert.Equal(t, "q-2", quote.QuoteID)
	assert.Equal(t, 1, client.callCount())
}

func TestLockRateServesStaleAndRelocksInBackground(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.respond[fxLockPath] = Quote{QuoteID: "q-new", ExpiresAt: time.Now().Add(5 * time.Minute)}

	stale, _ := json.Marshal(Quote{QuoteID: "q-old", ExpiresAt: time.Now().Add(time.Minute)})
	cache := &stubCache{value: stale}

	svc := NewQuotingService(client, cache, 5*time.Minute, nil)

	quote, err := svc.LockRate(ctx, QuoteRequest{SourceCurrency: "GBP", DestinationCurrency: "PHP"})
	require.NoError(t, err)
	assert.Equal(t, "q-old", quote.QuoteID, "stale quote served immediately")

	select {
	case path := <-client.posted:
		assert.Equal(t, fxLockPath, path)
	case <-time.After(2 * time.Second):
		t.Fatal("background re-lock never fired")
	}
}

func TestComplianceShouldCheckModes(t *testing.T) {
	all := NewComplianceService(nil, ComplianceAll, true, nil)
	assert.True(t, all.ShouldCheck("US", "US"))
	assert.True(t, all.ShouldCheck("US", "MX"))

	crossOnly := NewComplianceService(nil, ComplianceCrossBorderOnly, true, nil)
	assert.False(t, crossOnly.ShouldCheck("US", "US"))
	assert.True(t, crossOnly.ShouldCheck("US", "MX"))

	none := NewComplianceService(nil, ComplianceNone, true, nil)
	assert.False(t, none.ShouldCheck("US", "MX"))

	disabled := NewComplianceService(nil, ComplianceAll, false, nil)
	assert.False(t, disabled.ShouldCheck("US", "MX"))
}

func TestComplianceCheckVerdicts(t *testing.T) {
	ctx := context.Background()

	client := newFakeClient()
	client.respond[screeningPath] = screeningVerdict{Result: "approved"}
	svc := NewComplianceService(client, ComplianceAll, true, nil)
	assert.NoError(t, svc.Check(ctx, ScreeningRequest{SenderCountry: "US", RecipientCountry: "MX"}))

	client.respond[screeningPath] = screeningVerdict{Result: "match"}
	err := svc.Check(ctx, ScreeningRequest{SenderCountry: "US", RecipientCountry: "MX"})
	var mapped *payerr.Error
	require.ErrorAs(t, err, &mapped)
	assert.Equal(t, "SanctionsMatch", mapped.Name)

	client.respond[screeningPath] = screeningVerdict{Result: "review"}
	err = svc.Check(ctx, ScreeningRequest{SenderCountry: "US", RecipientCountry: "MX"})
	require.ErrorAs(t, err, &mapped)
	assert.Equal(t, "AMLAlert", mapped.Name)
}

func TestComplianceFailsClosedOnTransportError(t *testing.T) {
	client := newFakeClient()
	client.err = errors.New("screening service down")

	svc := NewComplianceService(client, ComplianceAll, true, nil)
	err := svc.Check(context.Background(), ScreeningRequest{SenderCountry: "US", RecipientCountry: "MX"})

	var mapped *payerr.Error
	require.ErrorAs(t, err, &mapped)
	assert.Equal(t, "ComplianceDenied", mapped.Name)
	assert.Contains(t, mapped.Message, "screening unavailable")
}

func TestComplianceScreenPayload(t *testing.T) {
	ctx := context.Background()
	payload := map[string]any{"purposeCode": "GIFT", "senderName": "Acme"}

	client := newFakeClient()
	client.respond[screeningPath] = screeningVerdict{Result: "clear"}
	svc := NewComplianceService(client, ComplianceAll, true, nil)
	assert.NoError(t, svc.Screen(ctx, payload))
	assert.Equal(t, 1, client.callCount())

	client.respond[screeningPath] = screeningVerdict{Result: "match"}
	err := svc.Screen(ctx, payload)
	var mapped *payerr.Error
	require.ErrorAs(t, err, &mapped)
	assert.Equal(t, "SanctionsMatch", mapped.Name)

	// Fail-closed applies to payload screening too.
	client.err = errors.New("screening service down")
	err = svc.Screen(ctx, payload)
	require.ErrorAs(t, err, &mapped)
	assert.Equal(t, "ComplianceDenied", mapped.Name)
}
