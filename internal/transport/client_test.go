package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payoutnet/internal/payerr"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func newJWKSServer(t *testing.T, key *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &key.PublicKey, KeyID: kid, Use: "enc", Algorithm: "RSA-OAEP-256"},
	}}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
}

func encryptFor(t *testing.T, key *rsa.PrivateKey, kid string, payload []byte) string {
	t.Helper()
	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.RSA_OAEP_256, Key: &key.PublicKey, KeyID: kid},
		nil,
	)
	require.NoError(t, err)
	obj, err := enc.Encrypt(payload)
	require.NoError(t, err)
	compact, err := obj.CompactSerialize()
	require.NoError(t, err)
	return compact
}

func decryptCompact(t *testing.T, key *rsa.PrivateKey, compact string) []byte {
	t.Helper()
	obj, err := jose.ParseEncrypted(compact,
		[]jose.KeyAlgorithm{jose.RSA_OAEP_256},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	require.NoError(t, err)
	plaintext, err := obj.Decrypt(key)
	require.NoError(t, err)
	return plaintext
}

func TestClientPostPlainRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forexrates/v2/lock", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("x-correlation-id"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "USD", body["sourceCurrency"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"quoteId":"q-1"}`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL}, slog.Default())
	require.NoError(t, err)

	resp, err := client.Post(context.Background(), "/forexrates/v2/lock", map[string]string{"sourceCurrency": "USD"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"quoteId":"q-1"}`, string(resp.Body))
}

func TestClientMapsWireErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"20","message":"balance too low"}`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL}, slog.Default())
	require.NoError(t, err)

	_, err = client.Post(context.Background(), "/visapayouts/v3/payouts", map[string]string{}, nil)
	require.Error(t, err)

	var mapped *payerr.Error
	require.ErrorAs(t, err, &mapped)
	assert.Equal(t, "InsufficientFunds", mapped.Name)
	assert.Equal(t, "balance too low", mapped.Message)
	assert.False(t, mapped.Retryable)
}

func TestClientRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client, err := New(Config{
		BaseURL: server.URL,
		Retry:   RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}, slog.Default())
	require.NoError(t, err)

	resp, err := client.Post(context.Background(), "/visapayouts/v3/payouts", map[string]string{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestClientDoesNotRetryTerminalStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"30"}`))
	}))
	defer server.Close()

	client, err := New(Config{
		BaseURL: server.URL,
		Retry:   RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond},
	}, slog.Default())
	require.NoError(t, err)

	_, err = client.Post(context.Background(), "/visapayouts/v3/payouts", map[string]string{}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientMLERoundTrip(t *testing.T) {
	key := newTestKey(t)
	jwks := newJWKSServer(t, key, "kid-1")
	defer jwks.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "kid-1", r.Header.Get(JWEKidHeader))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var wrapper struct {
			EncData string `json:"encData"`
		}
		require.NoError(t, json.Unmarshal(raw, &wrapper))
		require.NotEmpty(t, wrapper.EncData)

		plaintext := decryptCompact(t, key, wrapper.EncData)
		assert.JSONEq(t, `{"amount":100}`, string(plaintext))

		reply := encryptFor(t, key, "kid-1", []byte(`{"status":"COMPLETED"}`))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"encData": reply})
	}))
	defer server.Close()

	client, err := New(Config{
		BaseURL: server.URL,
		Mode:    ModeProduction,
		Keys:    KeySetConfig{JWKSURL: jwks.URL},
	}, slog.Default())
	require.NoError(t, err)
	client.Keys().RegisterPrivateKey("kid-1", key)

	resp, err := client.Post(context.Background(), "/visadirect/fundstransfer/v1/pushfunds", map[string]int{"amount": 100}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"COMPLETED"}`, string(resp.Body))
}

func TestClientUnknownResponseKidFails(t *testing.T) {
	key := newTestKey(t)
	jwks := newJWKSServer(t, key, "kid-1")
	defer jwks.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply := encryptFor(t, key, "kid-rotated", []byte(`{"status":"COMPLETED"}`))
		_ = json.NewEncoder(w).Encode(map[string]string{"encData": reply})
	}))
	defer server.Close()

	client, err := New(Config{
		BaseURL: server.URL,
		Mode:    ModeProduction,
		Keys:    KeySetConfig{JWKSURL: jwks.URL},
	}, slog.Default())
	require.NoError(t, err)
	client.Keys().RegisterPrivateKey("kid-1", key)

	_, err = client.Post(context.Background(), "/visadirect/fundstransfer/v1/pushfunds", map[string]int{"amount": 100}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyIDUnknown)

	var mapped *payerr.Error
	require.ErrorAs(t, err, &mapped)
	assert.Equal(t, "EnvelopeKidUnknown", mapped.Name)
	assert.Contains(t, err.Error(), "kid-rotated")
}

func TestClientProductionFailsClosedWithoutKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the network without encryption")
	}))
	defer server.Close()

	client, err := New(Config{
		BaseURL: server.URL,
		Mode:    ModeProduction,
		Keys:    KeySetConfig{JWKSURL: "http://127.0.0.1:1/jwks"},
	}, slog.Default())
	require.NoError(t, err)

	_, err = client.Post(context.Background(), "/visadirect/fundstransfer/v1/pushfunds", map[string]int{"amount": 100}, nil)
	require.Error(t, err)

	var mapped *payerr.Error
	require.ErrorAs(t, err, &mapped)
	assert.Equal(t, "EnvelopeEncryptError", mapped.Name)
}

func TestClientDevelopmentPassesThroughWithoutKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 100, body["amount"])
		_, _ = w.Write([]byte(`{"status":"COMPLETED"}`))
	}))
	defer server.Close()

	client, err := New(Config{
		BaseURL: server.URL,
		Mode:    ModeDevelopment,
		Keys:    KeySetConfig{JWKSURL: "http://127.0.0.1:1/jwks"},
	}, slog.Default())
	require.NoError(t, err)

	resp, err := client.Post(context.Background(), "/visadirect/fundstransfer/v1/pushfunds", map[string]int{"amount": 100}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"COMPLETED"}`, string(resp.Body))
}

func TestClientReloadSwapsBaseAddress(t *testing.T) {
	old := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"from":"old"}`))
	}))
	defer old.Close()
	fresh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"from":"fresh"}`))
	}))
	defer fresh.Close()

	client, err := New(Config{BaseURL: old.URL}, slog.Default())
	require.NoError(t, err)

	resp, err := client.Post(context.Background(), "/visapayouts/v3/payouts", map[string]string{}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"old"}`, string(resp.Body))

	require.NoError(t, client.Reload(Config{BaseURL: fresh.URL}))

	resp, err = client.Post(context.Background(), "/visapayouts/v3/payouts", map[string]string{}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"fresh"}`, string(resp.Body))
}

func TestClientReloadRebindsKeyPublisher(t *testing.T) {
	oldKey, freshKey := newTestKey(t), newTestKey(t)
	oldJWKS := newJWKSServer(t, oldKey, "kid-old")
	defer oldJWKS.Close()
	freshJWKS := newJWKSServer(t, freshKey, "kid-fresh")
	defer freshJWKS.Close()

	client, err := New(Config{Keys: KeySetConfig{JWKSURL: oldJWKS.URL}}, slog.Default())
	require.NoError(t, err)

	jwk, err := client.Keys().EncryptionKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "kid-old", jwk.KeyID)

	require.NoError(t, client.Reload(Config{Keys: KeySetConfig{JWKSURL: freshJWKS.URL}}))

	jwk, err = client.Keys().EncryptionKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "kid-fresh", jwk.KeyID, "cached key material must not survive a reload")
}

func TestClientReloadRejectsBadCertificate(t *testing.T) {
	client, err := New(Config{BaseURL: "http://127.0.0.1:1"}, slog.Default())
	require.NoError(t, err)

	err = client.Reload(Config{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"})
	require.Error(t, err)
}

func TestClientForwardsIdempotencyHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-123", r.Header.Get(IdempotencyHeader))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL}, slog.Default())
	require.NoError(t, err)

	hdr := http.Header{}
	hdr.Set(IdempotencyHeader, "key-123")
	_, err = client.Post(context.Background(), "/visapayouts/v3/payouts", map[string]string{}, hdr)
	require.NoError(t, err)
}
