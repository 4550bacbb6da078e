// Package transport is the secure HTTP transport to the payment
// network: mutual TLS, message-level encryption driven by a route
// table, retry with exponential backoff, and a circuit breaker in
// front of the signing-key publisher.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"payoutnet/internal/payerr"
)

// Mode selects fail-closed or developer-friendly behavior when
// encryption material is unavailable.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
)

// IdempotencyHeader carries the caller's idempotency key to the
// network.
const IdempotencyHeader = "x-idempotency-key"

// Config holds transport configuration.
type Config struct {
	BaseURL  string `envconfig:"NETWORK_BASE_URL"`
	Mode     Mode   `envconfig:"NETWORK_MODE" default:"development"`
	Username string `envconfig:"NETWORK_USERNAME"`
	Password string `envconfig:"NETWORK_PASSWORD"`

	CertFile string `envconfig:"NETWORK_CERT_FILE"`
	KeyFile  string `envconfig:"NETWORK_KEY_FILE"`
	CAFile   string `envconfig:"NETWORK_CA_FILE"`

	Timeout time.Duration `envconfig:"NETWORK_TIMEOUT" default:"30s"`

	Retry       RetryConfig
	Breaker     BreakerConfig
	Keys        KeySetConfig
	Correlation CorrelationConfig
}

// Response is a decoded network reply. Body is already unwrapped from
// any encryption envelope.
type Response struct {
	StatusCode    int
	Header        http.Header
	Body          json.RawMessage
	CorrelationID string
}

// wireError is the error shape the network returns. Field names vary
// by endpoint generation.
type wireError struct {
	Code         string `json:"code"`
	ErrorCode    string `json:"errorCode"`
	Message      string `json:"message"`
	ErrorMessage string `json:"errorMessage"`
}

// Client is the secure transport. Safe for concurrent use; Reload may
// swap configuration while requests are in flight.
type Client struct {
	routes *RouteTable
	keys   *KeySet
	logger *slog.Logger

	mu       sync.RWMutex
	cfg      Config
	http     *http.Client
	envelope *Envelope
	retryer  *Retryer
}

// New builds a client. Certificate paths, when set, enable mutual TLS;
// the same TLS identity is used for key publisher fetches.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDevelopment
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if tlsConfig != nil {
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	breaker := NewBreaker(cfg.Breaker)
	keys := NewKeySet(cfg.Keys, httpClient, breaker, logger)

	return &Client{
		cfg:      cfg,
		http:     httpClient,
		routes:   NewRouteTable(nil),
		keys:     keys,
		envelope: NewEnvelope(keys, cfg.Mode, logger),
		retryer:  NewRetryer(cfg.Retry, logger),
		logger:   logger,
	}, nil
}

// Keys exposes the key set for private key registration and tests.
func (c *Client) Keys() *KeySet { return c.keys }

// Routes replaces the route table. Nil restores the default table.
func (c *Client) Routes(routes []Route) { c.routes = NewRouteTable(routes) }

// Reload applies a new configuration without restarting the client:
// rotated certificates, a new base address, and new key publisher
// settings take effect for subsequent requests. Cached key material is
// dropped; in-flight requests finish on the old configuration.
func (c *Client) Reload(cfg Config) error {
	if cfg.Mode == "" {
		cfg.Mode = ModeDevelopment
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return fmt.Errorf("reloading transport: %w", err)
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if tlsConfig != nil {
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	c.keys.Rebind(cfg.Keys, httpClient)

	c.mu.Lock()
	c.cfg = cfg
	c.http = httpClient
	c.envelope = NewEnvelope(c.keys, cfg.Mode, c.logger)
	c.retryer = NewRetryer(cfg.Retry, c.logger)
	c.mu.Unlock()

	c.logger.Info("transport configuration reloaded", "base_url", cfg.BaseURL, "mode", cfg.Mode)
	return nil
}

// Post sends body as JSON to path, encrypting when the route table
// requires it, and retries transient failures.
func (c *Client) Post(ctx context.Context, path string, body any, hdr http.Header) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return c.send(ctx, http.MethodPost, path, payload, hdr)
}

// Get fetches path, decrypting the reply when enveloped.
func (c *Client) Get(ctx context.Context, path string, hdr http.Header) (*Response, error) {
	return c.send(ctx, http.MethodGet, path, nil, hdr)
}

// snapshot pins the swappable parts of the client for one request, so
// a concurrent Reload cannot mix old and new configuration.
func (c *Client) snapshot() (Config, *http.Client, *Envelope, *Retryer) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.http, c.envelope, c.retryer
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, hdr http.Header) (*Response, error) {
	cfg, httpClient, envelope, retryer := c.snapshot()

	headers := http.Header{}
	for k, vs := range hdr {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}
	correlationID := ApplyCorrelation(headers, cfg.Correlation)
	errCtx := payerr.Context{Rail: railFromPath(path)}

	wireBody := payload
	if len(payload) > 0 && c.routes.RequiresMLE(path) {
		sealed, kid, sealErr := envelope.Seal(ctx, payload)
		if sealErr != nil {
			c.logger.Error("envelope seal failed", "path", path, "correlation_id", correlationID, "error", sealErr)
			return nil, payerr.New(payerr.KeyEnvelopeEncrypt, errCtx)
		}
		wireBody = sealed
		if kid != "" {
			headers.Set(JWEKidHeader, kid)
		}
	}

	var resp *Response
	err := retryer.Do(ctx, correlationID, func(ctx context.Context) error {
		var attemptErr error
		resp, attemptErr = c.roundTrip(ctx, cfg, httpClient, envelope, method, path, wireBody, headers, errCtx)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	resp.CorrelationID = correlationID
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, cfg Config, httpClient *http.Client, envelope *Envelope, method, path string, body []byte, headers http.Header, errCtx payerr.Context) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header = headers.Clone()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if cfg.Username != "" {
		req.SetBasicAuth(cfg.Username, cfg.Password)
	}

	httpResp, err := httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, payerr.New(payerr.KeyNetworkTimeout, errCtx)
		}
		return nil, payerr.New(payerr.KeyNetworkError, errCtx)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, payerr.New(payerr.KeyNetworkError, errCtx)
	}

	if httpResp.StatusCode >= 400 {
		var we wireError
		_ = json.Unmarshal(raw, &we)
		code := we.Code
		if code == "" {
			code = we.ErrorCode
		}
		message := we.Message
		if message == "" {
			message = we.ErrorMessage
		}
		return nil, payerr.Map(httpResp.StatusCode, code, message, errCtx)
	}

	plain := raw
	if len(raw) > 0 {
		plain, err = envelope.Open(ctx, raw)
		if err != nil {
			c.logger.Error("envelope open failed", "path", path, "error", err)
			if errors.Is(err, ErrKeyIDUnknown) {
				return nil, fmt.Errorf("%w: %w", payerr.New(payerr.KeyEnvelopeKidUnknown, errCtx), err)
			}
			return nil, payerr.New(payerr.KeyEnvelopeDecrypt, errCtx)
		}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       plain,
	}, nil
}

// railFromPath infers the payout rail from the endpoint family, for
// error context.
func railFromPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/visadirect/"):
		return "card"
	case strings.HasPrefix(path, "/accountpayouts/"):
		return "account"
	case strings.HasPrefix(path, "/walletpayouts/"):
		return "wallet"
	default:
		return ""
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.CertFile == "" && cfg.CAFile == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parsing CA bundle %s: no certificates found", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
