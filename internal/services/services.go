// Package services wraps the payment network's supporting endpoints:
// alias resolution, card validation, FX quoting, and watchlist
// screening.
package services

import (
	"context"
	"net/http"
	"time"

	"payoutnet/internal/transport"
)

// HTTPClient is the transport surface the services need.
type HTTPClient interface {
	Post(ctx context.Context, path string, body any, hdr http.Header) (*transport.Response, error)
	Get(ctx context.Context, path string, hdr http.Header) (*transport.Response, error)
}

// Config holds service-layer configuration.
type Config struct {
	RecipientCacheTTL time.Duration `envconfig:"RECIPIENT_CACHE_TTL" default:"60s"`
	QuoteCacheTTL     time.Duration `envconfig:"QUOTE_CACHE_TTL" default:"300s"`

	ComplianceMode    ComplianceMode `envconfig:"COMPLIANCE_MODE" default:"all"`
	ComplianceEnabled bool           `envconfig:"COMPLIANCE_ENABLED" default:"true"`
}
