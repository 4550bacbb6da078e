package transport

import (
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// CorrelationFormat selects how outbound correlation IDs are minted.
type CorrelationFormat string

const (
	CorrelationUUID   CorrelationFormat = "uuid"
	CorrelationULID   CorrelationFormat = "ulid"
	CorrelationPrefix CorrelationFormat = "prefix"
)

// CorrelationConfig configures outbound request correlation.
type CorrelationConfig struct {
	Header string            `envconfig:"CORRELATION_HEADER" default:"x-correlation-id"`
	Format CorrelationFormat `envconfig:"CORRELATION_FORMAT" default:"uuid"`
	Prefix string            `envconfig:"CORRELATION_PREFIX" default:"payout"`
}

// NewCorrelationID mints an ID in the configured format. The prefix
// format appends a millisecond timestamp and a short random suffix.
func NewCorrelationID(cfg CorrelationConfig) string {
	switch cfg.Format {
	case CorrelationULID:
		return ulid.Make().String()
	case CorrelationPrefix:
		return fmt.Sprintf("%s-%d-%04x", cfg.Prefix, time.Now().UnixMilli(), rand.Intn(0x10000))
	default:
		return uuid.NewString()
	}
}

// ApplyCorrelation stamps the correlation header on an outbound request
// and returns the ID used.
func ApplyCorrelation(h http.Header, cfg CorrelationConfig) string {
	header := cfg.Header
	if header == "" {
		header = "x-correlation-id"
	}
	if id := h.Get(header); id != "" {
		return id
	}
	id := NewCorrelationID(cfg)
	h.Set(header, id)
	return id
}
