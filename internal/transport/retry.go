package transport

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"syscall"
	"time"

	"payoutnet/internal/payerr"
)

// RetryConfig configures exponential backoff with jitter.
type RetryConfig struct {
	MaxRetries int           `envconfig:"RETRY_MAX_RETRIES" default:"3"`
	BaseDelay  time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	MaxDelay   time.Duration `envconfig:"RETRY_MAX_DELAY" default:"10s"`
	Multiplier float64       `envconfig:"RETRY_MULTIPLIER" default:"2"`
	Jitter     float64       `envconfig:"RETRY_JITTER" default:"0.1"`
}

// Retryer retries transient wire failures with exponential backoff.
// Retryability is decided by the error taxonomy: network timeouts,
// connection resets, and the retryable subset of mapped HTTP failures
// requeue; everything else surfaces immediately.
type Retryer struct {
	cfg    RetryConfig
	logger *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryer creates a retryer with defaults filled in.
func NewRetryer(cfg RetryConfig, logger *slog.Logger) *Retryer {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retryer{cfg: cfg, logger: logger, sleep: sleepCtx}
}

// Do runs op up to MaxRetries+1 times. correlationID tags the retry
// logs so attempts for one request can be grouped.
func (r *Retryer) Do(ctx context.Context, correlationID string, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.Delay(attempt)
			r.logger.Warn("retrying request",
				"correlation_id", correlationID,
				"attempt", attempt,
				"max_retries", r.cfg.MaxRetries,
				"delay", delay,
				"error", lastErr,
			)
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// Delay computes the backoff for the given 1-based attempt: base delay
// doubled per attempt, capped, then spread by the jitter fraction.
func (r *Retryer) Delay(attempt int) time.Duration {
	d := float64(r.cfg.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= r.cfg.Multiplier
	}
	if max := float64(r.cfg.MaxDelay); d > max {
		d = max
	}
	if r.cfg.Jitter > 0 {
		d += d * r.cfg.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Retryable reports whether err is worth another attempt. Mapped
// taxonomy errors carry their own flag; raw transport errors are
// inspected for timeout and connection-level failures.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var mapped *payerr.Error
	if errors.As(err, &mapped) {
		return mapped.Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
