package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name for logs.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when a call is rejected without invoking
// the guarded operation.
var ErrBreakerOpen = errors.New("transport: circuit breaker open")

// BreakerConfig configures the key-publisher circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `envconfig:"BREAKER_MAX_FAILURES" default:"3"`
	CallTimeout  time.Duration `envconfig:"BREAKER_CALL_TIMEOUT" default:"10s"`
	ResetTimeout time.Duration `envconfig:"BREAKER_RESET_TIMEOUT" default:"60s"`
}

// Breaker guards calls to the signing-key publisher. After MaxFailures
// consecutive failures it opens and rejects calls until ResetTimeout
// elapses, then admits a single trial call; the trial's outcome decides
// whether the breaker closes or reopens. Safe for concurrent use by
// in-flight calls sharing one transport.
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	openedUntil time.Time
	lastFailure time.Time

	now func() time.Time
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = time.Minute
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Execute runs op under the breaker, racing it against the call
// timeout. A timeout counts as a failure.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(callCtx) }()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		err = fmt.Errorf("transport: key publisher call timed out: %w", callCtx.Err())
	}

	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// admit decides whether a call may proceed. In the open state the reset
// timeout promotes exactly one caller into the half-open trial.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Before(b.openedUntil) {
			return fmt.Errorf("%w until %s", ErrBreakerOpen, b.openedUntil.UTC().Format(time.RFC3339))
		}
		b.state = StateHalfOpen
		return nil
	case StateHalfOpen:
		// A trial is already in flight.
		return fmt.Errorf("%w: trial call in progress", ErrBreakerOpen)
	default:
		return nil
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.openedUntil = time.Time{}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.state == StateHalfOpen || b.failures >= b.cfg.MaxFailures {
		b.state = StateOpen
		b.openedUntil = b.now().Add(b.cfg.ResetTimeout)
	}
}
