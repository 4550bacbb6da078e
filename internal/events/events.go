// Package events publishes compensation events for payouts that failed
// after funds were already captured.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

// EventPayoutFailed marks a payout that failed post-capture and needs
// the funding side compensated.
const EventPayoutFailed = "payout_failed_requires_compensation"

var validate = validator.New()

// CompensationEvent tells downstream consumers which funding to
// reverse and why.
type CompensationEvent struct {
	Event     string          `json:"event" validate:"required"`
	SagaID    string          `json:"sagaId" validate:"required"`
	Funding   json.RawMessage `json:"funding" validate:"required"`
	Reason    string          `json:"reason" validate:"required"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp" validate:"required"`
}

// NewCompensation builds a validated compensation event.
func NewCompensation(sagaID string, funding any, reason string, metadata map[string]any) (*CompensationEvent, error) {
	raw, err := json.Marshal(funding)
	if err != nil {
		return nil, fmt.Errorf("encoding funding snapshot: %w", err)
	}

	event := &CompensationEvent{
		Event:     EventPayoutFailed,
		SagaID:    sagaID,
		Funding:   raw,
		Reason:    reason,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

// Validate checks the event schema.
func (e *CompensationEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid compensation event: %w", err)
	}
	return nil
}

// Emitter publishes compensation events.
type Emitter interface {
	Emit(ctx context.Context, event *CompensationEvent) error
}

// LogEmitter writes events to the structured log. It is the default
// when no broker is configured.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a log-backed emitter.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements Emitter.
func (e *LogEmitter) Emit(ctx context.Context, event *CompensationEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	e.logger.Warn("compensation required",
		"event", event.Event,
		"saga_id", event.SagaID,
		"reason", event.Reason,
	)
	return nil
}
