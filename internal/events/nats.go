package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// CompensationSubject is the NATS subject compensation events publish
// to.
const CompensationSubject = "payouts.compensation"

// NATSEmitter publishes compensation events to NATS.
type NATSEmitter struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSEmitter creates a NATS-backed emitter on the default subject.
func NewNATSEmitter(conn *nats.Conn, logger *slog.Logger) *NATSEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSEmitter{conn: conn, subject: CompensationSubject, logger: logger}
}

// Emit implements Emitter.
func (e *NATSEmitter) Emit(ctx context.Context, event *CompensationEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding compensation event: %w", err)
	}

	if err := e.conn.Publish(e.subject, data); err != nil {
		return fmt.Errorf("publishing compensation event: %w", err)
	}

	e.logger.Info("compensation event published",
		"subject", e.subject,
		"saga_id", event.SagaID,
	)
	return nil
}
