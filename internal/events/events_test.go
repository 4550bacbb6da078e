package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompensationBuildsValidEvent(t *testing.T) {
	funding := map[string]string{"kind": "card_aft", "receiptId": "rcpt-1"}
	event, err := NewCompensation("saga-1", funding, "dispatch failed", map[string]any{"attempt": 1})
	require.NoError(t, err)

	assert.Equal(t, EventPayoutFailed, event.Event)
	assert.Equal(t, "saga-1", event.SagaID)
	assert.Equal(t, "dispatch failed", event.Reason)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, time.Minute)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(event.Funding, &decoded))
	assert.Equal(t, "rcpt-1", decoded["receiptId"])
}

func TestNewCompensationRejectsMissingFields(t *testing.T) {
	_, err := NewCompensation("", map[string]string{"kind": "card_aft"}, "reason", nil)
	assert.Error(t, err)

	_, err = NewCompensation("saga-1", map[string]string{"kind": "card_aft"}, "", nil)
	assert.Error(t, err)
}

func TestValidateRejectsZeroTimestamp(t *testing.T) {
	event := &CompensationEvent{
		Event:   EventPayoutFailed,
		SagaID:  "saga-1",
		Funding: json.RawMessage(`{}`),
		Reason:  "r",
	}
	assert.Error(t, event.Validate())

	event.Timestamp = time.Now()
	assert.NoError(t, event.Validate())
}

func TestLogEmitterValidates(t *testing.T) {
	emitter := NewLogEmitter(nil)

	valid, err := NewCompensation("saga-1", map[string]string{"kind": "open_banking"}, "r", nil)
	require.NoError(t, err)
	assert.NoError(t, emitter.Emit(context.Background(), valid))

	invalid := &CompensationEvent{Event: EventPayoutFailed}
	assert.Error(t, emitter.Emit(context.Background(), invalid))
}
