package dx

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payoutnet/internal/common/money"
	"payoutnet/internal/payout"
	"payoutnet/internal/services"
)

type capturePayouter struct {
	req payout.Request
}

func (c *capturePayouter) Payout(_ context.Context, req payout.Request) (json.RawMessage, error) {
	c.req = req
	return json.RawMessage(`{"status":"COMPLETED"}`), nil
}

func TestBuilderAssemblesRequest(t *testing.T) {
	sink := &capturePayouter{}

	result, err := NewPayout(sink).
		IdempotencyKey("key-1").
		Saga("saga-1").
		Amount(5000_00, money.PHP).
		SourceCurrency(money.GBP).
		From("UK Sender", "GB").
		To("PH Recipient", "PH").
		FundedByOpenBanking("pay-1", "executed").
		ToAccount("0012345678", "BNORPHMM", "PH").
		Corridor("GB-PH").
		WithQuote(&services.Quote{QuoteID: "q-1"}).
		CompliancePayload(map[string]any{"purposeCode": "GIFT"}).
		Metadata("batch", "b-7").
		Execute(context.Background())

	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"COMPLETED"}`, string(result))

	req := sink.req
	assert.Equal(t, "key-1", req.IdempotencyKey)
	assert.Equal(t, "saga-1", req.SagaID)
	assert.Equal(t, money.PHP, req.Amount.Currency)
	assert.Equal(t, int64(5000_00), req.Amount.AmountMinor)
	assert.Equal(t, money.GBP, req.SourceCurrency)
	assert.Equal(t, "GB", req.SenderCountry)
	assert.Equal(t, payout.FundingPIS, req.Funding.Kind)
	assert.Equal(t, payout.DestAccount, req.Destination.Kind)
	assert.Equal(t, "GB-PH", req.Corridor)
	assert.Equal(t, "q-1", req.FXLock.QuoteID)
	assert.Equal(t, "GIFT", req.CompliancePayload["purposeCode"])
	assert.Equal(t, "b-7", req.Metadata["batch"])
}

func TestBuilderMintsIdempotencyKeyWhenUnset(t *testing.T) {
	sink := &capturePayouter{}

	_, err := NewPayout(sink).
		Amount(10_00, money.USD).
		From("A", "US").
		To("B", "US").
		FundedByLedger("txn-1", true).
		ToCard("tok-1").
		Execute(context.Background())

	require.NoError(t, err)
	assert.NotEmpty(t, sink.req.IdempotencyKey)
}

func TestBuilderDestinationSwitches(t *testing.T) {
	b := NewPayout(nil).ToCard("tok-1")
	assert.Equal(t, payout.DestCard, b.Request().Destination.Kind)

	b.ToWallet("w-1", "prov")
	assert.Equal(t, payout.DestWallet, b.Request().Destination.Kind)

	b.ToAlias("a@b.co", "EMAIL")
	assert.Equal(t, payout.DestAlias, b.Request().Destination.Kind)
	assert.Empty(t, b.Request().Destination.WalletID)
}
