// Package dx offers a fluent builder over the payout pipeline for
// embedding callers.
package dx

import (
	"context"
	"encoding/json"

	"github.com/oklog/ulid/v2"

	"payoutnet/internal/common/money"
	"payoutnet/internal/payout"
	"payoutnet/internal/services"
)

// Payouter runs the payout pipeline.
type Payouter interface {
	Payout(ctx context.Context, req payout.Request) (json.RawMessage, error)
}

// Builder accumulates a payout request. Methods chain; Execute sends.
type Builder struct {
	payouts Payouter
	req     payout.Request
}

// NewPayout starts a builder.
func NewPayout(payouts Payouter) *Builder {
	return &Builder{payouts: payouts}
}

// IdempotencyKey sets the caller's idempotency key. Unset, Execute
// mints a ULID, which makes the payout unique rather than replayable.
func (b *Builder) IdempotencyKey(key string) *Builder {
	b.req.IdempotencyKey = key
	return b
}

// Saga ties the payout to an existing saga.
func (b *Builder) Saga(sagaID string) *Builder {
	b.req.SagaID = sagaID
	return b
}

// Amount sets the payout amount in minor units.
func (b *Builder) Amount(minor int64, currency money.Currency) *Builder {
	b.req.Amount = money.Money{AmountMinor: minor, Currency: currency}
	return b
}

// SourceCurrency sets the funding-side currency for cross-currency
// payouts.
func (b *Builder) SourceCurrency(currency money.Currency) *Builder {
	b.req.SourceCurrency = currency
	return b
}

// From sets the sender.
func (b *Builder) From(name, country string) *Builder {
	b.req.SenderName = name
	b.req.SenderCountry = country
	return b
}

// To sets the recipient.
func (b *Builder) To(name, country string) *Builder {
	b.req.RecipientName = name
	b.req.RecipientCountry = country
	return b
}

// FundedByLedger funds from a confirmed internal ledger debit.
func (b *Builder) FundedByLedger(transactionID string, confirmed bool) *Builder {
	b.req.Funding = payout.LedgerFunding(transactionID, confirmed)
	return b
}

// FundedByCard funds from a card pull receipt.
func (b *Builder) FundedByCard(receiptID, status string) *Builder {
	b.req.Funding = payout.CardFunding(receiptID, status)
	return b
}

// FundedByOpenBanking funds from an open banking payment.
func (b *Builder) FundedByOpenBanking(paymentID, status string) *Builder {
	b.req.Funding = payout.PISFunding(paymentID, status)
	return b
}

// ToCard pays out to a tokenized card.
func (b *Builder) ToCard(cardToken string) *Builder {
	b.req.Destination = payout.CardDestination(cardToken)
	return b
}

// ToAccount pays out to a bank account.
func (b *Builder) ToAccount(accountNumber, routingNumber, bankCountry string) *Builder {
	b.req.Destination = payout.AccountDestination(accountNumber, routingNumber, bankCountry)
	return b
}

// ToWallet pays out to a digital wallet.
func (b *Builder) ToWallet(walletID, provider string) *Builder {
	b.req.Destination = payout.WalletDestination(walletID, provider)
	return b
}

// ToAlias pays out to a directory alias.
func (b *Builder) ToAlias(alias, aliasType string) *Builder {
	b.req.Destination = payout.AliasDestination(alias, aliasType)
	return b
}

// Corridor names the payout corridor ("US-US", "GB-PH"), opting the
// payout into corridor policy rules.
func (b *Builder) Corridor(corridor string) *Builder {
	b.req.Corridor = corridor
	return b
}

// WithQuote attaches a locked FX quote.
func (b *Builder) WithQuote(quote *services.Quote) *Builder {
	b.req.FXLock = quote
	return b
}

// CompliancePayload attaches a screening payload sent to watchlist
// screening as-is before dispatch.
func (b *Builder) CompliancePayload(payload map[string]any) *Builder {
	b.req.CompliancePayload = payload
	return b
}

// Metadata adds one metadata entry, carried into any compensation
// event.
func (b *Builder) Metadata(key string, value any) *Builder {
	if b.req.Metadata == nil {
		b.req.Metadata = make(map[string]any)
	}
	b.req.Metadata[key] = value
	return b
}

// Request returns the accumulated request, for inspection in tests.
func (b *Builder) Request() payout.Request {
	return b.req
}

// Execute runs the payout.
func (b *Builder) Execute(ctx context.Context) (json.RawMessage, error) {
	if b.req.IdempotencyKey == "" {
		b.req.IdempotencyKey = ulid.Make().String()
	}
	return b.payouts.Payout(ctx, b.req)
}
