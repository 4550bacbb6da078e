// Package payout orchestrates guarded payout dispatch: idempotency
// replay, funding verification, compliance screening, corridor policy,
// network dispatch, and compensation events for failures after funds
// were captured.
package payout

import (
	"errors"
	"fmt"
	"strings"

	"payoutnet/internal/common/money"
	"payoutnet/internal/services"
)

// Guard failures. Each aborts the pipeline before dispatch.
var (
	ErrLedgerNotConfirmed    = errors.New("payout: ledger funding not confirmed")
	ErrAFTDeclined           = errors.New("payout: card funding transaction not approved")
	ErrPISFailed             = errors.New("payout: open banking payment not completed")
	ErrReceiptReused         = errors.New("payout: funding receipt already used")
	ErrQuoteRequired         = errors.New("payout: cross-currency payout requires a locked fx quote")
	ErrQuoteExpired          = errors.New("payout: fx quote expired")
	ErrDestinationNotAllowed = errors.New("payout: destination rail not allowed for corridor")
	ErrCardNotEligible       = errors.New("payout: card not eligible for push payments")
	ErrAmountOverLimit       = errors.New("payout: amount exceeds corridor limit")
)

// Receipt namespaces keep consume-once claims from colliding across
// funding kinds.
const (
	NamespaceAFT = "aft"
	NamespacePIS = "pis"
)

// FundingKind identifies how the payout is funded.
type FundingKind string

const (
	FundingLedger  FundingKind = "internal_ledger"
	FundingCardAFT FundingKind = "card_aft"
	FundingPIS     FundingKind = "open_banking"
)

// Funding is the funding side of a payout. Exactly the fields for its
// Kind are set.
type Funding struct {
	Kind FundingKind `json:"kind"`

	// internal_ledger
	LedgerTransactionID string `json:"ledgerTransactionId,omitempty"`
	Confirmed           bool   `json:"confirmed,omitempty"`

	// card_aft
	ReceiptID string `json:"receiptId,omitempty"`

	// open_banking
	PaymentID string `json:"paymentId,omitempty"`

	// card_aft: "approved"; open_banking: "executed"
	Status string `json:"status,omitempty"`
}

// LedgerFunding funds from an internal ledger debit.
func LedgerFunding(transactionID string, confirmed bool) Funding {
	return Funding{Kind: FundingLedger, LedgerTransactionID: transactionID, Confirmed: confirmed}
}

// CardFunding funds from a card pull (AFT) receipt.
func CardFunding(receiptID, status string) Funding {
	return Funding{Kind: FundingCardAFT, ReceiptID: receiptID, Status: status}
}

// PISFunding funds from an open banking payment.
func PISFunding(paymentID, status string) Funding {
	return Funding{Kind: FundingPIS, PaymentID: paymentID, Status: status}
}

// Captured reports whether money has already moved on the funding
// side, which is what makes a failed dispatch compensatable.
func (f Funding) Captured() bool {
	switch f.Kind {
	case FundingCardAFT:
		return f.Status == "approved"
	case FundingPIS:
		return f.Status == "executed"
	case FundingLedger:
		return f.Confirmed
	default:
		return false
	}
}

// DestinationKind identifies where the payout lands.
type DestinationKind string

const (
	DestCard    DestinationKind = "card"
	DestAccount DestinationKind = "account"
	DestWallet  DestinationKind = "wallet"
	DestAlias   DestinationKind = "alias"
)

// Destination is the recipient side of a payout. An alias destination
// resolves to a card during preflight.
type Destination struct {
	Kind DestinationKind `json:"kind"`

	CardToken string `json:"cardToken,omitempty"`

	AccountNumber string `json:"accountNumber,omitempty"`
	RoutingNumber string `json:"routingNumber,omitempty"`
	BankCountry   string `json:"bankCountry,omitempty"`

	WalletID       string `json:"walletId,omitempty"`
	WalletProvider string `json:"walletProvider,omitempty"`

	Alias     string `json:"alias,omitempty"`
	AliasType string `json:"aliasType,omitempty"`
}

// CardDestination pays out to a tokenized card.
func CardDestination(cardToken string) Destination {
	return Destination{Kind: DestCard, CardToken: cardToken}
}

// AccountDestination pays out to a bank account.
func AccountDestination(accountNumber, routingNumber, bankCountry string) Destination {
	return Destination{Kind: DestAccount, AccountNumber: accountNumber, RoutingNumber: routingNumber, BankCountry: bankCountry}
}

// WalletDestination pays out to a digital wallet.
func WalletDestination(walletID, provider string) Destination {
	return Destination{Kind: DestWallet, WalletID: walletID, WalletProvider: provider}
}

// AliasDestination pays out to a directory alias (phone, email).
func AliasDestination(alias, aliasType string) Destination {
	return Destination{Kind: DestAlias, Alias: alias, AliasType: aliasType}
}

// Rail names the dispatch rail for a resolved destination.
func (d Destination) Rail() string {
	switch d.Kind {
	case DestCard:
		return "card"
	case DestAccount:
		return "account"
	case DestWallet:
		return "wallet"
	default:
		return ""
	}
}

// Request is one payout instruction.
type Request struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"required"`
	SagaID         string `json:"sagaId,omitempty"`

	Amount         money.Money    `json:"amount"`
	SourceCurrency money.Currency `json:"sourceCurrency,omitempty"`

	Funding     Funding     `json:"funding"`
	Destination Destination `json:"destination"`

	// Corridor identifies the payout corridor as "XX-YY" country codes.
	// Corridor policy rules apply only when it is set.
	Corridor string `json:"corridor,omitempty"`

	SenderName       string `json:"senderName,omitempty"`
	SenderCountry    string `json:"senderCountry" validate:"required,len=2"`
	RecipientName    string `json:"recipientName,omitempty"`
	RecipientCountry string `json:"recipientCountry" validate:"required,len=2"`

	FXLock *services.Quote `json:"fxLock,omitempty"`

	// CompliancePayload, when present, is screened as-is before
	// dispatch, in addition to any mode-gated watchlist check.
	CompliancePayload map[string]any `json:"compliancePayload,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// corridorCountries splits the corridor identifier into its source and
// destination countries. ok is false when no corridor is set or the
// identifier is malformed.
func (r *Request) corridorCountries() (source, destination string, ok bool) {
	if r.Corridor == "" {
		return "", "", false
	}
	parts := strings.SplitN(r.Corridor, "-", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return "", "", false
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), true
}

// sourceCurrency is the funding-side currency, defaulting to the
// payout currency for domestic-style requests.
func (r *Request) sourceCurrency() money.Currency {
	if r.SourceCurrency != "" {
		return r.SourceCurrency
	}
	return r.Amount.Currency
}

// crossCurrency reports whether funding and payout currencies differ.
func (r *Request) crossCurrency() bool {
	return r.sourceCurrency() != r.Amount.Currency
}

// validateRequest checks structural requirements before any store or
// network access.
func validateRequest(r *Request) error {
	if r.IdempotencyKey == "" {
		return fmt.Errorf("payout: idempotency key required")
	}
	if err := r.Amount.Validate(); err != nil {
		return fmt.Errorf("payout: %w", err)
	}
	if r.Amount.IsZero() {
		return fmt.Errorf("payout: amount must be positive")
	}
	if r.SenderCountry == "" || r.RecipientCountry == "" {
		return fmt.Errorf("payout: sender and recipient countries required")
	}
	if r.Corridor != "" {
		if _, _, ok := r.corridorCountries(); !ok {
			return fmt.Errorf("payout: malformed corridor %q, want XX-YY", r.Corridor)
		}
	}
	switch r.Funding.Kind {
	case FundingLedger, FundingCardAFT, FundingPIS:
	default:
		return fmt.Errorf("payout: unknown funding kind %q", r.Funding.Kind)
	}
	switch r.Destination.Kind {
	case DestCard, DestAccount, DestWallet, DestAlias:
	default:
		return fmt.Errorf("payout: unknown destination kind %q", r.Destination.Kind)
	}
	return nil
}
