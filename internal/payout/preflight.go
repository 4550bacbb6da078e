package payout

import (
	"context"
	"fmt"
)

// dispatchPlan is what preflight hands to dispatch: the endpoint, the
// rail it rides, and the wire body.
type dispatchPlan struct {
	path string
	rail string
	body map[string]any
}

// preflight runs the pre-dispatch checks in order: alias resolution,
// FX lock verification, corridor policy, card eligibility. The
// request's destination may be rewritten (alias to card). Compliance
// screening already ran before this point.
func (o *Orchestrator) preflight(ctx context.Context, req *Request) (*dispatchPlan, error) {
	if req.Destination.Kind == DestAlias {
		if err := o.resolveAlias(ctx, req); err != nil {
			return nil, err
		}
	}

	if err := o.checkFX(req); err != nil {
		return nil, err
	}

	if err := o.checkCorridor(req); err != nil {
		return nil, err
	}

	if req.Destination.Kind == DestCard {
		if err := o.checkCardEligibility(ctx, req); err != nil {
			return nil, err
		}
	}

	return o.plan(req)
}

// checkCorridor enforces corridor policy when the request names a
// corridor. Payouts without a corridor identifier skip policy rules;
// the FX quote rules still apply either way.
func (o *Orchestrator) checkCorridor(req *Request) error {
	source, destination, ok := req.corridorCountries()
	if !ok {
		return nil
	}

	rule, err := o.policy.Resolve(
		source, destination,
		string(req.sourceCurrency()), string(req.Amount.Currency),
	)
	if err != nil {
		return err
	}

	rail := req.Destination.Rail()
	if !rule.AllowsRail(rail) {
		return fmt.Errorf("%w: rail %q, corridor %s", ErrDestinationNotAllowed, rail, req.Corridor)
	}
	if rule.LockRequired && req.FXLock == nil {
		return ErrQuoteRequired
	}
	if rule.MaxAmountMinor > 0 && req.Amount.AmountMinor > rule.MaxAmountMinor {
		return fmt.Errorf("%w: %d > %d minor units", ErrAmountOverLimit, req.Amount.AmountMinor, rule.MaxAmountMinor)
	}
	return nil
}

// resolveAlias rewrites an alias destination to the card the directory
// maps it to, filling recipient details the caller omitted.
func (o *Orchestrator) resolveAlias(ctx context.Context, req *Request) error {
	if o.recipients == nil {
		return fmt.Errorf("payout: alias destination requires a recipient service")
	}

	resolution, err := o.recipients.ResolveAlias(ctx, req.Destination.Alias, req.Destination.AliasType)
	if err != nil {
		return fmt.Errorf("resolving payout alias: %w", err)
	}

	req.Destination = CardDestination(resolution.CardToken)
	if req.RecipientName == "" {
		req.RecipientName = resolution.RecipientName
	}
	if resolution.IssuerCountry != "" {
		req.RecipientCountry = resolution.IssuerCountry
	}
	return nil
}

// checkFX enforces the quote rules: a present lock must be unexpired,
// and a cross-currency payout cannot run without one.
func (o *Orchestrator) checkFX(req *Request) error {
	if req.FXLock != nil {
		if req.FXLock.Expired(o.now()) {
			return ErrQuoteExpired
		}
		return nil
	}
	if req.crossCurrency() {
		return ErrQuoteRequired
	}
	return nil
}

// checkCardEligibility validates the card and rejects cards the
// network reports as blocked for push payments. Skipped when no
// recipient service is wired.
func (o *Orchestrator) checkCardEligibility(ctx context.Context, req *Request) error {
	if o.recipients == nil {
		return nil
	}

	validation, err := o.recipients.ValidateCard(ctx, req.Destination.CardToken)
	if err != nil {
		return fmt.Errorf("validating payout card: %w", err)
	}
	if !validation.Valid {
		return fmt.Errorf("%w: %s", ErrCardNotEligible, validation.Reason)
	}

	attrs, err := o.recipients.TransferAttributes(ctx, req.Destination.CardToken)
	if err != nil {
		return fmt.Errorf("checking card eligibility: %w", err)
	}
	if attrs.PushFundsBlocked {
		return ErrCardNotEligible
	}
	return nil
}

// plan builds the wire request for the resolved destination.
func (o *Orchestrator) plan(req *Request) (*dispatchPlan, error) {
	body := map[string]any{
		"amount":           req.Amount.AmountMinor,
		"currency":         string(req.Amount.Currency),
		"senderName":       req.SenderName,
		"senderCountry":    req.SenderCountry,
		"recipientName":    req.RecipientName,
		"recipientCountry": req.RecipientCountry,
		"sagaId":           req.SagaID,
	}
	if req.FXLock != nil {
		body["fxQuoteId"] = req.FXLock.QuoteID
	}

	switch req.Destination.Kind {
	case DestCard:
		body["recipientCardToken"] = req.Destination.CardToken
		return &dispatchPlan{path: pushFundsPath, rail: "card", body: body}, nil
	case DestAccount:
		body["accountNumber"] = req.Destination.AccountNumber
		body["routingNumber"] = req.Destination.RoutingNumber
		body["bankCountry"] = req.Destination.BankCountry
		return &dispatchPlan{path: accountPayoutPath, rail: "account", body: body}, nil
	case DestWallet:
		body["walletId"] = req.Destination.WalletID
		body["walletProvider"] = req.Destination.WalletProvider
		return &dispatchPlan{path: walletPayoutPath, rail: "wallet", body: body}, nil
	default:
		return nil, fmt.Errorf("payout: unresolved destination kind %q", req.Destination.Kind)
	}
}
