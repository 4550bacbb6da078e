package payout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"payoutnet/internal/events"
	"payoutnet/internal/policy"
	"payoutnet/internal/services"
	"payoutnet/internal/storage"
	"payoutnet/internal/transport"
)

// Network dispatch endpoints per rail.
const (
	pushFundsPath     = "/visadirect/fundstransfer/v1/pushfunds"
	accountPayoutPath = "/accountpayouts/v1/payout"
	walletPayoutPath  = "/walletpayouts/v1/payout"
)

// IdempotencyTTL is how long a completed payout's result is replayed
// for the same idempotency key.
const IdempotencyTTL = time.Hour

// Transport is the secure transport surface the orchestrator needs.
type Transport interface {
	Post(ctx context.Context, path string, body any, hdr http.Header) (*transport.Response, error)
}

// Recipients resolves aliases and checks card eligibility.
type Recipients interface {
	ResolveAlias(ctx context.Context, alias, aliasType string) (*services.AliasResolution, error)
	ValidateCard(ctx context.Context, cardToken string) (*services.CardValidation, error)
	TransferAttributes(ctx context.Context, cardToken string) (*services.TransferAttributes, error)
}

// Compliance screens payouts.
type Compliance interface {
	ShouldCheck(senderCountry, recipientCountry string) bool
	Check(ctx context.Context, req services.ScreeningRequest) error
	Screen(ctx context.Context, payload map[string]any) error
}

// Deps are the orchestrator's collaborators. Nil fields get safe
// defaults: in-memory stores, log-only events, the embedded corridor
// policy, and no recipient or compliance checks.
type Deps struct {
	Idempotency storage.IdempotencyStore
	Receipts    storage.ReceiptStore
	Events      events.Emitter
	Policy      *policy.Policy
	Recipients  Recipients
	Compliance  Compliance
}

// Orchestrator runs the guarded payout pipeline.
type Orchestrator struct {
	transport   Transport
	idempotency storage.IdempotencyStore
	receipts    storage.ReceiptStore
	events      events.Emitter
	policy      *policy.Policy
	recipients  Recipients
	compliance  Compliance
	logger      *slog.Logger

	now func() time.Time
}

// New creates an orchestrator over the given transport.
func New(t Transport, deps Deps, logger *slog.Logger) (*Orchestrator, error) {
	if t == nil {
		return nil, fmt.Errorf("payout: transport required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Idempotency == nil {
		deps.Idempotency = storage.NewMemoryIdempotencyStore()
	}
	if deps.Receipts == nil {
		deps.Receipts = storage.NewMemoryReceiptStore()
	}
	if deps.Events == nil {
		deps.Events = events.NewLogEmitter(logger)
	}
	if deps.Policy == nil {
		p, err := policy.Default()
		if err != nil {
			return nil, fmt.Errorf("loading default corridor policy: %w", err)
		}
		deps.Policy = p
	}
	return &Orchestrator{
		transport:   t,
		idempotency: deps.Idempotency,
		receipts:    deps.Receipts,
		events:      deps.Events,
		policy:      deps.Policy,
		recipients:  deps.Recipients,
		compliance:  deps.Compliance,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Payout runs the pipeline: idempotency replay, funding guard,
// compliance screening, preflight (alias resolution, FX, corridor
// policy, card eligibility), dispatch, and result recording. A dispatch
// failure after captured funding emits a compensation event before the
// error surfaces.
func (o *Orchestrator) Payout(ctx context.Context, req Request) (json.RawMessage, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	if req.SagaID == "" {
		req.SagaID = req.IdempotencyKey
	}

	log := o.logger.With("idempotency_key", req.IdempotencyKey, "saga_id", req.SagaID)

	if cached, ok, err := o.idempotency.Get(ctx, req.IdempotencyKey); err != nil {
		return nil, fmt.Errorf("checking idempotency: %w", err)
	} else if ok {
		log.Info("payout replayed from idempotency store")
		return cached, nil
	}

	if err := o.guardFunding(ctx, &req); err != nil {
		return nil, err
	}

	if err := o.screenCompliance(ctx, &req); err != nil {
		return nil, err
	}

	plan, err := o.preflight(ctx, &req)
	if err != nil {
		return nil, err
	}

	result, err := o.dispatch(ctx, &req, plan)
	if err != nil {
		o.compensate(ctx, &req, err)
		return nil, err
	}

	if err := o.idempotency.Put(ctx, req.IdempotencyKey, result, IdempotencyTTL); err != nil {
		// The payout went through; a failed record only costs replay.
		log.Warn("recording payout result failed", "error", err)
	}

	log.Info("payout dispatched", "rail", plan.rail, "corridor", req.SenderCountry+"-"+req.RecipientCountry)
	return result, nil
}

// guardFunding verifies money is actually available before anything
// leaves the building. Receipts are claimed before their status is
// inspected so a declined receipt still burns its one use.
func (o *Orchestrator) guardFunding(ctx context.Context, req *Request) error {
	switch req.Funding.Kind {
	case FundingLedger:
		if !req.Funding.Confirmed || req.Funding.LedgerTransactionID == "" {
			return ErrLedgerNotConfirmed
		}
		return nil

	case FundingCardAFT:
		fresh, err := o.receipts.ConsumeOnce(ctx, NamespaceAFT, req.Funding.ReceiptID)
		if err != nil {
			return fmt.Errorf("claiming aft receipt: %w", err)
		}
		if !fresh {
			return ErrReceiptReused
		}
		if req.Funding.Status != "approved" {
			return ErrAFTDeclined
		}
		return nil

	case FundingPIS:
		fresh, err := o.receipts.ConsumeOnce(ctx, NamespacePIS, req.Funding.PaymentID)
		if err != nil {
			return fmt.Errorf("claiming pis receipt: %w", err)
		}
		if !fresh {
			return ErrReceiptReused
		}
		if req.Funding.Status != "executed" {
			return ErrPISFailed
		}
		return nil

	default:
		return fmt.Errorf("payout: unknown funding kind %q", req.Funding.Kind)
	}
}

// screenCompliance runs before any destination rewriting, so the
// screen sees the countries the caller declared. The mode-gated
// watchlist check and the caller-supplied payload screen are both
// fail-closed.
func (o *Orchestrator) screenCompliance(ctx context.Context, req *Request) error {
	if o.compliance == nil {
		return nil
	}

	if o.compliance.ShouldCheck(req.SenderCountry, req.RecipientCountry) {
		screening := services.ScreeningRequest{
			SenderName:       req.SenderName,
			SenderCountry:    req.SenderCountry,
			RecipientName:    req.RecipientName,
			RecipientCountry: req.RecipientCountry,
			AmountMinor:      req.Amount.AmountMinor,
			Currency:         string(req.Amount.Currency),
		}
		if err := o.compliance.Check(ctx, screening); err != nil {
			return err
		}
	}

	if len(req.CompliancePayload) > 0 {
		if err := o.compliance.Screen(ctx, req.CompliancePayload); err != nil {
			return err
		}
	}
	return nil
}

// dispatch sends the payout to the network with the caller's
// idempotency key forwarded on the wire.
func (o *Orchestrator) dispatch(ctx context.Context, req *Request, plan *dispatchPlan) (json.RawMessage, error) {
	hdr := http.Header{}
	hdr.Set(transport.IdempotencyHeader, req.IdempotencyKey)

	resp, err := o.transport.Post(ctx, plan.path, plan.body, hdr)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// compensate emits a compensation event when captured funds failed to
// reach the recipient. Emission is best effort: an emitter failure is
// logged and never masks the dispatch error.
func (o *Orchestrator) compensate(ctx context.Context, req *Request, dispatchErr error) {
	if !req.Funding.Captured() {
		return
	}

	event, err := events.NewCompensation(req.SagaID, req.Funding, dispatchErr.Error(), req.Metadata)
	if err != nil {
		o.logger.Error("building compensation event failed", "saga_id", req.SagaID, "error", err)
		return
	}
	if err := o.events.Emit(ctx, event); err != nil {
		o.logger.Error("emitting compensation event failed", "saga_id", req.SagaID, "error", err)
	}
}
