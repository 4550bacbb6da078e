// Package api exposes the payout pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payoutnet/internal/common/api"
	"payoutnet/internal/payerr"
	"payoutnet/internal/payout"
	"payoutnet/internal/policy"
	"payoutnet/internal/services"
)

// Payouter runs the payout pipeline.
type Payouter interface {
	Payout(ctx context.Context, req payout.Request) (json.RawMessage, error)
}

// Quoter locks FX rates.
type Quoter interface {
	LockRate(ctx context.Context, req services.QuoteRequest) (*services.Quote, error)
}

// AliasResolver resolves payout aliases.
type AliasResolver interface {
	ResolveAlias(ctx context.Context, alias, aliasType string) (*services.AliasResolution, error)
}

// Handler handles payout API requests.
type Handler struct {
	payouts    Payouter
	quotes     Quoter
	recipients AliasResolver
	logger     *slog.Logger
}

// NewHandler creates a payout API handler. Quotes and recipients may
// be nil; their routes then return 404.
func NewHandler(payouts Payouter, quotes Quoter, recipients AliasResolver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{payouts: payouts, quotes: quotes, recipients: recipients, logger: logger}
}

// Routes returns the payout API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/payouts", h.CreatePayout)
	if h.quotes != nil {
		r.Post("/quotes", h.LockQuote)
	}
	if h.recipients != nil {
		r.Post("/aliases/resolve", h.ResolveAlias)
	}
	return r
}

// CreatePayout handles POST /payouts
func (h *Handler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	var req payout.Request
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	// Header wins over body so callers can keep bodies replay-safe.
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	result, err := h.payouts.Payout(r.Context(), req)
	if err != nil {
		h.writePayoutError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusCreated, result)
}

// LockQuote handles POST /quotes
func (h *Handler) LockQuote(w http.ResponseWriter, r *http.Request) {
	var req services.QuoteRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	quote, err := h.quotes.LockRate(r.Context(), req)
	if err != nil {
		h.writePayoutError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusOK, quote)
}

// ResolveAlias handles POST /aliases/resolve
func (h *Handler) ResolveAlias(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Alias     string `json:"alias" validate:"required"`
		AliasType string `json:"aliasType" validate:"required"`
	}
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	resolution, err := h.recipients.ResolveAlias(r.Context(), req.Alias, req.AliasType)
	if err != nil {
		h.writePayoutError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusOK, resolution)
}

// writePayoutError maps pipeline failures to HTTP responses.
func (h *Handler) writePayoutError(w http.ResponseWriter, r *http.Request, err error) {
	var mapped *payerr.Error
	if errors.As(err, &mapped) {
		api.WriteError(w, mapped.HTTPStatus, mapped.Name, mapped.Message)
		return
	}

	switch {
	case errors.Is(err, payout.ErrReceiptReused):
		api.Conflict(w, err.Error())
	case errors.Is(err, payout.ErrLedgerNotConfirmed),
		errors.Is(err, payout.ErrAFTDeclined),
		errors.Is(err, payout.ErrPISFailed):
		api.WriteError(w, http.StatusUnprocessableEntity, "FUNDING_NOT_READY", err.Error())
	case errors.Is(err, payout.ErrQuoteRequired):
		api.WriteError(w, http.StatusUnprocessableEntity, "QUOTE_REQUIRED", err.Error())
	case errors.Is(err, payout.ErrQuoteExpired):
		api.WriteError(w, http.StatusUnprocessableEntity, "QUOTE_EXPIRED", err.Error())
	case errors.Is(err, payout.ErrDestinationNotAllowed),
		errors.Is(err, policy.ErrCorridorNotAllowed):
		api.WriteError(w, http.StatusUnprocessableEntity, "CORRIDOR_NOT_ALLOWED", err.Error())
	case errors.Is(err, payout.ErrCardNotEligible):
		api.WriteError(w, http.StatusUnprocessableEntity, "CARD_NOT_ELIGIBLE", err.Error())
	case errors.Is(err, payout.ErrAmountOverLimit):
		api.WriteError(w, http.StatusUnprocessableEntity, "AMOUNT_OVER_LIMIT", err.Error())
	default:
		h.logger.Error("payout request failed", "path", r.URL.Path, "error", err)
		api.InternalError(w, "payout processing failed")
	}
}
