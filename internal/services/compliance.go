package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"payoutnet/internal/payerr"
)

const screeningPath = "/watchlistscreening/v1/screening"

// ComplianceMode scopes which payouts are screened.
type ComplianceMode string

const (
	ComplianceAll             ComplianceMode = "all"
	ComplianceCrossBorderOnly ComplianceMode = "cross-border-only"
	ComplianceNone            ComplianceMode = "none"
)

// ScreeningRequest is the payload sent to watchlist screening.
type ScreeningRequest struct {
	SenderName        string `json:"senderName"`
	SenderCountry     string `json:"senderCountry"`
	RecipientName     string `json:"recipientName"`
	RecipientCountry  string `json:"recipientCountry"`
	AmountMinor       int64  `json:"amountMinor"`
	Currency          string `json:"currency"`
	PurposeCode       string `json:"purposeCode,omitempty"`
	SourceOfFundsCode string `json:"sourceOfFundsCode,omitempty"`
}

type screeningVerdict struct {
	Result string `json:"result"`
	Reason string `json:"reason"`
}

// ComplianceService screens payouts against watchlists. Screening is
// fail-closed: a screening call that cannot complete denies the payout
// rather than letting it through unscreened.
type ComplianceService struct {
	client  HTTPClient
	mode    ComplianceMode
	enabled bool
	logger  *slog.Logger
}

// NewComplianceService creates the service.
func NewComplianceService(client HTTPClient, mode ComplianceMode, enabled bool, logger *slog.Logger) *ComplianceService {
	if mode == "" {
		mode = ComplianceAll
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ComplianceService{client: client, mode: mode, enabled: enabled, logger: logger}
}

// ShouldCheck reports whether a payout between the two countries needs
// screening under the configured mode.
func (s *ComplianceService) ShouldCheck(senderCountry, recipientCountry string) bool {
	if !s.enabled || s.mode == ComplianceNone {
		return false
	}
	if s.mode == ComplianceCrossBorderOnly {
		return senderCountry != recipientCountry
	}
	return true
}

// Check screens the payout. A clean verdict returns nil; a match, a
// denial, or any failure to reach a verdict returns a compliance
// error.
func (s *ComplianceService) Check(ctx context.Context, req ScreeningRequest) error {
	errCtx := payerr.Context{Corridor: req.SenderCountry + "-" + req.RecipientCountry}
	return s.screen(ctx, req, errCtx)
}

// Screen submits a caller-supplied screening payload as-is. The same
// fail-closed rule applies: no verdict means denial.
func (s *ComplianceService) Screen(ctx context.Context, payload map[string]any) error {
	return s.screen(ctx, payload, payerr.Context{})
}

func (s *ComplianceService) screen(ctx context.Context, body any, errCtx payerr.Context) error {
	resp, err := s.client.Post(ctx, screeningPath, body, nil)
	if err != nil {
		s.logger.Warn("screening unavailable, denying payout",
			"corridor", errCtx.Corridor, "error", err)
		denied := payerr.New(payerr.KeyComplianceDenied, errCtx)
		denied.Message = fmt.Sprintf("screening unavailable: %v", err)
		return denied
	}

	var verdict screeningVerdict
	if err := json.Unmarshal(resp.Body, &verdict); err != nil {
		denied := payerr.New(payerr.KeyComplianceDenied, errCtx)
		denied.Message = "screening verdict unreadable"
		return denied
	}

	switch verdict.Result {
	case "approved", "clear":
		return nil
	case "match":
		return payerr.New(payerr.KeySanctionsMatch, errCtx)
	case "review":
		return payerr.New(payerr.KeyAMLAlert, errCtx)
	default:
		denied := payerr.New(payerr.KeyComplianceDenied, errCtx)
		if verdict.Reason != "" {
			denied.Message = verdict.Reason
		}
		return denied
	}
}
