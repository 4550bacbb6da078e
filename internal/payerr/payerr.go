// Package payerr maps payment network wire failures to typed errors.
//
// Every HTTP or network failure leaving the transport layer is resolved
// through a static table: first by exact business error code, then by
// HTTP status, finally to the unknown-error sentinel. Each mapped error
// carries a retryability flag and a recommended operator action.
package payerr

import (
	"errors"
	"fmt"
)

// Error is a typed payment network error.
type Error struct {
	Name              string `json:"name"`
	Retryable         bool   `json:"retryable"`
	HTTPStatus        int    `json:"http_status"`
	Code              string `json:"code"`
	Rail              string `json:"rail,omitempty"`
	Corridor          string `json:"corridor,omitempty"`
	Message           string `json:"message"`
	RecommendedAction string `json:"recommended_action"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %s): %s", e.Name, e.Code, e.Message)
}

// Context carries request context attached to a mapped error.
type Context struct {
	Rail     string
	Corridor string
}

// Mnemonic keys into the static mapping table.
const (
	KeyNetworkTimeout       = "NETWORK_TIMEOUT"
	KeyNetworkError         = "NETWORK_ERROR"
	KeyUnauthorized         = "UNAUTHORIZED"
	KeyForbidden            = "FORBIDDEN"
	KeyCertificateInvalid   = "CERTIFICATE_INVALID"
	KeyBadRequest           = "BAD_REQUEST"
	KeyInvalidPan           = "INVALID_PAN"
	KeyInvalidAmount        = "INVALID_AMOUNT"
	KeyInvalidCurrency      = "INVALID_CURRENCY"
	KeyMissingRequiredField = "MISSING_REQUIRED_FIELD"
	KeyInsufficientFunds    = "INSUFFICIENT_FUNDS"
	KeyAccountNotFound      = "ACCOUNT_NOT_FOUND"
	KeyCardNotFound         = "CARD_NOT_FOUND"
	KeyWalletNotFound       = "WALLET_NOT_FOUND"
	KeyAliasNotFound        = "ALIAS_NOT_FOUND"
	KeyTransactionDeclined  = "TRANSACTION_DECLINED"
	KeyDuplicateTransaction = "DUPLICATE_TRANSACTION"
	KeyTransactionExpired   = "TRANSACTION_EXPIRED"
	KeyReceiptReused        = "RECEIPT_REUSED"
	KeyComplianceDenied     = "COMPLIANCE_DENIED"
	KeySanctionsMatch       = "SANCTIONS_MATCH"
	KeyAMLAlert             = "AML_ALERT"
	KeyFXRateExpired        = "FX_RATE_EXPIRED"
	KeyFXRateNotFound       = "FX_RATE_NOT_FOUND"
	KeySlippageExceeded     = "SLIPPAGE_EXCEEDED"
	KeyIssuerUnavailable    = "ISSUER_UNAVAILABLE"
	KeyAcquirerUnavailable  = "ACQUIRER_UNAVAILABLE"
	KeyNetworkSystemError   = "NETWORK_SYSTEM_ERROR"
	KeyServiceUnavailable   = "SERVICE_UNAVAILABLE"
	KeyRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	KeyEnvelopeEncrypt      = "ENVELOPE_ENCRYPT_ERROR"
	KeyEnvelopeDecrypt      = "ENVELOPE_DECRYPT_ERROR"
	KeyKeySetUnavailable    = "KEYSET_UNAVAILABLE"
	KeyEnvelopeKidUnknown   = "ENVELOPE_KID_UNKNOWN"
	KeyUnknown              = "UNKNOWN_ERROR"
)

const retryAction = "Retry with exponential backoff."

var mappings = map[string]Error{
	KeyNetworkTimeout: {Name: "NetworkTimeout", Retryable: true, HTTPStatus: 408, Code: "TIMEOUT",
		Message: "Request timeout - network connectivity issue", RecommendedAction: retryAction + " Check network connectivity."},
	KeyNetworkError: {Name: "NetworkError", Retryable: true, HTTPStatus: 503, Code: "NETWORK",
		Message: "Network connectivity error", RecommendedAction: retryAction + " Check network connectivity."},

	KeyUnauthorized: {Name: "Unauthorized", Retryable: false, HTTPStatus: 401, Code: "01",
		Message: "Authentication failed - invalid credentials", RecommendedAction: "Check credentials and certificate configuration. Do not retry."},
	KeyForbidden: {Name: "Forbidden", Retryable: false, HTTPStatus: 403, Code: "02",
		Message: "Access forbidden - insufficient permissions", RecommendedAction: "Check API permissions and program configuration. Do not retry."},
	KeyCertificateInvalid: {Name: "CertificateInvalid", Retryable: false, HTTPStatus: 401, Code: "03",
		Message: "Invalid client certificate", RecommendedAction: "Verify certificate paths, permissions, and modulus match. Do not retry."},

	KeyBadRequest: {Name: "BadRequest", Retryable: false, HTTPStatus: 400, Code: "10",
		Message: "Invalid request format or parameters", RecommendedAction: "Fix request format and parameters. Do not retry."},
	KeyInvalidPan: {Name: "InvalidPan", Retryable: false, HTTPStatus: 400, Code: "11",
		Message: "Invalid PAN token format", RecommendedAction: "Validate PAN token format. Do not retry."},
	KeyInvalidAmount: {Name: "InvalidAmount", Retryable: false, HTTPStatus: 400, Code: "12",
		Message: "Invalid transaction amount", RecommendedAction: "Validate transaction amount format and limits. Do not retry."},
	KeyInvalidCurrency: {Name: "InvalidCurrency", Retryable: false, HTTPStatus: 400, Code: "13",
		Message: "Unsupported currency code", RecommendedAction: "Use supported currency codes. Do not retry."},
	KeyMissingRequiredField: {Name: "MissingRequiredField", Retryable: false, HTTPStatus: 422, Code: "14",
		Message: "Required field is missing", RecommendedAction: "Include all required fields. Do not retry."},

	KeyInsufficientFunds: {Name: "InsufficientFunds", Retryable: false, HTTPStatus: 400, Code: "20",
		Message: "Insufficient funds for transaction", RecommendedAction: "Check account balance. Do not retry."},
	KeyAccountNotFound: {Name: "AccountNotFound", Retryable: false, HTTPStatus: 404, Code: "21",
		Message: "Account not found", RecommendedAction: "Verify account ID. Do not retry."},
	KeyCardNotFound: {Name: "CardNotFound", Retryable: false, HTTPStatus: 404, Code: "22",
		Message: "Card not found", RecommendedAction: "Verify card token. Do not retry."},
	KeyWalletNotFound: {Name: "WalletNotFound", Retryable: false, HTTPStatus: 404, Code: "23",
		Message: "Wallet not found", RecommendedAction: "Verify wallet ID. Do not retry."},
	KeyAliasNotFound: {Name: "AliasNotFound", Retryable: false, HTTPStatus: 404, Code: "24",
		Message: "Alias not found in directory", RecommendedAction: "Verify alias and alias type. Do not retry."},

	KeyTransactionDeclined: {Name: "TransactionDeclined", Retryable: false, HTTPStatus: 400, Code: "30",
		Message: "Transaction declined by issuer", RecommendedAction: "Contact issuer or try different card. Do not retry."},
	KeyDuplicateTransaction: {Name: "DuplicateTransaction", Retryable: false, HTTPStatus: 409, Code: "31",
		Message: "Duplicate transaction detected", RecommendedAction: "Use different idempotency key. Do not retry."},
	KeyTransactionExpired: {Name: "TransactionExpired", Retryable: false, HTTPStatus: 400, Code: "32",
		Message: "Transaction has expired", RecommendedAction: "Create new transaction. Do not retry."},
	KeyReceiptReused: {Name: "ReceiptReused", Retryable: false, HTTPStatus: 400, Code: "33",
		Message: "Receipt already used", RecommendedAction: "Use different receipt. Do not retry."},

	KeyComplianceDenied: {Name: "ComplianceDenied", Retryable: false, HTTPStatus: 403, Code: "40",
		Message: "Transaction denied by compliance checks", RecommendedAction: "Review compliance requirements. Do not retry."},
	KeySanctionsMatch: {Name: "SanctionsMatch", Retryable: false, HTTPStatus: 403, Code: "41",
		Message: "Sanctions screening match detected", RecommendedAction: "Review sanctions lists. Do not retry."},
	KeyAMLAlert: {Name: "AMLAlert", Retryable: false, HTTPStatus: 403, Code: "42",
		Message: "AML review required", RecommendedAction: "Complete AML review process. Do not retry."},

	KeyFXRateExpired: {Name: "FXRateExpired", Retryable: false, HTTPStatus: 400, Code: "50",
		Message: "FX rate has expired", RecommendedAction: "Get new FX quote. Do not retry."},
	KeyFXRateNotFound: {Name: "FXRateNotFound", Retryable: true, HTTPStatus: 404, Code: "51",
		Message: "FX rate not available", RecommendedAction: retryAction + " Check FX service availability."},
	KeySlippageExceeded: {Name: "SlippageExceeded", Retryable: false, HTTPStatus: 400, Code: "52",
		Message: "FX rate slippage exceeds limits", RecommendedAction: "Get new FX quote with tighter slippage tolerance. Do not retry."},

	KeyIssuerUnavailable: {Name: "IssuerUnavailable", Retryable: true, HTTPStatus: 503, Code: "60",
		Message: "Issuer system temporarily unavailable", RecommendedAction: retryAction + " Check issuer system status."},
	KeyAcquirerUnavailable: {Name: "AcquirerUnavailable", Retryable: true, HTTPStatus: 503, Code: "61",
		Message: "Acquirer system temporarily unavailable", RecommendedAction: retryAction + " Check acquirer system status."},
	KeyNetworkSystemError: {Name: "NetworkSystemError", Retryable: true, HTTPStatus: 500, Code: "62",
		Message: "Payment network system error", RecommendedAction: retryAction + " Check payment network status."},
	KeyServiceUnavailable: {Name: "ServiceUnavailable", Retryable: true, HTTPStatus: 503, Code: "63",
		Message: "Service temporarily unavailable", RecommendedAction: retryAction + " Check service status."},

	KeyRateLimitExceeded: {Name: "RateLimitExceeded", Retryable: true, HTTPStatus: 429, Code: "70",
		Message: "Rate limit exceeded", RecommendedAction: retryAction + " Respect retry-after header."},

	KeyEnvelopeEncrypt: {Name: "EnvelopeEncryptError", Retryable: false, HTTPStatus: 500, Code: "80",
		Message: "Message-level encryption failed", RecommendedAction: "Check encryption keys and payload. Do not retry."},
	KeyEnvelopeDecrypt: {Name: "EnvelopeDecryptError", Retryable: false, HTTPStatus: 500, Code: "81",
		Message: "Message-level decryption failed", RecommendedAction: "Check decryption keys and payload. Do not retry."},
	KeyKeySetUnavailable: {Name: "KeySetUnavailable", Retryable: true, HTTPStatus: 503, Code: "82",
		Message: "Signing-key publisher unavailable", RecommendedAction: retryAction + " Check key publisher status."},
	KeyEnvelopeKidUnknown: {Name: "EnvelopeKidUnknown", Retryable: false, HTTPStatus: 500, Code: "83",
		Message: "Envelope key id not recognized after key set refresh", RecommendedAction: "Check key publisher rotation and registered decryption keys. Do not retry."},

	KeyUnknown: {Name: "UnknownError", Retryable: false, HTTPStatus: 500, Code: "99",
		Message: "Unknown error occurred", RecommendedAction: "Contact support with error details. Do not retry."},
}

// HTTP status fallbacks when no business code matched.
var statusFallbacks = map[int]string{
	400: KeyBadRequest,
	401: KeyUnauthorized,
	403: KeyForbidden,
	404: KeyAccountNotFound,
	408: KeyNetworkTimeout,
	409: KeyDuplicateTransaction,
	422: KeyMissingRequiredField,
	429: KeyRateLimitExceeded,
	500: KeyNetworkSystemError,
	502: KeyAcquirerUnavailable,
	503: KeyServiceUnavailable,
	504: KeyNetworkTimeout,
}

var byCode = func() map[string]string {
	idx := make(map[string]string, len(mappings))
	for key, e := range mappings {
		idx[e.Code] = key
	}
	return idx
}()

// Lookup returns the table entry for a mnemonic key.
func Lookup(key string) (Error, bool) {
	e, ok := mappings[key]
	return e, ok
}

// New builds an error from a mnemonic key with context attached.
// Unknown keys resolve to the unknown-error sentinel.
func New(key string, ctx Context) *Error {
	e, ok := mappings[key]
	if !ok {
		e = mappings[KeyUnknown]
	}
	e.Rail = ctx.Rail
	e.Corridor = ctx.Corridor
	return &e
}

// Map resolves a wire failure to a typed error. Resolution order:
// exact business code, HTTP status, unknown-error sentinel.
func Map(httpStatus int, code, message string, ctx Context) *Error {
	if code != "" {
		if key, ok := byCode[code]; ok {
			mapped := mappings[key]
			mapped.Rail = ctx.Rail
			mapped.Corridor = ctx.Corridor
			if message != "" {
				mapped.Message = message
			}
			return &mapped
		}
	}

	key, ok := statusFallbacks[httpStatus]
	if !ok {
		key = KeyUnknown
	}
	mapped := mappings[key]
	mapped.Rail = ctx.Rail
	mapped.Corridor = ctx.Corridor
	if message != "" {
		mapped.Message = message
	}
	return &mapped
}

// IsRetryable reports whether err is a mapped error flagged retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
