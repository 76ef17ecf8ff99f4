package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrNotImplemented is returned when a provider method is not supported.
	ErrNotImplemented = errors.New("billing: method not implemented")

	// ErrInvalidCredentials is returned when provider credentials are invalid or missing.
	ErrInvalidCredentials = errors.New("billing: invalid or missing credentials")

	// ErrPaymentNotFound is returned when the payment does not exist at the provider.
	ErrPaymentNotFound = errors.New("billing: payment not found")

	// ErrPaymentDeclined is returned when the provider declines the payment.
	ErrPaymentDeclined = errors.New("billing: payment declined")

	// ErrInvalidWebhookSignature is returned when webhook signature verification fails.
	ErrInvalidWebhookSignature = errors.New("billing: invalid webhook signature")

	// ErrAmountTooSmall is returned when payment amount is below the provider's minimum.
	ErrAmountTooSmall = errors.New("billing: amount too small (minimum $0.50 USD)")

	// ErrRefundExceedsCapture is returned when a refund would exceed the captured amount.
	ErrRefundExceedsCapture = errors.New("billing: refund exceeds captured amount")
)

// ProviderError wraps a payment provider API error with additional context.
type ProviderError struct {
	Provider      string // "paypal" or "stripe"
	Message       string // Human-readable error message
	Code          string // Provider error code (e.g., "INSTRUMENT_DECLINED")
	DeclineCode   string // Card decline reason (if applicable)
	HTTPStatus    int    // HTTP status code from the provider
	RequestID     string // Provider request ID for debugging
	OriginalError error  // Original error from SDK or HTTP client
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.OriginalError
}

// IsDeclined returns true if the error is due to a declined payment.
func (e *ProviderError) IsDeclined() bool {
	switch e.Code {
	case "card_declined", "INSTRUMENT_DECLINED", "PAYER_CANNOT_PAY":
		return true
	}
	return e.DeclineCode != ""
}

// IsTemporary returns true if the error is likely transient and retryable.
func (e *ProviderError) IsTemporary() bool {
	switch e.Code {
	case "rate_limit", "api_connection_error", "INTERNAL_SERVICE_ERROR":
		return true
	}
	return e.HTTPStatus == 429 || e.HTTPStatus >= 500
}
