package billing

import (
	"context"
	"time"
)

// Provider defines the interface for payment processing.
// Implementations can use PayPal, Stripe, Square, etc.
type Provider interface {
	// Authorize places a hold on the customer's funds without capturing them.
	// Returns a provider payment ID and, for redirect flows, an approval URL.
	Authorize(ctx context.Context, params AuthorizeParams) (*Authorization, error)

	// Capture settles a previously authorized payment.
	// Callers pass an idempotency key so retried captures settle at most once.
	Capture(ctx context.Context, params CaptureParams) (*Capture, error)

	// Refund returns captured funds to the customer, fully or partially.
	Refund(ctx context.Context, params RefundParams) (*RefundResult, error)

	// GetPayment retrieves the provider's view of a payment.
	// Used for reconciliation when a capture outcome is unknown.
	GetPayment(ctx context.Context, providerPaymentID string) (*PaymentDetails, error)

	// VerifyWebhook verifies that a webhook request is authentic and
	// decodes it into a normalized event.
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// AuthorizeParams contains parameters for authorizing a payment.
type AuthorizeParams struct {
	// AmountCents is the amount in smallest currency unit (cents for USD)
	AmountCents int64

	// Currency code (ISO 4217) - e.g., "USD", "EUR"
	Currency string

	// CustomerEmail is used to prefill the provider's payment sheet
	CustomerEmail string

	// Description appears on the customer's statement
	Description string

	// Metadata for filtering and reporting (always include order_id)
	Metadata map[string]string

	// IdempotencyKey prevents duplicate authorizations.
	// Typically the checkout session's reservation token.
	IdempotencyKey string
}

// Authorization represents an authorized (not yet captured) payment.
type Authorization struct {
	// ProviderPaymentID is the provider's identifier for this payment
	ProviderPaymentID string

	// ApprovalURL is where the customer approves the payment (redirect flows).
	// Empty for providers that confirm client-side.
	ApprovalURL string

	// ClientSecret is used by client-side SDKs to confirm payment.
	// Empty for redirect flows.
	ClientSecret string

	// Status is the provider's payment status
	Status string

	// AmountCents is the authorized amount
	AmountCents int64

	Currency  string
	CreatedAt time.Time
}

// CaptureParams contains parameters for capturing an authorized payment.
type CaptureParams struct {
	ProviderPaymentID string

	// AmountCents to capture; zero means capture the full authorized amount
	AmountCents int64

	// IdempotencyKey makes retried captures settle at most once
	IdempotencyKey string
}

// Capture represents a settled payment.
type Capture struct {
	// ProviderCaptureID identifies the capture, used later for refunds
	ProviderCaptureID string

	ProviderPaymentID string
	AmountCents       int64
	Currency          string
	Status            string
	CapturedAt        time.Time
}

// RefundParams contains parameters for refunding a captured payment.
type RefundParams struct {
	// ProviderCaptureID is the capture to refund against
	ProviderCaptureID string

	// AmountCents to refund; zero means refund the full remaining amount
	AmountCents int64

	// Currency of the original capture (ISO 4217)
	Currency string

	// Reason is recorded with the provider (e.g., "order cancelled")
	Reason string

	// IdempotencyKey prevents duplicate refunds
	IdempotencyKey string
}

// RefundResult represents a processed refund.
type RefundResult struct {
	ProviderRefundID string
	AmountCents      int64
	Currency         string
	Status           string
	CreatedAt        time.Time
}

// PaymentDetails is the provider's authoritative view of a payment.
type PaymentDetails struct {
	ProviderPaymentID string
	ProviderCaptureID string
	Status            string
	AmountCents       int64
	CapturedCents     int64
	RefundedCents     int64
	Currency          string
	Metadata          map[string]string
	CreatedAt         time.Time

	// LastError contains details if the most recent attempt failed
	LastError *PaymentError
}

// PaymentError contains details about a failed payment attempt.
type PaymentError struct {
	Code        string // Provider error code
	Message     string // Human-readable message
	DeclineCode string // Reason card was declined (if applicable)
}

// WebhookEvent is a normalized payment event delivered by the provider.
type WebhookEvent struct {
	// ID is the provider's event identifier, used for dedupe
	ID string

	// Type is the provider's event type (e.g., "PAYMENT.CAPTURE.COMPLETED")
	Type string

	ProviderPaymentID string
	ProviderCaptureID string
	AmountCents       int64
	Currency          string
	OccurredAt        time.Time
}
