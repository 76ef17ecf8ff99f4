package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProvider implements Provider using Stripe Payment Intents.
// Authorize creates a manual-capture intent; Capture settles it.
type StripeProvider struct {
	webhookSecret string
	logger        zerolog.Logger
}

// StripeConfig contains configuration for the Stripe provider.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	Logger        zerolog.Logger
}

// NewStripeProvider creates a new Stripe billing provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrInvalidCredentials
	}
	stripe.Key = cfg.APIKey

	return &StripeProvider{
		webhookSecret: cfg.WebhookSecret,
		logger:        cfg.Logger,
	}, nil
}

// Authorize creates a manual-capture payment intent. The returned client
// secret is confirmed by Stripe.js on the frontend.
func (s *StripeProvider) Authorize(ctx context.Context, params AuthorizeParams) (*Authorization, error) {
	if params.AmountCents < 50 {
		return nil, ErrAmountTooSmall
	}

	piParams := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(params.AmountCents),
		Currency:      stripe.String(strings.ToLower(params.Currency)),
		Description:   stripe.String(params.Description),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		ReceiptEmail:  stripe.String(params.CustomerEmail),
	}
	piParams.Context = ctx
	if params.IdempotencyKey != "" {
		piParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}
	for k, v := range params.Metadata {
		piParams.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(piParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	s.logger.Info().
		Str("payment_intent_id", pi.ID).
		Str("status", string(pi.Status)).
		Int64("amount_cents", pi.Amount).
		Msg("stripe payment intent created")

	return &Authorization{
		ProviderPaymentID: pi.ID,
		ClientSecret:      pi.ClientSecret,
		Status:            string(pi.Status),
		AmountCents:       pi.Amount,
		Currency:          strings.ToUpper(string(pi.Currency)),
		CreatedAt:         time.Unix(pi.Created, 0),
	}, nil
}

// Capture settles a confirmed payment intent. Stripe treats a repeated
// capture of an already-captured intent as an error, so callers see the
// first result via GetPayment on retry.
func (s *StripeProvider) Capture(ctx context.Context, params CaptureParams) (*Capture, error) {
	captureParams := &stripe.PaymentIntentCaptureParams{}
	captureParams.Context = ctx
	if params.AmountCents > 0 {
		captureParams.AmountToCapture = stripe.Int64(params.AmountCents)
	}
	if params.IdempotencyKey != "" {
		captureParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}

	pi, err := paymentintent.Capture(params.ProviderPaymentID, captureParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	s.logger.Info().
		Str("payment_intent_id", pi.ID).
		Int64("amount_received", pi.AmountReceived).
		Msg("stripe capture completed")

	return &Capture{
		ProviderCaptureID: pi.ID,
		ProviderPaymentID: pi.ID,
		AmountCents:       pi.AmountReceived,
		Currency:          strings.ToUpper(string(pi.Currency)),
		Status:            string(pi.Status),
		CapturedAt:        time.Now(),
	}, nil
}

// Refund returns captured funds against the payment intent.
func (s *StripeProvider) Refund(ctx context.Context, params RefundParams) (*RefundResult, error) {
	refundParams := &stripe.RefundParams{
		PaymentIntent: stripe.String(params.ProviderCaptureID),
	}
	refundParams.Context = ctx
	if params.AmountCents > 0 {
		refundParams.Amount = stripe.Int64(params.AmountCents)
	}
	if params.IdempotencyKey != "" {
		refundParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}

	r, err := refund.New(refundParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	s.logger.Info().
		Str("refund_id", r.ID).
		Int64("amount_cents", r.Amount).
		Msg("stripe refund processed")

	return &RefundResult{
		ProviderRefundID: r.ID,
		AmountCents:      r.Amount,
		Currency:         strings.ToUpper(string(r.Currency)),
		Status:           string(r.Status),
		CreatedAt:        time.Unix(r.Created, 0),
	}, nil
}

// GetPayment retrieves the payment intent for reconciliation.
func (s *StripeProvider) GetPayment(ctx context.Context, providerPaymentID string) (*PaymentDetails, error) {
	getParams := &stripe.PaymentIntentParams{}
	getParams.Context = ctx

	pi, err := paymentintent.Get(providerPaymentID, getParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	details := &PaymentDetails{
		ProviderPaymentID: pi.ID,
		ProviderCaptureID: pi.ID,
		Status:            string(pi.Status),
		AmountCents:       pi.Amount,
		CapturedCents:     pi.AmountReceived,
		Currency:          strings.ToUpper(string(pi.Currency)),
		Metadata:          pi.Metadata,
		CreatedAt:         time.Unix(pi.Created, 0),
	}

	if pi.LastPaymentError != nil {
		details.LastError = &PaymentError{
			Code:        string(pi.LastPaymentError.Code),
			Message:     pi.LastPaymentError.Msg,
			DeclineCode: string(pi.LastPaymentError.DeclineCode),
		}
	}

	return details, nil
}

// VerifyWebhook verifies Stripe's signature header and normalizes the event.
func (s *StripeProvider) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return nil, ErrInvalidWebhookSignature
	}

	result := &WebhookEvent{
		ID:         event.ID,
		Type:       string(event.Type),
		OccurredAt: time.Unix(event.Created, 0),
	}

	if id, ok := event.Data.Object["id"].(string); ok {
		result.ProviderPaymentID = id
		result.ProviderCaptureID = id
	}
	if amount, ok := event.Data.Object["amount"].(float64); ok {
		result.AmountCents = int64(amount)
	}
	if currency, ok := event.Data.Object["currency"].(string); ok {
		result.Currency = strings.ToUpper(currency)
	}

	return result, nil
}

// wrapStripeError converts Stripe SDK errors into ProviderError,
// surfacing card declines as ErrPaymentDeclined.
func wrapStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return &ProviderError{Provider: "stripe", Message: err.Error(), OriginalError: err}
	}

	perr := &ProviderError{
		Provider:      "stripe",
		Message:       stripeErr.Msg,
		Code:          string(stripeErr.Code),
		DeclineCode:   string(stripeErr.DeclineCode),
		HTTPStatus:    stripeErr.HTTPStatusCode,
		RequestID:     stripeErr.RequestID,
		OriginalError: err,
	}
	if stripeErr.Code == stripe.ErrorCodeResourceMissing {
		perr.OriginalError = ErrPaymentNotFound
	} else if perr.IsDeclined() {
		perr.OriginalError = ErrPaymentDeclined
	}
	return perr
}
