package billing

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// MockProvider is a test implementation of Provider.
// Each method delegates to the configured function or returns a
// deterministic success result.
type MockProvider struct {
	AuthorizeFunc     func(ctx context.Context, params AuthorizeParams) (*Authorization, error)
	CaptureFunc       func(ctx context.Context, params CaptureParams) (*Capture, error)
	RefundFunc        func(ctx context.Context, params RefundParams) (*RefundResult, error)
	GetPaymentFunc    func(ctx context.Context, providerPaymentID string) (*PaymentDetails, error)
	VerifyWebhookFunc func(payload []byte, signature string) (*WebhookEvent, error)

	seq atomic.Int64
}

// NewMockProvider creates a new mock billing provider for testing.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (m *MockProvider) Authorize(ctx context.Context, params AuthorizeParams) (*Authorization, error) {
	if m.AuthorizeFunc != nil {
		return m.AuthorizeFunc(ctx, params)
	}
	return &Authorization{
		ProviderPaymentID: fmt.Sprintf("mock-pay-%d", m.seq.Add(1)),
		ApprovalURL:       "https://billing.example.test/approve",
		Status:            "CREATED",
		AmountCents:       params.AmountCents,
		Currency:          params.Currency,
		CreatedAt:         time.Now(),
	}, nil
}

func (m *MockProvider) Capture(ctx context.Context, params CaptureParams) (*Capture, error) {
	if m.CaptureFunc != nil {
		return m.CaptureFunc(ctx, params)
	}
	return &Capture{
		ProviderCaptureID: fmt.Sprintf("mock-cap-%d", m.seq.Add(1)),
		ProviderPaymentID: params.ProviderPaymentID,
		AmountCents:       params.AmountCents,
		Currency:          "USD",
		Status:            "COMPLETED",
		CapturedAt:        time.Now(),
	}, nil
}

func (m *MockProvider) Refund(ctx context.Context, params RefundParams) (*RefundResult, error) {
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, params)
	}
	return &RefundResult{
		ProviderRefundID: fmt.Sprintf("mock-ref-%d", m.seq.Add(1)),
		AmountCents:      params.AmountCents,
		Currency:         "USD",
		Status:           "COMPLETED",
		CreatedAt:        time.Now(),
	}, nil
}

func (m *MockProvider) GetPayment(ctx context.Context, providerPaymentID string) (*PaymentDetails, error) {
	if m.GetPaymentFunc != nil {
		return m.GetPaymentFunc(ctx, providerPaymentID)
	}
	return &PaymentDetails{
		ProviderPaymentID: providerPaymentID,
		ProviderCaptureID: providerPaymentID,
		Status:            "COMPLETED",
		Currency:          "USD",
		CreatedAt:         time.Now(),
	}, nil
}

func (m *MockProvider) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if m.VerifyWebhookFunc != nil {
		return m.VerifyWebhookFunc(payload, signature)
	}
	return &WebhookEvent{
		ID:         fmt.Sprintf("mock-evt-%d", m.seq.Add(1)),
		Type:       "PAYMENT.CAPTURE.COMPLETED",
		OccurredAt: time.Now(),
	}, nil
}
