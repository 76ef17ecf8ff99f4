package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/service"
)

// capturingPaymentService records what the webhook handler forwards.
type capturingPaymentService struct {
	payload   []byte
	signature string
}

func (s *capturingPaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return nil, domain.NotFound("payment.get", "payment", id.String())
}

func (s *capturingPaymentService) GetOrderPayment(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	return nil, domain.NotFound("payment.get", "payment", orderID.String())
}

func (s *capturingPaymentService) Refund(ctx context.Context, params service.RefundPaymentParams) (*domain.Refund, error) {
	return nil, nil
}

func (s *capturingPaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	s.payload = append([]byte(nil), payload...)
	s.signature = signature
	return nil
}

func (s *capturingPaymentService) CancelPendingPayment(ctx context.Context, idempotencyKey string) error {
	return nil
}

func postPaymentWebhook(t *testing.T, payments service.PaymentService, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewWebhookHandler(payments, nil, nil, zerolog.Nop())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{"id":"WH-1"}`))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	if err := h.Payment(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Payment() error = %v", err)
	}
	return rec
}

func TestWebhookHandler_PayPalSignatureAssembledFromHeaders(t *testing.T) {
	payments := &capturingPaymentService{}
	rec := postPaymentWebhook(t, payments, map[string]string{
		"Paypal-Transmission-Id":   "tx-1",
		"Paypal-Transmission-Time": "2026-09-01T12:00:00Z",
		"Paypal-Transmission-Sig":  "c2lnbmF0dXJl",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	want := "tx-1|2026-09-01T12:00:00Z|c2lnbmF0dXJl"
	if payments.signature != want {
		t.Errorf("signature = %q, want %q", payments.signature, want)
	}
}

func TestWebhookHandler_StripeSignaturePassedVerbatim(t *testing.T) {
	payments := &capturingPaymentService{}
	rec := postPaymentWebhook(t, payments, map[string]string{
		"Stripe-Signature": "t=1756728000,v1=deadbeef",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if want := "t=1756728000,v1=deadbeef"; payments.signature != want {
		t.Errorf("signature = %q, want %q", payments.signature, want)
	}
}
