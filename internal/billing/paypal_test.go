package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCentsToDollars(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{50, "0.50"},
		{100, "1.00"},
		{1999, "19.99"},
		{123456, "1234.56"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, centsToDollars(tt.cents))
	}
}

func TestDollarsStringToCents(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"0.00", 0, false},
		{"5", 500, false},
		{"5.1", 510, false},
		{"5.05", 505, false},
		{"19.99", 1999, false},
		{" 12.50 ", 1250, false},
		{"", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		got, err := dollarsStringToCents(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		assert.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestDollarsStringToCents_RoundTrip(t *testing.T) {
	for _, cents := range []int64{0, 1, 99, 100, 101, 4999, 1000000} {
		got, err := dollarsStringToCents(centsToDollars(cents))
		require.NoError(t, err)
		assert.Equal(t, cents, got)
	}
}

func TestPayPalProvider_RequiresCredentials(t *testing.T) {
	_, err := NewPayPalProvider(PayPalConfig{})
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	_, err = NewPayPalProvider(PayPalConfig{ClientID: "id"})
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestPayPalProvider_VerifyWebhook(t *testing.T) {
	provider, err := NewPayPalProvider(PayPalConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		WebhookID:    "wh-test-1",
		Sandbox:      true,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	payload := []byte(`{
		"id": "WH-EVT-1",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"id": "CAP-123",
			"status": "COMPLETED",
			"amount": {"currency_code": "USD", "value": "41.99"},
			"supplementary_data": {"related_ids": {"order_id": "ORDER-456"}}
		}
	}`)

	sign := func(transmissionID, transmissionTime string) string {
		mac := hmac.New(sha256.New, []byte("wh-test-1"))
		fmt.Fprintf(mac, "%s|%s|", transmissionID, transmissionTime)
		mac.Write(payload)
		return base64.StdEncoding.EncodeToString(mac.Sum(nil))
	}

	t.Run("valid signature", func(t *testing.T) {
		sig := "tx-1|2026-01-01T00:00:00Z|" + sign("tx-1", "2026-01-01T00:00:00Z")

		event, err := provider.VerifyWebhook(payload, sig)
		require.NoError(t, err)
		assert.Equal(t, "WH-EVT-1", event.ID)
		assert.Equal(t, "PAYMENT.CAPTURE.COMPLETED", event.Type)
		assert.Equal(t, "ORDER-456", event.ProviderPaymentID)
		assert.Equal(t, "CAP-123", event.ProviderCaptureID)
		assert.Equal(t, int64(4199), event.AmountCents)
		assert.Equal(t, "USD", event.Currency)
	})

	t.Run("tampered payload", func(t *testing.T) {
		sig := "tx-1|2026-01-01T00:00:00Z|" + sign("tx-1", "2026-01-01T00:00:00Z")

		tampered := append([]byte(nil), payload...)
		tampered[len(tampered)-2] = ' '

		_, err := provider.VerifyWebhook(tampered, sig)
		assert.True(t, errors.Is(err, ErrInvalidWebhookSignature))
	})

	t.Run("malformed signature header", func(t *testing.T) {
		_, err := provider.VerifyWebhook(payload, "not-a-signature")
		assert.True(t, errors.Is(err, ErrInvalidWebhookSignature))
	})
}

func TestProviderError_IsDeclined(t *testing.T) {
	declined := &ProviderError{Provider: "paypal", Code: "INSTRUMENT_DECLINED"}
	assert.True(t, declined.IsDeclined())

	cardDeclined := &ProviderError{Provider: "stripe", Code: "card_declined"}
	assert.True(t, cardDeclined.IsDeclined())

	withDeclineCode := &ProviderError{Provider: "stripe", DeclineCode: "insufficient_funds"}
	assert.True(t, withDeclineCode.IsDeclined())

	internal := &ProviderError{Provider: "paypal", Code: "INTERNAL_SERVICE_ERROR"}
	assert.False(t, internal.IsDeclined())
	assert.True(t, internal.IsTemporary())
}
