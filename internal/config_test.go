package internal

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestConfig_PaymentProviderSelection(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "stripe only",
			cfg:  Config{Stripe: StripeConfig{SecretKey: "sk_test_123"}},
			want: "stripe",
		},
		{
			name: "paypal only",
			cfg:  Config{PayPal: PayPalConfig{ClientID: "client"}},
			want: "paypal",
		},
		{
			name: "both configured prefers paypal",
			cfg: Config{
				PayPal: PayPalConfig{ClientID: "client"},
				Stripe: StripeConfig{SecretKey: "sk_test_123"},
			},
			want: "paypal",
		},
		{
			name: "neither configured",
			cfg:  Config{},
			want: "paypal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.PaymentProvider())
		})
	}
}

func TestNewLogger_Levels(t *testing.T) {
	logger := NewLogger(io.Discard, "prod", "warn")
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	// Unparseable levels fall back to info.
	logger = NewLogger(io.Discard, "prod", "bogus")
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
