package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/pricing"
	"github.com/verdandi/shop/internal/shipping"
	"github.com/verdandi/shop/internal/tax"
)

var origin = shipping.ShippingAddress{
	Name:       "Verdandi Fulfillment",
	Line1:      "100 Warehouse Way",
	City:       "Seattle",
	State:      "WA",
	PostalCode: "98101",
	Country:    "US",
}

var destination = domain.Destination{
	City:       "Portland",
	State:      "OR",
	PostalCode: "97201",
	Country:    "US",
}

func newTestCalculator(rate string, shippingCents int64) *pricing.Calculator {
	taxes := &tax.MockProvider{FixedRate: decimal.RequireFromString(rate)}
	shipper := shipping.NewMockProvider()
	shipper.GetRatesFunc = func(ctx context.Context, params shipping.RateParams) ([]shipping.Rate, error) {
		return []shipping.Rate{
			{RateID: "std", ServiceCode: "STD", ServiceName: "Standard", CostCents: shippingCents},
			{RateID: "exp", ServiceCode: "EXP", ServiceName: "Express", CostCents: shippingCents * 3},
		}, nil
	}
	return pricing.NewCalculator(taxes, shipper, origin)
}

func assertQuoteSums(t *testing.T, q *pricing.Quote) {
	t.Helper()
	assert.Equal(t,
		q.SubtotalCents-q.DiscountCents+q.TaxCents+q.ShippingCents-q.ShippingDiscountCents,
		q.TotalCents,
		"quote total must equal subtotal - discount + tax + shipping - shipping discount")

	var lineSum, lineTaxSum int64
	for _, l := range q.Lines {
		assert.Equal(t, l.UnitPriceCents*int64(l.Quantity), l.AmountCents)
		lineSum += l.AmountCents
		lineTaxSum += l.TaxCents
	}
	assert.Equal(t, q.SubtotalCents, lineSum)
	assert.Equal(t, q.TaxCents, lineTaxSum)
}

func TestCalculator_BasicQuote(t *testing.T) {
	calc := newTestCalculator("0.10", 500)

	quote, err := calc.Calculate(context.Background(), pricing.Input{
		Items: []pricing.Item{
			{ProductID: uuid.New(), SKU: "MUG-01", UnitPriceCents: 1500, Quantity: 2, WeightGrams: 400},
			{ProductID: uuid.New(), SKU: "TEE-01", UnitPriceCents: 2500, Quantity: 1, WeightGrams: 200},
		},
		Destination: destination,
		Currency:    "USD",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5500), quote.SubtotalCents)
	assert.Equal(t, int64(0), quote.DiscountCents)
	assert.Equal(t, int64(550), quote.TaxCents)
	assert.Equal(t, int64(500), quote.ShippingCents, "cheapest rate should be chosen by default")
	assert.Equal(t, "STD", quote.ShippingService)
	assert.Equal(t, int64(6550), quote.TotalCents)
	assert.Empty(t, quote.Warnings)
	assertQuoteSums(t, quote)
}

func TestCalculator_PercentCoupon(t *testing.T) {
	calc := newTestCalculator("0.10", 500)

	quote, err := calc.Calculate(context.Background(), pricing.Input{
		Items: []pricing.Item{
			{ProductID: uuid.New(), SKU: "MUG-01", UnitPriceCents: 10000, Quantity: 1},
		},
		Destination: destination,
		Coupon: &domain.Coupon{
			Code:       "TAKE20",
			Type:       domain.CouponPercent,
			PercentOff: 20,
			Active:     true,
		},
		Currency: "USD",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), quote.SubtotalCents)
	assert.Equal(t, int64(2000), quote.DiscountCents)
	// Tax is 10% of the discounted subtotal
	assert.Equal(t, int64(800), quote.TaxCents)
	assert.Equal(t, "TAKE20", quote.CouponCode)
	assert.Equal(t, int64(9300), quote.TotalCents)
	assertQuoteSums(t, quote)
}

func TestCalculator_FixedCouponCapsAtSubtotal(t *testing.T) {
	calc := newTestCalculator("0", 500)

	quote, err := calc.Calculate(context.Background(), pricing.Input{
		Items: []pricing.Item{
			{ProductID: uuid.New(), SKU: "PIN-01", UnitPriceCents: 300, Quantity: 1},
		},
		Destination: destination,
		Coupon: &domain.Coupon{
			Code:           "BIGOFF",
			Type:           domain.CouponFixedAmount,
			AmountOffCents: 1000,
			Active:         true,
		},
		Currency: "USD",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(300), quote.DiscountCents, "discount never exceeds the subtotal")
	assert.Equal(t, int64(500), quote.TotalCents, "shipping is still owed")
	assertQuoteSums(t, quote)
}

func TestCalculator_FreeShippingCoupon(t *testing.T) {
	calc := newTestCalculator("0", 750)

	quote, err := calc.Calculate(context.Background(), pricing.Input{
		Items: []pricing.Item{
			{ProductID: uuid.New(), SKU: "TEE-01", UnitPriceCents: 2500, Quantity: 1},
		},
		Destination: destination,
		Coupon: &domain.Coupon{
			Code:   "SHIPFREE",
			Type:   domain.CouponFreeShipping,
			Active: true,
		},
		Currency: "USD",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(750), quote.ShippingCents)
	assert.Equal(t, int64(750), quote.ShippingDiscountCents)
	assert.Equal(t, int64(0), quote.DiscountCents)
	assert.Equal(t, int64(2500), quote.TotalCents)
	assertQuoteSums(t, quote)
}

func TestCalculator_ExpiredCouponWarnsAndIsIgnored(t *testing.T) {
	calc := newTestCalculator("0.10", 500)

	quote, err := calc.Calculate(context.Background(), pricing.Input{
		Items: []pricing.Item{
			{ProductID: uuid.New(), SKU: "MUG-01", UnitPriceCents: 5000, Quantity: 1},
		},
		Destination: destination,
		Coupon: &domain.Coupon{
			Code:       "OLD10",
			Type:       domain.CouponPercent,
			PercentOff: 10,
			Active:     true,
			ExpiresAt:  time.Now().Add(-24 * time.Hour),
		},
		Currency: "USD",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), quote.DiscountCents)
	assert.Empty(t, quote.CouponCode)
	require.Len(t, quote.Warnings, 1)
	assert.Contains(t, quote.Warnings[0], "OLD10")
	assertQuoteSums(t, quote)
}

func TestCalculator_MinSubtotalCoupon(t *testing.T) {
	calc := newTestCalculator("0", 500)

	coupon := &domain.Coupon{
		Code:             "SPEND50",
		Type:             domain.CouponFixedAmount,
		AmountOffCents:   500,
		MinSubtotalCents: 5000,
		Active:           true,
	}

	below, err := calc.Calculate(context.Background(), pricing.Input{
		Items:       []pricing.Item{{ProductID: uuid.New(), SKU: "A", UnitPriceCents: 4999, Quantity: 1}},
		Destination: destination,
		Coupon:      coupon,
		Currency:    "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), below.DiscountCents)
	assert.Len(t, below.Warnings, 1)

	above, err := calc.Calculate(context.Background(), pricing.Input{
		Items:       []pricing.Item{{ProductID: uuid.New(), SKU: "A", UnitPriceCents: 5000, Quantity: 1}},
		Destination: destination,
		Coupon:      coupon,
		Currency:    "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500), above.DiscountCents)
	assert.Empty(t, above.Warnings)
}

func TestCalculator_RoundsHalfUp(t *testing.T) {
	// 999 * 7.5% = 74.925, rounds to 75
	calc := newTestCalculator("0.075", 0)

	quote, err := calc.Calculate(context.Background(), pricing.Input{
		Items: []pricing.Item{
			{ProductID: uuid.New(), SKU: "PIN-01", UnitPriceCents: 999, Quantity: 1},
		},
		Destination: destination,
		Currency:    "USD",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(75), quote.TaxCents)
	assertQuoteSums(t, quote)
}

func TestCalculator_PerCategoryRates(t *testing.T) {
	taxes := &tax.MockProvider{}
	taxes.RateFunc = func(ctx context.Context, jurisdiction, category string) (decimal.Decimal, error) {
		if category == "food" {
			return decimal.RequireFromString("0.02"), nil
		}
		return decimal.RequireFromString("0.10"), nil
	}
	shipper := shipping.NewMockProvider()
	calc := pricing.NewCalculator(taxes, shipper, origin)

	quote, err := calc.Calculate(context.Background(), pricing.Input{
		Items: []pricing.Item{
			{ProductID: uuid.New(), SKU: "COFFEE", UnitPriceCents: 1000, Quantity: 1, TaxCategory: "food"},
			{ProductID: uuid.New(), SKU: "MUG-01", UnitPriceCents: 1000, Quantity: 1, TaxCategory: "general"},
		},
		Destination: destination,
		Currency:    "USD",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(20), quote.Lines[0].TaxCents)
	assert.Equal(t, int64(100), quote.Lines[1].TaxCents)
	assert.Equal(t, int64(120), quote.TaxCents)
	assert.Len(t, quote.TaxBreakdown, 2)
	assertQuoteSums(t, quote)
}

func TestCalculator_ShippingServiceSelection(t *testing.T) {
	calc := newTestCalculator("0", 500)

	quote, err := calc.Calculate(context.Background(), pricing.Input{
		Items:           []pricing.Item{{ProductID: uuid.New(), SKU: "A", UnitPriceCents: 1000, Quantity: 1}},
		Destination:     destination,
		ShippingService: "EXP",
		Currency:        "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), quote.ShippingCents)
	assert.Equal(t, "EXP", quote.ShippingService)

	_, err = calc.Calculate(context.Background(), pricing.Input{
		Items:           []pricing.Item{{ProductID: uuid.New(), SKU: "A", UnitPriceCents: 1000, Quantity: 1}},
		Destination:     destination,
		ShippingService: "OVERNIGHT",
		Currency:        "USD",
	})
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestCalculator_EmptyCart(t *testing.T) {
	calc := newTestCalculator("0.10", 500)

	_, err := calc.Calculate(context.Background(), pricing.Input{
		Destination: destination,
		Currency:    "USD",
	})
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestCalculator_InvalidQuantity(t *testing.T) {
	calc := newTestCalculator("0.10", 500)

	_, err := calc.Calculate(context.Background(), pricing.Input{
		Items:       []pricing.Item{{ProductID: uuid.New(), SKU: "A", UnitPriceCents: 1000, Quantity: 0}},
		Destination: destination,
		Currency:    "USD",
	})
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}
