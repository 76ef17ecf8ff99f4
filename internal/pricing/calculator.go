// Package pricing computes checkout quotes. All money flows through
// integer cents; fractional intermediate values use decimals rounded
// half-up at each boundary so a quote never carries sub-cent amounts.
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/shipping"
	"github.com/verdandi/shop/internal/tax"
)

// Default parcel dimensions for rate quoting when the catalog carries
// only weight.
const (
	defaultParcelLengthCm = 30
	defaultParcelWidthCm  = 23
	defaultParcelHeightCm = 15
)

var oneHundred = decimal.NewFromInt(100)

// Item is one cart line as priced.
type Item struct {
	ProductID      uuid.UUID
	Name           string
	SKU            string
	UnitPriceCents int64
	Quantity       int32
	WeightGrams    int32
	TaxCategory    string
}

// Input carries everything needed to price a cart.
type Input struct {
	Items       []Item
	Destination domain.Destination
	Coupon      *domain.Coupon

	// ShippingService selects a carrier service code. Empty picks the
	// cheapest available rate.
	ShippingService string

	Currency string
	Now      time.Time
}

// LineQuote is the priced form of a single cart line.
type LineQuote struct {
	ProductID      uuid.UUID
	Name           string
	SKU            string
	UnitPriceCents int64
	Quantity       int32
	AmountCents    int64
	TaxCents       int64
}

// Quote is a fully priced cart.
//
// TotalCents always equals SubtotalCents - DiscountCents + TaxCents +
// ShippingCents - ShippingDiscountCents.
type Quote struct {
	Lines []LineQuote

	SubtotalCents         int64
	DiscountCents         int64
	TaxCents              int64
	ShippingCents         int64
	ShippingDiscountCents int64
	TotalCents            int64

	Currency     string
	CouponCode   string
	TaxBreakdown []tax.Breakdown

	// ShippingOptions lists every rate the carrier offered; the chosen
	// one is reflected in ShippingCents.
	ShippingOptions []shipping.Rate
	ShippingService string

	// Warnings carries non-fatal issues, like an expired coupon that
	// was ignored.
	Warnings []string
}

// Calculator prices carts using a tax rate source and a shipping
// rate source. It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	taxRates tax.RateProvider
	shipper  shipping.Provider
	origin   shipping.ShippingAddress
}

// NewCalculator creates a pricing calculator.
func NewCalculator(taxRates tax.RateProvider, shipper shipping.Provider, origin shipping.ShippingAddress) *Calculator {
	return &Calculator{
		taxRates: taxRates,
		shipper:  shipper,
		origin:   origin,
	}
}

// Calculate prices the given cart. Discounts apply in a fixed order:
// the subtotal discount first, then tax on the discounted subtotal,
// then shipping, then any shipping discount.
func (c *Calculator) Calculate(ctx context.Context, input Input) (*Quote, error) {
	if len(input.Items) == 0 {
		return nil, domain.Invalid("checkout.calculate", "cart has no items")
	}
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}

	quote := &Quote{
		Currency: input.Currency,
		Lines:    make([]LineQuote, 0, len(input.Items)),
	}

	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, domain.Invalid("checkout.calculate",
				fmt.Sprintf("item %s has non-positive quantity", item.SKU))
		}
		amount := item.UnitPriceCents * int64(item.Quantity)
		quote.Lines = append(quote.Lines, LineQuote{
			ProductID:      item.ProductID,
			Name:           item.Name,
			SKU:            item.SKU,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			AmountCents:    amount,
		})
		quote.SubtotalCents += amount
	}

	// Subtotal discount. An unusable coupon downgrades to a warning so
	// the customer still gets a quote.
	freeShipping := false
	if input.Coupon != nil {
		usable, reason := input.Coupon.Usable(quote.SubtotalCents, now)
		if !usable {
			quote.Warnings = append(quote.Warnings,
				fmt.Sprintf("coupon %s not applied: %s", input.Coupon.Code, reason))
		} else {
			quote.CouponCode = input.Coupon.Code
			switch input.Coupon.Type {
			case domain.CouponPercent:
				quote.DiscountCents = percentOf(quote.SubtotalCents, input.Coupon.PercentOff)
			case domain.CouponFixedAmount:
				quote.DiscountCents = min(input.Coupon.AmountOffCents, quote.SubtotalCents)
			case domain.CouponFreeShipping:
				freeShipping = true
			}
		}
	}

	// Tax applies to the discounted subtotal, computed per line so
	// mixed tax categories each get their own rate. The discount is
	// spread across lines proportionally.
	if err := c.applyTax(ctx, input, quote); err != nil {
		return nil, err
	}

	// Shipping.
	if err := c.applyShipping(ctx, input, quote); err != nil {
		return nil, err
	}
	if freeShipping {
		quote.ShippingDiscountCents = quote.ShippingCents
	}

	quote.TotalCents = quote.SubtotalCents - quote.DiscountCents +
		quote.TaxCents + quote.ShippingCents - quote.ShippingDiscountCents

	return quote, nil
}

func (c *Calculator) applyTax(ctx context.Context, input Input, quote *Quote) error {
	jurisdiction := input.Destination.Jurisdiction()
	taxable := quote.SubtotalCents - quote.DiscountCents

	factor := decimal.NewFromInt(1)
	if quote.DiscountCents > 0 && quote.SubtotalCents > 0 {
		factor = decimal.NewFromInt(taxable).Div(decimal.NewFromInt(quote.SubtotalCents))
	}

	byJurisdiction := make(map[string]*tax.Breakdown)
	for i := range quote.Lines {
		line := &quote.Lines[i]
		rate, err := c.taxRates.Rate(ctx, jurisdiction, input.Items[i].TaxCategory)
		if err != nil {
			return domain.WrapError(err, domain.EINVALID, "checkout.calculate", "tax rate lookup failed")
		}
		if rate.IsZero() {
			continue
		}

		discounted := decimal.NewFromInt(line.AmountCents).Mul(factor).Round(0)
		lineTax := discounted.Mul(rate).Round(0)
		line.TaxCents = lineTax.IntPart()
		quote.TaxCents += line.TaxCents

		key := jurisdiction + "/" + input.Items[i].TaxCategory
		if b, ok := byJurisdiction[key]; ok {
			b.AmountCents += line.TaxCents
		} else {
			byJurisdiction[key] = &tax.Breakdown{
				Jurisdiction: jurisdiction,
				Name:         input.Items[i].TaxCategory,
				Rate:         rate,
				AmountCents:  line.TaxCents,
			}
		}
	}

	for _, b := range byJurisdiction {
		quote.TaxBreakdown = append(quote.TaxBreakdown, *b)
	}
	return nil
}

func (c *Calculator) applyShipping(ctx context.Context, input Input, quote *Quote) error {
	var totalWeight int32
	for _, item := range input.Items {
		totalWeight += item.WeightGrams * item.Quantity
	}

	rates, err := c.shipper.GetRates(ctx, shipping.RateParams{
		OriginAddress: c.origin,
		DestinationAddress: shipping.ShippingAddress{
			City:       input.Destination.City,
			State:      input.Destination.State,
			PostalCode: input.Destination.PostalCode,
			Country:    input.Destination.Country,
		},
		Packages: []shipping.Package{
			{
				WeightGrams: totalWeight,
				LengthCm:    defaultParcelLengthCm,
				WidthCm:     defaultParcelWidthCm,
				HeightCm:    defaultParcelHeightCm,
			},
		},
	})
	if err != nil {
		return domain.WrapError(err, domain.EUNAVAILABLE, "checkout.calculate", "shipping rate lookup failed")
	}
	if len(rates) == 0 {
		return domain.Errorf(domain.EUNAVAILABLE, "checkout.calculate", "no shipping rates available for destination")
	}

	quote.ShippingOptions = rates

	var chosen *shipping.Rate
	for i := range rates {
		r := &rates[i]
		if input.ShippingService != "" {
			if r.ServiceCode == input.ShippingService {
				chosen = r
				break
			}
			continue
		}
		if chosen == nil || r.CostCents < chosen.CostCents {
			chosen = r
		}
	}
	if chosen == nil {
		return domain.Invalid("checkout.calculate",
			fmt.Sprintf("shipping service %q not offered for destination", input.ShippingService))
	}

	quote.ShippingCents = chosen.CostCents
	quote.ShippingService = chosen.ServiceCode
	return nil
}

// percentOf computes pct% of an integer cent amount, rounded half-up.
func percentOf(cents int64, pct int32) int64 {
	return decimal.NewFromInt(cents).
		Mul(decimal.NewFromInt32(pct)).
		Div(oneHundred).
		Round(0).
		IntPart()
}
