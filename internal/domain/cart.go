package domain

import (
	"time"

	"github.com/google/uuid"
)

// Cart-related domain errors.
var (
	ErrCartNotFound     = &Error{Code: ENOTFOUND, Message: "Cart not found"}
	ErrCartItemNotFound = &Error{Code: ENOTFOUND, Message: "Cart item not found"}
	ErrCartEmpty        = &Error{Code: EINVALID, Message: "Cart is empty"}
	ErrInvalidQuantity  = &Error{Code: EINVALID, Message: "Quantity must be greater than 0"}
)

// Cart is the mutable pre-checkout container owned by one customer or
// anonymous session. It is never deleted by checkout: materializing an
// order clears it, and the customer may start filling it again.
type Cart struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	CouponCode string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CartLine is one product entry in a cart. UnitPriceCents is captured at
// add-time; repricing happens in the calculator, not by mutating lines.
type CartLine struct {
	ID             uuid.UUID
	CartID         uuid.UUID
	ProductID      uuid.UUID
	ProductName    string
	SKU            string
	Quantity       int32
	UnitPriceCents int64
	GiftWrap       bool
	Customization  string
	AddedAt        time.Time
}

// CartSummary aggregates a cart with its lines and the running subtotal.
type CartSummary struct {
	Cart          Cart
	Lines         []CartLine
	SubtotalCents int64
	ItemCount     int32
}

// CouponType determines how a coupon's value is applied.
type CouponType string

const (
	CouponPercent      CouponType = "PERCENT"
	CouponFixedAmount  CouponType = "FIXED_AMOUNT"
	CouponFreeShipping CouponType = "FREE_SHIPPING"
)

// Coupon is a promotion looked up by code during pricing. A coupon that
// fails any check is worth zero plus a warning - never a hard error.
type Coupon struct {
	Code             string
	Type             CouponType
	PercentOff       int32 // for PERCENT, 1-100
	AmountOffCents   int64 // for FIXED_AMOUNT
	MinSubtotalCents int64
	ExpiresAt        time.Time
	Active           bool
}

// Usable reports whether the coupon applies to a subtotal at a given time.
// The returned reason is a user-facing warning when not usable.
func (c *Coupon) Usable(subtotalCents int64, now time.Time) (bool, string) {
	if !c.Active {
		return false, "coupon " + c.Code + " is no longer active"
	}
	if !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt) {
		return false, "coupon " + c.Code + " has expired"
	}
	if subtotalCents < c.MinSubtotalCents {
		return false, "coupon " + c.Code + " requires a higher order subtotal"
	}
	return true, ""
}
