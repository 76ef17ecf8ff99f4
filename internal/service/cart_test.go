package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdandi/shop/internal/catalog"
	"github.com/verdandi/shop/internal/domain"
)

type cartFixture struct {
	repo    *fakeRepo
	catalog *catalog.MockProvider
	carts   CartService

	cartID    uuid.UUID
	productID uuid.UUID
}

func newCartFixture(t *testing.T) *cartFixture {
	t.Helper()

	repo := newFakeRepo()
	cat := catalog.NewMockProvider()

	productID := uuid.New()
	cat.Add(&catalog.Product{
		ID:         productID,
		Name:       "Hand-thrown Mug",
		SKU:        "MUG-001",
		PriceCents: 2500,
		Currency:   "USD",
		Active:     true,
	})

	carts := NewCartService(repo, cat, zerolog.Nop())
	cart, err := carts.CreateCart(context.Background(), uuid.New())
	require.NoError(t, err)

	return &cartFixture{
		repo:      repo,
		catalog:   cat,
		carts:     carts,
		cartID:    cart.ID,
		productID: productID,
	}
}

func TestCart_AddItemCapturesPriceAtAddTime(t *testing.T) {
	fx := newCartFixture(t)
	ctx := context.Background()

	line, err := fx.carts.AddItem(ctx, AddItemParams{
		CartID:    fx.cartID,
		ProductID: fx.productID,
		Quantity:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), line.UnitPriceCents)

	// A later catalog price change does not touch lines already in
	// the cart.
	fx.catalog.Add(&catalog.Product{
		ID:         fx.productID,
		Name:       "Hand-thrown Mug",
		SKU:        "MUG-001",
		PriceCents: 9900,
		Currency:   "USD",
		Active:     true,
	})

	summary, err := fx.carts.GetCartSummary(ctx, fx.cartID)
	require.NoError(t, err)
	require.Len(t, summary.Lines, 1)
	assert.Equal(t, int64(2500), summary.Lines[0].UnitPriceCents)
	assert.Equal(t, int64(5000), summary.SubtotalCents)
}

func TestCart_AddingSameProductBumpsQuantity(t *testing.T) {
	fx := newCartFixture(t)
	ctx := context.Background()

	_, err := fx.carts.AddItem(ctx, AddItemParams{
		CartID: fx.cartID, ProductID: fx.productID, Quantity: 1,
	})
	require.NoError(t, err)
	line, err := fx.carts.AddItem(ctx, AddItemParams{
		CartID: fx.cartID, ProductID: fx.productID, Quantity: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), line.Quantity)

	summary, err := fx.carts.GetCartSummary(ctx, fx.cartID)
	require.NoError(t, err)
	assert.Len(t, summary.Lines, 1)
	assert.Equal(t, int32(3), summary.ItemCount)
}

func TestCart_AddItemRejectsInvalidQuantity(t *testing.T) {
	fx := newCartFixture(t)

	_, err := fx.carts.AddItem(context.Background(), AddItemParams{
		CartID: fx.cartID, ProductID: fx.productID, Quantity: 0,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestCart_AddItemRejectsInactiveProduct(t *testing.T) {
	fx := newCartFixture(t)

	discontinued := uuid.New()
	fx.catalog.Add(&catalog.Product{
		ID:         discontinued,
		Name:       "Retired Teapot",
		SKU:        "TEA-900",
		PriceCents: 4500,
		Active:     false,
	})

	_, err := fx.carts.AddItem(context.Background(), AddItemParams{
		CartID: fx.cartID, ProductID: discontinued, Quantity: 1,
	})
	assert.True(t, domain.IsCode(err, domain.ECONFLICT))
}

func TestCart_LineOperationsScopedToCart(t *testing.T) {
	fx := newCartFixture(t)
	ctx := context.Background()

	line, err := fx.carts.AddItem(ctx, AddItemParams{
		CartID: fx.cartID, ProductID: fx.productID, Quantity: 1,
	})
	require.NoError(t, err)

	other, err := fx.carts.CreateCart(ctx, uuid.New())
	require.NoError(t, err)

	// A line ID from someone else's cart is not reachable.
	err = fx.carts.UpdateItemQuantity(ctx, other.ID, line.ID, 5)
	assert.ErrorIs(t, err, domain.ErrCartItemNotFound)
	err = fx.carts.RemoveItem(ctx, other.ID, line.ID)
	assert.ErrorIs(t, err, domain.ErrCartItemNotFound)

	require.NoError(t, fx.carts.UpdateItemQuantity(ctx, fx.cartID, line.ID, 5))
	summary, err := fx.carts.GetCartSummary(ctx, fx.cartID)
	require.NoError(t, err)
	assert.Equal(t, int32(5), summary.ItemCount)

	require.NoError(t, fx.carts.RemoveItem(ctx, fx.cartID, line.ID))
	summary, err = fx.carts.GetCartSummary(ctx, fx.cartID)
	require.NoError(t, err)
	assert.Empty(t, summary.Lines)
}

func TestCart_CouponRequiresMinimumSubtotal(t *testing.T) {
	fx := newCartFixture(t)
	ctx := context.Background()

	fx.repo.coupons["BIGSPEND"] = &domain.Coupon{
		Code:             "BIGSPEND",
		Type:             domain.CouponPercent,
		PercentOff:       15,
		MinSubtotalCents: 10000,
		Active:           true,
	}

	_, err := fx.carts.AddItem(ctx, AddItemParams{
		CartID: fx.cartID, ProductID: fx.productID, Quantity: 2,
	})
	require.NoError(t, err)

	// Subtotal is 5000, below the coupon floor.
	err = fx.carts.ApplyCoupon(ctx, fx.cartID, "BIGSPEND")
	assert.ErrorIs(t, err, ErrCouponNotApplicable)
	assert.True(t, domain.IsCode(err, domain.EINVALID))

	_, err = fx.carts.AddItem(ctx, AddItemParams{
		CartID: fx.cartID, ProductID: fx.productID, Quantity: 2,
	})
	require.NoError(t, err)

	require.NoError(t, fx.carts.ApplyCoupon(ctx, fx.cartID, "BIGSPEND"))
	cart, err := fx.repo.GetCart(ctx, fx.cartID)
	require.NoError(t, err)
	assert.Equal(t, "BIGSPEND", cart.CouponCode)
}

func TestCart_ExpiredCouponRejected(t *testing.T) {
	fx := newCartFixture(t)
	ctx := context.Background()

	fx.repo.coupons["LASTYEAR"] = &domain.Coupon{
		Code:       "LASTYEAR",
		Type:       domain.CouponPercent,
		PercentOff: 10,
		ExpiresAt:  time.Now().Add(-24 * time.Hour),
		Active:     true,
	}

	_, err := fx.carts.AddItem(ctx, AddItemParams{
		CartID: fx.cartID, ProductID: fx.productID, Quantity: 1,
	})
	require.NoError(t, err)

	err = fx.carts.ApplyCoupon(ctx, fx.cartID, "LASTYEAR")
	assert.ErrorIs(t, err, ErrCouponNotApplicable)
	assert.True(t, domain.IsCode(err, domain.EINVALID))
}

func TestCart_ClearRemovesLinesAndCoupon(t *testing.T) {
	fx := newCartFixture(t)
	ctx := context.Background()

	fx.repo.coupons["TEN-OFF"] = &domain.Coupon{
		Code:       "TEN-OFF",
		Type:       domain.CouponPercent,
		PercentOff: 10,
		Active:     true,
	}

	_, err := fx.carts.AddItem(ctx, AddItemParams{
		CartID: fx.cartID, ProductID: fx.productID, Quantity: 1,
	})
	require.NoError(t, err)
	require.NoError(t, fx.carts.ApplyCoupon(ctx, fx.cartID, "TEN-OFF"))

	require.NoError(t, fx.carts.ClearCart(ctx, fx.cartID))

	summary, err := fx.carts.GetCartSummary(ctx, fx.cartID)
	require.NoError(t, err)
	assert.Empty(t, summary.Lines)
	assert.Empty(t, summary.Cart.CouponCode)
}
