package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/verdandi/shop/internal/catalog"
	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/repository"
)

// CartService provides business logic for pre-checkout cart operations.
type CartService interface {
	// CreateCart creates an empty cart for a customer or anonymous session.
	CreateCart(ctx context.Context, customerID uuid.UUID) (*domain.Cart, error)

	// GetCartSummary returns the cart with its lines and running subtotal.
	GetCartSummary(ctx context.Context, cartID uuid.UUID) (*domain.CartSummary, error)

	// AddItem adds a product to the cart, bumping quantity if already present.
	// The unit price is captured from the catalog at add time.
	AddItem(ctx context.Context, params AddItemParams) (*domain.CartLine, error)

	// UpdateItemQuantity sets the quantity of an existing line.
	UpdateItemQuantity(ctx context.Context, cartID, lineID uuid.UUID, quantity int32) error

	// RemoveItem deletes a line from the cart.
	RemoveItem(ctx context.Context, cartID, lineID uuid.UUID) error

	// ClearCart removes every line and the coupon.
	ClearCart(ctx context.Context, cartID uuid.UUID) error

	// ApplyCoupon attaches a coupon code to the cart after checking it
	// applies to the current subtotal.
	ApplyCoupon(ctx context.Context, cartID uuid.UUID, code string) error

	// RemoveCoupon detaches any coupon from the cart.
	RemoveCoupon(ctx context.Context, cartID uuid.UUID) error
}

// AddItemParams contains parameters for adding a product to a cart.
type AddItemParams struct {
	CartID        uuid.UUID
	ProductID     uuid.UUID
	Quantity      int32
	GiftWrap      bool
	Customization string
}

type cartService struct {
	repo    Repository
	catalog catalog.Provider
	logger  zerolog.Logger
}

// NewCartService creates a new CartService instance.
func NewCartService(repo Repository, cat catalog.Provider, logger zerolog.Logger) CartService {
	return &cartService{
		repo:    repo,
		catalog: cat,
		logger:  logger,
	}
}

func (s *cartService) CreateCart(ctx context.Context, customerID uuid.UUID) (*domain.Cart, error) {
	return s.repo.CreateCart(ctx, customerID)
}

func (s *cartService) GetCartSummary(ctx context.Context, cartID uuid.UUID) (*domain.CartSummary, error) {
	cart, err := s.repo.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}

	lines, err := s.repo.ListCartLines(ctx, cartID)
	if err != nil {
		return nil, err
	}

	summary := &domain.CartSummary{
		Cart:  *cart,
		Lines: lines,
	}
	for _, line := range lines {
		summary.SubtotalCents += line.UnitPriceCents * int64(line.Quantity)
		summary.ItemCount += line.Quantity
	}
	return summary, nil
}

func (s *cartService) AddItem(ctx context.Context, params AddItemParams) (*domain.CartLine, error) {
	if params.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	if _, err := s.repo.GetCart(ctx, params.CartID); err != nil {
		return nil, err
	}

	product, err := s.catalog.GetProduct(ctx, params.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, domain.Conflict("cart.add_item", "product "+product.SKU+" is no longer available")
	}

	line, err := s.repo.UpsertCartLine(ctx, repository.UpsertCartLineParams{
		CartID:         params.CartID,
		ProductID:      params.ProductID,
		Quantity:       params.Quantity,
		UnitPriceCents: product.PriceCents,
		GiftWrap:       params.GiftWrap,
		Customization:  params.Customization,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("cart_id", params.CartID.String()).
		Str("sku", product.SKU).
		Int32("quantity", params.Quantity).
		Msg("cart item added")
	return line, nil
}

func (s *cartService) UpdateItemQuantity(ctx context.Context, cartID, lineID uuid.UUID, quantity int32) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	if err := s.lineBelongsToCart(ctx, cartID, lineID); err != nil {
		return err
	}
	return s.repo.UpdateCartLineQuantity(ctx, lineID, quantity)
}

func (s *cartService) RemoveItem(ctx context.Context, cartID, lineID uuid.UUID) error {
	if err := s.lineBelongsToCart(ctx, cartID, lineID); err != nil {
		return err
	}
	return s.repo.DeleteCartLine(ctx, lineID)
}

func (s *cartService) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	if err := s.repo.ClearCart(ctx, cartID); err != nil {
		return err
	}
	return s.repo.SetCartCoupon(ctx, cartID, "")
}

func (s *cartService) ApplyCoupon(ctx context.Context, cartID uuid.UUID, code string) error {
	summary, err := s.GetCartSummary(ctx, cartID)
	if err != nil {
		return err
	}

	coupon, err := s.repo.GetCouponByCode(ctx, code)
	if err != nil {
		return err
	}

	// Free-shipping coupons have no subtotal to compare against yet,
	// but the active and expiry checks still apply.
	if usable, reason := coupon.Usable(summary.SubtotalCents, time.Now()); !usable {
		return domain.WrapError(ErrCouponNotApplicable, domain.EINVALID, "cart.apply_coupon", reason)
	}

	return s.repo.SetCartCoupon(ctx, cartID, coupon.Code)
}

func (s *cartService) RemoveCoupon(ctx context.Context, cartID uuid.UUID) error {
	return s.repo.SetCartCoupon(ctx, cartID, "")
}

// lineBelongsToCart guards against line IDs from another customer's cart.
func (s *cartService) lineBelongsToCart(ctx context.Context, cartID, lineID uuid.UUID) error {
	lines, err := s.repo.ListCartLines(ctx, cartID)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if line.ID == lineID {
			return nil
		}
	}
	return domain.ErrCartItemNotFound
}
