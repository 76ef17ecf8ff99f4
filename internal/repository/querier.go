// Package repository provides PostgreSQL persistence for the checkout
// and order lifecycle. Queries are hand-written against pgx and return
// domain types directly.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/verdandi/shop/internal/domain"
)

// Querier is the persistence surface used by the service layer.
// Store implements it against a pool; WithTx hands callers a Querier
// bound to a transaction.
type Querier interface {
	// Products
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	GetProductStock(ctx context.Context, id uuid.UUID) (int32, error)
	AdjustProductStock(ctx context.Context, params AdjustStockParams) error

	// Carts
	CreateCart(ctx context.Context, customerID uuid.UUID) (*domain.Cart, error)
	GetCart(ctx context.Context, id uuid.UUID) (*domain.Cart, error)
	ListCartLines(ctx context.Context, cartID uuid.UUID) ([]domain.CartLine, error)
	UpsertCartLine(ctx context.Context, params UpsertCartLineParams) (*domain.CartLine, error)
	UpdateCartLineQuantity(ctx context.Context, lineID uuid.UUID, quantity int32) error
	DeleteCartLine(ctx context.Context, lineID uuid.UUID) error
	ClearCart(ctx context.Context, cartID uuid.UUID) error
	SetCartCoupon(ctx context.Context, cartID uuid.UUID, code string) error

	// Coupons
	GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error)

	// Reservations
	CreateReservation(ctx context.Context, r *domain.Reservation) error
	GetReservationByToken(ctx context.Context, token string) (*domain.Reservation, error)
	ListReservationsByStatus(ctx context.Context, status domain.ReservationStatus) ([]domain.Reservation, error)
	ListExpiredHeldReservations(ctx context.Context, cutoff time.Time) ([]domain.Reservation, error)
	// UpdateReservationStatus transitions a reservation and reports
	// whether the row actually moved from the expected status.
	UpdateReservationStatus(ctx context.Context, token string, from, to domain.ReservationStatus) (bool, error)

	// Checkout sessions
	CreateCheckoutSession(ctx context.Context, s *domain.CheckoutSession) error
	GetCheckoutSession(ctx context.Context, id uuid.UUID) (*domain.CheckoutSession, error)
	UpdateCheckoutSession(ctx context.Context, s *domain.CheckoutSession) error

	// Orders
	CreateOrder(ctx context.Context, o *domain.Order, lines []domain.OrderLine) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error)
	ListOrderLines(ctx context.Context, orderID uuid.UUID) ([]domain.OrderLine, error)
	ListOrdersByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Order, error)
	// UpdateOrderStatus applies optimistic concurrency: the update only
	// lands when the stored version matches the caller's version.
	UpdateOrderStatus(ctx context.Context, params UpdateOrderStatusParams) (bool, error)
	// SetOrderShipment links an order to its shipment record.
	SetOrderShipment(ctx context.Context, orderID, shipmentID uuid.UUID) error
	InsertOrderTransition(ctx context.Context, t *domain.OrderTransition) error
	GetOrderTransitionByKey(ctx context.Context, idempotencyKey string) (*domain.OrderTransition, error)
	ListOrderTransitions(ctx context.Context, orderID uuid.UUID) ([]domain.OrderTransition, error)

	// Payments
	CreatePayment(ctx context.Context, p *domain.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	// GetPaymentForUpdate locks the payment row for the rest of the
	// transaction, serializing concurrent refund attempts against it.
	GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error)
	GetPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error)
	GetPaymentByProviderID(ctx context.Context, providerTransactionID string) (*domain.Payment, error)
	UpdatePaymentStatus(ctx context.Context, params UpdatePaymentStatusParams) (bool, error)
	// SetPaymentOrder links a payment to its order once the order
	// materializes. Payments are created before the order exists.
	SetPaymentOrder(ctx context.Context, paymentID, orderID uuid.UUID) error
	SetPaymentNeedsReconciliation(ctx context.Context, id uuid.UUID, needs bool) error
	CreateRefund(ctx context.Context, r *domain.Refund) error
	UpdateRefundStatus(ctx context.Context, id uuid.UUID, status domain.RefundStatus) error
	SumCompletedRefunds(ctx context.Context, paymentID uuid.UUID) (int64, error)
	// SumActiveRefunds counts PENDING rows as well, so a refund still
	// in flight at the provider reserves its amount.
	SumActiveRefunds(ctx context.Context, paymentID uuid.UUID) (int64, error)

	// Shipments
	CreateShipment(ctx context.Context, s *domain.Shipment) error
	GetShipment(ctx context.Context, id uuid.UUID) (*domain.Shipment, error)
	GetShipmentByTracking(ctx context.Context, trackingNumber string) (*domain.Shipment, error)
	ListShipmentsByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Shipment, error)
	UpdateShipmentStatus(ctx context.Context, params UpdateShipmentStatusParams) error
	InsertTrackingEvent(ctx context.Context, e *domain.TrackingEvent) error
	ListTrackingEvents(ctx context.Context, shipmentID uuid.UUID) ([]domain.TrackingEvent, error)
}

// Product is the catalog row as persisted, including live stock.
type Product struct {
	ID            uuid.UUID
	Name          string
	SKU           string
	PriceCents    int64
	Currency      string
	StockQuantity int32
	WeightGrams   int32
	TaxCategory   string
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AdjustStockParams changes a product's stock by a signed delta.
// Negative deltas only land when enough stock remains.
type AdjustStockParams struct {
	ProductID uuid.UUID
	Delta     int32
}

// UpsertCartLineParams adds a product to a cart, bumping quantity when
// the product is already present.
type UpsertCartLineParams struct {
	CartID         uuid.UUID
	ProductID      uuid.UUID
	Quantity       int32
	UnitPriceCents int64
	GiftWrap       bool
	Customization  string
}

// UpdateOrderStatusParams moves an order between statuses under
// optimistic concurrency.
type UpdateOrderStatusParams struct {
	OrderID uuid.UUID
	From    domain.OrderStatus
	To      domain.OrderStatus
	Version int32
}

// UpdatePaymentStatusParams moves a payment between statuses.
type UpdatePaymentStatusParams struct {
	PaymentID uuid.UUID
	From      domain.PaymentStatus
	To        domain.PaymentStatus

	// Optional provider identifiers recorded on capture.
	ProviderPaymentID string
	ProviderCaptureID string
}

// UpdateShipmentStatusParams records a shipment's latest carrier status.
type UpdateShipmentStatusParams struct {
	ShipmentID  uuid.UUID
	Status      domain.ShipmentStatus
	LastEventAt time.Time
}
