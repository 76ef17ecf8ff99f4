package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/repository"
)

// fakeRepo is an in-memory Repository. Guarded updates mirror the
// SQL conditions of the postgres store.
type fakeRepo struct {
	// mu is held for the whole of WithTx, standing in for the row
	// locks a real transaction takes.
	mu sync.Mutex

	products     map[uuid.UUID]*repository.Product
	carts        map[uuid.UUID]*domain.Cart
	cartLines    map[uuid.UUID]*domain.CartLine
	coupons      map[string]*domain.Coupon
	reservations map[string]*domain.Reservation
	sessions     map[uuid.UUID]*domain.CheckoutSession
	orders       map[uuid.UUID]*domain.Order
	orderLines   map[uuid.UUID][]domain.OrderLine
	transitions  []domain.OrderTransition
	payments     map[uuid.UUID]*domain.Payment
	refunds      map[uuid.UUID]*domain.Refund

	// updateRefundStatusErr, when set, fails the next UpdateRefundStatus.
	updateRefundStatusErr error
	shipments    map[uuid.UUID]*domain.Shipment
	tracking     map[uuid.UUID][]domain.TrackingEvent
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		products:     make(map[uuid.UUID]*repository.Product),
		carts:        make(map[uuid.UUID]*domain.Cart),
		cartLines:    make(map[uuid.UUID]*domain.CartLine),
		coupons:      make(map[string]*domain.Coupon),
		reservations: make(map[string]*domain.Reservation),
		sessions:     make(map[uuid.UUID]*domain.CheckoutSession),
		orders:       make(map[uuid.UUID]*domain.Order),
		orderLines:   make(map[uuid.UUID][]domain.OrderLine),
		payments:     make(map[uuid.UUID]*domain.Payment),
		refunds:      make(map[uuid.UUID]*domain.Refund),
		shipments:    make(map[uuid.UUID]*domain.Shipment),
		tracking:     make(map[uuid.UUID][]domain.TrackingEvent),
	}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(q repository.Querier) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(f)
}

// Products

func (f *fakeRepo) GetProduct(ctx context.Context, id uuid.UUID) (*repository.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, domain.NotFound("product.get", "product", id.String())
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) GetProductStock(ctx context.Context, id uuid.UUID) (int32, error) {
	p, ok := f.products[id]
	if !ok {
		return 0, domain.NotFound("product.get", "product", id.String())
	}
	return p.StockQuantity, nil
}

func (f *fakeRepo) AdjustProductStock(ctx context.Context, params repository.AdjustStockParams) error {
	p, ok := f.products[params.ProductID]
	if !ok {
		return domain.NotFound("product.adjust", "product", params.ProductID.String())
	}
	if p.StockQuantity+params.Delta < 0 {
		return domain.Conflict("product.adjust", "insufficient stock")
	}
	p.StockQuantity += params.Delta
	return nil
}

// Carts

func (f *fakeRepo) CreateCart(ctx context.Context, customerID uuid.UUID) (*domain.Cart, error) {
	cart := &domain.Cart{
		ID:         uuid.New(),
		CustomerID: customerID,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	f.carts[cart.ID] = cart
	cp := *cart
	return &cp, nil
}

func (f *fakeRepo) GetCart(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	c, ok := f.carts[id]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeRepo) ListCartLines(ctx context.Context, cartID uuid.UUID) ([]domain.CartLine, error) {
	var lines []domain.CartLine
	for _, line := range f.cartLines {
		if line.CartID == cartID {
			lines = append(lines, *line)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].AddedAt.Before(lines[j].AddedAt) })
	return lines, nil
}

func (f *fakeRepo) UpsertCartLine(ctx context.Context, params repository.UpsertCartLineParams) (*domain.CartLine, error) {
	for _, line := range f.cartLines {
		if line.CartID == params.CartID && line.ProductID == params.ProductID {
			line.Quantity += params.Quantity
			cp := *line
			return &cp, nil
		}
	}
	line := &domain.CartLine{
		ID:             uuid.New(),
		CartID:         params.CartID,
		ProductID:      params.ProductID,
		Quantity:       params.Quantity,
		UnitPriceCents: params.UnitPriceCents,
		GiftWrap:       params.GiftWrap,
		Customization:  params.Customization,
		AddedAt:        time.Now(),
	}
	if p, ok := f.products[params.ProductID]; ok {
		line.ProductName = p.Name
		line.SKU = p.SKU
	}
	f.cartLines[line.ID] = line
	cp := *line
	return &cp, nil
}

func (f *fakeRepo) UpdateCartLineQuantity(ctx context.Context, lineID uuid.UUID, quantity int32) error {
	line, ok := f.cartLines[lineID]
	if !ok {
		return domain.ErrCartItemNotFound
	}
	line.Quantity = quantity
	return nil
}

func (f *fakeRepo) DeleteCartLine(ctx context.Context, lineID uuid.UUID) error {
	if _, ok := f.cartLines[lineID]; !ok {
		return domain.ErrCartItemNotFound
	}
	delete(f.cartLines, lineID)
	return nil
}

func (f *fakeRepo) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	for id, line := range f.cartLines {
		if line.CartID == cartID {
			delete(f.cartLines, id)
		}
	}
	return nil
}

func (f *fakeRepo) SetCartCoupon(ctx context.Context, cartID uuid.UUID, code string) error {
	c, ok := f.carts[cartID]
	if !ok {
		return domain.ErrCartNotFound
	}
	c.CouponCode = code
	return nil
}

// Coupons

func (f *fakeRepo) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	c, ok := f.coupons[code]
	if !ok {
		return nil, domain.NotFound("coupon.get", "coupon", code)
	}
	cp := *c
	return &cp, nil
}

// Reservations

func (f *fakeRepo) CreateReservation(ctx context.Context, r *domain.Reservation) error {
	cp := *r
	f.reservations[r.Token] = &cp
	return nil
}

func (f *fakeRepo) GetReservationByToken(ctx context.Context, token string) (*domain.Reservation, error) {
	r, ok := f.reservations[token]
	if !ok {
		return nil, domain.NotFound("reservation.get", "reservation", token)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRepo) ListReservationsByStatus(ctx context.Context, status domain.ReservationStatus) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, r := range f.reservations {
		if r.Status == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListExpiredHeldReservations(ctx context.Context, cutoff time.Time) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, r := range f.reservations {
		if r.Status == domain.ReservationHeld && r.ExpiresAt.Before(cutoff) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateReservationStatus(ctx context.Context, token string, from, to domain.ReservationStatus) (bool, error) {
	r, ok := f.reservations[token]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	return true, nil
}

// Checkout sessions

func (f *fakeRepo) CreateCheckoutSession(ctx context.Context, s *domain.CheckoutSession) error {
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeRepo) GetCheckoutSession(ctx context.Context, id uuid.UUID) (*domain.CheckoutSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, domain.NotFound("checkout.get", "checkout session", id.String())
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRepo) UpdateCheckoutSession(ctx context.Context, s *domain.CheckoutSession) error {
	if _, ok := f.sessions[s.ID]; !ok {
		return domain.NotFound("checkout.update", "checkout session", s.ID.String())
	}
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

// Orders

func (f *fakeRepo) CreateOrder(ctx context.Context, o *domain.Order, lines []domain.OrderLine) error {
	cp := *o
	cp.Lines = nil
	f.orders[o.ID] = &cp
	f.orderLines[o.ID] = append([]domain.OrderLine(nil), lines...)
	return nil
}

func (f *fakeRepo) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, domain.NotFound("order.get", "order", id.String())
	}
	cp := *o
	return &cp, nil
}

func (f *fakeRepo) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	for _, o := range f.orders {
		if o.OrderNumber == number {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.NotFound("order.get", "order", number)
}

func (f *fakeRepo) ListOrderLines(ctx context.Context, orderID uuid.UUID) ([]domain.OrderLine, error) {
	return append([]domain.OrderLine(nil), f.orderLines[orderID]...), nil
}

func (f *fakeRepo) ListOrdersByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeRepo) UpdateOrderStatus(ctx context.Context, params repository.UpdateOrderStatusParams) (bool, error) {
	o, ok := f.orders[params.OrderID]
	if !ok || o.Status != params.From || o.Version != params.Version {
		return false, nil
	}
	o.Status = params.To
	o.Version++
	now := time.Now()
	switch params.To {
	case domain.OrderConfirmed:
		o.ConfirmedAt = now
	case domain.OrderShipped:
		o.ShippedAt = now
	case domain.OrderDelivered:
		o.DeliveredAt = now
	case domain.OrderCancelled:
		o.CancelledAt = now
	}
	return true, nil
}

func (f *fakeRepo) SetOrderShipment(ctx context.Context, orderID, shipmentID uuid.UUID) error {
	o, ok := f.orders[orderID]
	if !ok {
		return domain.NotFound("order.attach_shipment", "order", orderID.String())
	}
	o.ShipmentID = shipmentID
	return nil
}

func (f *fakeRepo) InsertOrderTransition(ctx context.Context, t *domain.OrderTransition) error {
	if t.IdempotencyKey != "" {
		for _, existing := range f.transitions {
			if existing.IdempotencyKey == t.IdempotencyKey {
				return domain.Conflict("order.transition", "duplicate idempotency key")
			}
		}
	}
	f.transitions = append(f.transitions, *t)
	return nil
}

func (f *fakeRepo) GetOrderTransitionByKey(ctx context.Context, idempotencyKey string) (*domain.OrderTransition, error) {
	for i := range f.transitions {
		if f.transitions[i].IdempotencyKey == idempotencyKey {
			cp := f.transitions[i]
			return &cp, nil
		}
	}
	return nil, domain.NotFound("order.transition", "transition", idempotencyKey)
}

func (f *fakeRepo) ListOrderTransitions(ctx context.Context, orderID uuid.UUID) ([]domain.OrderTransition, error) {
	var out []domain.OrderTransition
	for _, t := range f.transitions {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Payments

func (f *fakeRepo) CreatePayment(ctx context.Context, p *domain.Payment) error {
	cp := *p
	f.payments[p.ID] = &cp
	return nil
}

func (f *fakeRepo) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, domain.NotFound("payment.get", "payment", id.String())
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return f.GetPayment(ctx, id)
}

func (f *fakeRepo) GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	for _, p := range f.payments {
		if p.OrderID == orderID && orderID != uuid.Nil {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.NotFound("payment.get", "payment", orderID.String())
}

func (f *fakeRepo) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	for _, p := range f.payments {
		if p.IdempotencyKey == key {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.NotFound("payment.get", "payment", key)
}

func (f *fakeRepo) GetPaymentByProviderID(ctx context.Context, providerTransactionID string) (*domain.Payment, error) {
	for _, p := range f.payments {
		if p.ProviderTransactionID == providerTransactionID && providerTransactionID != "" {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.NotFound("payment.get", "payment", providerTransactionID)
}

func (f *fakeRepo) UpdatePaymentStatus(ctx context.Context, params repository.UpdatePaymentStatusParams) (bool, error) {
	p, ok := f.payments[params.PaymentID]
	if !ok || p.Status != params.From {
		return false, nil
	}
	p.Status = params.To
	if params.ProviderCaptureID != "" {
		p.ProviderTransactionID = params.ProviderCaptureID
	} else if params.ProviderPaymentID != "" {
		p.ProviderTransactionID = params.ProviderPaymentID
	}
	p.Version++
	return true, nil
}

func (f *fakeRepo) SetPaymentOrder(ctx context.Context, paymentID, orderID uuid.UUID) error {
	p, ok := f.payments[paymentID]
	if !ok {
		return domain.NotFound("payment.attach", "payment", paymentID.String())
	}
	p.OrderID = orderID
	return nil
}

func (f *fakeRepo) SetPaymentNeedsReconciliation(ctx context.Context, id uuid.UUID, needs bool) error {
	p, ok := f.payments[id]
	if !ok {
		return domain.NotFound("payment.reconcile", "payment", id.String())
	}
	p.NeedsReconciliation = needs
	return nil
}

func (f *fakeRepo) CreateRefund(ctx context.Context, r *domain.Refund) error {
	cp := *r
	f.refunds[r.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdateRefundStatus(ctx context.Context, id uuid.UUID, status domain.RefundStatus) error {
	if f.updateRefundStatusErr != nil {
		err := f.updateRefundStatusErr
		f.updateRefundStatusErr = nil
		return err
	}
	r, ok := f.refunds[id]
	if !ok {
		return domain.NotFound("refund.update", "refund", id.String())
	}
	r.Status = status
	if status == domain.RefundCompleted {
		r.CompletedAt = time.Now()
	}
	return nil
}

func (f *fakeRepo) SumCompletedRefunds(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	var sum int64
	for _, r := range f.refunds {
		if r.PaymentID == paymentID && r.Status == domain.RefundCompleted {
			sum += r.AmountCents
		}
	}
	return sum, nil
}

func (f *fakeRepo) SumActiveRefunds(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	var sum int64
	for _, r := range f.refunds {
		if r.PaymentID == paymentID && r.Status != domain.RefundFailed {
			sum += r.AmountCents
		}
	}
	return sum, nil
}

// Shipments

func (f *fakeRepo) CreateShipment(ctx context.Context, s *domain.Shipment) error {
	cp := *s
	f.shipments[s.ID] = &cp
	return nil
}

func (f *fakeRepo) GetShipment(ctx context.Context, id uuid.UUID) (*domain.Shipment, error) {
	s, ok := f.shipments[id]
	if !ok {
		return nil, domain.NotFound("shipment.get", "shipment", id.String())
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRepo) GetShipmentByTracking(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	for _, s := range f.shipments {
		if s.TrackingNumber == trackingNumber {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.NotFound("shipment.get", "shipment", trackingNumber)
}

func (f *fakeRepo) ListShipmentsByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Shipment, error) {
	var out []domain.Shipment
	for _, s := range f.shipments {
		if s.OrderID == orderID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateShipmentStatus(ctx context.Context, params repository.UpdateShipmentStatusParams) error {
	s, ok := f.shipments[params.ShipmentID]
	if !ok {
		return domain.NotFound("shipment.update", "shipment", params.ShipmentID.String())
	}
	s.Status = params.Status
	s.LastEventAt = params.LastEventAt
	if params.Status == domain.ShipmentDelivered {
		s.DeliveredAt = params.LastEventAt
	}
	return nil
}

func (f *fakeRepo) InsertTrackingEvent(ctx context.Context, e *domain.TrackingEvent) error {
	f.tracking[e.ShipmentID] = append(f.tracking[e.ShipmentID], *e)
	return nil
}

func (f *fakeRepo) ListTrackingEvents(ctx context.Context, shipmentID uuid.UUID) ([]domain.TrackingEvent, error) {
	return append([]domain.TrackingEvent(nil), f.tracking[shipmentID]...), nil
}

var _ Repository = (*fakeRepo)(nil)
