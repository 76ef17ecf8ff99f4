package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/notification"
	"github.com/verdandi/shop/internal/repository"
	"github.com/verdandi/shop/internal/telemetry"
)

// OrderService applies the order lifecycle. Every status change goes
// through ApplyTransition so the transition table, guards and audit
// trail cannot be bypassed.
type OrderService interface {
	// GetOrder returns an order with its lines.
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)

	// GetOrderByNumber returns an order by its external order number.
	GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error)

	// ListCustomerOrders returns a customer's orders, newest first.
	ListCustomerOrders(ctx context.Context, customerID uuid.UUID) ([]domain.Order, error)

	// ListTransitions returns the audit trail of an order.
	ListTransitions(ctx context.Context, orderID uuid.UUID) ([]domain.OrderTransition, error)

	// ApplyTransition moves an order to a new status. A repeated
	// idempotency key is a no-op success returning the current order.
	ApplyTransition(ctx context.Context, params TransitionParams) (*domain.Order, error)

	// Cancel cancels an order, restocks its lines and refunds any
	// captured payment.
	Cancel(ctx context.Context, params CancelParams) (*domain.Order, error)

	// Return marks a delivered order returned and refunds it.
	Return(ctx context.Context, params ReturnParams) (*domain.Order, error)
}

// TransitionParams contains parameters for one status transition.
type TransitionParams struct {
	OrderID uuid.UUID
	To      domain.OrderStatus
	Reason  string

	// IdempotencyKey dedupes retried webhooks and admin actions.
	// Empty keys skip deduplication.
	IdempotencyKey string
}

// CancelParams contains parameters for cancelling an order.
type CancelParams struct {
	OrderID        uuid.UUID
	Reason         string
	IdempotencyKey string
}

// ReturnParams contains parameters for returning a delivered order.
type ReturnParams struct {
	OrderID        uuid.UUID
	Reason         string
	IdempotencyKey string
}

type orderService struct {
	repo      Repository
	payments  PaymentService
	publisher notification.Publisher
	metrics   *telemetry.BusinessMetrics
	logger    zerolog.Logger
}

// NewOrderService creates a new OrderService instance.
// metrics may be nil in tests.
func NewOrderService(
	repo Repository,
	payments PaymentService,
	publisher notification.Publisher,
	metrics *telemetry.BusinessMetrics,
	logger zerolog.Logger,
) OrderService {
	return &orderService{
		repo:      repo,
		payments:  payments,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

func (s *orderService) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Lines, err = s.repo.ListOrderLines(ctx, id)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	order, err := s.repo.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	order.Lines, err = s.repo.ListOrderLines(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *orderService) ListCustomerOrders(ctx context.Context, customerID uuid.UUID) ([]domain.Order, error) {
	return s.repo.ListOrdersByCustomer(ctx, customerID)
}

func (s *orderService) ListTransitions(ctx context.Context, orderID uuid.UUID) ([]domain.OrderTransition, error) {
	return s.repo.ListOrderTransitions(ctx, orderID)
}

func (s *orderService) ApplyTransition(ctx context.Context, params TransitionParams) (*domain.Order, error) {
	if !params.To.Valid() {
		return nil, domain.Invalid("order.transition", "unknown order status "+string(params.To))
	}

	if params.IdempotencyKey != "" {
		existing, err := s.repo.GetOrderTransitionByKey(ctx, params.IdempotencyKey)
		if err != nil && !domain.IsCode(err, domain.ENOTFOUND) {
			return nil, err
		}
		if existing != nil {
			return s.GetOrder(ctx, existing.OrderID)
		}
	}

	order, err := s.repo.GetOrder(ctx, params.OrderID)
	if err != nil {
		return nil, err
	}

	if !order.Status.CanTransition(params.To) {
		return nil, &domain.TransitionError{
			Entity: "order",
			From:   string(order.Status),
			To:     string(params.To),
		}
	}
	if err := checkTransitionGuards(order, params); err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.repo.WithTx(ctx, func(q repository.Querier) error {
		moved, err := q.UpdateOrderStatus(ctx, repository.UpdateOrderStatusParams{
			OrderID: order.ID,
			From:    order.Status,
			To:      params.To,
			Version: order.Version,
		})
		if err != nil {
			return err
		}
		if !moved {
			// Another writer advanced the order first. Callers re-read
			// and decide; the transition is never forced.
			return &domain.TransitionError{
				Entity: "order",
				From:   string(order.Status),
				To:     string(params.To),
				Reason: "order changed concurrently",
			}
		}
		return q.InsertOrderTransition(ctx, &domain.OrderTransition{
			ID:             uuid.New(),
			OrderID:        order.ID,
			FromStatus:     order.Status,
			ToStatus:       params.To,
			Reason:         params.Reason,
			IdempotencyKey: params.IdempotencyKey,
			AppliedAt:      now,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.OrderTransitions.WithLabelValues(string(order.Status), string(params.To)).Inc()
	}
	s.logger.Info().
		Str("order_id", order.ID.String()).
		Str("from", string(order.Status)).
		Str("to", string(params.To)).
		Msg("order transition applied")

	order.Status = params.To
	order.Version++
	switch params.To {
	case domain.OrderConfirmed:
		order.ConfirmedAt = now
	case domain.OrderShipped:
		order.ShippedAt = now
	case domain.OrderDelivered:
		order.DeliveredAt = now
	case domain.OrderCancelled:
		order.CancelledAt = now
		order.CancellationReason = params.Reason
	case domain.OrderReturned:
		order.ReturnReason = params.Reason
	}

	s.notifyTransition(ctx, order, params.Reason)
	return order, nil
}

// checkTransitionGuards enforces preconditions beyond the transition
// table itself.
func checkTransitionGuards(order *domain.Order, params TransitionParams) error {
	switch params.To {
	case domain.OrderCancelled, domain.OrderReturned:
		if params.Reason == "" {
			return ErrReasonRequired
		}
	case domain.OrderShipped:
		if order.ShipmentID == uuid.Nil {
			return ErrTrackingRequired
		}
	}
	return nil
}

func (s *orderService) Cancel(ctx context.Context, params CancelParams) (*domain.Order, error) {
	if params.Reason == "" {
		return nil, ErrReasonRequired
	}

	order, err := s.repo.GetOrder(ctx, params.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.Cancellable() {
		return nil, &domain.TransitionError{
			Entity: "order",
			From:   string(order.Status),
			To:     string(domain.OrderCancelled),
			Reason: "order can no longer be cancelled",
		}
	}

	order, err = s.ApplyTransition(ctx, TransitionParams{
		OrderID:        params.OrderID,
		To:             domain.OrderCancelled,
		Reason:         params.Reason,
		IdempotencyKey: params.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	// Stock was decremented when the reservation was consumed; a
	// cancelled order puts it back.
	lines, err := s.repo.ListOrderLines(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if err := s.repo.AdjustProductStock(ctx, repository.AdjustStockParams{
			ProductID: line.ProductID,
			Delta:     line.Quantity,
		}); err != nil {
			s.logger.Error().Err(err).
				Str("order_id", order.ID.String()).
				Str("product_id", line.ProductID.String()).
				Msg("failed to restock cancelled order line")
		}
	}

	stage := "before_capture"
	order, err = s.refundIfCaptured(ctx, order, "order cancelled: "+params.Reason, params.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.OrderRefunded {
		stage = "after_capture"
	}

	if s.metrics != nil {
		s.metrics.OrdersCancelled.WithLabelValues(stage).Inc()
	}
	return order, nil
}

func (s *orderService) Return(ctx context.Context, params ReturnParams) (*domain.Order, error) {
	if params.Reason == "" {
		return nil, ErrReasonRequired
	}

	order, err := s.ApplyTransition(ctx, TransitionParams{
		OrderID:        params.OrderID,
		To:             domain.OrderReturned,
		Reason:         params.Reason,
		IdempotencyKey: params.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	return s.refundIfCaptured(ctx, order, "order returned: "+params.Reason, params.IdempotencyKey)
}

// refundIfCaptured refunds the full captured amount and advances the
// order to REFUNDED. Orders whose payment never captured are done
// already.
func (s *orderService) refundIfCaptured(ctx context.Context, order *domain.Order, reason, idempotencyKey string) (*domain.Order, error) {
	payment, err := s.repo.GetPaymentByOrder(ctx, order.ID)
	if domain.IsCode(err, domain.ENOTFOUND) {
		return order, nil
	}
	if err != nil {
		return nil, err
	}
	if !payment.Status.Refundable() {
		return order, nil
	}

	refundKey := ""
	if idempotencyKey != "" {
		refundKey = "refund:" + idempotencyKey
	}
	if _, err := s.payments.Refund(ctx, RefundPaymentParams{
		PaymentID:      payment.ID,
		Reason:         reason,
		IdempotencyKey: refundKey,
	}); err != nil {
		// The cancellation or return is already applied; a refund
		// failure must not undo it. Flag the payment so an operator
		// settles the money side.
		if flagErr := s.repo.SetPaymentNeedsReconciliation(ctx, payment.ID, true); flagErr != nil {
			s.logger.Error().Err(flagErr).
				Str("payment_id", payment.ID.String()).
				Msg("failed to flag payment for reconciliation")
		}
		s.logger.Error().Err(err).
			Str("order_id", order.ID.String()).
			Str("payment_id", payment.ID.String()).
			Msg("refund failed; payment flagged for reconciliation")
		return order, nil
	}

	transitionKey := ""
	if idempotencyKey != "" {
		transitionKey = "refunded:" + idempotencyKey
	}
	return s.ApplyTransition(ctx, TransitionParams{
		OrderID:        order.ID,
		To:             domain.OrderRefunded,
		Reason:         reason,
		IdempotencyKey: transitionKey,
	})
}

func (s *orderService) notifyTransition(ctx context.Context, order *domain.Order, reason string) {
	if s.publisher == nil {
		return
	}

	var subject string
	switch order.Status {
	case domain.OrderCancelled:
		subject = notification.SubjectOrderCancelled
	case domain.OrderShipped:
		subject = notification.SubjectOrderShipped
	case domain.OrderDelivered:
		subject = notification.SubjectOrderDelivered
	case domain.OrderRefunded:
		subject = notification.SubjectOrderRefunded
	default:
		return
	}

	event := notification.OrderEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		TotalCents:  order.TotalCents,
		Currency:    order.Currency,
		Reason:      reason,
		OccurredAt:  time.Now(),
	}
	if err := s.publisher.Publish(ctx, subject, event); err != nil {
		s.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish order event")
	}
}
