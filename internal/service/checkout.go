package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/verdandi/shop/internal/address"
	"github.com/verdandi/shop/internal/billing"
	"github.com/verdandi/shop/internal/catalog"
	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/inventory"
	"github.com/verdandi/shop/internal/notification"
	"github.com/verdandi/shop/internal/pricing"
	"github.com/verdandi/shop/internal/repository"
	"github.com/verdandi/shop/internal/telemetry"
)

// CheckoutService drives one checkout attempt from start to order
// materialization. Each step advances the session's state; illegal
// step orders are rejected, never reordered.
type CheckoutService interface {
	// Start opens a checkout session for a cart.
	Start(ctx context.Context, params StartParams) (*domain.CheckoutSession, error)

	// Validate checks the cart is purchasable: non-empty, products
	// active, stock available. Hard errors block progression; soft
	// warnings (low stock, unusable coupon) do not. Safe to repeat.
	Validate(ctx context.Context, sessionID uuid.UUID) (*ValidationResult, error)

	// Prepare prices the cart and places an inventory hold. The quote
	// and hold stand together; a shortfall leaves nothing held.
	Prepare(ctx context.Context, params PrepareParams) (*PrepareResult, error)

	// Pay authorizes the quoted amount with the payment provider.
	Pay(ctx context.Context, params PayParams) (*PayResult, error)

	// Complete captures the authorized payment, consumes the hold and
	// materializes the order. Idempotent: repeating a completed
	// session returns the existing order.
	Complete(ctx context.Context, params CompleteParams) (*domain.Order, error)

	// Abandon releases the hold and closes the session.
	Abandon(ctx context.Context, sessionID uuid.UUID) error
}

// InventoryLedger is the hold surface the checkout needs.
// *inventory.Ledger satisfies it.
type InventoryLedger interface {
	Available(ctx context.Context, productID uuid.UUID) (int32, error)
	Reserve(ctx context.Context, params inventory.ReserveParams) (*domain.Reservation, error)
	Consume(ctx context.Context, token string) (*domain.Reservation, error)
	Release(ctx context.Context, token string) error
}

// Pricer produces quotes. *pricing.Calculator satisfies it.
type Pricer interface {
	Calculate(ctx context.Context, input pricing.Input) (*pricing.Quote, error)
}

// lowStockThreshold is the remaining-stock level below which
// validation warns without blocking.
const lowStockThreshold = 10

// ValidationResult reports whether a cart can proceed to payment.
// Errors and Shortfalls block progression; Warnings do not.
type ValidationResult struct {
	Valid      bool
	Errors     []string
	Warnings   []string
	Shortfalls []domain.Shortfall
	Summary    *domain.CartSummary
}

// StartParams contains parameters for opening a checkout session.
type StartParams struct {
	CartID     uuid.UUID
	CustomerID uuid.UUID
}

// PrepareParams contains parameters for pricing and reserving.
type PrepareParams struct {
	SessionID         uuid.UUID
	ShippingAddressID uuid.UUID
	BillingAddressID  uuid.UUID

	// ShippingService selects a carrier service code; empty picks the
	// cheapest rate.
	ShippingService string
}

// PrepareResult is the quote and the hold backing it.
type PrepareResult struct {
	Session     *domain.CheckoutSession
	Quote       *pricing.Quote
	Reservation *domain.Reservation
}

// PayParams contains parameters for authorizing payment.
type PayParams struct {
	SessionID     uuid.UUID
	Method        string // "paypal", "stripe"
	CustomerEmail string
}

// PayResult carries the authorization handles the client needs to
// finish the provider flow.
type PayResult struct {
	Payment      *domain.Payment
	ApprovalURL  string
	ClientSecret string
	AmountCents  int64
	Currency     string
}

// CompleteParams contains parameters for completing checkout. The
// address and service selections must match the prepared quote.
type CompleteParams struct {
	SessionID         uuid.UUID
	ShippingAddressID uuid.UUID
	BillingAddressID  uuid.UUID
	ShippingService   string
}

type checkoutService struct {
	repo      Repository
	carts     CartService
	ledger    InventoryLedger
	pricer    Pricer
	billing   billing.Provider
	addresses address.Resolver
	catalog   catalog.Provider
	publisher notification.Publisher
	metrics   *telemetry.BusinessMetrics
	logger    zerolog.Logger
	currency  string
}

// NewCheckoutService creates a new CheckoutService instance.
// metrics may be nil in tests.
func NewCheckoutService(
	repo Repository,
	carts CartService,
	ledger InventoryLedger,
	pricer Pricer,
	billingProvider billing.Provider,
	addresses address.Resolver,
	cat catalog.Provider,
	publisher notification.Publisher,
	metrics *telemetry.BusinessMetrics,
	logger zerolog.Logger,
	currency string,
) CheckoutService {
	if currency == "" {
		currency = "USD"
	}
	return &checkoutService{
		repo:      repo,
		carts:     carts,
		ledger:    ledger,
		pricer:    pricer,
		billing:   billingProvider,
		addresses: addresses,
		catalog:   cat,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		currency:  currency,
	}
}

func (s *checkoutService) Start(ctx context.Context, params StartParams) (*domain.CheckoutSession, error) {
	cart, err := s.repo.GetCart(ctx, params.CartID)
	if err != nil {
		return nil, err
	}

	session := &domain.CheckoutSession{
		ID:         uuid.New(),
		CartID:     cart.ID,
		CustomerID: params.CustomerID,
		State:      domain.CheckoutStarted,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := s.repo.CreateCheckoutSession(ctx, session); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.CheckoutStarted.WithLabelValues(s.currency).Inc()
	}
	s.logger.Info().
		Str("session_id", session.ID.String()).
		Str("cart_id", cart.ID.String()).
		Msg("checkout started")
	return session, nil
}

func (s *checkoutService) Validate(ctx context.Context, sessionID uuid.UUID) (*ValidationResult, error) {
	session, err := s.repo.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != domain.CheckoutStarted && session.State != domain.CheckoutValidated {
		return nil, &domain.TransitionError{
			Entity: "checkout",
			From:   string(session.State),
			To:     string(domain.CheckoutValidated),
		}
	}

	summary, err := s.carts.GetCartSummary(ctx, session.CartID)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{Summary: summary}
	if len(summary.Lines) == 0 {
		result.Errors = append(result.Errors, "cart is empty")
	}

	for _, line := range summary.Lines {
		product, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if !product.Active {
			result.Errors = append(result.Errors,
				"product "+product.SKU+" is no longer available")
			continue
		}

		available, err := s.ledger.Available(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		switch {
		case line.Quantity > available:
			result.Errors = append(result.Errors,
				"product "+product.SKU+" has insufficient stock")
			result.Shortfalls = append(result.Shortfalls, domain.Shortfall{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: available,
			})
		case available-line.Quantity < lowStockThreshold:
			result.Warnings = append(result.Warnings,
				"product "+product.SKU+" is low on stock")
		}
	}

	// A coupon that stopped qualifying is worth zero plus a warning,
	// never a blocker.
	if code := summary.Cart.CouponCode; code != "" {
		coupon, err := s.repo.GetCouponByCode(ctx, code)
		switch {
		case domain.IsCode(err, domain.ENOTFOUND):
			result.Warnings = append(result.Warnings,
				"coupon "+code+" is not recognized and will be ignored")
		case err != nil:
			return nil, err
		default:
			if usable, reason := coupon.Usable(summary.SubtotalCents, time.Now()); !usable {
				result.Warnings = append(result.Warnings, reason+"; it will be ignored")
			}
		}
	}

	result.Valid = len(result.Errors) == 0
	if !result.Valid {
		if len(result.Shortfalls) > 0 {
			s.countValidation("shortfall")
		} else {
			s.countValidation("invalid")
		}
		return result, nil
	}

	if session.State == domain.CheckoutStarted {
		session.State = domain.CheckoutValidated
		if err := s.repo.UpdateCheckoutSession(ctx, session); err != nil {
			return nil, err
		}
	}
	s.countValidation("ok")
	return result, nil
}

func (s *checkoutService) Prepare(ctx context.Context, params PrepareParams) (*PrepareResult, error) {
	session, err := s.repo.GetCheckoutSession(ctx, params.SessionID)
	if err != nil {
		return nil, err
	}
	if session.State != domain.CheckoutValidated {
		return nil, &domain.TransitionError{
			Entity: "checkout",
			From:   string(session.State),
			To:     string(domain.CheckoutReserved),
		}
	}

	summary, err := s.carts.GetCartSummary(ctx, session.CartID)
	if err != nil {
		return nil, err
	}
	if len(summary.Lines) == 0 {
		return nil, ErrCartEmpty
	}

	quote, err := s.quoteCart(ctx, summary, params.ShippingAddressID, params.ShippingService)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.ReservationLine, 0, len(summary.Lines))
	for _, line := range summary.Lines {
		lines = append(lines, domain.ReservationLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		})
	}

	reservation, err := s.ledger.Reserve(ctx, inventory.ReserveParams{
		CartID:          session.CartID,
		CustomerID:      session.CustomerID,
		Lines:           lines,
		QuoteTotalCents: quote.TotalCents,
		Currency:        quote.Currency,
	})
	if err != nil {
		if _, ok := domain.IsStockShortfall(err); ok && s.metrics != nil {
			s.metrics.ReservationShortfall.Inc()
		}
		return nil, err
	}

	session.State = domain.CheckoutReserved
	session.ReservationToken = reservation.Token
	if err := s.repo.UpdateCheckoutSession(ctx, session); err != nil {
		// The hold would leak until the sweep; return it now.
		if relErr := s.ledger.Release(ctx, reservation.Token); relErr != nil {
			s.logger.Error().Err(relErr).
				Str("token", reservation.Token).
				Msg("failed to release reservation after session update failure")
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ReservationsHeld.Inc()
	}
	s.logger.Info().
		Str("session_id", session.ID.String()).
		Str("token", reservation.Token).
		Int64("total_cents", quote.TotalCents).
		Msg("checkout prepared")

	return &PrepareResult{
		Session:     session,
		Quote:       quote,
		Reservation: reservation,
	}, nil
}

func (s *checkoutService) Pay(ctx context.Context, params PayParams) (*PayResult, error) {
	session, err := s.repo.GetCheckoutSession(ctx, params.SessionID)
	if err != nil {
		return nil, err
	}
	if session.State != domain.CheckoutReserved {
		return nil, ErrSessionNotReserved
	}

	reservation, err := s.repo.GetReservationByToken(ctx, session.ReservationToken)
	if err != nil {
		return nil, err
	}
	if reservation.Status != domain.ReservationHeld || reservation.Expired(time.Now()) {
		return nil, domain.Conflict("checkout.pay", "reservation expired; restart checkout")
	}

	// Replays with the same reservation reuse the payment record; the
	// provider-side idempotency key makes the authorization converge.
	payment, err := s.repo.GetPaymentByIdempotencyKey(ctx, reservation.Token)
	if domain.IsCode(err, domain.ENOTFOUND) {
		payment = &domain.Payment{
			ID:             uuid.New(),
			AmountCents:    reservation.QuoteTotalCents,
			Currency:       reservation.Currency,
			Method:         params.Method,
			Provider:       params.Method,
			IdempotencyKey: reservation.Token,
			Status:         domain.PaymentPending,
			CreatedAt:      time.Now(),
		}
		if err := s.repo.CreatePayment(ctx, payment); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PaymentAttempts.WithLabelValues(payment.Provider).Inc()
	}

	auth, err := s.billing.Authorize(ctx, billing.AuthorizeParams{
		AmountCents:   payment.AmountCents,
		Currency:      payment.Currency,
		CustomerEmail: params.CustomerEmail,
		Description:   "Web shop order",
		Metadata: map[string]string{
			"session_id":  session.ID.String(),
			"cart_id":     session.CartID.String(),
			"reservation": reservation.Token,
		},
		IdempotencyKey: reservation.Token,
	})
	if err != nil {
		return nil, s.failAuthorization(ctx, session, payment, err)
	}

	if payment.Status == domain.PaymentPending {
		if _, err := s.repo.UpdatePaymentStatus(ctx, repository.UpdatePaymentStatusParams{
			PaymentID:         payment.ID,
			From:              domain.PaymentPending,
			To:                domain.PaymentAuthorized,
			ProviderPaymentID: auth.ProviderPaymentID,
		}); err != nil {
			return nil, err
		}
		payment.Status = domain.PaymentAuthorized
		payment.ProviderTransactionID = auth.ProviderPaymentID
	}

	session.State = domain.CheckoutPaymentPending
	session.PaymentID = payment.ID
	if err := s.repo.UpdateCheckoutSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("session_id", session.ID.String()).
		Str("payment_id", payment.ID.String()).
		Str("provider", payment.Provider).
		Msg("payment authorized")

	return &PayResult{
		Payment:      payment,
		ApprovalURL:  auth.ApprovalURL,
		ClientSecret: auth.ClientSecret,
		AmountCents:  payment.AmountCents,
		Currency:     payment.Currency,
	}, nil
}

// failAuthorization settles the session after a failed authorize call.
// Every failure, decline or outage, releases the hold and closes the
// session; the customer restarts checkout instead of sitting on stock
// they could not pay for.
func (s *checkoutService) failAuthorization(ctx context.Context, session *domain.CheckoutSession, payment *domain.Payment, cause error) error {
	var pe *billing.ProviderError
	declined := errors.Is(cause, billing.ErrPaymentDeclined) ||
		(errors.As(cause, &pe) && pe.IsDeclined())

	reason := "provider unavailable"
	if declined {
		reason = "payment declined"
	}

	if _, err := s.repo.UpdatePaymentStatus(ctx, repository.UpdatePaymentStatusParams{
		PaymentID: payment.ID,
		From:      payment.Status,
		To:        domain.PaymentFailed,
	}); err != nil {
		s.logger.Error().Err(err).Str("payment_id", payment.ID.String()).
			Msg("failed to mark payment failed")
	}
	if err := s.ledger.Release(ctx, session.ReservationToken); err != nil {
		s.logger.Error().Err(err).Str("token", session.ReservationToken).
			Msg("failed to release reservation after failed authorization")
	}

	session.State = domain.CheckoutFailed
	session.FailureReason = reason
	if err := s.repo.UpdateCheckoutSession(ctx, session); err != nil {
		s.logger.Error().Err(err).Str("session_id", session.ID.String()).
			Msg("failed to close session after failed authorization")
	}

	if s.metrics != nil {
		if declined {
			s.metrics.PaymentFailed.WithLabelValues(payment.Provider, "declined").Inc()
			s.metrics.CheckoutFailed.WithLabelValues("declined").Inc()
		} else {
			s.metrics.PaymentFailed.WithLabelValues(payment.Provider, "unavailable").Inc()
			s.metrics.CheckoutFailed.WithLabelValues("unavailable").Inc()
		}
	}
	s.publish(ctx, notification.SubjectPaymentFailed, notification.PaymentEvent{
		PaymentID:   payment.ID,
		AmountCents: payment.AmountCents,
		Currency:    payment.Currency,
		Provider:    payment.Provider,
		Status:      string(domain.PaymentFailed),
		OccurredAt:  time.Now(),
	})

	if declined {
		return domain.WrapError(cause, domain.EPAYMENT, "checkout.pay", "payment was declined")
	}
	return domain.WrapError(cause, domain.EUNAVAILABLE, "checkout.pay", "payment provider unavailable")
}

func (s *checkoutService) Complete(ctx context.Context, params CompleteParams) (*domain.Order, error) {
	session, err := s.repo.GetCheckoutSession(ctx, params.SessionID)
	if err != nil {
		return nil, err
	}

	// Replaying a completed session returns the existing order.
	if session.State == domain.CheckoutCompleted {
		return s.repo.GetOrder(ctx, session.OrderID)
	}
	if session.State != domain.CheckoutPaymentPending {
		return nil, ErrSessionNotPayable
	}

	payment, err := s.repo.GetPayment(ctx, session.PaymentID)
	if err != nil {
		return nil, err
	}
	reservation, err := s.repo.GetReservationByToken(ctx, session.ReservationToken)
	if err != nil {
		return nil, err
	}
	// The hold can expire between Pay and Complete. Refuse before
	// touching the provider; nothing has been captured yet.
	if reservation.Status != domain.ReservationHeld || reservation.Expired(time.Now()) {
		return nil, domain.Conflict("checkout.complete", "reservation expired; restart checkout")
	}

	summary, err := s.carts.GetCartSummary(ctx, session.CartID)
	if err != nil {
		return nil, err
	}
	quote, err := s.quoteCart(ctx, summary, params.ShippingAddressID, params.ShippingService)
	if err != nil {
		return nil, err
	}
	// The customer approved the reserved total. Any drift since the
	// quote voids the attempt rather than charging a different amount.
	if quote.TotalCents != reservation.QuoteTotalCents {
		return nil, s.failQuoteDrift(ctx, session, payment)
	}

	capture, err := s.capturePayment(ctx, session, payment)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Consume(ctx, session.ReservationToken); err != nil {
		// Funds are captured but the hold could not be settled. Never
		// guess: flag for manual reconciliation and stop.
		return nil, s.escalate(ctx, session, payment, err, "reservation could not be consumed after capture")
	}

	order, err := s.materializeOrder(ctx, session, payment, quote, capture, params)
	if err != nil {
		return nil, s.escalate(ctx, session, payment, err, "order creation failed after capture")
	}

	if s.metrics != nil {
		s.metrics.CheckoutCompleted.WithLabelValues(order.Currency).Inc()
		s.metrics.OrdersCreated.WithLabelValues(order.Currency).Inc()
		s.metrics.OrderValue.Observe(float64(order.TotalCents))
		s.metrics.PaymentSucceeded.WithLabelValues(payment.Provider).Inc()
	}

	s.publish(ctx, notification.SubjectOrderConfirmed, notification.OrderEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		TotalCents:  order.TotalCents,
		Currency:    order.Currency,
		OccurredAt:  time.Now(),
	})
	s.publish(ctx, notification.SubjectPaymentCaptured, notification.PaymentEvent{
		PaymentID:   payment.ID,
		OrderID:     order.ID,
		AmountCents: payment.AmountCents,
		Currency:    payment.Currency,
		Provider:    payment.Provider,
		Status:      string(domain.PaymentCaptured),
		OccurredAt:  time.Now(),
	})

	s.logger.Info().
		Str("session_id", session.ID.String()).
		Str("order_id", order.ID.String()).
		Str("order_number", order.OrderNumber).
		Int64("total_cents", order.TotalCents).
		Msg("checkout completed")
	return order, nil
}

// capturePayment settles the authorized amount, resolving unknown
// outcomes against the provider before giving up.
func (s *checkoutService) capturePayment(ctx context.Context, session *domain.CheckoutSession, payment *domain.Payment) (*billing.Capture, error) {
	if payment.Status == domain.PaymentCaptured {
		// Capture already landed on a previous attempt.
		return &billing.Capture{
			ProviderPaymentID: payment.ProviderTransactionID,
			AmountCents:       payment.AmountCents,
			Currency:          payment.Currency,
		}, nil
	}

	capture, err := s.billing.Capture(ctx, billing.CaptureParams{
		ProviderPaymentID: payment.ProviderTransactionID,
		IdempotencyKey:    payment.IdempotencyKey,
	})
	if err == nil {
		if _, uerr := s.repo.UpdatePaymentStatus(ctx, repository.UpdatePaymentStatusParams{
			PaymentID:         payment.ID,
			From:              domain.PaymentAuthorized,
			To:                domain.PaymentCaptured,
			ProviderCaptureID: capture.ProviderCaptureID,
		}); uerr != nil {
			return nil, uerr
		}
		payment.Status = domain.PaymentCaptured
		return capture, nil
	}

	var pe *billing.ProviderError
	if errors.Is(err, billing.ErrPaymentDeclined) || (errors.As(err, &pe) && pe.IsDeclined()) {
		return nil, s.failCaptureDeclined(ctx, session, payment, err)
	}

	// Outcome unknown. Ask the provider what actually happened before
	// deciding anything.
	details, derr := s.billing.GetPayment(ctx, payment.ProviderTransactionID)
	if derr != nil {
		return nil, s.escalate(ctx, session, payment, err, "capture outcome unknown and provider lookup failed")
	}
	if details.CapturedCents >= payment.AmountCents {
		if _, uerr := s.repo.UpdatePaymentStatus(ctx, repository.UpdatePaymentStatusParams{
			PaymentID:         payment.ID,
			From:              domain.PaymentAuthorized,
			To:                domain.PaymentCaptured,
			ProviderCaptureID: details.ProviderCaptureID,
		}); uerr != nil {
			return nil, uerr
		}
		payment.Status = domain.PaymentCaptured
		return &billing.Capture{
			ProviderCaptureID: details.ProviderCaptureID,
			ProviderPaymentID: details.ProviderPaymentID,
			AmountCents:       details.CapturedCents,
			Currency:          details.Currency,
		}, nil
	}

	// Provider confirms no capture landed; the attempt is retryable.
	return nil, domain.WrapError(err, domain.EUNAVAILABLE, "checkout.complete", "payment provider unavailable")
}

func (s *checkoutService) failCaptureDeclined(ctx context.Context, session *domain.CheckoutSession, payment *domain.Payment, cause error) error {
	if _, err := s.repo.UpdatePaymentStatus(ctx, repository.UpdatePaymentStatusParams{
		PaymentID: payment.ID,
		From:      domain.PaymentAuthorized,
		To:        domain.PaymentFailed,
	}); err != nil {
		s.logger.Error().Err(err).Str("payment_id", payment.ID.String()).
			Msg("failed to mark payment failed")
	}
	if err := s.ledger.Release(ctx, session.ReservationToken); err != nil {
		s.logger.Error().Err(err).Str("token", session.ReservationToken).
			Msg("failed to release reservation after capture decline")
	}

	session.State = domain.CheckoutFailed
	session.FailureReason = "capture declined"
	if err := s.repo.UpdateCheckoutSession(ctx, session); err != nil {
		s.logger.Error().Err(err).Str("session_id", session.ID.String()).
			Msg("failed to close session after capture decline")
	}

	if s.metrics != nil {
		s.metrics.PaymentFailed.WithLabelValues(payment.Provider, "declined").Inc()
		s.metrics.CheckoutFailed.WithLabelValues("declined").Inc()
	}
	return domain.WrapError(cause, domain.EPAYMENT, "checkout.complete", "payment capture was declined")
}

// failQuoteDrift cancels an attempt whose re-priced total no longer
// matches the reserved quote.
func (s *checkoutService) failQuoteDrift(ctx context.Context, session *domain.CheckoutSession, payment *domain.Payment) error {
	if _, err := s.repo.UpdatePaymentStatus(ctx, repository.UpdatePaymentStatusParams{
		PaymentID: payment.ID,
		From:      domain.PaymentAuthorized,
		To:        domain.PaymentCancelled,
	}); err != nil {
		s.logger.Error().Err(err).Str("payment_id", payment.ID.String()).
			Msg("failed to cancel payment after quote drift")
	}
	if err := s.ledger.Release(ctx, session.ReservationToken); err != nil {
		s.logger.Error().Err(err).Str("token", session.ReservationToken).
			Msg("failed to release reservation after quote drift")
	}

	session.State = domain.CheckoutFailed
	session.FailureReason = "quote changed"
	if err := s.repo.UpdateCheckoutSession(ctx, session); err != nil {
		s.logger.Error().Err(err).Str("session_id", session.ID.String()).
			Msg("failed to close session after quote drift")
	}
	return ErrQuoteChanged
}

// escalate flags a payment for manual reconciliation: money moved but
// the system of record is in doubt. Never auto-retried.
func (s *checkoutService) escalate(ctx context.Context, session *domain.CheckoutSession, payment *domain.Payment, cause error, note string) error {
	if err := s.repo.SetPaymentNeedsReconciliation(ctx, payment.ID, true); err != nil {
		s.logger.Error().Err(err).Str("payment_id", payment.ID.String()).
			Msg("failed to flag payment for reconciliation")
	}

	if s.metrics != nil {
		s.metrics.PaymentsReconciling.Inc()
	}
	telemetry.CaptureReconciliation(cause, session.OrderID.String(), payment.ID.String(),
		map[string]interface{}{
			"session_id": session.ID.String(),
			"note":       note,
		})

	s.logger.Error().Err(cause).
		Str("session_id", session.ID.String()).
		Str("payment_id", payment.ID.String()).
		Str("note", note).
		Msg("payment flagged for reconciliation")

	return domain.WrapError(cause, domain.ERECONCILE, "checkout.complete", note)
}

// materializeOrder freezes the quote into an order inside one
// transaction, links the payment, clears the cart and closes the
// session.
func (s *checkoutService) materializeOrder(
	ctx context.Context,
	session *domain.CheckoutSession,
	payment *domain.Payment,
	quote *pricing.Quote,
	capture *billing.Capture,
	params CompleteParams,
) (*domain.Order, error) {
	number, err := repository.NewOrderNumber(time.Now())
	if err != nil {
		return nil, domain.Internal(err, "checkout.complete", "failed to generate order number")
	}

	now := time.Now()
	order := &domain.Order{
		ID:                uuid.New(),
		OrderNumber:       number,
		CustomerID:        session.CustomerID,
		SubtotalCents:     quote.SubtotalCents,
		TaxCents:          quote.TaxCents,
		ShippingCents:     quote.ShippingCents - quote.ShippingDiscountCents,
		DiscountCents:     quote.DiscountCents,
		TotalCents:        quote.TotalCents,
		Currency:          quote.Currency,
		Status:            domain.OrderPending,
		PaymentID:         payment.ID,
		ShippingAddressID: params.ShippingAddressID,
		BillingAddressID:  params.BillingAddressID,
		Version:           1,
		CreatedAt:         now,
	}

	lines := make([]domain.OrderLine, 0, len(quote.Lines))
	for _, lq := range quote.Lines {
		lines = append(lines, domain.OrderLine{
			ID:              uuid.New(),
			OrderID:         order.ID,
			ProductID:       lq.ProductID,
			ProductName:     lq.Name,
			SKU:             lq.SKU,
			Quantity:        lq.Quantity,
			UnitPriceCents:  lq.UnitPriceCents,
			TotalPriceCents: lq.AmountCents,
		})
	}
	order.Lines = lines

	err = s.repo.WithTx(ctx, func(q repository.Querier) error {
		if err := q.CreateOrder(ctx, order, lines); err != nil {
			return err
		}
		if _, err := q.UpdateOrderStatus(ctx, repository.UpdateOrderStatusParams{
			OrderID: order.ID,
			From:    domain.OrderPending,
			To:      domain.OrderConfirmed,
			Version: order.Version,
		}); err != nil {
			return err
		}
		if err := q.InsertOrderTransition(ctx, &domain.OrderTransition{
			ID:             uuid.New(),
			OrderID:        order.ID,
			FromStatus:     domain.OrderPending,
			ToStatus:       domain.OrderConfirmed,
			Reason:         "payment captured",
			IdempotencyKey: "confirm:" + session.ReservationToken,
			AppliedAt:      now,
		}); err != nil {
			return err
		}
		if err := q.SetPaymentOrder(ctx, payment.ID, order.ID); err != nil {
			return err
		}
		if err := q.ClearCart(ctx, session.CartID); err != nil {
			return err
		}
		if err := q.SetCartCoupon(ctx, session.CartID, ""); err != nil {
			return err
		}

		session.State = domain.CheckoutCompleted
		session.OrderID = order.ID
		return q.UpdateCheckoutSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	order.Status = domain.OrderConfirmed
	order.ConfirmedAt = now
	order.Version++

	s.logger.Debug().
		Str("order_id", order.ID.String()).
		Str("capture_id", capture.ProviderCaptureID).
		Msg("order materialized")
	return order, nil
}

func (s *checkoutService) Abandon(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.repo.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return err
	}
	switch session.State {
	case domain.CheckoutFailed:
		return nil
	case domain.CheckoutCompleted:
		return domain.Conflict("checkout.abandon", "checkout already completed")
	}

	if session.ReservationToken != "" {
		if err := s.ledger.Release(ctx, session.ReservationToken); err != nil {
			return err
		}
	}
	if session.PaymentID != uuid.Nil {
		payment, err := s.repo.GetPayment(ctx, session.PaymentID)
		if err == nil && payment.Status.CanTransition(domain.PaymentCancelled) {
			if _, err := s.repo.UpdatePaymentStatus(ctx, repository.UpdatePaymentStatusParams{
				PaymentID: payment.ID,
				From:      payment.Status,
				To:        domain.PaymentCancelled,
			}); err != nil {
				s.logger.Error().Err(err).Str("payment_id", payment.ID.String()).
					Msg("failed to cancel payment on abandon")
			}
		}
	}

	session.State = domain.CheckoutFailed
	session.FailureReason = "abandoned"
	if err := s.repo.UpdateCheckoutSession(ctx, session); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.CheckoutFailed.WithLabelValues("abandoned").Inc()
	}
	s.publish(ctx, notification.SubjectCheckoutAbandons, notification.OrderEvent{
		CustomerID: session.CustomerID,
		Status:     string(domain.CheckoutFailed),
		Reason:     "abandoned",
		OccurredAt: time.Now(),
	})
	return nil
}

// quoteCart prices the cart lines against a resolved destination.
func (s *checkoutService) quoteCart(ctx context.Context, summary *domain.CartSummary, shippingAddressID uuid.UUID, shippingService string) (*pricing.Quote, error) {
	addr, err := s.addresses.Resolve(ctx, shippingAddressID)
	if err != nil {
		return nil, err
	}

	var coupon *domain.Coupon
	if summary.Cart.CouponCode != "" {
		coupon, err = s.repo.GetCouponByCode(ctx, summary.Cart.CouponCode)
		if err != nil && !domain.IsCode(err, domain.ENOTFOUND) {
			return nil, err
		}
	}

	items := make([]pricing.Item, 0, len(summary.Lines))
	for _, line := range summary.Lines {
		product, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		items = append(items, pricing.Item{
			ProductID:      line.ProductID,
			Name:           line.ProductName,
			SKU:            line.SKU,
			UnitPriceCents: line.UnitPriceCents,
			Quantity:       line.Quantity,
			WeightGrams:    product.WeightGrams,
			TaxCategory:    product.TaxCategory,
		})
	}

	return s.pricer.Calculate(ctx, pricing.Input{
		Items: items,
		Destination: domain.Destination{
			AddressID:  addr.ID,
			City:       addr.City,
			State:      addr.State,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		},
		Coupon:          coupon,
		ShippingService: shippingService,
		Currency:        s.currency,
	})
}

func (s *checkoutService) countValidation(outcome string) {
	if s.metrics != nil {
		s.metrics.CheckoutValidated.WithLabelValues(outcome).Inc()
	}
}

// publish sends a lifecycle event, logging failures instead of
// surfacing them to the customer.
func (s *checkoutService) publish(ctx context.Context, subject string, event any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, subject, event); err != nil {
		s.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}
