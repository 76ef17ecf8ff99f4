package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/verdandi/shop/internal/billing"
	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/notification"
	"github.com/verdandi/shop/internal/repository"
	"github.com/verdandi/shop/internal/telemetry"
)

// PaymentService manages payments after checkout: refunds and
// provider webhook reconciliation.
type PaymentService interface {
	// GetPayment returns a payment by ID.
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)

	// GetOrderPayment returns the payment for an order.
	GetOrderPayment(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error)

	// Refund returns captured funds, fully or partially. Completed
	// refunds never exceed the captured amount.
	Refund(ctx context.Context, params RefundPaymentParams) (*domain.Refund, error)

	// HandleWebhook verifies and applies a provider webhook. Unknown
	// payments and replayed events are no-op successes.
	HandleWebhook(ctx context.Context, payload []byte, signature string) error

	// CancelPendingPayment cancels the PENDING payment keyed by an
	// expired reservation token. Missing or already-settled payments
	// are no-op successes.
	CancelPendingPayment(ctx context.Context, idempotencyKey string) error
}

// RefundPaymentParams contains parameters for issuing a refund.
type RefundPaymentParams struct {
	PaymentID uuid.UUID

	// AmountCents to refund; zero refunds the full remaining amount.
	AmountCents int64

	Reason         string
	IdempotencyKey string
}

type paymentService struct {
	repo      Repository
	billing   billing.Provider
	publisher notification.Publisher
	metrics   *telemetry.BusinessMetrics
	logger    zerolog.Logger
}

// NewPaymentService creates a new PaymentService instance.
// metrics may be nil in tests.
func NewPaymentService(
	repo Repository,
	billingProvider billing.Provider,
	publisher notification.Publisher,
	metrics *telemetry.BusinessMetrics,
	logger zerolog.Logger,
) PaymentService {
	return &paymentService{
		repo:      repo,
		billing:   billingProvider,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

func (s *paymentService) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

func (s *paymentService) GetOrderPayment(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	return s.repo.GetPaymentByOrder(ctx, orderID)
}

func (s *paymentService) CancelPendingPayment(ctx context.Context, idempotencyKey string) error {
	payment, err := s.repo.GetPaymentByIdempotencyKey(ctx, idempotencyKey)
	if domain.IsCode(err, domain.ENOTFOUND) {
		return nil
	}
	if err != nil {
		return err
	}
	if payment.Status != domain.PaymentPending {
		return nil
	}

	moved, err := s.repo.UpdatePaymentStatus(ctx, repository.UpdatePaymentStatusParams{
		PaymentID: payment.ID,
		From:      domain.PaymentPending,
		To:        domain.PaymentCancelled,
	})
	if err != nil {
		return err
	}
	if moved {
		s.logger.Info().
			Str("payment_id", payment.ID.String()).
			Str("idempotency_key", idempotencyKey).
			Msg("cancelled payment left pending by expired hold")
	}
	return nil
}

func (s *paymentService) Refund(ctx context.Context, params RefundPaymentParams) (*domain.Refund, error) {
	var (
		payment *domain.Payment
		refund  *domain.Refund
	)
	// The row lock serializes concurrent refunds against the same
	// payment, and PENDING rows count against the remaining balance,
	// so a refund still waiting on the provider reserves its amount.
	err := s.repo.WithTx(ctx, func(q repository.Querier) error {
		var err error
		payment, err = q.GetPaymentForUpdate(ctx, params.PaymentID)
		if err != nil {
			return err
		}
		if !payment.Status.Refundable() {
			return &domain.TransitionError{
				Entity: "payment",
				From:   string(payment.Status),
				To:     string(domain.PaymentRefunded),
				Reason: "payment is not refundable",
			}
		}

		reserved, err := q.SumActiveRefunds(ctx, payment.ID)
		if err != nil {
			return err
		}
		remaining := payment.AmountCents - reserved
		amount := params.AmountCents
		if amount == 0 {
			amount = remaining
		}
		if amount <= 0 || amount > remaining {
			return ErrRefundExceedsTotal
		}

		refund = &domain.Refund{
			ID:          uuid.New(),
			PaymentID:   payment.ID,
			AmountCents: amount,
			Reason:      params.Reason,
			Status:      domain.RefundPending,
			CreatedAt:   time.Now(),
		}
		return q.CreateRefund(ctx, refund)
	})
	if err != nil {
		return nil, err
	}
	amount := refund.AmountCents

	result, err := s.billing.Refund(ctx, billing.RefundParams{
		ProviderCaptureID: payment.ProviderTransactionID,
		AmountCents:       amount,
		Currency:          payment.Currency,
		Reason:            params.Reason,
		IdempotencyKey:    params.IdempotencyKey,
	})
	if err != nil {
		if uerr := s.repo.UpdateRefundStatus(ctx, refund.ID, domain.RefundFailed); uerr != nil {
			s.logger.Error().Err(uerr).Str("refund_id", refund.ID.String()).
				Msg("failed to mark refund failed")
		}

		var pe *billing.ProviderError
		if errors.As(err, &pe) && pe.IsTemporary() {
			return nil, domain.WrapError(err, domain.EUNAVAILABLE, "payment.refund", "payment provider unavailable")
		}
		return nil, domain.WrapError(err, domain.EPAYMENT, "payment.refund", "refund was rejected")
	}

	if err := s.repo.UpdateRefundStatus(ctx, refund.ID, domain.RefundCompleted); err != nil {
		// The provider has already moved the money. With no local
		// record of that, the books disagree with the provider, so
		// flag the payment and stop.
		return nil, s.escalateRefund(ctx, payment, refund, err,
			"refund succeeded at provider but could not be recorded")
	}
	refund.Status = domain.RefundCompleted
	refund.ProviderRefundID = result.ProviderRefundID
	refund.CompletedAt = time.Now()

	kind, err := s.settlePaymentStatus(ctx, payment.ID)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RefundsIssued.WithLabelValues(payment.Provider, kind).Inc()
		s.metrics.RefundAmount.WithLabelValues(payment.Provider).Add(float64(amount))
	}
	s.logger.Info().
		Str("payment_id", payment.ID.String()).
		Str("refund_id", refund.ID.String()).
		Int64("amount_cents", amount).
		Str("kind", kind).
		Msg("refund completed")

	return refund, nil
}

// settlePaymentStatus moves a payment to PARTIALLY_REFUNDED or REFUNDED
// based on the completed refund total. Concurrent refunds can race the
// version check, so the transition is recomputed from a fresh read
// until one lands.
func (s *paymentService) settlePaymentStatus(ctx context.Context, paymentID uuid.UUID) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		payment, err := s.repo.GetPayment(ctx, paymentID)
		if err != nil {
			return "", err
		}
		refunded, err := s.repo.SumCompletedRefunds(ctx, paymentID)
		if err != nil {
			return "", err
		}

		target := domain.PaymentPartiallyRefunded
		kind := "partial"
		if refunded >= payment.AmountCents {
			target = domain.PaymentRefunded
			kind = "full"
		}
		if payment.Status == target {
			return kind, nil
		}

		moved, err := s.repo.UpdatePaymentStatus(ctx, repository.UpdatePaymentStatusParams{
			PaymentID: paymentID,
			From:      payment.Status,
			To:        target,
		})
		if err != nil {
			return "", err
		}
		if moved {
			return kind, nil
		}
	}
	return "", domain.Conflict("payment.refund",
		"payment status kept changing while settling the refund")
}

// escalateRefund flags a payment whose local refund record no longer
// matches what the provider did. Reconciliation is manual from here.
func (s *paymentService) escalateRefund(ctx context.Context, payment *domain.Payment, refund *domain.Refund, cause error, note string) error {
	if err := s.repo.SetPaymentNeedsReconciliation(ctx, payment.ID, true); err != nil {
		s.logger.Error().Err(err).
			Str("payment_id", payment.ID.String()).
			Msg("failed to flag payment for reconciliation")
	}
	if s.metrics != nil {
		s.metrics.PaymentsReconciling.Inc()
	}
	telemetry.CaptureReconciliation(cause, payment.OrderID.String(), payment.ID.String(), map[string]interface{}{
		"refund_id": refund.ID.String(),
		"note":      note,
	})
	s.logger.Error().Err(cause).
		Str("payment_id", payment.ID.String()).
		Str("refund_id", refund.ID.String()).
		Msg(note)
	return domain.WrapError(cause, domain.ERECONCILE, "payment.refund", note)
}

func (s *paymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.billing.VerifyWebhook(payload, signature)
	if err != nil {
		if s.metrics != nil {
			s.metrics.WebhookFailed.WithLabelValues("payment", "signature").Inc()
		}
		return domain.WrapError(err, domain.EINVALID, "payment.webhook", "webhook verification failed")
	}

	if s.metrics != nil {
		s.metrics.WebhookReceived.WithLabelValues("payment", event.Type).Inc()
	}

	payment, err := s.repo.GetPaymentByProviderID(ctx, event.ProviderPaymentID)
	if domain.IsCode(err, domain.ENOTFOUND) {
		// Events for payments this system never created (sandbox noise,
		// other integrations) are acknowledged and dropped.
		s.logger.Warn().
			Str("event_id", event.ID).
			Str("provider_payment_id", event.ProviderPaymentID).
			Msg("webhook for unknown payment dropped")
		return nil
	}
	if err != nil {
		return err
	}

	switch event.Type {
	case "PAYMENT.CAPTURE.COMPLETED", "payment_intent.succeeded":
		return s.confirmCapture(ctx, payment, event)
	case "PAYMENT.CAPTURE.DENIED", "payment_intent.payment_failed":
		return s.confirmFailure(ctx, payment, event)
	default:
		s.logger.Debug().
			Str("event_id", event.ID).
			Str("type", event.Type).
			Msg("unhandled webhook event type")
		return nil
	}
}

// confirmCapture settles a redirect-flow payment whose capture was
// confirmed out of band. An already-captured payment is a replay.
func (s *paymentService) confirmCapture(ctx context.Context, payment *domain.Payment, event *billing.WebhookEvent) error {
	if payment.Status == domain.PaymentCaptured {
		return nil
	}
	if !payment.Status.CanTransition(domain.PaymentCaptured) {
		s.logger.Warn().
			Str("payment_id", payment.ID.String()).
			Str("status", string(payment.Status)).
			Str("event_id", event.ID).
			Msg("capture webhook for non-capturable payment ignored")
		return nil
	}

	moved, err := s.repo.UpdatePaymentStatus(ctx, repository.UpdatePaymentStatusParams{
		PaymentID:         payment.ID,
		From:              payment.Status,
		To:                domain.PaymentCaptured,
		ProviderCaptureID: event.ProviderCaptureID,
	})
	if err != nil {
		return err
	}
	if !moved {
		// Lost the race against a concurrent Complete; that path owns
		// the outcome.
		return nil
	}

	if s.metrics != nil {
		s.metrics.PaymentSucceeded.WithLabelValues(payment.Provider).Inc()
	}
	if s.publisher != nil {
		evt := notification.PaymentEvent{
			PaymentID:   payment.ID,
			OrderID:     payment.OrderID,
			AmountCents: payment.AmountCents,
			Currency:    payment.Currency,
			Provider:    payment.Provider,
			Status:      string(domain.PaymentCaptured),
			OccurredAt:  event.OccurredAt,
		}
		if err := s.publisher.Publish(ctx, notification.SubjectPaymentCaptured, evt); err != nil {
			s.logger.Error().Err(err).Msg("failed to publish payment captured event")
		}
	}
	return nil
}

func (s *paymentService) confirmFailure(ctx context.Context, payment *domain.Payment, event *billing.WebhookEvent) error {
	if payment.Status.Terminal() {
		return nil
	}
	if !payment.Status.CanTransition(domain.PaymentFailed) {
		return nil
	}

	moved, err := s.repo.UpdatePaymentStatus(ctx, repository.UpdatePaymentStatusParams{
		PaymentID: payment.ID,
		From:      payment.Status,
		To:        domain.PaymentFailed,
	})
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	if s.metrics != nil {
		s.metrics.PaymentFailed.WithLabelValues(payment.Provider, "webhook_denied").Inc()
	}
	s.logger.Warn().
		Str("payment_id", payment.ID.String()).
		Str("event_id", event.ID).
		Msg("payment failed per provider webhook")
	return nil
}
