// Package worker runs background maintenance loops.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/verdandi/shop/internal/telemetry"
)

// Sweeper is the expiry surface the worker drives. *inventory.Ledger
// satisfies it.
type Sweeper interface {
	SweepExpired(ctx context.Context) ([]string, error)
}

// PaymentCanceller cancels payments that an expired hold left pending.
// service.PaymentService satisfies it.
type PaymentCanceller interface {
	CancelPendingPayment(ctx context.Context, idempotencyKey string) error
}

// ReservationSweeper periodically expires overdue inventory holds so
// abandoned checkouts give their stock back without waiting for the
// next reservation attempt to trip over them. Payments still PENDING
// against a swept hold are cancelled in the same pass.
type ReservationSweeper struct {
	ledger   Sweeper
	payments PaymentCanceller
	interval time.Duration
	metrics  *telemetry.BusinessMetrics
	logger   zerolog.Logger
}

// NewReservationSweeper creates a sweeper. payments and metrics may be
// nil in tests.
func NewReservationSweeper(
	ledger Sweeper,
	payments PaymentCanceller,
	interval time.Duration,
	metrics *telemetry.BusinessMetrics,
	logger zerolog.Logger,
) *ReservationSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReservationSweeper{
		ledger:   ledger,
		payments: payments,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run sweeps on a ticker until ctx is cancelled. It blocks; run it in
// a goroutine.
func (s *ReservationSweeper) Run(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Msg("reservation sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("reservation sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ReservationSweeper) sweep(ctx context.Context) {
	start := time.Now()
	expired, err := s.ledger.SweepExpired(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("reservation sweep failed")
		return
	}

	if s.payments != nil {
		for _, token := range expired {
			if err := s.payments.CancelPendingPayment(ctx, token); err != nil {
				s.logger.Error().Err(err).Str("token", token).
					Msg("failed to cancel pending payment for expired hold")
			}
		}
	}

	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		if len(expired) > 0 {
			s.metrics.ReservationsExpired.Add(float64(len(expired)))
		}
	}
	if len(expired) > 0 {
		s.logger.Info().
			Int("expired", len(expired)).
			Msg("expired reservations released")
	}
}
