package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/notification"
	"github.com/verdandi/shop/internal/repository"
	"github.com/verdandi/shop/internal/shipping"
	"github.com/verdandi/shop/internal/telemetry"
)

// ShipmentService records shipments and ingests carrier tracking
// updates, feeding the order lifecycle's shipping transitions.
type ShipmentService interface {
	// RecordShipment creates the shipment for an order and moves the
	// order to SHIPPED. Carrier and tracking number are required.
	RecordShipment(ctx context.Context, params RecordShipmentParams) (*domain.Shipment, error)

	// GetShipment returns a shipment by ID.
	GetShipment(ctx context.Context, id uuid.UUID) (*domain.Shipment, error)

	// ListOrderShipments returns an order's shipments.
	ListOrderShipments(ctx context.Context, orderID uuid.UUID) ([]domain.Shipment, error)

	// ListTrackingEvents returns a shipment's applied tracking history.
	ListTrackingEvents(ctx context.Context, shipmentID uuid.UUID) ([]domain.TrackingEvent, error)

	// IngestTrackingUpdate applies one carrier webhook event. Updates
	// older than the shipment's last applied event are dropped.
	IngestTrackingUpdate(ctx context.Context, update domain.TrackingUpdate) error

	// RefreshTracking polls the carrier for a shipment's tracking
	// history and applies any events newer than the last applied one.
	RefreshTracking(ctx context.Context, shipmentID uuid.UUID) (*domain.Shipment, error)
}

// RecordShipmentParams contains parameters for shipping an order.
type RecordShipmentParams struct {
	OrderID               uuid.UUID
	Carrier               string
	TrackingNumber        string
	EstimatedDeliveryDate time.Time
}

type shipmentService struct {
	repo      Repository
	orders    OrderService
	tracker   shipping.Provider
	publisher notification.Publisher
	metrics   *telemetry.BusinessMetrics
	logger    zerolog.Logger
}

// NewShipmentService creates a new ShipmentService instance.
// metrics may be nil in tests.
func NewShipmentService(
	repo Repository,
	orders OrderService,
	tracker shipping.Provider,
	publisher notification.Publisher,
	metrics *telemetry.BusinessMetrics,
	logger zerolog.Logger,
) ShipmentService {
	return &shipmentService{
		repo:      repo,
		orders:    orders,
		tracker:   tracker,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

func (s *shipmentService) RecordShipment(ctx context.Context, params RecordShipmentParams) (*domain.Shipment, error) {
	if params.Carrier == "" || params.TrackingNumber == "" {
		return nil, ErrTrackingRequired
	}

	order, err := s.repo.GetOrder(ctx, params.OrderID)
	if err != nil {
		return nil, err
	}

	// A retried shipment call for the same tracking number returns the
	// existing record.
	if existing, err := s.repo.GetShipmentByTracking(ctx, params.TrackingNumber); err == nil {
		if existing.OrderID != order.ID {
			return nil, domain.Conflict("shipment.record",
				"tracking number already assigned to another order")
		}
		return existing, nil
	} else if !domain.IsCode(err, domain.ENOTFOUND) {
		return nil, err
	}

	if !order.Status.CanTransition(domain.OrderShipped) {
		return nil, &domain.TransitionError{
			Entity: "order",
			From:   string(order.Status),
			To:     string(domain.OrderShipped),
		}
	}

	shipment := &domain.Shipment{
		ID:                    uuid.New(),
		OrderID:               order.ID,
		TrackingNumber:        params.TrackingNumber,
		Carrier:               params.Carrier,
		Status:                domain.ShipmentPreparing,
		EstimatedDeliveryDate: params.EstimatedDeliveryDate,
		CreatedAt:             time.Now(),
	}
	if err := s.repo.CreateShipment(ctx, shipment); err != nil {
		return nil, err
	}
	if err := s.repo.SetOrderShipment(ctx, order.ID, shipment.ID); err != nil {
		return nil, err
	}

	if _, err := s.orders.ApplyTransition(ctx, TransitionParams{
		OrderID:        order.ID,
		To:             domain.OrderShipped,
		Reason:         "shipped via " + params.Carrier,
		IdempotencyKey: "ship:" + params.TrackingNumber,
	}); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("order_id", order.ID.String()).
		Str("carrier", params.Carrier).
		Str("tracking_number", params.TrackingNumber).
		Msg("shipment recorded")
	return shipment, nil
}

func (s *shipmentService) GetShipment(ctx context.Context, id uuid.UUID) (*domain.Shipment, error) {
	return s.repo.GetShipment(ctx, id)
}

func (s *shipmentService) ListOrderShipments(ctx context.Context, orderID uuid.UUID) ([]domain.Shipment, error) {
	return s.repo.ListShipmentsByOrder(ctx, orderID)
}

func (s *shipmentService) ListTrackingEvents(ctx context.Context, shipmentID uuid.UUID) ([]domain.TrackingEvent, error) {
	return s.repo.ListTrackingEvents(ctx, shipmentID)
}

func (s *shipmentService) IngestTrackingUpdate(ctx context.Context, update domain.TrackingUpdate) error {
	if update.TrackingNumber == "" {
		return domain.Invalid("shipment.track", "tracking number is required")
	}

	shipment, err := s.repo.GetShipmentByTracking(ctx, update.TrackingNumber)
	if err != nil {
		return err
	}

	// Carriers deliver webhooks out of order; anything older than the
	// last applied event is stale.
	if !update.Timestamp.After(shipment.LastEventAt) {
		s.logger.Debug().
			Str("tracking_number", update.TrackingNumber).
			Time("event_at", update.Timestamp).
			Time("last_event_at", shipment.LastEventAt).
			Msg("stale tracking update dropped")
		return nil
	}

	if err := s.repo.InsertTrackingEvent(ctx, &domain.TrackingEvent{
		ID:          uuid.New(),
		ShipmentID:  shipment.ID,
		Status:      update.Status,
		Description: update.Description,
		Location:    update.Location,
		OccurredAt:  update.Timestamp,
		RecordedAt:  time.Now(),
	}); err != nil {
		return err
	}
	if err := s.repo.UpdateShipmentStatus(ctx, repository.UpdateShipmentStatusParams{
		ShipmentID:  shipment.ID,
		Status:      update.Status,
		LastEventAt: update.Timestamp,
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.WebhookReceived.WithLabelValues("carrier", string(update.Status)).Inc()
	}

	return s.applyOrderEffect(ctx, shipment, update)
}

// applyOrderEffect advances the order to match a carrier status.
// Problem statuses notify operations but never move the order on
// their own.
func (s *shipmentService) applyOrderEffect(ctx context.Context, shipment *domain.Shipment, update domain.TrackingUpdate) error {
	if update.Status.Problem() {
		if s.publisher != nil {
			event := notification.ShipmentEvent{
				ShipmentID:     shipment.ID,
				OrderID:        shipment.OrderID,
				TrackingNumber: shipment.TrackingNumber,
				Carrier:        shipment.Carrier,
				Status:         string(update.Status),
				OccurredAt:     update.Timestamp,
			}
			if err := s.publisher.Publish(ctx, notification.SubjectShipmentProblem, event); err != nil {
				s.logger.Error().Err(err).Msg("failed to publish shipment problem event")
			}
		}
		s.logger.Warn().
			Str("tracking_number", shipment.TrackingNumber).
			Str("status", string(update.Status)).
			Msg("shipment delivery exception")
		return nil
	}

	var target domain.OrderStatus
	switch update.Status {
	case domain.ShipmentOutForDelivery:
		target = domain.OrderOutForDelivery
	case domain.ShipmentDelivered:
		target = domain.OrderDelivered
	default:
		return nil
	}

	key := "track:" + shipment.TrackingNumber + ":" + string(update.Status)
	if _, err := s.orders.ApplyTransition(ctx, TransitionParams{
		OrderID:        shipment.OrderID,
		To:             target,
		Reason:         "carrier update: " + string(update.Status),
		IdempotencyKey: key,
	}); err != nil {
		// A delivered webhook can outrun out-for-delivery. The order
		// table permits SHIPPED -> DELIVERED, so only truly illegal
		// sequences land here; they are logged and acknowledged.
		if _, ok := domain.IsTransitionError(err); ok {
			s.logger.Warn().Err(err).
				Str("tracking_number", shipment.TrackingNumber).
				Msg("carrier update did not move order")
			return nil
		}
		return err
	}
	return nil
}

func (s *shipmentService) RefreshTracking(ctx context.Context, shipmentID uuid.UUID) (*domain.Shipment, error) {
	shipment, err := s.repo.GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}

	info, err := s.tracker.TrackShipment(ctx, shipment.TrackingNumber)
	if err != nil {
		return nil, domain.WrapError(err, domain.EUNAVAILABLE, "shipment.refresh",
			"carrier tracking lookup failed")
	}

	for _, event := range info.Events {
		status, ok := carrierStatus(event.Status)
		if !ok {
			s.logger.Debug().
				Str("status", event.Status).
				Str("tracking_number", shipment.TrackingNumber).
				Msg("unmapped carrier status skipped")
			continue
		}
		if err := s.IngestTrackingUpdate(ctx, domain.TrackingUpdate{
			TrackingNumber: shipment.TrackingNumber,
			Status:         status,
			Description:    event.Description,
			Location:       event.Location,
			Timestamp:      event.Timestamp,
		}); err != nil {
			return nil, err
		}
	}

	return s.repo.GetShipment(ctx, shipmentID)
}

// carrierStatus maps a carrier tracking status string onto the
// shipment enum. Unknown statuses are skipped, not errors.
func carrierStatus(raw string) (domain.ShipmentStatus, bool) {
	switch strings.ToLower(raw) {
	case "pre_transit", "preparing":
		return domain.ShipmentPreparing, true
	case "in_transit":
		return domain.ShipmentInTransit, true
	case "out_for_delivery":
		return domain.ShipmentOutForDelivery, true
	case "delivered":
		return domain.ShipmentDelivered, true
	case "return_to_sender", "address_issue":
		return domain.ShipmentAddressIssue, true
	case "failure", "lost":
		return domain.ShipmentLost, true
	}
	if st := domain.ShipmentStatus(strings.ToUpper(raw)); st.Valid() {
		return st, true
	}
	return "", false
}
