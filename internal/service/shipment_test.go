package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/notification"
	"github.com/verdandi/shop/internal/shipping"
)

type shipmentFixture struct {
	*orderFixture
	tracker   *shipping.MockProvider
	shipments ShipmentService
}

// newShipmentFixture puts the seeded order into PROCESSING, the state
// a warehouse ships from.
func newShipmentFixture(t *testing.T) *shipmentFixture {
	t.Helper()

	fx := newOrderFixture(t)
	fx.repo.orders[fx.orderID].Status = domain.OrderProcessing

	tracker := shipping.NewMockProvider()
	return &shipmentFixture{
		orderFixture: fx,
		tracker:      tracker,
		shipments:    NewShipmentService(fx.repo, fx.orders, tracker, fx.publisher, nil, zerolog.Nop()),
	}
}

func (fx *shipmentFixture) ship(t *testing.T, tracking string) *domain.Shipment {
	t.Helper()
	shipment, err := fx.shipments.RecordShipment(context.Background(), RecordShipmentParams{
		OrderID:        fx.orderID,
		Carrier:        "usps",
		TrackingNumber: tracking,
	})
	require.NoError(t, err)
	return shipment
}

func TestShipment_RecordMovesOrderToShipped(t *testing.T) {
	fx := newShipmentFixture(t)
	ctx := context.Background()

	shipment := fx.ship(t, "TRK-100")
	assert.Equal(t, domain.ShipmentPreparing, shipment.Status)

	order, err := fx.repo.GetOrder(ctx, fx.orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderShipped, order.Status)
	assert.Equal(t, shipment.ID, order.ShipmentID)

	transitions, err := fx.orders.ListTransitions(ctx, fx.orderID)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, "shipped via usps", transitions[0].Reason)

	assert.Contains(t, fx.publisher.Subjects(), notification.SubjectOrderShipped)
}

func TestShipment_RetriedRecordReturnsExisting(t *testing.T) {
	fx := newShipmentFixture(t)

	first := fx.ship(t, "TRK-100")
	second := fx.ship(t, "TRK-100")
	assert.Equal(t, first.ID, second.ID)

	transitions, err := fx.orders.ListTransitions(context.Background(), fx.orderID)
	require.NoError(t, err)
	assert.Len(t, transitions, 1)
}

func TestShipment_RecordRequiresCarrierAndTracking(t *testing.T) {
	fx := newShipmentFixture(t)

	_, err := fx.shipments.RecordShipment(context.Background(), RecordShipmentParams{
		OrderID: fx.orderID,
		Carrier: "usps",
	})
	assert.ErrorIs(t, err, ErrTrackingRequired)
}

func TestShipment_StaleTrackingUpdateDropped(t *testing.T) {
	fx := newShipmentFixture(t)
	ctx := context.Background()

	shipment := fx.ship(t, "TRK-100")
	now := time.Now()

	require.NoError(t, fx.shipments.IngestTrackingUpdate(ctx, domain.TrackingUpdate{
		TrackingNumber: "TRK-100",
		Status:         domain.ShipmentInTransit,
		Timestamp:      now,
	}))

	// An older event arriving late must not rewind the shipment.
	require.NoError(t, fx.shipments.IngestTrackingUpdate(ctx, domain.TrackingUpdate{
		TrackingNumber: "TRK-100",
		Status:         domain.ShipmentPreparing,
		Timestamp:      now.Add(-time.Hour),
	}))

	got, err := fx.shipments.GetShipment(ctx, shipment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentInTransit, got.Status)

	events, err := fx.shipments.ListTrackingEvents(ctx, shipment.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestShipment_DeliveryProgressionMovesOrder(t *testing.T) {
	fx := newShipmentFixture(t)
	ctx := context.Background()

	shipment := fx.ship(t, "TRK-100")
	now := time.Now()

	require.NoError(t, fx.shipments.IngestTrackingUpdate(ctx, domain.TrackingUpdate{
		TrackingNumber: "TRK-100",
		Status:         domain.ShipmentOutForDelivery,
		Timestamp:      now,
	}))

	order, err := fx.repo.GetOrder(ctx, fx.orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderOutForDelivery, order.Status)

	require.NoError(t, fx.shipments.IngestTrackingUpdate(ctx, domain.TrackingUpdate{
		TrackingNumber: "TRK-100",
		Status:         domain.ShipmentDelivered,
		Timestamp:      now.Add(2 * time.Hour),
	}))

	order, err = fx.repo.GetOrder(ctx, fx.orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDelivered, order.Status)

	got, err := fx.shipments.GetShipment(ctx, shipment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentDelivered, got.Status)
	assert.False(t, got.DeliveredAt.IsZero())

	assert.Contains(t, fx.publisher.Subjects(), notification.SubjectOrderDelivered)
}

func TestShipment_DuplicateDeliveredWebhookIsNoOp(t *testing.T) {
	fx := newShipmentFixture(t)
	ctx := context.Background()

	fx.ship(t, "TRK-100")
	now := time.Now()

	require.NoError(t, fx.shipments.IngestTrackingUpdate(ctx, domain.TrackingUpdate{
		TrackingNumber: "TRK-100",
		Status:         domain.ShipmentDelivered,
		Timestamp:      now,
	}))
	require.NoError(t, fx.shipments.IngestTrackingUpdate(ctx, domain.TrackingUpdate{
		TrackingNumber: "TRK-100",
		Status:         domain.ShipmentDelivered,
		Timestamp:      now.Add(time.Minute),
	}))

	order, err := fx.repo.GetOrder(ctx, fx.orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDelivered, order.Status)
}

func TestShipment_ProblemStatusNotifiesWithoutMovingOrder(t *testing.T) {
	fx := newShipmentFixture(t)
	ctx := context.Background()

	fx.ship(t, "TRK-100")

	require.NoError(t, fx.shipments.IngestTrackingUpdate(ctx, domain.TrackingUpdate{
		TrackingNumber: "TRK-100",
		Status:         domain.ShipmentLost,
		Description:    "package missing at sort facility",
		Timestamp:      time.Now(),
	}))

	order, err := fx.repo.GetOrder(ctx, fx.orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderShipped, order.Status)
	assert.Contains(t, fx.publisher.Subjects(), notification.SubjectShipmentProblem)
}

func TestShipment_UpdateForUnknownTrackingFails(t *testing.T) {
	fx := newShipmentFixture(t)

	err := fx.shipments.IngestTrackingUpdate(context.Background(), domain.TrackingUpdate{
		TrackingNumber: "TRK-404",
		Status:         domain.ShipmentInTransit,
		Timestamp:      time.Now(),
	})
	assert.True(t, domain.IsCode(err, domain.ENOTFOUND))
}

func TestShipment_RefreshTrackingAppliesCarrierHistory(t *testing.T) {
	fx := newShipmentFixture(t)
	ctx := context.Background()

	shipment := fx.ship(t, "TRK-600")

	now := time.Now()
	fx.tracker.TrackShipmentFunc = func(ctx context.Context, trackingNumber string) (*shipping.TrackingInfo, error) {
		return &shipping.TrackingInfo{
			TrackingNumber: trackingNumber,
			Carrier:        "usps",
			Status:         "delivered",
			Events: []shipping.TrackingEvent{
				{Timestamp: now.Add(-2 * time.Hour), Status: "in_transit", Location: "Portland OR"},
				{Timestamp: now.Add(-1 * time.Hour), Status: "out_for_delivery", Location: "Salem OR"},
				{Timestamp: now, Status: "delivered", Location: "Salem OR"},
				{Timestamp: now.Add(time.Minute), Status: "voided", Location: ""},
			},
		}, nil
	}

	refreshed, err := fx.shipments.RefreshTracking(ctx, shipment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentDelivered, refreshed.Status)

	order, err := fx.repo.GetOrder(ctx, fx.orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDelivered, order.Status)

	// The unmapped "voided" event is skipped, not applied.
	events, err := fx.shipments.ListTrackingEvents(ctx, shipment.ID)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestShipment_RefreshTrackingCarrierOutage(t *testing.T) {
	fx := newShipmentFixture(t)

	shipment := fx.ship(t, "TRK-601")
	fx.tracker.TrackShipmentFunc = func(ctx context.Context, trackingNumber string) (*shipping.TrackingInfo, error) {
		return nil, shipping.ErrNotImplemented
	}

	_, err := fx.shipments.RefreshTracking(context.Background(), shipment.ID)
	assert.True(t, domain.IsCode(err, domain.EUNAVAILABLE))
}
