package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/verdandi/shop/internal/service"
)

// ShipmentHandler handles fulfillment routes.
type ShipmentHandler struct {
	shipments service.ShipmentService
}

// NewShipmentHandler creates a new shipment handler.
func NewShipmentHandler(shipments service.ShipmentService) *ShipmentHandler {
	return &ShipmentHandler{shipments: shipments}
}

// Register mounts the shipment routes on a group.
func (h *ShipmentHandler) Register(g *echo.Group) {
	g.POST("/orders/:id/shipments", h.Record)
	g.GET("/orders/:id/shipments", h.ListOrderShipments)
	g.GET("/shipments/:id", h.Get)
	g.GET("/shipments/:id/events", h.ListEvents)
	g.POST("/shipments/:id/refresh", h.Refresh)
}

type recordShipmentRequest struct {
	Carrier               string    `json:"carrier" validate:"required,max=64"`
	TrackingNumber        string    `json:"tracking_number" validate:"required,max=128"`
	EstimatedDeliveryDate time.Time `json:"estimated_delivery_date"`
}

// Record handles POST /orders/:id/shipments.
func (h *ShipmentHandler) Record(c echo.Context) error {
	orderID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req recordShipmentRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	shipment, err := h.shipments.RecordShipment(c.Request().Context(), service.RecordShipmentParams{
		OrderID:               orderID,
		Carrier:               req.Carrier,
		TrackingNumber:        req.TrackingNumber,
		EstimatedDeliveryDate: req.EstimatedDeliveryDate,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, shipment)
}

// Get handles GET /shipments/:id.
func (h *ShipmentHandler) Get(c echo.Context) error {
	shipmentID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	shipment, err := h.shipments.GetShipment(c.Request().Context(), shipmentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, shipment)
}

// ListOrderShipments handles GET /orders/:id/shipments.
func (h *ShipmentHandler) ListOrderShipments(c echo.Context) error {
	orderID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	shipments, err := h.shipments.ListOrderShipments(c.Request().Context(), orderID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, shipments)
}

// Refresh handles POST /shipments/:id/refresh. It pulls the carrier's
// tracking history instead of waiting for the next webhook.
func (h *ShipmentHandler) Refresh(c echo.Context) error {
	shipmentID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	shipment, err := h.shipments.RefreshTracking(c.Request().Context(), shipmentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, shipment)
}

// ListEvents handles GET /shipments/:id/events.
func (h *ShipmentHandler) ListEvents(c echo.Context) error {
	shipmentID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	events, err := h.shipments.ListTrackingEvents(c.Request().Context(), shipmentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, events)
}
