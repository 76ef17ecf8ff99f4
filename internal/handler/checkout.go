package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/verdandi/shop/internal/service"
)

// CheckoutHandler handles the staged checkout routes. Each step maps
// to one session transition; the service rejects out-of-order calls.
type CheckoutHandler struct {
	checkout service.CheckoutService
}

// NewCheckoutHandler creates a new checkout handler.
func NewCheckoutHandler(checkout service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

// Register mounts the checkout routes on a group.
func (h *CheckoutHandler) Register(g *echo.Group) {
	g.POST("/checkout", h.Start)
	g.POST("/checkout/:id/validate", h.Validate)
	g.POST("/checkout/:id/prepare", h.Prepare)
	g.POST("/checkout/:id/pay", h.Pay)
	g.POST("/checkout/:id/complete", h.Complete)
	g.POST("/checkout/:id/abandon", h.Abandon)
}

type startCheckoutRequest struct {
	CartID     string `json:"cart_id" validate:"required,uuid"`
	CustomerID string `json:"customer_id" validate:"omitempty,uuid"`
}

// Start handles POST /checkout.
func (h *CheckoutHandler) Start(c echo.Context) error {
	var req startCheckoutRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	cartID, _ := uuid.Parse(req.CartID)
	var customerID uuid.UUID
	if req.CustomerID != "" {
		customerID, _ = uuid.Parse(req.CustomerID)
	}

	session, err := h.checkout.Start(c.Request().Context(), service.StartParams{
		CartID:     cartID,
		CustomerID: customerID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, session)
}

// Validate handles POST /checkout/:id/validate.
func (h *CheckoutHandler) Validate(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	result, err := h.checkout.Validate(c.Request().Context(), sessionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

type prepareCheckoutRequest struct {
	ShippingAddressID string `json:"shipping_address_id" validate:"required,uuid"`
	BillingAddressID  string `json:"billing_address_id" validate:"omitempty,uuid"`
	ShippingService   string `json:"shipping_service" validate:"omitempty,max=64"`
}

// Prepare handles POST /checkout/:id/prepare. The response carries the
// quote and the reservation expiry the client must beat.
func (h *CheckoutHandler) Prepare(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req prepareCheckoutRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	shippingID, _ := uuid.Parse(req.ShippingAddressID)
	billingID := shippingID
	if req.BillingAddressID != "" {
		billingID, _ = uuid.Parse(req.BillingAddressID)
	}

	result, err := h.checkout.Prepare(c.Request().Context(), service.PrepareParams{
		SessionID:         sessionID,
		ShippingAddressID: shippingID,
		BillingAddressID:  billingID,
		ShippingService:   req.ShippingService,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

type payCheckoutRequest struct {
	Method        string `json:"method" validate:"required,oneof=paypal stripe card"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
}

// Pay handles POST /checkout/:id/pay.
func (h *CheckoutHandler) Pay(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req payCheckoutRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	result, err := h.checkout.Pay(c.Request().Context(), service.PayParams{
		SessionID:     sessionID,
		Method:        req.Method,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

type completeCheckoutRequest struct {
	ShippingAddressID string `json:"shipping_address_id" validate:"required,uuid"`
	BillingAddressID  string `json:"billing_address_id" validate:"omitempty,uuid"`
	ShippingService   string `json:"shipping_service" validate:"omitempty,max=64"`
}

// Complete handles POST /checkout/:id/complete.
func (h *CheckoutHandler) Complete(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req completeCheckoutRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	shippingID, _ := uuid.Parse(req.ShippingAddressID)
	billingID := shippingID
	if req.BillingAddressID != "" {
		billingID, _ = uuid.Parse(req.BillingAddressID)
	}

	order, err := h.checkout.Complete(c.Request().Context(), service.CompleteParams{
		SessionID:         sessionID,
		ShippingAddressID: shippingID,
		BillingAddressID:  billingID,
		ShippingService:   req.ShippingService,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, order)
}

// Abandon handles POST /checkout/:id/abandon.
func (h *CheckoutHandler) Abandon(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.checkout.Abandon(c.Request().Context(), sessionID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
