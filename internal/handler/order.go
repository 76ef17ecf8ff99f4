package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/service"
)

// OrderHandler handles order lifecycle routes.
type OrderHandler struct {
	orders service.OrderService
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(orders service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// Register mounts the order routes on a group.
func (h *OrderHandler) Register(g *echo.Group) {
	g.GET("/orders/:id", h.Get)
	g.GET("/orders/number/:number", h.GetByNumber)
	g.GET("/orders/:id/transitions", h.ListTransitions)
	g.GET("/customers/:id/orders", h.ListCustomerOrders)
	g.POST("/orders/:id/cancel", h.Cancel)
	g.POST("/orders/:id/return", h.Return)
	g.POST("/orders/:id/transitions", h.ApplyTransition)
}

// Get handles GET /orders/:id.
func (h *OrderHandler) Get(c echo.Context) error {
	orderID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	order, err := h.orders.GetOrder(c.Request().Context(), orderID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

// GetByNumber handles GET /orders/number/:number.
func (h *OrderHandler) GetByNumber(c echo.Context) error {
	number := c.Param("number")
	if number == "" {
		return domain.Invalid("request.path", "order number is required")
	}
	order, err := h.orders.GetOrderByNumber(c.Request().Context(), number)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

// ListTransitions handles GET /orders/:id/transitions.
func (h *OrderHandler) ListTransitions(c echo.Context) error {
	orderID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	transitions, err := h.orders.ListTransitions(c.Request().Context(), orderID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transitions)
}

// ListCustomerOrders handles GET /customers/:id/orders.
func (h *OrderHandler) ListCustomerOrders(c echo.Context) error {
	customerID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	orders, err := h.orders.ListCustomerOrders(c.Request().Context(), customerID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, orders)
}

type cancelOrderRequest struct {
	Reason         string `json:"reason" validate:"required,max=500"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

// Cancel handles POST /orders/:id/cancel.
func (h *OrderHandler) Cancel(c echo.Context) error {
	orderID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req cancelOrderRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	order, err := h.orders.Cancel(c.Request().Context(), service.CancelParams{
		OrderID:        orderID,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

type returnOrderRequest struct {
	Reason         string `json:"reason" validate:"required,max=500"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

// Return handles POST /orders/:id/return.
func (h *OrderHandler) Return(c echo.Context) error {
	orderID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req returnOrderRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	order, err := h.orders.Return(c.Request().Context(), service.ReturnParams{
		OrderID:        orderID,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

type applyTransitionRequest struct {
	To             string `json:"to" validate:"required"`
	Reason         string `json:"reason" validate:"omitempty,max=500"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

// ApplyTransition handles POST /orders/:id/transitions. It is the
// back-office surface for moving an order along the lifecycle.
func (h *OrderHandler) ApplyTransition(c echo.Context) error {
	orderID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req applyTransitionRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	order, err := h.orders.ApplyTransition(c.Request().Context(), service.TransitionParams{
		OrderID:        orderID,
		To:             domain.OrderStatus(req.To),
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}
