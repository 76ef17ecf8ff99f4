package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/verdandi/shop/internal/service"
)

// PaymentHandler handles payment and refund routes.
type PaymentHandler struct {
	payments service.PaymentService
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(payments service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// Register mounts the payment routes on a group.
func (h *PaymentHandler) Register(g *echo.Group) {
	g.GET("/payments/:id", h.Get)
	g.GET("/orders/:id/payment", h.GetOrderPayment)
	g.POST("/payments/:id/refunds", h.Refund)
}

// Get handles GET /payments/:id.
func (h *PaymentHandler) Get(c echo.Context) error {
	paymentID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	payment, err := h.payments.GetPayment(c.Request().Context(), paymentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, payment)
}

// GetOrderPayment handles GET /orders/:id/payment.
func (h *PaymentHandler) GetOrderPayment(c echo.Context) error {
	orderID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	payment, err := h.payments.GetOrderPayment(c.Request().Context(), orderID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, payment)
}

type refundRequest struct {
	// AmountCents of zero refunds whatever remains.
	AmountCents    int64  `json:"amount_cents" validate:"gte=0"`
	Reason         string `json:"reason" validate:"required,max=500"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

// Refund handles POST /payments/:id/refunds.
func (h *PaymentHandler) Refund(c echo.Context) error {
	paymentID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req refundRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	refund, err := h.payments.Refund(c.Request().Context(), service.RefundPaymentParams{
		PaymentID:      paymentID,
		AmountCents:    req.AmountCents,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, refund)
}
