package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/service"
	"github.com/verdandi/shop/internal/telemetry"
)

// maxWebhookBody caps webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookHandler receives provider and carrier callbacks. Webhook
// endpoints acknowledge everything they can: a 2xx stops the
// provider's retry loop, so only verification failures and internal
// errors surface as non-2xx.
type WebhookHandler struct {
	payments  service.PaymentService
	shipments service.ShipmentService
	metrics   *telemetry.BusinessMetrics
	logger    zerolog.Logger
}

// NewWebhookHandler creates a new webhook handler.
// metrics may be nil in tests.
func NewWebhookHandler(
	payments service.PaymentService,
	shipments service.ShipmentService,
	metrics *telemetry.BusinessMetrics,
	logger zerolog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		payments:  payments,
		shipments: shipments,
		metrics:   metrics,
		logger:    logger,
	}
}

// Register mounts the webhook routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/payment", h.Payment)
	e.POST("/webhooks/carrier", h.Carrier)
}

// Payment handles POST /webhooks/payment.
func (h *WebhookHandler) Payment(c echo.Context) error {
	start := time.Now()

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return domain.Invalid("webhook.payment", "failed to read request body")
	}

	signature := c.Request().Header.Get("Stripe-Signature")
	if signature == "" {
		// PayPal spreads the transmission signature over three headers;
		// verification needs all of them, joined in order.
		if sig := c.Request().Header.Get("Paypal-Transmission-Sig"); sig != "" {
			signature = strings.Join([]string{
				c.Request().Header.Get("Paypal-Transmission-Id"),
				c.Request().Header.Get("Paypal-Transmission-Time"),
				sig,
			}, "|")
		}
	}

	err = h.payments.HandleWebhook(c.Request().Context(), payload, signature)
	if h.metrics != nil {
		h.metrics.WebhookLatency.WithLabelValues("payment").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

type carrierWebhookRequest struct {
	TrackingNumber string    `json:"tracking_number" validate:"required,max=128"`
	Status         string    `json:"status" validate:"required"`
	Description    string    `json:"description"`
	Location       string    `json:"location"`
	Timestamp      time.Time `json:"timestamp" validate:"required"`
}

// Carrier handles POST /webhooks/carrier.
func (h *WebhookHandler) Carrier(c echo.Context) error {
	start := time.Now()

	var req carrierWebhookRequest
	if err := bind(c, &req); err != nil {
		if h.metrics != nil {
			h.metrics.WebhookFailed.WithLabelValues("carrier", "malformed").Inc()
		}
		return err
	}

	status := domain.ShipmentStatus(req.Status)
	if !status.Valid() {
		if h.metrics != nil {
			h.metrics.WebhookFailed.WithLabelValues("carrier", "unknown_status").Inc()
		}
		return domain.Invalid("webhook.carrier", "unknown shipment status "+req.Status)
	}

	err := h.shipments.IngestTrackingUpdate(c.Request().Context(), domain.TrackingUpdate{
		TrackingNumber: req.TrackingNumber,
		Status:         status,
		Description:    req.Description,
		Location:       req.Location,
		Timestamp:      req.Timestamp,
	})
	if h.metrics != nil {
		h.metrics.WebhookLatency.WithLabelValues("carrier").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		// Updates for shipments this system never created are carrier
		// noise; acknowledging stops the retry loop.
		if domain.IsCode(err, domain.ENOTFOUND) {
			h.logger.Warn().
				Str("tracking_number", req.TrackingNumber).
				Msg("tracking update for unknown shipment dropped")
			return c.NoContent(http.StatusOK)
		}
		return err
	}
	return c.NoContent(http.StatusOK)
}
