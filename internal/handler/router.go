package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/verdandi/shop/internal/service"
	"github.com/verdandi/shop/internal/telemetry"
)

// Services bundles everything the HTTP layer fronts.
type Services struct {
	Carts     service.CartService
	Checkout  service.CheckoutService
	Orders    service.OrderService
	Payments  service.PaymentService
	Shipments service.ShipmentService
}

// Config controls router construction.
type Config struct {
	// Ping reports storage health; used by /healthz.
	Ping func(ctx context.Context) error

	// Metrics instruments business counters on the webhook surface.
	// May be nil in tests.
	Metrics *telemetry.BusinessMetrics

	// HTTPMetrics instruments the request surface and serves /metrics.
	// May be nil in tests.
	HTTPMetrics *HTTPMetrics

	Logger zerolog.Logger
}

// New builds the echo instance with all routes and middleware mounted.
func New(svcs Services, cfg Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = HTTPErrorHandler(cfg.Logger)
	e.Validator = NewRequestValidator()

	e.Use(middleware.RequestID())
	e.Use(requestLogger(cfg.Logger))
	e.Use(middleware.Recover())
	if cfg.HTTPMetrics != nil {
		e.Use(cfg.HTTPMetrics.Middleware())
		e.GET("/metrics", cfg.HTTPMetrics.Handler())
	}

	e.GET("/healthz", healthz(cfg.Ping))

	api := e.Group("/api/v1")
	NewCartHandler(svcs.Carts).Register(api)
	NewCheckoutHandler(svcs.Checkout).Register(api)
	NewOrderHandler(svcs.Orders).Register(api)
	NewPaymentHandler(svcs.Payments).Register(api)
	NewShipmentHandler(svcs.Shipments).Register(api)

	NewWebhookHandler(svcs.Payments, svcs.Shipments, cfg.Metrics, cfg.Logger).Register(e)

	return e
}

// requestLogger logs one line per request with the request ID attached.
func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			event := logger.Info()
			if c.Response().Status >= http.StatusInternalServerError {
				event = logger.Error()
			}
			event.
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", c.Response().Status).
				Dur("duration", time.Since(start)).
				Msg("request")
			return nil
		}
	}
}

func healthz(ping func(ctx context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}
