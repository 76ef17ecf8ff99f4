package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/verdandi/shop/internal"
	"github.com/verdandi/shop/internal/address"
	"github.com/verdandi/shop/internal/billing"
	"github.com/verdandi/shop/internal/catalog"
	"github.com/verdandi/shop/internal/handler"
	"github.com/verdandi/shop/internal/inventory"
	"github.com/verdandi/shop/internal/notification"
	"github.com/verdandi/shop/internal/pricing"
	"github.com/verdandi/shop/internal/repository"
	"github.com/verdandi/shop/internal/service"
	"github.com/verdandi/shop/internal/shipping"
	"github.com/verdandi/shop/internal/tax"
	"github.com/verdandi/shop/internal/telemetry"
	"github.com/verdandi/shop/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Error reporting
	flushSentry, err := telemetry.InitSentry(cfg.Sentry, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer flushSentry()

	// Initialize database/sql connection for migrations
	logger.Info().Msg("connecting to database")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	logger.Info().Msg("running database migrations")
	if err := internal.RunMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return fmt.Errorf("migration failed: %w", err)
	}
	sqlDB.Close()
	logger.Info().Msg("database migrations completed")

	// Initialize pgx connection pool for the application
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Initialize repository
	repo := repository.New(pool)

	// Inventory ledger holds reservations in memory; reload open holds
	// so restarts do not leak reserved stock.
	ledger := inventory.NewLedger(repo, cfg.Reservation.TTL, logger)
	if err := ledger.Load(ctx); err != nil {
		return fmt.Errorf("failed to load inventory reservations: %w", err)
	}

	// Initialize billing provider
	var billingProvider billing.Provider
	switch cfg.PaymentProvider() {
	case "stripe":
		billingProvider, err = billing.NewStripeProvider(billing.StripeConfig{
			APIKey:        cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize stripe provider: %w", err)
		}
		logger.Info().Msg("stripe billing provider initialized")
	default:
		billingProvider, err = billing.NewPayPalProvider(billing.PayPalConfig{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			WebhookID:    cfg.PayPal.WebhookID,
			Sandbox:      cfg.PayPal.Sandbox,
			Logger:       logger,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize paypal provider: %w", err)
		}
		logger.Info().Bool("sandbox", cfg.PayPal.Sandbox).Msg("paypal billing provider initialized")
	}

	// Initialize shipping provider
	var shippingProvider shipping.Provider
	switch cfg.Shipping.Provider {
	case "easypost":
		shippingProvider, err = shipping.NewEasyPostProvider(shipping.EasyPostConfig{
			APIKey: cfg.EasyPost.APIKey,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize easypost provider: %w", err)
		}
		logger.Info().Msg("easypost shipping provider initialized")
	default:
		shippingProvider = shipping.NewFlatRateProvider([]shipping.FlatRate{
			{ServiceName: "Standard Shipping", ServiceCode: "standard", CostCents: 795, DaysMin: 5, DaysMax: 7},
			{ServiceName: "Express Shipping", ServiceCode: "express", CostCents: 1495, DaysMin: 2, DaysMax: 3},
		})
		logger.Info().Msg("flat rate shipping provider initialized")
	}

	// Tax rates by destination state. TODO: source from a rates file
	// instead of a built-in table.
	taxRates, err := tax.NewTableProvider([]tax.TableEntry{
		{Jurisdiction: "CA", Rate: decimal.RequireFromString("0.0725")},
		{Jurisdiction: "NY", Rate: decimal.RequireFromString("0.08875")},
		{Jurisdiction: "TX", Rate: decimal.RequireFromString("0.0625")},
		{Jurisdiction: "WA", Rate: decimal.RequireFromString("0.065")},
		{Jurisdiction: "OR", Rate: decimal.Zero},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tax table: %w", err)
	}

	pricer := pricing.NewCalculator(taxRates, shippingProvider, shipping.ShippingAddress{
		Line1:      cfg.Shipping.OriginStreet,
		City:       cfg.Shipping.OriginCity,
		State:      cfg.Shipping.OriginState,
		PostalCode: cfg.Shipping.OriginPostalCode,
		Country:    cfg.Shipping.OriginCountry,
	})

	// Event publisher
	var publisher notification.Publisher
	if cfg.NATS.Enabled {
		publisher, err = notification.NewNatsPublisher(cfg.NATS.URL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		logger.Info().Str("url", cfg.NATS.URL).Msg("nats publisher connected")
	} else {
		publisher = notification.NewNoopPublisher()
	}
	defer publisher.Close()

	// Metrics
	metrics := telemetry.NewBusinessMetrics("shop")
	httpMetrics := handler.NewHTTPMetrics("shop")

	// Initialize services
	cartService := service.NewCartService(repo, catalog.NewPGProvider(repo), logger)
	paymentService := service.NewPaymentService(repo, billingProvider, publisher, metrics, logger)
	orderService := service.NewOrderService(repo, paymentService, publisher, metrics, logger)
	shipmentService := service.NewShipmentService(repo, orderService, shippingProvider, publisher, metrics, logger)
	checkoutService := service.NewCheckoutService(
		repo,
		cartService,
		ledger,
		pricer,
		billingProvider,
		address.NewPGResolver(pool),
		catalog.NewPGProvider(repo),
		publisher,
		metrics,
		logger,
		cfg.Currency,
	)

	// Expired reservation sweeper
	sweeper := worker.NewReservationSweeper(ledger, paymentService, cfg.Reservation.SweepInterval, metrics, logger)
	go sweeper.Run(ctx)

	// HTTP server
	e := handler.New(handler.Services{
		Carts:     cartService,
		Checkout:  checkoutService,
		Orders:    orderService,
		Payments:  paymentService,
		Shipments: shipmentService,
	}, handler.Config{
		Ping:        pool.Ping,
		Metrics:     metrics,
		HTTPMetrics: httpMetrics,
		Logger:      logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
