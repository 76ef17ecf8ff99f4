package shipping

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/EasyPost/easypost-go/v5"
	"github.com/rs/zerolog"
)

// Conversion constants for metric to imperial units.
// Precision chosen for shipping accuracy (< 0.01% error).
const (
	cmToInchRatio  = 0.393701 // 1 cm = 0.393701 inches
	gramsToOzRatio = 0.035274 // 1 gram = 0.035274 ounces
	rateExpiration = 24 * time.Hour
)

// EasyPostProvider implements the Provider interface using the EasyPost API.
type EasyPostProvider struct {
	client *easypost.Client
	logger zerolog.Logger
}

// EasyPostConfig contains configuration for the EasyPost provider.
type EasyPostConfig struct {
	APIKey string
	Logger zerolog.Logger
}

// NewEasyPostProvider creates a new EasyPost shipping provider.
func NewEasyPostProvider(cfg EasyPostConfig) (*EasyPostProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	return &EasyPostProvider{
		client: easypost.New(cfg.APIKey),
		logger: cfg.Logger,
	}, nil
}

// GetRates returns available shipping options for a shipment.
// Only single-package shipments are supported.
func (p *EasyPostProvider) GetRates(ctx context.Context, params RateParams) ([]Rate, error) {
	if params.OriginAddress.Line1 == "" {
		return nil, ErrOriginRequired
	}
	if params.DestinationAddress.Country == "" {
		return nil, ErrDestinationRequired
	}
	if len(params.Packages) == 0 {
		return nil, ErrNoPackages
	}
	if len(params.Packages) > 1 {
		return nil, ErrMultiPackageNotSupported
	}

	logger := p.logger.With().
		Str("destination_country", params.DestinationAddress.Country).
		Str("destination_state", params.DestinationAddress.State).
		Logger()
	logger.Info().Msg("fetching shipping rates")

	shipment, err := p.client.CreateShipment(
		&easypost.Shipment{
			FromAddress: p.toEasyPostAddress(params.OriginAddress),
			ToAddress:   p.toEasyPostAddress(params.DestinationAddress),
			Parcel:      p.toEasyPostParcel(params.Packages[0]),
		},
	)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create shipment")
		return nil, fmt.Errorf("failed to get rates: %w", err)
	}

	if len(shipment.Rates) == 0 {
		logger.Warn().Msg("no rates available for shipment")
		return nil, ErrNoRates
	}

	var shipmentCreatedAt time.Time
	if shipment.CreatedAt != nil {
		shipmentCreatedAt = shipment.CreatedAt.AsTime()
	} else {
		shipmentCreatedAt = time.Now()
	}
	expiresAt := shipmentCreatedAt.Add(rateExpiration)

	rates := make([]Rate, 0, len(shipment.Rates))
	for _, r := range shipment.Rates {
		rate, err := p.fromEasyPostRate(r, shipment.ID, &expiresAt)
		if err != nil {
			logger.Warn().Err(err).Str("carrier", r.Carrier).Msg("failed to parse rate")
			continue
		}
		rates = append(rates, rate)
	}

	if len(params.ServiceTypes) > 0 {
		rates = p.filterRatesByService(rates, params.ServiceTypes)
	}

	logger.Info().
		Int("rate_count", len(rates)).
		Str("shipment_id", shipment.ID).
		Msg("rates fetched successfully")

	return rates, nil
}

// TrackShipment gets tracking information for a shipment.
func (p *EasyPostProvider) TrackShipment(ctx context.Context, trackingNumber string) (*TrackingInfo, error) {
	logger := p.logger.With().Str("tracking_number", trackingNumber).Logger()
	logger.Info().Msg("fetching tracking info")

	tracker, err := p.client.CreateTracker(
		&easypost.CreateTrackerOptions{
			TrackingCode: trackingNumber,
		},
	)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create tracker")
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}

	logger.Info().Str("status", tracker.Status).Msg("tracking info fetched")
	return p.fromEasyPostTracker(tracker), nil
}

// toEasyPostAddress converts our ShippingAddress to EasyPost Address.
func (p *EasyPostProvider) toEasyPostAddress(addr ShippingAddress) *easypost.Address {
	return &easypost.Address{
		Name:    addr.Name,
		Company: addr.Company,
		Street1: addr.Line1,
		Street2: addr.Line2,
		City:    addr.City,
		State:   addr.State,
		Zip:     addr.PostalCode,
		Country: addr.Country,
		Phone:   addr.Phone,
		Email:   addr.Email,
	}
}

// toEasyPostParcel converts our Package to EasyPost Parcel.
func (p *EasyPostProvider) toEasyPostParcel(pkg Package) *easypost.Parcel {
	return &easypost.Parcel{
		// EasyPost uses inches for dimensions and ounces for weight
		Length: cmToInches(pkg.LengthCm),
		Width:  cmToInches(pkg.WidthCm),
		Height: cmToInches(pkg.HeightCm),
		Weight: gramsToOunces(pkg.WeightGrams),
	}
}

// fromEasyPostRate converts EasyPost Rate to our Rate type.
func (p *EasyPostProvider) fromEasyPostRate(r *easypost.Rate, shipmentID string, expiresAt *time.Time) (Rate, error) {
	daysMin := 1
	daysMax := 5
	if r.DeliveryDays > 0 {
		daysMin = r.DeliveryDays
		daysMax = r.DeliveryDays
	}

	var estDelivery time.Time
	if r.DeliveryDate != nil {
		estDelivery = r.DeliveryDate.AsTime()
	}
	if estDelivery.IsZero() {
		estDelivery = time.Now().AddDate(0, 0, daysMax)
	}

	costCents, err := dollarsToCents(r.Rate)
	if err != nil {
		return Rate{}, fmt.Errorf("failed to parse rate amount: %w", err)
	}

	return Rate{
		// Encode shipment ID with rate ID so the quote can be traced later
		RateID:                fmt.Sprintf("%s:%s", shipmentID, r.ID),
		Carrier:               r.Carrier,
		ServiceName:           r.Service,
		ServiceCode:           r.Service,
		CostCents:             costCents,
		EstimatedDaysMin:      daysMin,
		EstimatedDaysMax:      daysMax,
		EstimatedDeliveryDate: estDelivery,
		ExpiresAt:             expiresAt,
	}, nil
}

// fromEasyPostTracker converts EasyPost Tracker to our TrackingInfo.
func (p *EasyPostProvider) fromEasyPostTracker(t *easypost.Tracker) *TrackingInfo {
	info := &TrackingInfo{
		TrackingNumber: t.TrackingCode,
		Carrier:        t.Carrier,
		Status:         t.Status,
	}

	if t.EstDeliveryDate != nil {
		info.EstimatedDeliveryDate = t.EstDeliveryDate.AsTime()
	}

	for _, detail := range t.TrackingDetails {
		event := TrackingEvent{
			Status:      detail.Status,
			Description: detail.Message,
		}
		if detail.DateTime != "" {
			if dt, err := time.Parse(time.RFC3339, detail.DateTime); err == nil {
				event.Timestamp = dt
			}
		}
		if detail.TrackingLocation != nil {
			event.Location = fmt.Sprintf("%s, %s %s",
				detail.TrackingLocation.City,
				detail.TrackingLocation.State,
				detail.TrackingLocation.Zip,
			)
		}
		info.Events = append(info.Events, event)
	}

	return info
}

// filterRatesByService filters rates to only include specified service types.
func (p *EasyPostProvider) filterRatesByService(rates []Rate, services []string) []Rate {
	serviceSet := make(map[string]bool)
	for _, s := range services {
		serviceSet[s] = true
	}

	var filtered []Rate
	for _, r := range rates {
		if serviceSet[r.ServiceCode] {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Unit conversion helpers

func cmToInches(cm int32) float64 {
	return float64(cm) * cmToInchRatio
}

func gramsToOunces(grams int32) float64 {
	return float64(grams) * gramsToOzRatio
}

// dollarsToCents converts a dollar amount string to cents.
// Handles formats like "5.25", "5", "5.1", "5.05".
func dollarsToCents(dollars string) (int64, error) {
	dollars = strings.TrimSpace(dollars)
	if dollars == "" {
		return 0, ErrInvalidAmount("", nil)
	}

	amount, err := strconv.ParseFloat(dollars, 64)
	if err != nil {
		return 0, ErrInvalidAmount(dollars, err)
	}

	return int64(math.Round(amount * 100)), nil
}
