package shipping

import (
	"context"
	"time"
)

// FlatRateProvider returns predefined flat-rate shipping options.
// Used when real carrier integration is not configured.
type FlatRateProvider struct {
	rates []FlatRate
}

// FlatRate defines a single flat-rate shipping option.
type FlatRate struct {
	ServiceName string
	ServiceCode string
	CostCents   int64
	DaysMin     int
	DaysMax     int
}

// NewFlatRateProvider creates a new flat-rate shipping provider.
func NewFlatRateProvider(rates []FlatRate) Provider {
	return &FlatRateProvider{rates: rates}
}

// GetRates converts flat rates to Rate objects.
// Destination and package details are ignored; every configured rate applies.
func (p *FlatRateProvider) GetRates(ctx context.Context, params RateParams) ([]Rate, error) {
	if params.DestinationAddress.Country == "" {
		return nil, ErrDestinationRequired
	}
	if len(params.Packages) == 0 {
		return nil, ErrNoPackages
	}

	result := make([]Rate, len(p.rates))
	for i, fr := range p.rates {
		result[i] = Rate{
			RateID:                fr.ServiceCode,
			Carrier:               "Flat Rate",
			ServiceName:           fr.ServiceName,
			ServiceCode:           fr.ServiceCode,
			CostCents:             fr.CostCents,
			EstimatedDaysMin:      fr.DaysMin,
			EstimatedDaysMax:      fr.DaysMax,
			EstimatedDeliveryDate: time.Now().AddDate(0, 0, fr.DaysMax),
			ExpiresAt:             nil, // Flat rates don't expire
		}
	}
	return result, nil
}

// TrackShipment is not supported for flat-rate provider.
func (p *FlatRateProvider) TrackShipment(ctx context.Context, trackingNumber string) (*TrackingInfo, error) {
	return nil, ErrNotImplemented
}
