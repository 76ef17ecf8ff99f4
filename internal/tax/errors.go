package tax

import "errors"

var (
	// ErrUnknownJurisdiction is returned when no rate is configured for a
	// jurisdiction and no default rate is set.
	ErrUnknownJurisdiction = errors.New("no tax rate configured for jurisdiction")

	// ErrNegativeRate is returned when a configured rate is negative.
	ErrNegativeRate = errors.New("tax rate must not be negative")
)
