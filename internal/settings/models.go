package settings

import (
	"strings"
	"time"
)

// Record is the per-tenant tracking configuration.
type Record struct {
	Tenant               string    `json:"tenant"`
	MeasurementID        string    `json:"measurement_id"`
	TrackProductPrices   bool      `json:"track_product_prices"`
	TrackDiscounts       bool      `json:"track_discounts"`
	TrackCustomerConsent bool      `json:"track_customer_consent"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Defaults returns the record handed out for a tenant that has never saved settings.
func Defaults(tenant string) Record {
	return Record{
		Tenant:               tenant,
		TrackProductPrices:   true,
		TrackDiscounts:       true,
		TrackCustomerConsent: true,
	}
}

// Configured reports whether the measurement identifier is set. Blank ids never activate.
func (r Record) Configured() bool {
	return strings.TrimSpace(r.MeasurementID) != ""
}
