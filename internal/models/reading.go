// Package models defines the weighing domain records: scale readings, recipe
// ingredients, batches, the transfer ledger and weighing reports.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Scale identifiers. Scale 1 holds the ingredient bowl, scale 2 the mixing bowl.
const (
	Scale1 = 1
	Scale2 = 2
)

// ScaleReading is one sample from one scale. Unavailable readings carry a
// zero weight and must not be used for verification.
type ScaleReading struct {
	ScaleID   int             `json:"scale_id"`
	WeightKg  decimal.Decimal `json:"weight_kg"`
	Timestamp time.Time       `json:"timestamp"`
	Stable    bool            `json:"stable"`
	Available bool            `json:"available"`
}

// ValidScaleID reports whether id names one of the two scales.
func ValidScaleID(id int) bool {
	return id == Scale1 || id == Scale2
}
