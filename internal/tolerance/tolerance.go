// Package tolerance computes weight bands and verification tolerances.
// Every function is pure; all arithmetic is exact decimal.
package tolerance

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// DefaultBowlTolerance is the absolute kg tolerance for bowl tare verification.
	DefaultBowlTolerance = decimal.RequireFromString("0.050")

	// DefaultTransfer is the cumulative Scale-2 transfer tolerance.
	DefaultTransfer = Transfer{
		Base:          decimal.RequireFromString("0.050"),
		PerIngredient: decimal.RequireFromString("0.015"),
	}

	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Band is the acceptable net weight range for one ingredient.
type Band struct {
	Target decimal.Decimal
	Min    decimal.Decimal
	Max    decimal.Decimal
	Value  decimal.Decimal // ± kg, target * percent / 100
}

// IngredientBand returns the band target ± target*percent/100.
func IngredientBand(target, tolerancePercent decimal.Decimal) Band {
	value := target.Mul(tolerancePercent).Shift(-2)
	return Band{
		Target: target,
		Min:    target.Sub(value),
		Max:    target.Add(value),
		Value:  value,
	}
}

// Contains reports whether w lies within [Min, Max].
func (b Band) Contains(w decimal.Decimal) bool {
	return w.GreaterThanOrEqual(b.Min) && w.LessThanOrEqual(b.Max)
}

// VerifyBowlWeight checks an actual bowl weight against its recorded tare.
// The returned diff is the absolute difference.
func VerifyBowlWeight(actual, recorded, tolerance decimal.Decimal) (bool, decimal.Decimal) {
	diff := actual.Sub(recorded).Abs()
	return diff.LessThanOrEqual(tolerance), diff
}

// Transfer widens the Scale-2 tolerance with each ingredient already in the
// mixing bowl: Base + PerIngredient*n.
type Transfer struct {
	Base          decimal.Decimal
	PerIngredient decimal.Decimal
}

// Allowed returns the tolerance when n ingredients were already confirmed in
// the current repetition. Negative n is treated as zero.
func (t Transfer) Allowed(n int) decimal.Decimal {
	if n < 0 {
		n = 0
	}
	return t.Base.Add(t.PerIngredient.Mul(decimal.NewFromInt(int64(n))))
}

// DynamicTransferTolerance is DefaultTransfer.Allowed.
func DynamicTransferTolerance(alreadyConfirmed int) decimal.Decimal {
	return DefaultTransfer.Allowed(alreadyConfirmed)
}

// StatusClass classifies a net weight against its band.
type StatusClass string

const (
	UnderTarget   StatusClass = "under_target"
	TargetReached StatusClass = "target_reached"
	OverTarget    StatusClass = "over_target"
)

// Status is the operator guidance for a net weight.
type Status struct {
	Class       StatusClass
	CanComplete bool
	Message     string
}

// IngredientStatus classifies netWeight against band.
func IngredientStatus(netWeight decimal.Decimal, band Band) Status {
	switch {
	case netWeight.LessThan(band.Min):
		return Status{Class: UnderTarget, Message: "Keep adding material - under target"}
	case netWeight.GreaterThan(band.Max):
		return Status{Class: OverTarget, Message: "Over target - stop adding"}
	default:
		return Status{Class: TargetReached, CanComplete: true, Message: "Target reached"}
	}
}

// Zone is the colour guidance shown while approaching the target.
type Zone string

const (
	ZoneRed    Zone = "red"
	ZoneYellow Zone = "yellow"
	ZoneGreen  Zone = "green"
)

// Approach grades a live reading more finely than IngredientStatus: the inner
// half of the band is green, the outer halves yellow, outside the band red.
type Approach struct {
	Zone        Zone
	CanComplete bool
	Message     string
}

// ApproachStatus returns graded guidance for a live net weight. CanComplete
// always agrees with IngredientStatus.
func ApproachStatus(netWeight decimal.Decimal, band Band) Approach {
	half := band.Value.Div(two)
	innerMin := band.Target.Sub(half)
	innerMax := band.Target.Add(half)
	inBand := band.Contains(netWeight)

	switch {
	case netWeight.GreaterThan(band.Max):
		return Approach{Zone: ZoneRed, Message: "Over target - stop adding immediately"}
	case netWeight.LessThan(band.Min):
		pct := decimal.Zero
		if band.Target.IsPositive() {
			pct = netWeight.Div(band.Target).Mul(hundred).Round(0)
		}
		return Approach{Zone: ZoneRed, Message: fmt.Sprintf("Keep adding material (%s%%)", pct)}
	case netWeight.LessThan(innerMin):
		return Approach{Zone: ZoneYellow, CanComplete: inBand, Message: "Slow down - approaching target"}
	case netWeight.GreaterThan(innerMax):
		return Approach{Zone: ZoneYellow, CanComplete: inBand, Message: "Caution - near maximum limit"}
	default:
		return Approach{Zone: ZoneGreen, CanComplete: inBand, Message: "Target reached"}
	}
}

// DeviationPercent returns deviation/target*100 rounded to 2 places, or zero
// when target is not positive.
func DeviationPercent(deviation, target decimal.Decimal) decimal.Decimal {
	if !target.IsPositive() {
		return decimal.Zero
	}
	return deviation.Mul(hundred).Div(target).Round(2)
}
