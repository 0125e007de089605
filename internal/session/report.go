package session

import (
	"github.com/rewired-gh/weighstation/internal/models"
	"github.com/rewired-gh/weighstation/internal/tolerance"
	"github.com/shopspring/decimal"
)

// ReportLine is one confirmed ingredient in a cumulative report.
type ReportLine struct {
	Sequence         int
	IngredientCode   string
	IngredientName   string
	Target           decimal.Decimal
	Actual           decimal.Decimal
	Deviation        decimal.Decimal
	DeviationPercent decimal.Decimal
	WithinTolerance  bool
}

// CumulativeReport summarises the confirmed transfers of one repetition.
type CumulativeReport struct {
	BatchID                 string
	Repetition              int
	Empty                   bool
	Lines                   []ReportLine
	TotalTarget             decimal.Decimal
	TotalActual             decimal.Decimal
	OverallDeviation        decimal.Decimal
	OverallDeviationPercent decimal.Decimal
	WithinCount             int
	OutOfToleranceCount     int
}

// BuildReport computes a cumulative report over entries.
func BuildReport(batchID string, repetition int, entries []models.TransferredIngredient) CumulativeReport {
	r := CumulativeReport{
		BatchID:                 batchID,
		Repetition:              repetition,
		Empty:                   len(entries) == 0,
		TotalTarget:             decimal.Zero,
		TotalActual:             decimal.Zero,
		OverallDeviation:        decimal.Zero,
		OverallDeviationPercent: decimal.Zero,
	}
	for i := range entries {
		e := &entries[i]
		dev := e.Deviation()
		within := e.IsWithinTolerance()
		r.Lines = append(r.Lines, ReportLine{
			Sequence:         e.Sequence,
			IngredientCode:   e.IngredientCode,
			IngredientName:   e.IngredientName,
			Target:           e.TargetWeight,
			Actual:           e.ActualNetWeight,
			Deviation:        dev,
			DeviationPercent: tolerance.DeviationPercent(dev, e.TargetWeight),
			WithinTolerance:  within,
		})
		r.TotalTarget = r.TotalTarget.Add(e.TargetWeight)
		r.TotalActual = r.TotalActual.Add(e.ActualNetWeight)
		if within {
			r.WithinCount++
		} else {
			r.OutOfToleranceCount++
		}
	}
	r.OverallDeviation = r.TotalActual.Sub(r.TotalTarget)
	r.OverallDeviationPercent = tolerance.DeviationPercent(r.OverallDeviation, r.TotalTarget)
	return r
}
