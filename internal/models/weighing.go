package models

import (
	"errors"
	"time"

	"github.com/rewired-gh/weighstation/internal/tolerance"
	"github.com/shopspring/decimal"
)

// TransferredIngredient is an immutable ledger entry written when a transfer
// from scale 1 to scale 2 is confirmed.
type TransferredIngredient struct {
	RecordID          string          `json:"record_id"`
	BatchID           string          `json:"batch_id"`
	RepetitionNumber  int             `json:"repetition_number"`
	Sequence          int             `json:"sequence"`
	IngredientID      string          `json:"ingredient_id"`
	IngredientCode    string          `json:"ingredient_code"`
	IngredientName    string          `json:"ingredient_name"`
	TargetWeight      decimal.Decimal `json:"target_weight"`
	ActualNetWeight   decimal.Decimal `json:"actual_net_weight"`
	Scale2Before      decimal.Decimal `json:"scale2_before"`
	Scale2After       decimal.Decimal `json:"scale2_after"`
	TransferDeviation decimal.Decimal `json:"transfer_deviation"`
	MinWeight         decimal.Decimal `json:"min_weight"`
	MaxWeight         decimal.Decimal `json:"max_weight"`
	ToleranceValue    decimal.Decimal `json:"tolerance_value"`
	BowlCode          string          `json:"bowl_code"`
	BowlSize          string          `json:"bowl_size"`
	ScaleNumber       int             `json:"scale_number"`
	Unit              string          `json:"unit"`
	Timestamp         time.Time       `json:"timestamp"`
}

// IsWithinTolerance reports whether the weighed net landed inside the band.
func (t *TransferredIngredient) IsWithinTolerance() bool {
	return t.ActualNetWeight.GreaterThanOrEqual(t.MinWeight) && t.ActualNetWeight.LessThanOrEqual(t.MaxWeight)
}

// Deviation is ActualNetWeight - TargetWeight.
func (t *TransferredIngredient) Deviation() decimal.Decimal {
	return t.ActualNetWeight.Sub(t.TargetWeight)
}

// RecordStatus is the state of a weighing record.
type RecordStatus string

const (
	RecordInProgress RecordStatus = "InProgress"
	RecordCompleted  RecordStatus = "Completed"
	RecordAborted    RecordStatus = "Aborted"
	RecordPaused     RecordStatus = "Paused"
)

// WeighingRecord is the audit header for one weighing session of a batch.
type WeighingRecord struct {
	ID                   string         `json:"id"`
	BatchID              string         `json:"batch_id"`
	RecipeID             string         `json:"recipe_id"`
	RecipeName           string         `json:"recipe_name"`
	OperatorName         string         `json:"operator_name"`
	StartedAt            time.Time      `json:"started_at"`
	EndedAt              *time.Time     `json:"ended_at,omitempty"`
	TotalRepetitions     int            `json:"total_repetitions"`
	CompletedRepetitions int            `json:"completed_repetitions"`
	Status               RecordStatus   `json:"status"`
	AbortReason          string         `json:"abort_reason,omitempty"`
	AbortedBy            string         `json:"aborted_by,omitempty"`
	Metrics              QualityMetrics `json:"metrics"`
}

// Duration is the session length, zero while still in progress.
func (r *WeighingRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// WeighingDetail is the persisted form of one confirmed transfer.
type WeighingDetail struct {
	ID               string          `json:"id"`
	RecordID         string          `json:"record_id"`
	BatchID          string          `json:"batch_id"`
	RepetitionNumber int             `json:"repetition_number"`
	Sequence         int             `json:"sequence"`
	IngredientID     string          `json:"ingredient_id"`
	IngredientCode   string          `json:"ingredient_code"`
	IngredientName   string          `json:"ingredient_name"`
	TargetWeight     decimal.Decimal `json:"target_weight"`
	ActualWeight     decimal.Decimal `json:"actual_weight"`
	MinWeight        decimal.Decimal `json:"min_weight"`
	MaxWeight        decimal.Decimal `json:"max_weight"`
	ToleranceValue   decimal.Decimal `json:"tolerance_value"`
	BowlCode         string          `json:"bowl_code"`
	BowlSize         string          `json:"bowl_size"`
	ScaleNumber      int             `json:"scale_number"`
	Unit             string          `json:"unit"`
	Timestamp        time.Time       `json:"timestamp"`
}

// DetailFromTransfer maps a ledger entry to its report detail.
func DetailFromTransfer(recordID string, t TransferredIngredient) WeighingDetail {
	return WeighingDetail{
		RecordID:         recordID,
		BatchID:          t.BatchID,
		RepetitionNumber: t.RepetitionNumber,
		Sequence:         t.Sequence,
		IngredientID:     t.IngredientID,
		IngredientCode:   t.IngredientCode,
		IngredientName:   t.IngredientName,
		TargetWeight:     t.TargetWeight,
		ActualWeight:     t.ActualNetWeight,
		MinWeight:        t.MinWeight,
		MaxWeight:        t.MaxWeight,
		ToleranceValue:   t.ToleranceValue,
		BowlCode:         t.BowlCode,
		BowlSize:         t.BowlSize,
		ScaleNumber:      t.ScaleNumber,
		Unit:             t.Unit,
		Timestamp:        t.Timestamp,
	}
}

func (d *WeighingDetail) Deviation() decimal.Decimal {
	return d.ActualWeight.Sub(d.TargetWeight)
}

func (d *WeighingDetail) DeviationPercent() decimal.Decimal {
	return tolerance.DeviationPercent(d.Deviation(), d.TargetWeight)
}

func (d *WeighingDetail) IsWithinTolerance() bool {
	return d.ActualWeight.GreaterThanOrEqual(d.MinWeight) && d.ActualWeight.LessThanOrEqual(d.MaxWeight)
}

// Validate checks detail field constraints.
func (d *WeighingDetail) Validate() error {
	if d.RecordID == "" {
		return errors.New("record ID must not be empty")
	}
	if d.RepetitionNumber < 1 {
		return errors.New("repetition number must be >= 1")
	}
	if d.Sequence < 1 {
		return errors.New("sequence must be >= 1")
	}
	if d.MinWeight.GreaterThan(d.MaxWeight) {
		return errors.New("min weight must be <= max weight")
	}
	return nil
}

// QualityMetrics summarise the details of a record.
type QualityMetrics struct {
	TotalWeighed     int             `json:"total_weighed"`
	WithinTolerance  int             `json:"within_tolerance"`
	OutOfTolerance   int             `json:"out_of_tolerance"`
	AverageDeviation decimal.Decimal `json:"average_deviation"`
	MaxDeviation     decimal.Decimal `json:"max_deviation"`
}

// CompliancePercent is within/total*100 rounded to 2 places, zero when empty.
func (m QualityMetrics) CompliancePercent() decimal.Decimal {
	if m.TotalWeighed == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(m.WithinTolerance)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(m.TotalWeighed))).
		Round(2)
}

// ComputeMetrics aggregates absolute deviations over details.
func ComputeMetrics(details []WeighingDetail) QualityMetrics {
	m := QualityMetrics{AverageDeviation: decimal.Zero, MaxDeviation: decimal.Zero}
	if len(details) == 0 {
		return m
	}
	sum := decimal.Zero
	for i := range details {
		d := &details[i]
		m.TotalWeighed++
		if d.IsWithinTolerance() {
			m.WithinTolerance++
		} else {
			m.OutOfTolerance++
		}
		dev := d.Deviation().Abs()
		sum = sum.Add(dev)
		m.MaxDeviation = decimal.Max(m.MaxDeviation, dev)
	}
	m.AverageDeviation = sum.Div(decimal.NewFromInt(int64(len(details)))).Round(3)
	return m
}
