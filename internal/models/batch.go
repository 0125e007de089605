package models

import (
	"errors"
	"time"
)

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "Pending"
	BatchInProgress BatchStatus = "InProgress"
	BatchCompleted  BatchStatus = "Completed"
	BatchAborted    BatchStatus = "Aborted"
)

// Terminal reports whether no further transitions are allowed.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchAborted
}

// Batch is a production run of one recipe repeated TotalRepetitions times.
type Batch struct {
	ID                   string      `json:"id"`
	RecipeID             string      `json:"recipe_id"`
	RecipeName           string      `json:"recipe_name"`
	TotalRepetitions     int         `json:"total_repetitions"`
	CompletedRepetitions int         `json:"completed_repetitions"`
	Status               BatchStatus `json:"status"`
	CreatedBy            string      `json:"created_by"`
	CreatedAt            time.Time   `json:"created_at"`
	StartedBy            string      `json:"started_by,omitempty"`
	StartedAt            *time.Time  `json:"started_at,omitempty"`
	CompletedBy          string      `json:"completed_by,omitempty"`
	CompletedAt          *time.Time  `json:"completed_at,omitempty"`
	AbortReason          string      `json:"abort_reason,omitempty"`
	AbortedBy            string      `json:"aborted_by,omitempty"`
	AbortedAt            *time.Time  `json:"aborted_at,omitempty"`
	Notes                string      `json:"notes,omitempty"`
}

// Progress returns completed repetitions as a percentage of the total.
func (b *Batch) Progress() float64 {
	if b.TotalRepetitions <= 0 {
		return 0
	}
	return float64(b.CompletedRepetitions) / float64(b.TotalRepetitions) * 100
}

// Validate checks batch field constraints.
func (b *Batch) Validate() error {
	if b.ID == "" {
		return errors.New("batch ID must not be empty")
	}
	if b.RecipeID == "" {
		return errors.New("recipe ID must not be empty")
	}
	if b.TotalRepetitions < 1 {
		return errors.New("total repetitions must be >= 1")
	}
	if b.CompletedRepetitions < 0 || b.CompletedRepetitions > b.TotalRepetitions {
		return errors.New("completed repetitions must be between 0 and total")
	}
	switch b.Status {
	case BatchPending, BatchInProgress, BatchCompleted, BatchAborted:
	default:
		return errors.New("unknown batch status")
	}
	return nil
}
