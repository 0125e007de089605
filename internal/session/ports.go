package session

import (
	"context"
	"time"

	"github.com/rewired-gh/weighstation/internal/models"
)

// RecipeSource resolves a recipe to its ordered ingredient list.
type RecipeSource interface {
	GetIngredients(ctx context.Context, recipeID string) ([]models.RecipeIngredient, error)
}

// BatchSource owns batch lifecycle state.
type BatchSource interface {
	GetBatch(ctx context.Context, batchID string) (*models.Batch, error)
	AdvanceRepetition(ctx context.Context, batchID string, completed int) error
	CompleteBatch(ctx context.Context, batchID, completedBy string) error
	AbortBatch(ctx context.Context, batchID, abortedBy, reason string) error
}

// RecordHeader opens a weighing record.
type RecordHeader struct {
	BatchID              string
	RecipeID             string
	RecipeName           string
	Operator             string
	TotalRepetitions     int
	CompletedRepetitions int
	StartedAt            time.Time
}

// Finalization closes a weighing record.
type Finalization struct {
	Status               models.RecordStatus
	CompletedRepetitions int
	Reason               string
	Actor                string
	EndedAt              time.Time
}

// ReportSink persists the audit trail of a session.
type ReportSink interface {
	StartRecord(ctx context.Context, header RecordHeader) (string, error)
	RecordTransfer(ctx context.Context, recordID string, detail models.WeighingDetail) error
	FinalizeRecord(ctx context.Context, recordID string, fin Finalization) error
}

// EventKind names a session milestone.
type EventKind string

const (
	EventRepetitionCompleted EventKind = "repetition_completed"
	EventBatchCompleted      EventKind = "batch_completed"
	EventBatchAborted        EventKind = "batch_aborted"
)

// Event is delivered to the Notifier after the milestone is committed.
type Event struct {
	Kind             EventKind
	BatchID          string
	RecipeName       string
	Repetition       int
	TotalRepetitions int
	Actor            string
	Reason           string
	Report           *CumulativeReport
	At               time.Time
}

// Notifier is told about session milestones. Errors are logged, never returned
// to the operator.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
