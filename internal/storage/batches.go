package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rewired-gh/weighstation/internal/logger"
	"github.com/rewired-gh/weighstation/internal/models"
)

const batchCols = `id, recipe_id, recipe_name, total_repetitions, completed_repetitions, status,
	created_by, created_at, started_by, started_at, completed_by, completed_at,
	abort_reason, aborted_by, aborted_at, notes`

// AddBatch inserts a pending batch for an existing recipe. An empty ID is
// replaced with a generated one.
func (s *Storage) AddBatch(ctx context.Context, batch *models.Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = models.BatchPending
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = s.now()
	}
	if batch.RecipeName == "" && batch.RecipeID != "" {
		if r, err := s.GetRecipe(ctx, batch.RecipeID); err == nil {
			batch.RecipeName = r.Name
		}
	}
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (`+batchCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		batch.ID, batch.RecipeID, batch.RecipeName, batch.TotalRepetitions, batch.CompletedRepetitions,
		string(batch.Status), batch.CreatedBy, batch.CreatedAt.UnixNano(),
		batch.StartedBy, nullTime(batch.StartedAt), batch.CompletedBy, nullTime(batch.CompletedAt),
		batch.AbortReason, batch.AbortedBy, nullTime(batch.AbortedAt), batch.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// GetBatch returns a batch by ID.
func (s *Storage) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchCols+` FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

// ListBatches returns batches with the given status, newest first. An empty
// status lists every batch.
func (s *Storage) ListBatches(ctx context.Context, status models.BatchStatus) ([]*models.Batch, error) {
	query := `SELECT ` + batchCols + ` FROM batches`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	batches := []*models.Batch{}
	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// StartBatch moves a pending batch to in progress, keeping at most
// maxActiveBatches in progress at once.
func (s *Storage) StartBatch(ctx context.Context, id, startedBy string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM batches WHERE id = ?`, id).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("batch %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to get batch: %w", err)
	}
	if models.BatchStatus(status) != models.BatchPending {
		return fmt.Errorf("%w: cannot start batch in status %s", ErrInvalidTransition, status)
	}

	var active int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches WHERE status = ?`,
		string(models.BatchInProgress)).Scan(&active); err != nil {
		return fmt.Errorf("failed to count active batches: %w", err)
	}
	if active >= s.maxActiveBatches {
		return fmt.Errorf("%w: %d of %d", ErrTooManyActive, active, s.maxActiveBatches)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE batches SET status=?, started_by=?, started_at=? WHERE id=?`,
		string(models.BatchInProgress), startedBy, s.now().UnixNano(), id); err != nil {
		return fmt.Errorf("failed to start batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info("Batch %s started by %s", id, startedBy)
	return nil
}

// AdvanceRepetition records the number of completed repetitions. Reaching
// the total completes the batch.
func (s *Storage) AdvanceRepetition(ctx context.Context, id string, completed int) error {
	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	if b.Status != models.BatchInProgress {
		return fmt.Errorf("%w: cannot advance batch in status %s", ErrInvalidTransition, b.Status)
	}
	if completed < b.CompletedRepetitions || completed > b.TotalRepetitions {
		return fmt.Errorf("completed repetitions %d out of range [%d, %d]", completed, b.CompletedRepetitions, b.TotalRepetitions)
	}

	if completed == b.TotalRepetitions {
		_, err = s.db.ExecContext(ctx, `
			UPDATE batches SET completed_repetitions=?, status=?, completed_at=? WHERE id=?`,
			completed, string(models.BatchCompleted), s.now().UnixNano(), id)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE batches SET completed_repetitions=? WHERE id=?`, completed, id)
	}
	if err != nil {
		return fmt.Errorf("failed to advance batch: %w", err)
	}
	return nil
}

// CompleteBatch marks an in-progress batch completed. Completing an already
// completed batch only records who completed it.
func (s *Storage) CompleteBatch(ctx context.Context, id, completedBy string) error {
	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	switch b.Status {
	case models.BatchInProgress:
		_, err = s.db.ExecContext(ctx, `
			UPDATE batches SET status=?, completed_by=?, completed_at=? WHERE id=?`,
			string(models.BatchCompleted), completedBy, s.now().UnixNano(), id)
	case models.BatchCompleted:
		_, err = s.db.ExecContext(ctx, `UPDATE batches SET completed_by=? WHERE id=?`, completedBy, id)
	default:
		return fmt.Errorf("%w: cannot complete batch in status %s", ErrInvalidTransition, b.Status)
	}
	if err != nil {
		return fmt.Errorf("failed to complete batch: %w", err)
	}
	return nil
}

// AbortBatch marks a non-terminal batch aborted.
func (s *Storage) AbortBatch(ctx context.Context, id, abortedBy, reason string) error {
	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	if b.Status.Terminal() {
		return fmt.Errorf("%w: cannot abort batch in status %s", ErrInvalidTransition, b.Status)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE batches SET status=?, aborted_by=?, abort_reason=?, aborted_at=? WHERE id=?`,
		string(models.BatchAborted), abortedBy, reason, s.now().UnixNano(), id); err != nil {
		return fmt.Errorf("failed to abort batch: %w", err)
	}
	return nil
}

func scanBatch(scan func(...any) error) (*models.Batch, error) {
	var b models.Batch
	var status string
	var recipeName, createdBy, startedBy, completedBy, abortReason, abortedBy, notes sql.NullString
	var createdAt int64
	var startedAt, completedAt, abortedAt sql.NullInt64
	err := scan(
		&b.ID, &b.RecipeID, &recipeName, &b.TotalRepetitions, &b.CompletedRepetitions, &status,
		&createdBy, &createdAt, &startedBy, &startedAt, &completedBy, &completedAt,
		&abortReason, &abortedBy, &abortedAt, &notes,
	)
	if err != nil {
		return nil, err
	}
	b.Status = models.BatchStatus(status)
	b.RecipeName = recipeName.String
	b.CreatedBy = createdBy.String
	b.CreatedAt = timeFromNano(createdAt)
	b.StartedBy = startedBy.String
	b.StartedAt = timePtr(startedAt)
	b.CompletedBy = completedBy.String
	b.CompletedAt = timePtr(completedAt)
	b.AbortReason = abortReason.String
	b.AbortedBy = abortedBy.String
	b.AbortedAt = timePtr(abortedAt)
	b.Notes = notes.String
	return &b, nil
}
