package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rewired-gh/weighstation/internal/models"
	"github.com/rewired-gh/weighstation/internal/session"
)

// StartRecord opens a weighing record and returns its ID.
func (s *Storage) StartRecord(ctx context.Context, h session.RecordHeader) (string, error) {
	id := uuid.NewString()
	startedAt := h.StartedAt
	if startedAt.IsZero() {
		startedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weighing_records
			(id, batch_id, recipe_id, recipe_name, operator_name, started_at,
			 total_repetitions, completed_repetitions, status)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		id, h.BatchID, h.RecipeID, h.RecipeName, h.Operator, startedAt.UnixNano(),
		h.TotalRepetitions, h.CompletedRepetitions, string(models.RecordInProgress),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert weighing record: %w", err)
	}
	return id, nil
}

// RecordTransfer appends a detail to an open record.
func (s *Storage) RecordTransfer(ctx context.Context, recordID string, d models.WeighingDetail) error {
	d.RecordID = recordID
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid weighing detail: %w", err)
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weighing_details
			(id, record_id, batch_id, repetition_number, sequence, ingredient_id,
			 ingredient_code, ingredient_name, target_weight, actual_weight,
			 min_weight, max_weight, tolerance_value, bowl_code, bowl_size,
			 scale_number, unit, timestamp)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.RecordID, d.BatchID, d.RepetitionNumber, d.Sequence, d.IngredientID,
		d.IngredientCode, d.IngredientName, d.TargetWeight.String(), d.ActualWeight.String(),
		d.MinWeight.String(), d.MaxWeight.String(), d.ToleranceValue.String(), d.BowlCode, d.BowlSize,
		d.ScaleNumber, d.Unit, d.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert weighing detail: %w", err)
	}
	return nil
}

// FinalizeRecord closes a record and stores its quality metrics.
func (s *Storage) FinalizeRecord(ctx context.Context, recordID string, fin session.Finalization) error {
	details, err := s.Details(ctx, recordID)
	if err != nil {
		return err
	}
	m := models.ComputeMetrics(details)

	endedAt := fin.EndedAt
	if endedAt.IsZero() {
		endedAt = s.now()
	}
	var abortReason, abortedBy sql.NullString
	if fin.Status == models.RecordAborted {
		abortReason = sql.NullString{String: fin.Reason, Valid: true}
		abortedBy = sql.NullString{String: fin.Actor, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE weighing_records SET
			status=?, ended_at=?, completed_repetitions=?, abort_reason=?, aborted_by=?,
			total_weighed=?, within_tolerance=?, out_of_tolerance=?,
			average_deviation=?, max_deviation=?
		WHERE id=? AND status=?`,
		string(fin.Status), endedAt.UnixNano(), fin.CompletedRepetitions, abortReason, abortedBy,
		m.TotalWeighed, m.WithinTolerance, m.OutOfTolerance,
		m.AverageDeviation.String(), m.MaxDeviation.String(),
		recordID, string(models.RecordInProgress),
	)
	if err != nil {
		return fmt.Errorf("failed to finalize weighing record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finalize weighing record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("open weighing record %s: %w", recordID, ErrNotFound)
	}
	return nil
}

// GetRecord returns a weighing record header.
func (s *Storage) GetRecord(ctx context.Context, id string) (*models.WeighingRecord, error) {
	var r models.WeighingRecord
	var status string
	var recipeID, recipeName, operator, abortReason, abortedBy sql.NullString
	var startedAt int64
	var endedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, batch_id, recipe_id, recipe_name, operator_name, started_at, ended_at,
		       total_repetitions, completed_repetitions, status, abort_reason, aborted_by,
		       total_weighed, within_tolerance, out_of_tolerance, average_deviation, max_deviation
		FROM weighing_records WHERE id = ?`, id).Scan(
		&r.ID, &r.BatchID, &recipeID, &recipeName, &operator, &startedAt, &endedAt,
		&r.TotalRepetitions, &r.CompletedRepetitions, &status, &abortReason, &abortedBy,
		&r.Metrics.TotalWeighed, &r.Metrics.WithinTolerance, &r.Metrics.OutOfTolerance,
		&r.Metrics.AverageDeviation, &r.Metrics.MaxDeviation,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("weighing record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get weighing record: %w", err)
	}
	r.RecipeID = recipeID.String
	r.RecipeName = recipeName.String
	r.OperatorName = operator.String
	r.StartedAt = timeFromNano(startedAt)
	r.EndedAt = timePtr(endedAt)
	r.Status = models.RecordStatus(status)
	r.AbortReason = abortReason.String
	r.AbortedBy = abortedBy.String
	return &r, nil
}

// RecordsForBatch returns the batch's records, oldest first.
func (s *Storage) RecordsForBatch(ctx context.Context, batchID string) ([]*models.WeighingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM weighing_records WHERE batch_id = ? ORDER BY started_at`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query weighing records: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan weighing record: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records := make([]*models.WeighingRecord, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// Details returns a record's details by repetition and sequence.
func (s *Storage) Details(ctx context.Context, recordID string) ([]models.WeighingDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, batch_id, repetition_number, sequence, ingredient_id,
		       ingredient_code, ingredient_name, target_weight, actual_weight,
		       min_weight, max_weight, tolerance_value, bowl_code, bowl_size,
		       scale_number, unit, timestamp
		FROM weighing_details WHERE record_id = ?
		ORDER BY repetition_number, sequence`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query weighing details: %w", err)
	}
	defer rows.Close()

	var out []models.WeighingDetail
	for rows.Next() {
		var d models.WeighingDetail
		var ingID, code, name, bowlCode, bowlSize sql.NullString
		var ts int64
		if err := rows.Scan(
			&d.ID, &d.RecordID, &d.BatchID, &d.RepetitionNumber, &d.Sequence, &ingID,
			&code, &name, &d.TargetWeight, &d.ActualWeight,
			&d.MinWeight, &d.MaxWeight, &d.ToleranceValue, &bowlCode, &bowlSize,
			&d.ScaleNumber, &d.Unit, &ts,
		); err != nil {
			return nil, fmt.Errorf("failed to scan weighing detail: %w", err)
		}
		d.IngredientID = ingID.String
		d.IngredientCode = code.String
		d.IngredientName = name.String
		d.BowlCode = bowlCode.String
		d.BowlSize = bowlSize.String
		d.Timestamp = timeFromNano(ts)
		out = append(out, d)
	}
	return out, rows.Err()
}
