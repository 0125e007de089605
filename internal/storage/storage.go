// Package storage provides SQLite-backed persistence for recipes, batches and
// weighing records.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/weighstation/internal/session"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTooManyActive     = errors.New("too many batches in progress")
)

var (
	_ session.RecipeSource = (*Storage)(nil)
	_ session.BatchSource  = (*Storage)(nil)
	_ session.ReportSink   = (*Storage)(nil)
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db               *sql.DB
	maxActiveBatches int
	now              func() time.Time
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/weighstation/data.db.
func New(maxActiveBatches int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "weighstation", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if maxActiveBatches <= 0 {
		maxActiveBatches = 5
	}
	s := &Storage{db: db, maxActiveBatches: maxActiveBatches, now: time.Now}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Weights are stored as TEXT so decimal values round-trip exactly.
func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recipes (
			id         TEXT PRIMARY KEY,
			code       TEXT,
			name       TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS recipe_ingredients (
			recipe_id         TEXT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
			sequence          INTEGER NOT NULL,
			ingredient_id     TEXT NOT NULL,
			ingredient_code   TEXT,
			ingredient_name   TEXT,
			target_weight     TEXT NOT NULL,
			tolerance_percent TEXT NOT NULL,
			scale_number      INTEGER NOT NULL DEFAULT 1,
			bowl_size         TEXT,
			unit              TEXT NOT NULL DEFAULT 'kg',
			PRIMARY KEY (recipe_id, sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS batches (
			id                    TEXT PRIMARY KEY,
			recipe_id             TEXT NOT NULL REFERENCES recipes(id),
			recipe_name           TEXT,
			total_repetitions     INTEGER NOT NULL,
			completed_repetitions INTEGER NOT NULL DEFAULT 0,
			status                TEXT NOT NULL,
			created_by            TEXT,
			created_at            INTEGER NOT NULL,
			started_by            TEXT,
			started_at            INTEGER,
			completed_by          TEXT,
			completed_at          INTEGER,
			abort_reason          TEXT,
			aborted_by            TEXT,
			aborted_at            INTEGER,
			notes                 TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status)`,
		`CREATE TABLE IF NOT EXISTS weighing_records (
			id                    TEXT PRIMARY KEY,
			batch_id              TEXT NOT NULL,
			recipe_id             TEXT,
			recipe_name           TEXT,
			operator_name         TEXT,
			started_at            INTEGER NOT NULL,
			ended_at              INTEGER,
			total_repetitions     INTEGER NOT NULL,
			completed_repetitions INTEGER NOT NULL DEFAULT 0,
			status                TEXT NOT NULL,
			abort_reason          TEXT,
			aborted_by            TEXT,
			total_weighed         INTEGER NOT NULL DEFAULT 0,
			within_tolerance      INTEGER NOT NULL DEFAULT 0,
			out_of_tolerance      INTEGER NOT NULL DEFAULT 0,
			average_deviation     TEXT NOT NULL DEFAULT '0',
			max_deviation         TEXT NOT NULL DEFAULT '0'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_batch ON weighing_records(batch_id)`,
		`CREATE TABLE IF NOT EXISTS weighing_details (
			id                TEXT PRIMARY KEY,
			record_id         TEXT NOT NULL REFERENCES weighing_records(id) ON DELETE CASCADE,
			batch_id          TEXT NOT NULL,
			repetition_number INTEGER NOT NULL,
			sequence          INTEGER NOT NULL,
			ingredient_id     TEXT,
			ingredient_code   TEXT,
			ingredient_name   TEXT,
			target_weight     TEXT NOT NULL,
			actual_weight     TEXT NOT NULL,
			min_weight        TEXT NOT NULL,
			max_weight        TEXT NOT NULL,
			tolerance_value   TEXT NOT NULL,
			bowl_code         TEXT,
			bowl_size         TEXT,
			scale_number      INTEGER NOT NULL DEFAULT 1,
			unit              TEXT NOT NULL DEFAULT 'kg',
			timestamp         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_details_record ON weighing_details(record_id, repetition_number, sequence)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}

func timeFromNano(n int64) time.Time {
	return time.Unix(0, n)
}
