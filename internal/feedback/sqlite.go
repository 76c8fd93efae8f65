package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite retraining store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS retraining_submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id INTEGER NOT NULL,
		pathology_code TEXT DEFAULT '',
		pathology_name TEXT NOT NULL,
		category TEXT DEFAULT '',
		probability REAL,
		snapshot TEXT,
		submitted_by TEXT DEFAULT '',
		submitted_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(patient_id, pathology_code, pathology_name)
	);

	CREATE INDEX IF NOT EXISTS idx_retraining_category ON retraining_submissions(category);
	CREATE INDEX IF NOT EXISTS idx_retraining_submitted_at ON retraining_submissions(submitted_at);
	`

	_, err := db.Exec(schema)
	return err
}

func scanSubmission(s scanner) (*Submission, error) {
	sub := &Submission{}
	var prob sql.NullFloat64
	var snapshot sql.NullString

	err := s.Scan(
		&sub.ID, &sub.PatientID, &sub.PathologyCode, &sub.PathologyName,
		&sub.Category, &prob, &snapshot, &sub.SubmittedBy, &sub.SubmittedAt,
	)
	if err != nil {
		return nil, err
	}
	if prob.Valid {
		v := prob.Float64
		sub.Probability = &v
	}
	if snapshot.Valid {
		if sub.Snapshot, err = decodeSnapshot([]byte(snapshot.String)); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
	}
	return sub, nil
}

const sqliteColumns = `id, patient_id, pathology_code, pathology_name,
			category, probability, snapshot, submitted_by, submitted_at`

// Save stores or updates a submission.
func (s *SQLiteStore) Save(ctx context.Context, sub *Submission) error {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	snapshot, err := encodeSnapshot(sub.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	var snapshotArg interface{}
	if snapshot != nil {
		snapshotArg = string(snapshot)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO retraining_submissions (
			patient_id, pathology_code, pathology_name,
			category, probability, snapshot, submitted_by, submitted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (patient_id, pathology_code, pathology_name) DO UPDATE SET
			category = excluded.category,
			probability = excluded.probability,
			snapshot = excluded.snapshot,
			submitted_by = excluded.submitted_by,
			submitted_at = excluded.submitted_at
		RETURNING id
	`,
		sub.PatientID,
		sub.PathologyCode,
		sub.PathologyName,
		sub.Category,
		sub.Probability,
		snapshotArg,
		sub.SubmittedBy,
		sub.SubmittedAt,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}
	return nil
}

// Get returns the submission for a patient pathology, or nil.
func (s *SQLiteStore) Get(ctx context.Context, patientID int64, code, name string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteColumns+`
		FROM retraining_submissions
		WHERE patient_id = ? AND pathology_code = ? AND pathology_name = ?
		LIMIT 1
	`, patientID, code, name)

	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return sub, nil
}

// List returns submissions, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteColumns+`
		FROM retraining_submissions
		ORDER BY submitted_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

// Count returns the total number of submissions.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM retraining_submissions").Scan(&count)
	return count, err
}

// Delete removes a submission by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM retraining_submissions WHERE id = ?", id)
	return err
}

// ExportJSON exports all submissions to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	if err := exportJSON(ctx, s, writer); err != nil {
		return fmt.Errorf("failed to export submissions: %w", err)
	}
	return nil
}

// ImportJSON imports submissions from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	imported, skipped, err := importJSON(ctx, s, reader)
	if err != nil {
		return imported, skipped, fmt.Errorf("failed to import submissions: %w", err)
	}
	return imported, skipped, nil
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
