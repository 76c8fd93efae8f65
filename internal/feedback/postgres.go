package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL retraining store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL retraining store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

const pgColumns = `id, patient_id, pathology_code, pathology_name,
			category, probability, snapshot, submitted_by, submitted_at`

func scanPGSubmission(s scanner) (*Submission, error) {
	sub := &Submission{}
	var prob sql.NullFloat64
	var snapshot []byte

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
	if sub.Snapshot, err = decodeSnapshot(snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return sub, nil
}

// Save stores or updates a submission.
func (s *PostgresStore) Save(ctx context.Context, sub *Submission) error {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	snapshot, err := encodeSnapshot(sub.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	// JSONB takes text; a []byte argument would be sent as bytea.
	var snapshotArg interface{}
	if snapshot != nil {
		snapshotArg = string(snapshot)
	}

	query := `
		INSERT INTO retraining_submissions (
			patient_id, pathology_code, pathology_name,
			category, probability, snapshot, submitted_by, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (patient_id, pathology_code, pathology_name) DO UPDATE SET
			category = EXCLUDED.category,
			probability = EXCLUDED.probability,
			snapshot = EXCLUDED.snapshot,
			submitted_by = EXCLUDED.submitted_by,
			submitted_at = EXCLUDED.submitted_at
		RETURNING id
	`

	err = s.db.QueryRowContext(ctx, query,
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
func (s *PostgresStore) Get(ctx context.Context, patientID int64, code, name string) (*Submission, error) {
	query := `
		SELECT ` + pgColumns + `
		FROM retraining_submissions
		WHERE patient_id = $1 AND pathology_code = $2 AND pathology_name = $3
		LIMIT 1
	`

	sub, err := scanPGSubmission(s.db.QueryRowContext(ctx, query, patientID, code, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return sub, nil
}

// List returns submissions, newest first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Submission, error) {
	query := `
		SELECT ` + pgColumns + `
		FROM retraining_submissions
		ORDER BY submitted_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var result []*Submission
	for rows.Next() {
		sub, err := scanPGSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, sub)
	}

	return result, rows.Err()
}

// Count returns the total number of submissions.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM retraining_submissions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}

// Delete removes a submission by ID.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM retraining_submissions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete submission: %w", err)
	}
	return nil
}

// ExportJSON exports all submissions to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	if err := exportJSON(ctx, s, writer); err != nil {
		return fmt.Errorf("failed to export submissions: %w", err)
	}
	return nil
}

// ImportJSON imports submissions from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	imported, skipped, err := importJSON(ctx, s, reader)
	if err != nil {
		return imported, skipped, fmt.Errorf("failed to import submissions: %w", err)
	}
	return imported, skipped, nil
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
